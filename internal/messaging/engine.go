// Package messaging implements the message lifecycle: send, delivery and
// read transitions, reactions, deletion, and the per-user account controls
// (blocking, PIN and hidden conversations) that gate it.
package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"letschat/internal/apperr"
	"letschat/internal/models"
	"letschat/internal/repositories"
	"letschat/internal/telemetry"
)

// Router delivers push events to a user's live connection.
type Router interface {
	Route(userID string, ev models.Event) bool
}

// Auditor records security-relevant actions.
type Auditor interface {
	Emit(ctx context.Context, entry telemetry.Entry)
}

// Engine coordinates the store and the push channel.
type Engine struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
	router   Router
	audit    Auditor

	profiles   *cache.Cache
	bcryptCost int
	clock      *clock
}

// Option customises an Engine.
type Option func(*Engine)

// WithAuditor emits audit entries for blocks, hides and global deletes.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.audit = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock.now = now }
}

// WithBcryptCost sets the PIN hashing cost.
func WithBcryptCost(cost int) Option {
	return func(e *Engine) { e.bcryptCost = cost }
}

// WithProfileTTL sets how long sender profiles are cached for push payloads.
func WithProfileTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.profiles = cache.New(ttl, 2*ttl) }
}

// NewEngine builds an Engine.
func NewEngine(users repositories.UserRepository, messages repositories.MessageRepository, router Router, opts ...Option) *Engine {
	e := &Engine{
		users:      users,
		messages:   messages,
		router:     router,
		profiles:   cache.New(5*time.Minute, 10*time.Minute),
		bcryptCost: bcrypt.DefaultCost,
		clock:      &clock{now: time.Now},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// clock hands out strictly increasing millisecond stamps so messages
// created in the same millisecond keep their causal order.
type clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (c *clock) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return time.UnixMilli(ms).UTC()
}

func (e *Engine) emit(ctx context.Context, entry telemetry.Entry) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(ctx, entry)
}

func (e *Engine) loadUser(ctx context.Context, userID, what string) (models.User, error) {
	user, err := e.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("%s not found", what)
	}
	if err != nil {
		return models.User{}, apperr.Unavailable(err, "load user")
	}
	return user, nil
}

func (e *Engine) loadMessage(ctx context.Context, messageID string) (models.Message, error) {
	msg, err := e.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperr.NotFound("Message not found")
	}
	if err != nil {
		return models.Message{}, apperr.Unavailable(err, "load message")
	}
	return msg, nil
}

// profile returns the user's public profile, cached for push payloads.
func (e *Engine) profile(ctx context.Context, userID string) (models.PublicProfile, error) {
	if cached, ok := e.profiles.Get(userID); ok {
		return cached.(models.PublicProfile), nil
	}
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return models.PublicProfile{}, err
	}
	p := user.Profile()
	e.profiles.SetDefault(userID, p)
	return p, nil
}
