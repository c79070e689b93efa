// Package presence tracks which users hold live push connections.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"letschat/internal/logging"
	"letschat/internal/models"
	"letschat/internal/observability"
)

// Store persists the online flag and last-seen stamp.
type Store interface {
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

// Broadcaster fans an event out to every connection except one.
type Broadcaster interface {
	Broadcast(ev models.Event, exceptConnID string)
}

// Mirror publishes presence for readers outside this process.
type Mirror interface {
	SetOnline(ctx context.Context, userID string, at time.Time) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	Get(ctx context.Context, userID string) (models.Presence, bool, error)
	Close() error
}

// Tracker is the process-wide presence registry. Transitions of one user
// (registry change, store write, broadcast) run under that user's gate, so
// the stored flag always ends on the registry's final state.
type Tracker struct {
	conns    map[string]map[string]struct{}
	lastSeen map[string]time.Time
	gates    map[string]*gate
	mu       sync.RWMutex

	store  Store
	bus    Broadcaster
	mirror Mirror
	now    func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithMirror publishes every transition to m as well.
func WithMirror(m Mirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a tracker writing to store and broadcasting on bus.
func NewTracker(store Store, bus Broadcaster, opts ...Option) *Tracker {
	t := &Tracker{
		conns:    make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		gates:    make(map[string]*gate),
		store:    store,
		bus:      bus,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect registers connID for userID. The first connection of a user marks
// it online in the store and broadcasts user-online to everyone else.
func (t *Tracker) Connect(ctx context.Context, userID, connID string) error {
	unlock := t.lockUser(userID)
	defer unlock()

	t.mu.Lock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	_, dup := set[connID]
	set[connID] = struct{}{}
	first := len(set) == 1 && !dup
	online := len(t.conns)
	t.mu.Unlock()
	observability.SetOnlineUsers(online)

	if !first {
		return nil
	}
	now := t.now()
	if err := t.store.SetPresence(ctx, userID, true, now); err != nil {
		return err
	}
	t.mirrorOnline(ctx, userID, now)
	t.bus.Broadcast(models.UserOnline{UserID: userID}, connID)
	return nil
}

// Announce re-broadcasts that userID is online.
func (t *Tracker) Announce(userID, connID string) {
	if !t.IsOnline(userID) {
		return
	}
	t.bus.Broadcast(models.UserOnline{UserID: userID}, connID)
}

// Disconnect unregisters connID. When it was the user's last connection the
// user is stamped offline and user-offline is broadcast. Unknown
// connections are ignored, so repeated calls are harmless.
func (t *Tracker) Disconnect(ctx context.Context, userID, connID string) error {
	unlock := t.lockUser(userID)
	defer unlock()

	t.mu.Lock()
	set, ok := t.conns[userID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	if _, held := set[connID]; !held {
		t.mu.Unlock()
		return nil
	}
	delete(set, connID)
	if len(set) > 0 {
		t.mu.Unlock()
		return nil
	}
	delete(t.conns, userID)
	lastSeen := t.now()
	t.lastSeen[userID] = lastSeen
	online := len(t.conns)
	t.mu.Unlock()
	observability.SetOnlineUsers(online)

	return t.markOffline(ctx, userID, lastSeen, connID)
}

// ForceOffline drops every connection of userID from the registry and marks
// it offline, as on logout.
func (t *Tracker) ForceOffline(ctx context.Context, userID string) error {
	unlock := t.lockUser(userID)
	defer unlock()

	t.mu.Lock()
	delete(t.conns, userID)
	lastSeen := t.now()
	t.lastSeen[userID] = lastSeen
	online := len(t.conns)
	t.mu.Unlock()
	observability.SetOnlineUsers(online)

	return t.markOffline(ctx, userID, lastSeen, "")
}

type gate struct {
	mu   sync.Mutex
	refs int
}

// lockUser serialises presence transitions of userID. Gates are dropped
// once nobody waits on them.
func (t *Tracker) lockUser(userID string) func() {
	t.mu.Lock()
	g, ok := t.gates[userID]
	if !ok {
		g = &gate{}
		t.gates[userID] = g
	}
	g.refs++
	t.mu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		t.mu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(t.gates, userID)
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) markOffline(ctx context.Context, userID string, lastSeen time.Time, exceptConnID string) error {
	if err := t.store.SetPresence(ctx, userID, false, lastSeen); err != nil {
		return err
	}
	t.mirrorOffline(ctx, userID, lastSeen)
	t.bus.Broadcast(models.UserOffline{UserID: userID, LastSeen: lastSeen}, exceptConnID)
	return nil
}

// IsOnline reports whether userID holds a registered connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

// OnlineUsers lists users with at least one connection, sorted.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	users := make([]string, 0, len(t.conns))
	for id := range t.conns {
		users = append(users, id)
	}
	t.mu.RUnlock()
	sort.Strings(users)
	return users
}

// Overlay corrects stored presence with the live registry of this process,
// then with the mirror for users connected to other processes.
func (t *Tracker) Overlay(ctx context.Context, stored []models.Presence) []models.Presence {
	out := make([]models.Presence, len(stored))
	live := make([]bool, len(stored))
	localSeen := make([]time.Time, len(stored))
	t.mu.RLock()
	for i, p := range stored {
		if len(t.conns[p.UserID]) > 0 {
			p.IsOnline = true
			live[i] = true
		} else if seen, ok := t.lastSeen[p.UserID]; ok {
			localSeen[i] = seen
			p.IsOnline = false
			if seen.After(p.LastSeen) {
				p.LastSeen = seen
			}
		}
		out[i] = p
	}
	t.mu.RUnlock()

	if t.mirror == nil {
		return out
	}
	log := logging.New("Tracker.Overlay")
	for i := range out {
		if live[i] {
			continue
		}
		mirrored, ok, err := t.mirror.Get(ctx, out[i].UserID)
		if err != nil {
			log.WithError(err).WithField("user_id", out[i].UserID).Warn("presence mirror read failed")
			continue
		}
		if !ok {
			continue
		}
		if mirrored.IsOnline {
			// an offline stamp taken here after the remote connect wins
			if !localSeen[i].After(mirrored.LastSeen) {
				out[i].IsOnline = true
			}
			continue
		}
		out[i].IsOnline = false
		if mirrored.LastSeen.After(out[i].LastSeen) {
			out[i].LastSeen = mirrored.LastSeen
		}
	}
	return out
}

// Drain marks every held user offline. It is called at shutdown.
func (t *Tracker) Drain(ctx context.Context) {
	log := logging.New("Tracker.Drain")
	for _, userID := range t.OnlineUsers() {
		if err := t.ForceOffline(ctx, userID); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("mark offline failed")
		}
	}
	if t.mirror != nil {
		if err := t.mirror.Close(); err != nil {
			log.WithError(err).Warn("close presence mirror")
		}
	}
}

func (t *Tracker) mirrorOnline(ctx context.Context, userID string, at time.Time) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SetOnline(ctx, userID, at); err != nil {
		logging.New("Tracker.mirrorOnline").WithError(err).WithField("user_id", userID).Warn("presence mirror write failed")
	}
}

func (t *Tracker) mirrorOffline(ctx context.Context, userID string, lastSeen time.Time) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SetOffline(ctx, userID, lastSeen); err != nil {
		logging.New("Tracker.mirrorOffline").WithError(err).WithField("user_id", userID).Warn("presence mirror write failed")
	}
}
