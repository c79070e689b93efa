package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"

	"letschat/internal/logging"
	"letschat/internal/models"
)

// State is the local lifecycle of an entry in a thread.
type State string

const (
	StateConfirmed State = "confirmed"
	StatePending   State = "pending"
	StateFailed    State = "failed"
)

// Entry is a message as the local view holds it.
type Entry struct {
	Message models.Message
	State   State
}

// Backend is the subset of the REST API a Session needs.
type Backend interface {
	Send(ctx context.Context, req SendRequest) (models.Message, error)
	Messages(ctx context.Context, peerID string, page, limit int, pin string) ([]models.Message, models.Page, error)
	Presence(ctx context.Context, ids []string) ([]models.Presence, error)
}

// Signaler sends push-channel signals.
type Signaler interface {
	MarkRead(peerID string) error
}

// Options tunes a Session.
type Options struct {
	CachedPeers  int
	SeenTTL      time.Duration
	PollInterval time.Duration
	PageSize     int
}

func (o *Options) defaults() {
	if o.CachedPeers <= 0 {
		o.CachedPeers = 50
	}
	if o.SeenTTL <= 0 {
		o.SeenTTL = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 8 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 30
	}
}

// Session reconciles REST fetches, push events and optimistic sends into
// per-peer threads. Statuses only move forward.
type Session struct {
	backend Backend
	signals Signaler
	userID  string
	opts    Options

	mu       sync.Mutex
	threads  *lru.Cache[string, []Entry]
	seen     *cache.Cache
	acks     map[string]models.Status
	presence map[string]models.Presence
	open     string
	tempSeq  int64
}

// NewSession builds a Session for userID. signals may be nil.
func NewSession(backend Backend, signals Signaler, userID string, opts Options) (*Session, error) {
	opts.defaults()
	threads, err := lru.New[string, []Entry](opts.CachedPeers)
	if err != nil {
		return nil, err
	}
	return &Session{
		backend:  backend,
		signals:  signals,
		userID:   userID,
		opts:     opts,
		threads:  threads,
		seen:     cache.New(opts.SeenTTL, 2*opts.SeenTTL),
		acks:     make(map[string]models.Status),
		presence: make(map[string]models.Presence),
	}, nil
}

// Thread returns a copy of the cached thread with peerID.
func (s *Session) Thread(peerID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, _ := s.threads.Peek(peerID)
	return append([]Entry(nil), thread...)
}

// Presence returns the last known presence of peerID.
func (s *Session) Presence(peerID string) (models.Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[peerID]
	return p, ok
}

// Open makes peerID the active conversation: the cached thread is
// returned through paint first, then refetched and marked read.
func (s *Session) Open(ctx context.Context, peerID string, paint func([]Entry)) ([]Entry, error) {
	s.mu.Lock()
	s.open = peerID
	cached, ok := s.threads.Get(peerID)
	cached = append([]Entry(nil), cached...)
	s.mu.Unlock()
	if ok && paint != nil {
		paint(cached)
	}

	thread, err := s.Refresh(ctx, peerID)
	if err != nil {
		return cached, err
	}
	if s.signals != nil {
		if err := s.signals.MarkRead(peerID); err != nil {
			logging.New("Session.Open").WithError(err).Debug("mark-read signal not sent")
		}
	}
	return thread, nil
}

// Close clears the active conversation.
func (s *Session) Close() {
	s.mu.Lock()
	s.open = ""
	s.mu.Unlock()
}

// Refresh refetches the newest page of peerID and merges it.
func (s *Session) Refresh(ctx context.Context, peerID string) ([]Entry, error) {
	msgs, _, err := s.backend.Messages(ctx, peerID, 1, s.opts.PageSize, "")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	local, _ := s.threads.Peek(peerID)
	byID := make(map[string]Entry, len(local))
	for _, e := range local {
		byID[e.Message.ID] = e
	}

	merged := make([]Entry, 0, len(msgs)+len(local))
	fetched := make(map[string]struct{}, len(msgs))
	var newest time.Time
	for _, msg := range msgs {
		s.seen.SetDefault(msg.ID, struct{}{})
		fetched[msg.ID] = struct{}{}
		if msg.CreatedAt.After(newest) {
			newest = msg.CreatedAt
		}
		if prev, ok := byID[msg.ID]; ok {
			msg.Status = models.Max(msg.Status, prev.Message.Status)
		}
		msg.Status = s.applyAck(msg.ID, msg.Status)
		merged = append(merged, Entry{Message: msg, State: StateConfirmed})
	}
	for _, e := range local {
		if _, ok := fetched[e.Message.ID]; ok {
			continue
		}
		// optimistic entries, and pushes that landed after the page was read
		if e.State != StateConfirmed || e.Message.CreatedAt.After(newest) {
			merged = append(merged, e)
		}
	}
	sortThread(merged)
	s.threads.Add(peerID, merged)
	return append([]Entry(nil), merged...), nil
}

// Send appends a temp entry, posts it, and swaps in the stored message.
// A failed send is marked failed and not retried.
func (s *Session) Send(ctx context.Context, req SendRequest) (Entry, error) {
	s.mu.Lock()
	s.tempSeq++
	tempID := fmt.Sprintf("temp-%d", s.tempSeq)
	temp := Entry{
		Message: models.Message{
			ID:          tempID,
			SenderID:    s.userID,
			RecipientID: req.RecipientID,
			Content:     req.Content,
			Type:        req.MessageType,
			FileURL:     req.FileURL,
			FileName:    req.FileName,
			ReplyTo:     req.ReplyTo,
			Status:      models.StatusSent,
			CreatedAt:   time.Now(),
		},
		State: StatePending,
	}
	thread, _ := s.threads.Get(req.RecipientID)
	s.threads.Add(req.RecipientID, insertOrdered(thread, temp))
	s.mu.Unlock()

	stored, err := s.backend.Send(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		temp.State = StateFailed
		s.replace(req.RecipientID, tempID, temp)
		return temp, err
	}
	s.seen.SetDefault(stored.ID, struct{}{})
	stored.Status = s.applyAck(stored.ID, stored.Status)
	confirmed := Entry{Message: stored, State: StateConfirmed}
	if s.holds(req.RecipientID, stored.ID) {
		// a refresh already brought the stored copy in
		s.remove(req.RecipientID, tempID)
		s.upgrade(stored.ID, stored.Status)
	} else {
		s.replace(req.RecipientID, tempID, confirmed)
	}
	return confirmed, nil
}

// Apply folds a push event into the local view.
func (s *Session) Apply(ctx context.Context, ev models.Event) error {
	var refresh string

	s.mu.Lock()
	switch e := deref(ev).(type) {
	case models.ReceiveMessage:
		if _, dup := s.seen.Get(e.MessageID); dup {
			break
		}
		s.seen.SetDefault(e.MessageID, struct{}{})
		peerID := e.SenderID
		if peerID == s.userID {
			peerID = e.RecipientID
		}
		msg := models.Message{
			ID:          e.MessageID,
			SenderID:    e.SenderID,
			RecipientID: e.RecipientID,
			Content:     e.Content,
			Type:        e.Type,
			FileURL:     e.FileURL,
			FileName:    e.FileName,
			ReplyTo:     e.ReplyTo,
			Status:      models.StatusDelivered,
			CreatedAt:   e.Timestamp,
		}
		thread, _ := s.threads.Get(peerID)
		s.threads.Add(peerID, insertOrdered(thread, Entry{Message: msg, State: StateConfirmed}))
		if s.open == peerID && s.signals != nil {
			defer s.markRead(peerID)
		}

	case models.MessageDelivered:
		if !s.upgrade(e.MessageID, models.StatusDelivered) {
			s.acks[e.MessageID] = models.Max(s.acks[e.MessageID], models.StatusDelivered)
		}

	case models.MessagesRead:
		// UserID read everything we sent them.
		thread, _ := s.threads.Peek(e.UserID)
		for i := range thread {
			if thread[i].Message.SenderID == s.userID {
				thread[i].Message.Status = models.Max(thread[i].Message.Status, models.StatusRead)
			}
		}

	case models.MessageDeleted:
		peerID := e.SenderID
		if peerID == s.userID {
			peerID = e.RecipientID
		}
		s.remove(peerID, e.MessageID)

	case models.RefreshMessages:
		if s.open == e.PeerID {
			refresh = e.PeerID
		}

	case models.ConversationDeleted:
		peerID := e.PeerID
		if peerID == s.userID {
			peerID = e.By
		}
		s.threads.Remove(peerID)

	case models.UserOnline:
		p := s.presence[e.UserID]
		p.UserID, p.IsOnline = e.UserID, true
		s.presence[e.UserID] = p

	case models.UserOffline:
		s.presence[e.UserID] = models.Presence{UserID: e.UserID, IsOnline: false, LastSeen: e.LastSeen}
	}
	s.mu.Unlock()

	if refresh != "" {
		_, err := s.Refresh(ctx, refresh)
		return err
	}
	return nil
}

// Poll refreshes the open conversation and its peer's presence every
// PollInterval until ctx ends.
func (s *Session) Poll(ctx context.Context) {
	log := logging.New("Session.Poll")
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.PollOnce(ctx); err != nil {
			log.WithError(err).Debug("poll failed")
		}
	}
}

// PollOnce performs a single poll round.
func (s *Session) PollOnce(ctx context.Context) error {
	s.mu.Lock()
	peerID := s.open
	s.mu.Unlock()
	if peerID == "" {
		return nil
	}
	if _, err := s.Refresh(ctx, peerID); err != nil {
		return err
	}
	list, err := s.backend.Presence(ctx, []string{peerID})
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, p := range list {
		s.presence[p.UserID] = p
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) markRead(peerID string) {
	if err := s.signals.MarkRead(peerID); err != nil {
		logging.New("Session.markRead").WithError(err).Debug("mark-read signal not sent")
	}
}

// upgrade raises the status of messageID wherever it is cached. Callers
// hold s.mu.
func (s *Session) upgrade(messageID string, to models.Status) bool {
	found := false
	for _, peerID := range s.threads.Keys() {
		thread, _ := s.threads.Peek(peerID)
		for i := range thread {
			if thread[i].Message.ID == messageID {
				thread[i].Message.Status = models.Max(thread[i].Message.Status, to)
				found = true
			}
		}
	}
	return found
}

// applyAck merges an acknowledgement that arrived before its message.
func (s *Session) applyAck(messageID string, status models.Status) models.Status {
	if ack, ok := s.acks[messageID]; ok {
		delete(s.acks, messageID)
		return models.Max(status, ack)
	}
	return status
}

func (s *Session) replace(peerID, id string, entry Entry) {
	thread, _ := s.threads.Get(peerID)
	for i := range thread {
		if thread[i].Message.ID == id {
			thread[i] = entry
			sortThread(thread)
			s.threads.Add(peerID, thread)
			return
		}
	}
	s.threads.Add(peerID, insertOrdered(thread, entry))
}

// entryLess orders by creation time, then id. Push delivery order is not
// trusted.
func entryLess(a, b Entry) bool {
	if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
		return a.Message.CreatedAt.Before(b.Message.CreatedAt)
	}
	return a.Message.ID < b.Message.ID
}

func sortThread(thread []Entry) {
	sort.SliceStable(thread, func(i, j int) bool { return entryLess(thread[i], thread[j]) })
}

func insertOrdered(thread []Entry, e Entry) []Entry {
	i := sort.Search(len(thread), func(i int) bool { return entryLess(e, thread[i]) })
	thread = append(thread, Entry{})
	copy(thread[i+1:], thread[i:])
	thread[i] = e
	return thread
}

func (s *Session) holds(peerID, id string) bool {
	thread, _ := s.threads.Peek(peerID)
	for _, e := range thread {
		if e.Message.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) remove(peerID, id string) {
	thread, ok := s.threads.Peek(peerID)
	if !ok {
		return
	}
	kept := make([]Entry, 0, len(thread))
	for _, e := range thread {
		if e.Message.ID != id {
			kept = append(kept, e)
		}
	}
	s.threads.Add(peerID, kept)
}

func deref(ev models.Event) models.Event {
	switch e := ev.(type) {
	case *models.ReceiveMessage:
		return *e
	case *models.MessageDelivered:
		return *e
	case *models.MessagesRead:
		return *e
	case *models.MessageDeleted:
		return *e
	case *models.RefreshMessages:
		return *e
	case *models.ConversationDeleted:
		return *e
	case *models.UserOnline:
		return *e
	case *models.UserOffline:
		return *e
	case *models.UserTyping:
		return *e
	case *models.ErrorEvent:
		return *e
	}
	return ev
}
