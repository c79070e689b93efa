package presence

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letschat/internal/models"
)

type presenceWrite struct {
	userID   string
	online   bool
	lastSeen time.Time
}

type fakeStore struct {
	mu     sync.Mutex
	writes []presenceWrite
	err    error
}

func (s *fakeStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, presenceWrite{userID, online, lastSeen})
	return s.err
}

type broadcast struct {
	ev     models.Event
	except string
}

type fakeBus struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *fakeBus) Broadcast(ev models.Event, exceptConnID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{ev, exceptConnID})
}

type fakeMirror struct {
	online  map[string]bool
	at      map[string]time.Time
	closed  bool
	failing bool
}

func (m *fakeMirror) stamp(userID string, at time.Time) {
	if m.at == nil {
		m.at = map[string]time.Time{}
	}
	m.at[userID] = at
}

func (m *fakeMirror) Get(ctx context.Context, userID string) (models.Presence, bool, error) {
	if m.failing {
		return models.Presence{}, false, errors.New("redis down")
	}
	online, ok := m.online[userID]
	if !ok {
		return models.Presence{}, false, nil
	}
	return models.Presence{UserID: userID, IsOnline: online, LastSeen: m.at[userID]}, true, nil
}

func (m *fakeMirror) SetOnline(ctx context.Context, userID string, at time.Time) error {
	if m.failing {
		return errors.New("redis down")
	}
	m.online[userID] = true
	m.stamp(userID, at)
	return nil
}

func (m *fakeMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	if m.failing {
		return errors.New("redis down")
	}
	m.online[userID] = false
	m.stamp(userID, lastSeen)
	return nil
}

func (m *fakeMirror) Close() error {
	m.closed = true
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestConnectBroadcastsOnlyFirstConnection(t *testing.T) {
	store, bus := &fakeStore{}, &fakeBus{}
	tracker := NewTracker(store, bus)
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Connect(ctx, "alice", "c2"))

	assert.True(t, tracker.IsOnline("alice"))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, models.UserOnline{UserID: "alice"}, bus.sent[0].ev)
	assert.Equal(t, "c1", bus.sent[0].except)
	require.Len(t, store.writes, 1)
	assert.True(t, store.writes[0].online)
}

func TestDisconnectLastConnectionGoesOffline(t *testing.T) {
	at := time.UnixMilli(1700000000000).UTC()
	store, bus := &fakeStore{}, &fakeBus{}
	tracker := NewTracker(store, bus, WithClock(fixedClock(at)))
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Connect(ctx, "alice", "c2"))
	require.NoError(t, tracker.Disconnect(ctx, "alice", "c1"))
	assert.True(t, tracker.IsOnline("alice"))
	assert.Len(t, bus.sent, 1)

	require.NoError(t, tracker.Disconnect(ctx, "alice", "c2"))
	assert.False(t, tracker.IsOnline("alice"))
	require.Len(t, bus.sent, 2)
	assert.Equal(t, models.UserOffline{UserID: "alice", LastSeen: at}, bus.sent[1].ev)
	assert.Equal(t, presenceWrite{"alice", false, at}, store.writes[len(store.writes)-1])
}

func TestDisconnectIsIdempotent(t *testing.T) {
	store, bus := &fakeStore{}, &fakeBus{}
	tracker := NewTracker(store, bus)
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Disconnect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Disconnect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Disconnect(ctx, "bob", "c9"))

	assert.Len(t, bus.sent, 2)
	assert.Len(t, store.writes, 2)
}

func TestAnnounceRequiresLiveConnection(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(&fakeStore{}, bus)

	tracker.Announce("alice", "c1")
	assert.Empty(t, bus.sent)

	require.NoError(t, tracker.Connect(context.Background(), "alice", "c1"))
	tracker.Announce("alice", "c1")
	assert.Len(t, bus.sent, 2)
}

func TestConnectPropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	bus := &fakeBus{}
	tracker := NewTracker(store, bus)

	err := tracker.Connect(context.Background(), "alice", "c1")
	assert.Error(t, err)
	assert.Empty(t, bus.sent)
}

func TestOverlay(t *testing.T) {
	at := time.UnixMilli(1700000000000).UTC()
	tracker := NewTracker(&fakeStore{}, &fakeBus{}, WithClock(fixedClock(at)))
	ctx := context.Background()
	require.NoError(t, tracker.Connect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Connect(ctx, "bob", "c2"))
	require.NoError(t, tracker.Disconnect(ctx, "bob", "c2"))

	got := tracker.Overlay(ctx, []models.Presence{
		{UserID: "alice", IsOnline: false},
		{UserID: "bob", IsOnline: true, LastSeen: at.Add(-time.Hour)},
		{UserID: "carol", IsOnline: true},
	})

	assert.Equal(t, []models.Presence{
		{UserID: "alice", IsOnline: true},
		{UserID: "bob", IsOnline: false, LastSeen: at},
		{UserID: "carol", IsOnline: true},
	}, got)
}

func TestOverlayReadsMirrorForRemoteConnections(t *testing.T) {
	at := time.UnixMilli(1700000000000).UTC()
	mirror := &fakeMirror{online: map[string]bool{}}
	tracker := NewTracker(&fakeStore{}, &fakeBus{}, WithMirror(mirror), WithClock(fixedClock(at)))
	ctx := context.Background()

	// dave and erin are held by another process
	require.NoError(t, mirror.SetOnline(ctx, "dave", at.Add(-time.Minute)))
	require.NoError(t, mirror.SetOffline(ctx, "erin", at.Add(-time.Second)))
	// frank went offline here after his remote connect was mirrored
	require.NoError(t, tracker.Connect(ctx, "frank", "c1"))
	require.NoError(t, tracker.Disconnect(ctx, "frank", "c1"))
	require.NoError(t, mirror.SetOnline(ctx, "frank", at.Add(-time.Hour)))

	got := tracker.Overlay(ctx, []models.Presence{
		{UserID: "dave", IsOnline: false, LastSeen: at.Add(-2 * time.Hour)},
		{UserID: "erin", IsOnline: true, LastSeen: at.Add(-time.Hour)},
		{UserID: "frank", IsOnline: true},
		{UserID: "gina", IsOnline: false},
	})

	assert.Equal(t, []models.Presence{
		{UserID: "dave", IsOnline: true, LastSeen: at.Add(-2 * time.Hour)},
		{UserID: "erin", IsOnline: false, LastSeen: at.Add(-time.Second)},
		{UserID: "frank", IsOnline: false, LastSeen: at},
		{UserID: "gina", IsOnline: false},
	}, got)
}

func TestOverlayIgnoresMirrorErrors(t *testing.T) {
	tracker := NewTracker(&fakeStore{}, &fakeBus{}, WithMirror(&fakeMirror{failing: true}))

	got := tracker.Overlay(context.Background(), []models.Presence{{UserID: "dave", IsOnline: true}})
	assert.Equal(t, []models.Presence{{UserID: "dave", IsOnline: true}}, got)
}

func TestDrainMarksEveryoneOffline(t *testing.T) {
	store, bus := &fakeStore{}, &fakeBus{}
	mirror := &fakeMirror{online: map[string]bool{}}
	tracker := NewTracker(store, bus, WithMirror(mirror))
	ctx := context.Background()
	require.NoError(t, tracker.Connect(ctx, "alice", "c1"))
	require.NoError(t, tracker.Connect(ctx, "bob", "c2"))
	assert.True(t, mirror.online["alice"])

	tracker.Drain(ctx)

	assert.Empty(t, tracker.OnlineUsers())
	assert.False(t, mirror.online["alice"])
	assert.False(t, mirror.online["bob"])
	assert.True(t, mirror.closed)
}

func TestMirrorFailureDoesNotFailConnect(t *testing.T) {
	tracker := NewTracker(&fakeStore{}, &fakeBus{}, WithMirror(&fakeMirror{failing: true}))

	assert.NoError(t, tracker.Connect(context.Background(), "alice", "c1"))
	assert.True(t, tracker.IsOnline("alice"))
}

func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("LETSCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LETSCHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	mirror, err := ConnectRedis(ctx, addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer mirror.Close()

	at := time.UnixMilli(1700000000000).UTC()
	require.NoError(t, mirror.SetOffline(ctx, "presence-test", at))
	got, ok, err := mirror.Get(ctx, "presence-test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Presence{UserID: "presence-test", IsOnline: false, LastSeen: at}, got)

	_, ok, err = mirror.Get(ctx, "presence-missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// gatedStore holds offline writes until release is closed.
type gatedStore struct {
	fakeStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	if !online {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.fakeStore.SetPresence(ctx, userID, online, lastSeen)
}

func TestReconnectDuringOfflineWriteEndsOnline(t *testing.T) {
	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	bus := &fakeBus{}
	tracker := NewTracker(store, bus)
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "alice", "c1"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, tracker.Disconnect(ctx, "alice", "c1"))
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, tracker.Connect(ctx, "alice", "c2"))
	}()
	// let the reconnect reach the gate before the offline write finishes
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.True(t, tracker.IsOnline("alice"))
	store.mu.Lock()
	last := store.writes[len(store.writes)-1]
	store.mu.Unlock()
	assert.True(t, last.online, "stored presence must match the live registry")

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, models.UserOnline{UserID: "alice"}, bus.sent[len(bus.sent)-1].ev)
}
