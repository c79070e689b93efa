package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letschat/internal/models"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	deadlines []time.Time
	deadline  time.Time
	err       error
	closed    bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deadlines = append(f.deadlines, f.deadline)
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline = t
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) events(t *testing.T) []models.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Event, 0, len(f.frames))
	for _, frame := range f.frames {
		ev, err := models.DecodeEvent(frame)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()
	client := hub.Register(&fakeConn{}, ConnInfo{UserID: "alice"})

	assert.False(t, hub.IsConnected("alice"))
	require.NoError(t, hub.Join(client, "alice"))
	assert.True(t, hub.IsConnected("alice"))

	assert.Equal(t, "alice", hub.Leave(client))
	assert.False(t, hub.IsConnected("alice"))
	assert.Equal(t, "", hub.Leave(client))
	assert.Equal(t, 1, hub.ConnectionCount())

	hub.Unregister(client)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHubRejectsForeignJoin(t *testing.T) {
	hub := NewHub()
	client := hub.Register(&fakeConn{}, ConnInfo{UserID: "alice"})

	assert.ErrorIs(t, hub.Join(client, "bob"), ErrForeignJoin)
	assert.ErrorIs(t, hub.Join(client, ""), ErrForeignJoin)
	assert.False(t, hub.IsConnected("bob"))
}

func TestHubRouteLastConnectWins(t *testing.T) {
	hub := NewHub()
	first, second := &fakeConn{}, &fakeConn{}
	require.NoError(t, hub.Join(hub.Register(first, ConnInfo{UserID: "alice"}), "alice"))
	require.NoError(t, hub.Join(hub.Register(second, ConnInfo{UserID: "alice"}), "alice"))

	assert.True(t, hub.Route("alice", models.MessageDelivered{MessageID: "m1"}))

	assert.Empty(t, first.events(t))
	assert.Equal(t, []models.Event{&models.MessageDelivered{MessageID: "m1"}}, second.events(t))
}

func TestHubRouteOfflineUser(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.Route("ghost", models.RefreshMessages{PeerID: "x"}))
}

func TestHubRouteWriteFailureDropsClient(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{err: errors.New("broken pipe")}
	require.NoError(t, hub.Join(hub.Register(conn, ConnInfo{UserID: "alice"}), "alice"))

	assert.False(t, hub.Route("alice", models.MessageDelivered{MessageID: "m1"}))
	assert.True(t, conn.closed)
	assert.False(t, hub.IsConnected("alice"))
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	a, b, anon := &fakeConn{}, &fakeConn{}, &fakeConn{}
	ca := hub.Register(a, ConnInfo{UserID: "alice"})
	require.NoError(t, hub.Join(ca, "alice"))
	require.NoError(t, hub.Join(hub.Register(b, ConnInfo{UserID: "bob"}), "bob"))
	hub.Register(anon, ConnInfo{})

	hub.Broadcast(models.UserOnline{UserID: "alice"}, ca.ID())

	assert.Empty(t, a.events(t))
	assert.Len(t, b.events(t), 1)
	assert.Len(t, anon.events(t), 1)
}

func TestRejoinMovesClientToNewest(t *testing.T) {
	hub := NewHub()
	first, second := &fakeConn{}, &fakeConn{}
	c1 := hub.Register(first, ConnInfo{UserID: "alice"})
	require.NoError(t, hub.Join(c1, "alice"))
	require.NoError(t, hub.Join(hub.Register(second, ConnInfo{UserID: "alice"}), "alice"))
	require.NoError(t, hub.Join(c1, "alice"))

	hub.Route("alice", models.RefreshMessages{PeerID: "bob"})

	assert.Len(t, first.events(t), 1)
	assert.Empty(t, second.events(t))
}

func TestHubWritesCarryDeadline(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	require.NoError(t, hub.Join(hub.Register(conn, ConnInfo{UserID: "alice"}), "alice"))

	before := time.Now()
	require.True(t, hub.Route("alice", models.MessageDelivered{MessageID: "m1"}))
	hub.Broadcast(models.UserOnline{UserID: "bob"}, "")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.deadlines, 2)
	for _, d := range conn.deadlines {
		assert.False(t, d.IsZero())
		assert.False(t, d.Before(before.Add(writeWait)))
		assert.False(t, d.After(time.Now().Add(writeWait)))
	}
}
