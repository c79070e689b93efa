package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letschat/internal/models"
)

// pushServer records inbound signals and drops the first connection after
// pushing one event.
type pushServer struct {
	mu      sync.Mutex
	signals []string
	tokens  []string
	conns   int
}

func (p *pushServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.conns++
	n := p.conns
	p.tokens = append(p.tokens, r.URL.Query().Get("token"))
	p.mu.Unlock()

	for i := 0; i < 2; i++ {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		_ = json.Unmarshal(frame, &env)
		p.mu.Lock()
		p.signals = append(p.signals, env.Event)
		p.mu.Unlock()
	}

	if n == 1 {
		frame, _ := models.Encode(models.UserOnline{UserID: "bob"})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		return
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		_ = json.Unmarshal(frame, &env)
		p.mu.Lock()
		p.signals = append(p.signals, env.Event)
		p.mu.Unlock()
	}
}

func (p *pushServer) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signals...), append([]string(nil), p.tokens...)
}

func TestSocketReconnectsAndRejoins(t *testing.T) {
	srv := &pushServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	events := make(chan models.Event, 4)
	sock, err := NewSocket("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", "tok", "me", func(ev models.Event) { events <- ev }, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sock.Run(ctx) }()

	select {
	case ev := <-events:
		online, ok := ev.(*models.UserOnline)
		require.True(t, ok)
		assert.Equal(t, "bob", online.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	require.Eventually(t, func() bool {
		signals, _ := srv.snapshot()
		return len(signals) >= 4 && sock.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sock.MarkRead("bob"))
	require.Eventually(t, func() bool {
		signals, _ := srv.snapshot()
		return len(signals) == 5
	}, 2*time.Second, 10*time.Millisecond)

	signals, tokens := srv.snapshot()
	assert.Equal(t, []string{
		models.SignalJoin, models.SignalOnline,
		models.SignalJoin, models.SignalOnline,
		models.SignalMarkRead,
	}, signals)
	assert.Equal(t, []string{"tok", "tok"}, tokens)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not stop")
	}
	assert.ErrorIs(t, sock.MarkRead("bob"), ErrNotConnected)
}
