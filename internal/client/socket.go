package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"letschat/internal/logging"
	"letschat/internal/models"
)

// ErrNotConnected is returned when signalling while the socket is down.
var ErrNotConnected = errors.New("socket not connected")

// Socket is the push channel. It redials after a drop and re-sends join
// and online on every connect.
type Socket struct {
	url            string
	userID         string
	handler        func(models.Event)
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	log  *logrus.Entry
}

// NewSocket builds a Socket for wsURL (for example ws://localhost:5000/ws).
// handler runs on the read goroutine for every decoded event.
func NewSocket(wsURL, token, userID string, handler func(models.Event), reconnectDelay time.Duration) (*Socket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &Socket{
		url:            u.String(),
		userID:         userID,
		handler:        handler,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		log:            logging.NewWithFields("client.Socket", map[string]interface{}{"user": userID}),
	}, nil
}

// Run keeps the socket connected until ctx ends.
func (s *Socket) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WithError(err).Debug("push channel dropped, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Socket) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.Signal(models.SignalJoin, models.JoinSignal{UserID: s.userID}); err != nil {
		return err
	}
	if err := s.Signal(models.SignalOnline, models.OnlineSignal{UserID: s.userID}); err != nil {
		return err
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := models.DecodeEvent(frame)
		if err != nil {
			s.log.WithError(err).Debug("skipping undecodable frame")
			continue
		}
		if s.handler != nil {
			s.handler(ev)
		}
	}
}

// Connected reports whether a connection is currently up.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Signal sends a client signal.
func (s *Socket) Signal(name string, payload interface{}) error {
	frame, err := models.EncodeNamed(name, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// MarkRead asks the server to mark peerID's messages read.
func (s *Socket) MarkRead(peerID string) error {
	return s.Signal(models.SignalMarkRead, models.MarkReadSignal{UserID: s.userID, PeerID: peerID})
}

// Typing relays a typing indicator to peerID.
func (s *Socket) Typing(peerID string, typing bool) error {
	return s.Signal(models.SignalTyping, models.TypingSignal{SenderID: s.userID, RecipientID: peerID, IsTyping: typing})
}

// GoingOffline tells the server the user is leaving.
func (s *Socket) GoingOffline() error {
	return s.Signal(models.SignalGoingOffline, struct{}{})
}
