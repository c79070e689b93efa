package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"letschat/internal/logging"
	"letschat/internal/models"
	"letschat/internal/observability"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
)

// TokenVerifier resolves a session token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Presence receives connection lifecycle signals.
type Presence interface {
	Connect(ctx context.Context, userID, connID string) error
	Disconnect(ctx context.Context, userID, connID string) error
	Announce(userID, connID string)
}

// ReadMarker applies a mark-read signal.
type ReadMarker interface {
	MarkRead(ctx context.Context, readerID, peerID string) (int64, error)
}

// Handler serves the push channel.
type Handler struct {
	hub          *Hub
	presence     Presence
	reads        ReadMarker
	tokens       TokenVerifier
	validate     *validator.Validate
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewHandler constructs a Handler accepting browser origins from allowedOrigins.
func NewHandler(hub *Hub, presence Presence, reads ReadMarker, tokens TokenVerifier, allowedOrigins []string) *Handler {
	return &Handler{
		hub:      hub,
		presence: presence,
		reads:    reads,
		tokens:   tokens,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		pingInterval: pingInterval,
	}
}

// session is the per-connection state owned by the reader goroutine.
type session struct {
	client *Client
	conn   *websocket.Conn
	userID string
	joined bool
	log    *logrus.Entry
}

// Handle authenticates, upgrades the connection and starts its reader.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer(observability.TracerName).Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.tokens.Verify(tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.New("ws.Handle").WithError(err).Warn("failed to upgrade websocket connection")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestID(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := h.hub.Register(conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	headers := observability.BuildHeaders(requestID, traceID)
	// the request context ends when this handler returns
	connCtx := context.WithoutCancel(ctx)
	_ = observability.PublishEvent(connCtx, observability.WSRoutingKey, observability.WSEvent("ws_connect", info.identity(), ""), headers)

	s := &session{
		client: client,
		conn:   conn,
		userID: userID,
		log: logging.NewWithFields("ws.session", map[string]interface{}{
			"conn_id": info.ConnID,
			"user_id": userID,
		}),
	}
	done := make(chan struct{})
	go h.keepalive(s, done)
	go func() {
		defer close(done)
		reason := h.read(connCtx, s)
		h.cleanup(connCtx, s)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(connCtx, observability.WSRoutingKey, observability.WSEvent("ws_disconnect", info.identity(), reason), headers)
		conn.Close()
	}()
}

// read pumps client signals until the connection fails and returns the close reason.
func (h *Handler) read(ctx context.Context, s *session) string {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				s.log.WithError(err).Debug("websocket read ended")
			}
			return err.Error()
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			h.reject(s, "malformed frame")
			continue
		}
		h.dispatch(ctx, s, env)
	}
}

func (h *Handler) keepalive(s *session, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.WithError(err).Debug("ping failed")
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, s *session, env models.Envelope) {
	switch env.Event {
	case models.SignalJoin, models.SignalOnline, models.SignalGoingOffline, models.SignalTyping, models.SignalMarkRead:
		observability.IncWSEvent(env.Event)
	default:
		observability.IncWSEvent("unknown")
	}

	switch env.Event {
	case models.SignalJoin:
		var sig models.JoinSignal
		if !h.decode(s, env, &sig) {
			return
		}
		if err := h.hub.Join(s.client, sig.UserID); err != nil {
			h.reject(s, err.Error())
			return
		}
		s.joined = true
		if err := h.presence.Connect(ctx, s.userID, s.client.ID()); err != nil {
			s.log.WithError(err).Error("presence connect failed")
		}

	case models.SignalOnline:
		if !s.joined {
			h.reject(s, "join first")
			return
		}
		h.presence.Announce(s.userID, s.client.ID())

	case models.SignalGoingOffline:
		h.leave(ctx, s)

	case models.SignalTyping:
		var sig models.TypingSignal
		if !h.decode(s, env, &sig) {
			return
		}
		if sig.SenderID != s.userID {
			h.reject(s, "cannot type as another user")
			return
		}
		h.hub.Route(sig.RecipientID, models.UserTyping{UserID: sig.SenderID, IsTyping: sig.IsTyping})

	case models.SignalMarkRead:
		var sig models.MarkReadSignal
		if !h.decode(s, env, &sig) {
			return
		}
		if sig.UserID != s.userID {
			h.reject(s, "cannot mark read for another user")
			return
		}
		if _, err := h.reads.MarkRead(ctx, sig.UserID, sig.PeerID); err != nil {
			s.log.WithError(err).Warn("mark-read failed")
			h.reject(s, "mark-read failed")
		}

	default:
		h.reject(s, "unknown signal "+env.Event)
	}
}

func (h *Handler) decode(s *session, env models.Envelope, dst interface{}) bool {
	if len(env.Data) == 0 {
		h.reject(s, env.Event+": missing data")
		return false
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		h.reject(s, env.Event+": malformed data")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.reject(s, env.Event+": invalid "+verrs[0].Field())
			return false
		}
		h.reject(s, env.Event+": invalid data")
		return false
	}
	return true
}

func (h *Handler) reject(s *session, message string) {
	observability.IncWSEvent("rejected")
	if err := s.client.Send(models.ErrorEvent{Message: message}); err != nil {
		s.log.WithError(err).Debug("write error event")
	}
}

// leave handles going-offline. The later disconnect finds nothing to do.
func (h *Handler) leave(ctx context.Context, s *session) {
	if !s.joined {
		return
	}
	s.joined = false
	h.hub.Leave(s.client)
	if err := h.presence.Disconnect(ctx, s.userID, s.client.ID()); err != nil {
		s.log.WithError(err).Error("presence disconnect failed")
	}
}

func (h *Handler) cleanup(ctx context.Context, s *session) {
	h.hub.Unregister(s.client)
	if err := h.presence.Disconnect(ctx, s.userID, s.client.ID()); err != nil {
		s.log.WithError(err).Error("presence disconnect failed")
	}
}
