package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"letschat/internal/logging"
	"letschat/internal/models"
	"letschat/internal/observability"
)

var ErrForeignJoin = errors.New("cannot join as another user")

// Conn is the part of a websocket connection the hub writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one registered connection. Writes are serialised by writeMu.
type Client struct {
	conn    Conn
	info    ConnInfo
	writeMu sync.Mutex
	userID  string
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.info.ConnID
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// write gives up after writeWait so a stalled peer cannot hold up the
// sender's request or a broadcast.
func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Send encodes ev and writes it to this connection only.
func (c *Client) Send(ev models.Event) error {
	payload, err := models.Encode(ev)
	if err != nil {
		return err
	}
	return c.write(payload)
}

// Hub maintains live connections and per-user groups.
type Hub struct {
	clients map[string]*Client
	groups  map[string][]*Client
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string][]*Client),
	}
}

// Register adds a connection that has not yet joined any group.
func (h *Hub) Register(conn Conn, info ConnInfo) *Client {
	if info.ConnID == "" {
		info.ConnID = newConnID()
	}
	client := &Client{conn: conn, info: info}
	h.mu.Lock()
	h.clients[info.ConnID] = client
	h.mu.Unlock()
	return client
}

// Join places the client in userID's group. A connection authenticated as
// one user cannot join another user's group. Rejoining moves the client to
// the newest position.
func (h *Hub) Join(client *Client, userID string) error {
	if userID == "" || (client.info.UserID != "" && client.info.UserID != userID) {
		return ErrForeignJoin
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.userID != "" {
		h.removeFromGroupLocked(client)
	}
	client.userID = userID
	h.groups[userID] = append(h.groups[userID], client)
	return nil
}

// Leave removes the client from its group and returns the user it had joined as.
func (h *Hub) Leave(client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeFromGroupLocked(client)
}

// Unregister drops the client entirely.
func (h *Hub) Unregister(client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.info.ConnID)
	return h.removeFromGroupLocked(client)
}

func (h *Hub) removeFromGroupLocked(client *Client) string {
	userID := client.userID
	if userID == "" {
		return ""
	}
	client.userID = ""
	group := h.groups[userID]
	for i, c := range group {
		if c == client {
			group = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(group) == 0 {
		delete(h.groups, userID)
	} else {
		h.groups[userID] = group
	}
	return userID
}

// IsConnected reports whether userID has a joined connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID]) > 0
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Route writes ev to the most recently joined connection of userID. It
// reports whether the write succeeded; failures are logged and counted.
func (h *Hub) Route(userID string, ev models.Event) bool {
	log := logging.NewWithFields("Hub.Route", map[string]interface{}{"user_id": userID, "event": ev.EventName()})

	h.mu.RLock()
	group := h.groups[userID]
	var target *Client
	if len(group) > 0 {
		target = group[len(group)-1]
	}
	h.mu.RUnlock()

	if target == nil {
		log.Debug("no live connection")
		observability.IncPush(ev.EventName(), observability.PushOffline)
		return false
	}

	payload, err := models.Encode(ev)
	if err != nil {
		log.WithError(err).Error("encode event")
		observability.IncPush(ev.EventName(), observability.PushWriteError)
		return false
	}
	if err := target.write(payload); err != nil {
		log.WithError(err).Warn("websocket write error")
		h.dropClient(target, err)
		observability.IncPush(ev.EventName(), observability.PushWriteError)
		return false
	}
	observability.IncPush(ev.EventName(), observability.PushSent)
	return true
}

// Broadcast writes ev to every registered connection except exceptConnID.
func (h *Hub) Broadcast(ev models.Event, exceptConnID string) {
	log := logging.NewWithFields("Hub.Broadcast", map[string]interface{}{"event": ev.EventName()})
	payload, err := models.Encode(ev)
	if err != nil {
		log.WithError(err).Error("encode event")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		if id != exceptConnID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(payload); err != nil {
			log.WithError(err).WithField("conn_id", client.ID()).Warn("websocket write error")
			h.dropClient(client, err)
			observability.IncPush(ev.EventName(), observability.PushWriteError)
			continue
		}
		observability.IncPush(ev.EventName(), observability.PushSent)
	}
}

// Close closes every registered connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		_ = client.conn.Close()
	}
}

// dropClient closes a connection whose write failed. The reader side
// notices the closed socket and runs the disconnect path.
func (h *Hub) dropClient(client *Client, err error) {
	_ = client.conn.Close()
	h.Unregister(client)
	h.publishWSError(client, err)
}

func (h *Hub) publishWSError(client *Client, err error) {
	info := client.info
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.WSRoutingKey,
		observability.WSEvent("ws_error", info.identity(), err.Error()), headers)
	observability.IncWSEvent("ws_error")
}
