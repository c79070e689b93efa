package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Push event names.
const (
	EventReceiveMessage      = "receive-message"
	EventMessageDelivered    = "message-delivered"
	EventMessagesRead        = "messages-read"
	EventMessageDeleted      = "message-deleted"
	EventRefreshMessages     = "refresh-messages"
	EventConversationDeleted = "conversation-deleted"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventUserTyping          = "user-typing"
	EventError               = "error"
)

// Client signal names.
const (
	SignalJoin         = "join"
	SignalOnline       = "online"
	SignalGoingOffline = "going-offline"
	SignalTyping       = "typing"
	SignalMarkRead     = "mark-read"
)

// Event is a server to client push payload.
type Event interface {
	EventName() string
}

// Envelope is the frame carried over the push channel in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ReceiveMessage struct {
	MessageID    string      `json:"messageId"`
	SenderID     string      `json:"senderId"`
	RecipientID  string      `json:"recipientId"`
	Content      string      `json:"message"`
	Type         MessageType `json:"messageType"`
	FileURL      string      `json:"fileUrl,omitempty"`
	FileName     string      `json:"fileName,omitempty"`
	ReplyTo      string      `json:"replyTo,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	SenderName   string      `json:"senderName"`
	SenderAvatar string      `json:"senderProfilePicture"`
	SenderPhone  string      `json:"senderPhoneNumber,omitempty"`
}

type MessageDelivered struct {
	MessageID string `json:"messageId"`
}

type MessagesRead struct {
	UserID    string    `json:"userId"`
	PeerID    string    `json:"peerId"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageDeleted struct {
	MessageID   string `json:"messageId"`
	By          string `json:"by"`
	Scope       string `json:"scope"`
	Remove      bool   `json:"remove"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

type RefreshMessages struct {
	PeerID string `json:"peerId"`
}

type ConversationDeleted struct {
	By     string `json:"by"`
	PeerID string `json:"peerId"`
	Mode   string `json:"mode"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (ReceiveMessage) EventName() string      { return EventReceiveMessage }
func (MessageDelivered) EventName() string    { return EventMessageDelivered }
func (MessagesRead) EventName() string        { return EventMessagesRead }
func (MessageDeleted) EventName() string      { return EventMessageDeleted }
func (RefreshMessages) EventName() string     { return EventRefreshMessages }
func (ConversationDeleted) EventName() string { return EventConversationDeleted }
func (UserOnline) EventName() string          { return EventUserOnline }
func (UserOffline) EventName() string         { return EventUserOffline }
func (UserTyping) EventName() string          { return EventUserTyping }
func (ErrorEvent) EventName() string          { return EventError }

// Encode frames ev as an envelope.
func Encode(ev Event) ([]byte, error) {
	return EncodeNamed(ev.EventName(), ev)
}

// EncodeNamed frames any payload under the given name.
func EncodeNamed(name string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

// DecodeEvent parses a server push frame into its typed event.
func DecodeEvent(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	var ev Event
	switch env.Event {
	case EventReceiveMessage:
		ev = &ReceiveMessage{}
	case EventMessageDelivered:
		ev = &MessageDelivered{}
	case EventMessagesRead:
		ev = &MessagesRead{}
	case EventMessageDeleted:
		ev = &MessageDeleted{}
	case EventRefreshMessages:
		ev = &RefreshMessages{}
	case EventConversationDeleted:
		ev = &ConversationDeleted{}
	case EventUserOnline:
		ev = &UserOnline{}
	case EventUserOffline:
		ev = &UserOffline{}
	case EventUserTyping:
		ev = &UserTyping{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
	}
	return ev, nil
}

// JoinSignal binds a connection to its user's group.
type JoinSignal struct {
	UserID string `json:"userId" validate:"required"`
}

// OnlineSignal asks the server to re-announce the user as online.
type OnlineSignal struct {
	UserID string `json:"userId"`
}

// TypingSignal is relayed to the recipient as user-typing.
type TypingSignal struct {
	SenderID    string `json:"senderId" validate:"required"`
	RecipientID string `json:"recipientId" validate:"required,nefield=SenderID"`
	IsTyping    bool   `json:"isTyping"`
}

// MarkReadSignal marks every message from PeerID to UserID read.
type MarkReadSignal struct {
	UserID string `json:"userId" validate:"required"`
	PeerID string `json:"peerId" validate:"required,nefield=UserID"`
}
