package models

import "time"

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageDocument:
		return true
	}
	return false
}

// Status is the delivery state of a message. It only moves forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses; unknown statuses rank lowest.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Before returns the statuses that may legally advance to s.
func (s Status) Before() []Status {
	var out []Status
	for _, candidate := range []Status{StatusSent, StatusDelivered} {
		if candidate.Rank() < s.Rank() {
			out = append(out, candidate)
		}
	}
	return out
}

// Max returns the later of two statuses.
func Max(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// DeletedPlaceholder replaces the content of a message deleted for everyone.
const DeletedPlaceholder = "This message was deleted"

// Message is a direct message between two users.
type Message struct {
	ID          string      `json:"_id"`
	SenderID    string      `json:"sender"`
	RecipientID string      `json:"recipient"`
	Content     string      `json:"content"`
	Type        MessageType `json:"messageType"`
	FileURL     string      `json:"fileUrl,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	ReplyTo     string      `json:"replyTo,omitempty"`
	Status      Status      `json:"status"`
	IsDeleted   bool        `json:"isDeleted"`
	DeletedFor  []string    `json:"-"`
	Reactions   []Reaction  `json:"reactions"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// PeerOf returns the other participant relative to viewerID.
func (m Message) PeerOf(viewerID string) string {
	if m.SenderID == viewerID {
		return m.RecipientID
	}
	return m.SenderID
}

// Involves reports whether userID is a participant.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// DeletedForUser reports whether userID removed the message locally.
func (m Message) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	UserID string `json:"user"`
	Emoji  string `json:"emoji"`
}
