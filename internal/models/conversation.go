package models

import "time"

// MessagePreview is the trimmed last message shown in a conversation row.
type MessagePreview struct {
	ID        string      `json:"_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"messageType"`
	CreatedAt time.Time   `json:"createdAt"`
	Status    Status      `json:"status"`
	SenderID  string      `json:"sender"`
}

// Preview trims m for the conversation list.
func (m Message) Preview() MessagePreview {
	return MessagePreview{
		ID:        m.ID,
		Content:   m.Content,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
		Status:    m.Status,
		SenderID:  m.SenderID,
	}
}

// Conversation is the derived view of one peer relative to a viewer.
type Conversation struct {
	PeerID      string         `json:"_id"`
	User        PublicProfile  `json:"user"`
	LastMessage MessagePreview `json:"lastMessage"`
	UnreadCount int            `json:"unreadCount"`
}

// Page describes the slice returned by a paged message listing.
type Page struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}
