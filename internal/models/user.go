package models

import "time"

// DefaultAbout is the status text given to new users.
const DefaultAbout = "Hey there! I am using LetsChat."

// User is a registered account together with its owner-only relations.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Avatar       string    `json:"profilePicture"`
	About        string    `json:"about"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	Email        string    `json:"email,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	BlockedUsers []string  `json:"-"`
	Hidden       Hidden    `json:"-"`
}

// Hidden is the PIN-gated partition of a user's peers.
type Hidden struct {
	PinHash string
	Peers   []string
}

// HasBlocked reports whether u blocked peerID.
func (u User) HasBlocked(peerID string) bool {
	for _, id := range u.BlockedUsers {
		if id == peerID {
			return true
		}
	}
	return false
}

// HidesPeer reports whether peerID sits in u's hidden partition.
func (u User) HidesPeer(peerID string) bool {
	for _, id := range u.Hidden.Peers {
		if id == peerID {
			return true
		}
	}
	return false
}

// PublicProfile is what other users may see.
type PublicProfile struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Avatar      string    `json:"profilePicture"`
	About       string    `json:"about"`
	IsOnline    bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Profile projects u to its public fields.
func (u User) Profile() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Name:        u.Name,
		PhoneNumber: u.PhoneNumber,
		Avatar:      u.Avatar,
		About:       u.About,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
	}
}

// Presence is a point-in-time view of a user's liveness.
type Presence struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}
