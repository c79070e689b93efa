// Package conversations derives the per-peer conversation list of a viewer
// from the message store.
package conversations

import (
	"context"
	"errors"
	"sort"

	"letschat/internal/apperr"
	"letschat/internal/logging"
	"letschat/internal/models"
	"letschat/internal/repositories"
	"letschat/internal/visibility"
)

// PinVerifier checks a user's hidden-conversation PIN.
type PinVerifier interface {
	VerifyPin(ctx context.Context, userID, pin string) error
}

// Aggregator builds conversation lists.
type Aggregator struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
	pins     PinVerifier
}

// NewAggregator constructs an Aggregator.
func NewAggregator(users repositories.UserRepository, messages repositories.MessageRepository, pins PinVerifier) *Aggregator {
	return &Aggregator{users: users, messages: messages, pins: pins}
}

// List returns the viewer's normal conversations, most recent first.
func (a *Aggregator) List(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	return a.build(ctx, viewerID, visibility.Normal)
}

// ListHidden returns the conversations with hidden peers. The PIN is
// verified before anything is read.
func (a *Aggregator) ListHidden(ctx context.Context, viewerID, pin string) ([]models.Conversation, error) {
	if err := a.pins.VerifyPin(ctx, viewerID, pin); err != nil {
		return nil, err
	}
	return a.build(ctx, viewerID, visibility.Hidden)
}

func (a *Aggregator) build(ctx context.Context, viewerID string, scope visibility.Scope) ([]models.Conversation, error) {
	log := logging.NewWithFields("Aggregator.build", map[string]interface{}{"viewer": viewerID})

	viewer, err := a.users.GetUser(ctx, viewerID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "load user")
	}

	heads, err := a.messages.ListHeads(ctx, viewerID)
	if err != nil {
		return nil, apperr.Unavailable(err, "list conversations")
	}

	byPeer := make(map[string]*models.Conversation, len(heads))
	var order []string
	for _, head := range heads {
		if !visibility.AdmitsPeer(viewer, head.PeerID, scope) {
			continue
		}
		byPeer[head.PeerID] = &models.Conversation{PeerID: head.PeerID, LastMessage: head.Last.Preview(), UnreadCount: head.Unread}
		order = append(order, head.PeerID)
	}
	if len(order) == 0 {
		return []models.Conversation{}, nil
	}

	peers, err := a.users.GetUsers(ctx, order)
	if err != nil {
		return nil, apperr.Unavailable(err, "load peers")
	}
	profiles := make(map[string]models.PublicProfile, len(peers))
	for _, p := range peers {
		profiles[p.ID] = p.Profile()
	}

	out := make([]models.Conversation, 0, len(order))
	for _, peerID := range order {
		profile, ok := profiles[peerID]
		if !ok {
			log.WithField("peer", peerID).Debug("skipping conversation with unknown peer")
			continue
		}
		conv := byPeer[peerID]
		conv.User = profile
		out = append(out, *conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}
