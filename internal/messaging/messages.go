package messaging

import (
	"context"
	"strconv"
	"strings"

	"letschat/internal/apperr"
	"letschat/internal/logging"
	"letschat/internal/models"
	"letschat/internal/observability"
	"letschat/internal/telemetry"
	"letschat/internal/visibility"
)

// Deletion scopes.
const (
	ScopeMe       = "me"
	ScopeEveryone = "everyone"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// SendInput is a message to be sent by SenderID.
type SendInput struct {
	SenderID    string
	RecipientID string
	Content     string
	Type        models.MessageType
	FileURL     string
	FileName    string
	ReplyTo     string
}

// Send validates and stores a message, then pushes it to the recipient's
// live connection. A successful push advances the message to delivered and
// acknowledges the sender.
func (e *Engine) Send(ctx context.Context, in SendInput) (models.Message, error) {
	log := logging.NewWithFields("Engine.Send", map[string]interface{}{"sender": in.SenderID, "recipient": in.RecipientID})

	if in.RecipientID == "" || strings.TrimSpace(in.Content) == "" {
		return models.Message{}, apperr.Validation("Recipient and content are required")
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return models.Message{}, apperr.Validation("Unknown message type %q", in.Type)
	}
	if in.SenderID == in.RecipientID {
		return models.Message{}, apperr.Validation("Cannot send a message to yourself")
	}
	if _, err := e.loadUser(ctx, in.RecipientID, "Recipient"); err != nil {
		return models.Message{}, err
	}
	blocked, err := e.users.IsBlocked(ctx, in.SenderID, in.RecipientID)
	if err != nil {
		return models.Message{}, apperr.Unavailable(err, "check blocks")
	}
	if blocked {
		return models.Message{}, apperr.Permission("Messaging is blocked.")
	}
	if in.ReplyTo != "" {
		parent, err := e.loadMessage(ctx, in.ReplyTo)
		if err != nil && apperr.CodeOf(err) != apperr.CodeNotFound {
			return models.Message{}, err
		}
		if err != nil || !parent.Involves(in.SenderID) || !parent.Involves(in.RecipientID) {
			return models.Message{}, apperr.Validation("Reply must reference a message in this conversation")
		}
	}

	msg, err := e.messages.CreateMessage(ctx, models.Message{
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Content:     in.Content,
		Type:        in.Type,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		ReplyTo:     in.ReplyTo,
		CreatedAt:   e.clock.stamp(),
	})
	if err != nil {
		return models.Message{}, apperr.Unavailable(err, "store message")
	}
	observability.AddMessageTransitions(string(models.StatusSent), 1)

	sender, err := e.profile(ctx, in.SenderID)
	if err != nil {
		log.WithError(err).Warn("sender profile unavailable for push payload")
	}
	pushed := e.router.Route(in.RecipientID, models.ReceiveMessage{
		MessageID:    msg.ID,
		SenderID:     msg.SenderID,
		RecipientID:  msg.RecipientID,
		Content:      msg.Content,
		Type:         msg.Type,
		FileURL:      msg.FileURL,
		FileName:     msg.FileName,
		ReplyTo:      msg.ReplyTo,
		Timestamp:    msg.CreatedAt,
		SenderName:   sender.Name,
		SenderAvatar: sender.Avatar,
		SenderPhone:  sender.PhoneNumber,
	})
	if !pushed {
		return msg, nil
	}

	advanced, err := e.messages.AdvanceStatus(ctx, msg.ID, models.StatusDelivered)
	if err != nil {
		log.WithError(err).WithField("message_id", msg.ID).Warn("delivered transition failed")
		return msg, nil
	}
	if advanced {
		msg.Status = models.StatusDelivered
		observability.AddMessageTransitions(string(models.StatusDelivered), 1)
		e.router.Route(in.SenderID, models.MessageDelivered{MessageID: msg.ID})
	}
	return msg, nil
}

// MarkRead marks every unread message from peerID to readerID read and, if
// anything changed, tells the peer once.
func (e *Engine) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	if peerID == "" || peerID == readerID {
		return 0, apperr.Validation("A peer is required")
	}
	changed, err := e.messages.MarkReadFrom(ctx, peerID, readerID)
	if err != nil {
		return 0, apperr.Unavailable(err, "mark read")
	}
	if changed > 0 {
		observability.AddMessageTransitions(string(models.StatusRead), changed)
		e.router.Route(peerID, models.MessagesRead{UserID: readerID, PeerID: peerID, Timestamp: e.clock.now().UTC()})
	}
	return changed, nil
}

// MessagePage is one page of a conversation in ascending time order.
type MessagePage struct {
	Messages []models.Message
	Page     models.Page
}

// ListMessages returns page (1-based) of the conversation with peerID as
// seen by viewerID and marks the peer's messages read. A hidden peer's
// thread requires the PIN.
func (e *Engine) ListMessages(ctx context.Context, viewerID, peerID string, page, limit int, pin string) (MessagePage, error) {
	if peerID == "" {
		return MessagePage{}, apperr.Validation("A peer is required")
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	viewer, err := e.loadUser(ctx, viewerID, "User")
	if err != nil {
		return MessagePage{}, err
	}
	scope := visibility.Normal
	if viewer.HidesPeer(peerID) {
		if err := e.checkPin(viewer, pin); err != nil {
			return MessagePage{}, err
		}
		scope = visibility.Hidden
	}

	rows, err := e.messages.ListConversation(ctx, viewerID, peerID, (page-1)*limit, limit+1)
	if err != nil {
		return MessagePage{}, apperr.Unavailable(err, "list messages")
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	visible := visibility.Filter(rows, viewer, scope)

	changed, err := e.MarkRead(ctx, viewerID, peerID)
	if err != nil {
		return MessagePage{}, err
	}

	out := make([]models.Message, len(visible))
	for i, msg := range visible {
		if changed > 0 && msg.SenderID == peerID {
			msg.Status = models.Max(msg.Status, models.StatusRead)
		}
		out[len(visible)-1-i] = msg
	}
	return MessagePage{
		Messages: out,
		Page:     models.Page{Page: page, Limit: limit, HasMore: hasMore},
	}, nil
}

// React sets userID's single reaction on a message.
func (e *Engine) React(ctx context.Context, messageID, userID, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return apperr.Validation("Emoji is required")
	}
	msg, err := e.participantMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return apperr.Validation("Cannot react to a deleted message")
	}
	if err := e.messages.UpsertReaction(ctx, messageID, userID, emoji); err != nil {
		return apperr.Unavailable(err, "store reaction")
	}
	return nil
}

// Unreact removes userID's reaction if there is one.
func (e *Engine) Unreact(ctx context.Context, messageID, userID string) error {
	if _, err := e.participantMessage(ctx, messageID, userID); err != nil {
		return err
	}
	if _, err := e.messages.RemoveReaction(ctx, messageID, userID); err != nil {
		return apperr.Unavailable(err, "remove reaction")
	}
	return nil
}

// DeleteMessage dispatches on scope: "me" (default) or "everyone".
func (e *Engine) DeleteMessage(ctx context.Context, messageID, userID, scope string) error {
	switch scope {
	case "", ScopeMe:
		return e.DeleteForMe(ctx, messageID, userID)
	case ScopeEveryone:
		return e.DeleteForEveryone(ctx, messageID, userID)
	default:
		return apperr.Validation("deleteFor must be %q or %q", ScopeMe, ScopeEveryone)
	}
}

// DeleteForMe hides a message from userID only.
func (e *Engine) DeleteForMe(ctx context.Context, messageID, userID string) error {
	if _, err := e.participantMessage(ctx, messageID, userID); err != nil {
		return err
	}
	if err := e.messages.DeleteForUser(ctx, messageID, userID); err != nil {
		return apperr.Unavailable(err, "delete message")
	}
	return nil
}

// DeleteForEveryone tombstones a message. Only its sender may do this.
func (e *Engine) DeleteForEveryone(ctx context.Context, messageID, actorID string) error {
	msg, err := e.participantMessage(ctx, messageID, actorID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return apperr.Permission("Only sender can delete for everyone")
	}
	changed, err := e.messages.Tombstone(ctx, messageID)
	if err != nil {
		return apperr.Unavailable(err, "delete message")
	}
	if !changed {
		return nil
	}

	deleted := models.MessageDeleted{
		MessageID:   msg.ID,
		By:          actorID,
		Scope:       ScopeEveryone,
		Remove:      true,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
	}
	e.router.Route(msg.SenderID, deleted)
	e.router.Route(msg.RecipientID, deleted)
	e.router.Route(msg.SenderID, models.RefreshMessages{PeerID: msg.RecipientID})
	e.router.Route(msg.RecipientID, models.RefreshMessages{PeerID: msg.SenderID})

	e.emit(ctx, telemetry.Entry{
		Action: "message.delete_everyone",
		Text:   "message deleted for everyone",
		UserID: actorID,
		Fields: map[string]string{"message_id": msg.ID, "peer_id": msg.RecipientID},
	})
	return nil
}

// DeleteConversation removes the whole thread with peerID for the viewer
// ("me") or tombstones it for both participants ("everyone").
func (e *Engine) DeleteConversation(ctx context.Context, viewerID, peerID, scope string) error {
	if peerID == "" || peerID == viewerID {
		return apperr.Validation("A peer is required")
	}
	switch scope {
	case "", ScopeMe:
		if _, err := e.messages.DeleteConversationForUser(ctx, viewerID, peerID); err != nil {
			return apperr.Unavailable(err, "delete conversation")
		}
		return nil
	case ScopeEveryone:
		n, err := e.messages.TombstoneConversation(ctx, viewerID, peerID)
		if err != nil {
			return apperr.Unavailable(err, "delete conversation")
		}
		ev := models.ConversationDeleted{By: viewerID, PeerID: peerID, Mode: ScopeEveryone}
		e.router.Route(viewerID, ev)
		e.router.Route(peerID, ev)
		e.emit(ctx, telemetry.Entry{
			Action: "conversation.delete_everyone",
			Text:   "conversation deleted for everyone",
			UserID: viewerID,
			Fields: map[string]string{"peer_id": peerID, "messages": strconv.FormatInt(n, 10)},
		})
		return nil
	default:
		return apperr.Validation("for must be %q or %q", ScopeMe, ScopeEveryone)
	}
}

func (e *Engine) participantMessage(ctx context.Context, messageID, userID string) (models.Message, error) {
	msg, err := e.loadMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if !msg.Involves(userID) {
		return models.Message{}, apperr.Permission("Permission denied")
	}
	return msg, nil
}
