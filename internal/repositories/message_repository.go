package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"letschat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines persistence for direct messages and their per-user state.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListConversation(ctx context.Context, viewerID, peerID string, offset, limit int) ([]models.Message, error)
	ListHeads(ctx context.Context, viewerID string) ([]ConversationHead, error)
	AdvanceStatus(ctx context.Context, messageID string, to models.Status) (bool, error)
	MarkReadFrom(ctx context.Context, senderID, recipientID string) (int64, error)
	UpsertReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID string) (bool, error)
	DeleteForUser(ctx context.Context, messageID, userID string) error
	Tombstone(ctx context.Context, messageID string) (bool, error)
	DeleteConversationForUser(ctx context.Context, userID, peerID string) (int64, error)
	TombstoneConversation(ctx context.Context, userA, userB string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID          string `db:"id"`
	SenderID    string `db:"sender_id"`
	RecipientID string `db:"recipient_id"`
	Content     string `db:"content"`
	Type        string `db:"message_type"`
	FileURL     string `db:"file_url"`
	FileName    string `db:"file_name"`
	ReplyTo     string `db:"reply_to"`
	Status      string `db:"status"`
	IsDeleted   bool   `db:"is_deleted"`
	CreatedAt   int64  `db:"created_at"`
}

const messageColumns = `m.id, m.sender_id, m.recipient_id, m.content, m.message_type, m.file_url, m.file_name, m.reply_to, m.status, m.is_deleted, m.created_at`

const pairClause = `((m.sender_id=? AND m.recipient_id=?) OR (m.sender_id=? AND m.recipient_id=?))`

func (row messageRow) toModel() models.Message {
	return models.Message{
		ID:          row.ID,
		SenderID:    row.SenderID,
		RecipientID: row.RecipientID,
		Content:     row.Content,
		Type:        models.MessageType(row.Type),
		FileURL:     row.FileURL,
		FileName:    row.FileName,
		ReplyTo:     row.ReplyTo,
		Status:      models.Status(row.Status),
		IsDeleted:   row.IsDeleted,
		CreatedAt:   fromMillis(row.CreatedAt),
		Reactions:   []models.Reaction{},
	}
}

// CreateMessage stores a message with status sent.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	msg.Status = models.StatusSent
	msg.CreatedAt = fromMillis(toMillis(msg.CreatedAt))

	query := r.db.Rebind(`INSERT INTO messages (id, sender_id, recipient_id, content, message_type, file_url, file_name, reply_to, status, is_deleted, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?)`)
	_, err := r.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.RecipientID, msg.Content, string(msg.Type),
		msg.FileURL, msg.FileName, msg.ReplyTo, string(msg.Status), toMillis(msg.CreatedAt))
	if err != nil {
		return models.Message{}, err
	}
	msg.IsDeleted = false
	msg.DeletedFor = nil
	msg.Reactions = []models.Reaction{}
	return msg, nil
}

// GetMessage retrieves a single message with its deletions and reactions.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+messageColumns+` FROM messages m WHERE m.id=?`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs, err := r.attach(ctx, []messageRow{row}, `m.id=?`, messageID)
	if err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListConversation returns one page of the messages between viewerID and
// peerID that the viewer has not deleted, newest first.
func (r *MessageRepo) ListConversation(ctx context.Context, viewerID, peerID string, offset, limit int) ([]models.Message, error) {
	query := r.db.Rebind(`SELECT ` + messageColumns + ` FROM messages m
        WHERE ` + pairClause + `
        AND m.is_deleted = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.user_id = ?)
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT ? OFFSET ?`)
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, viewerID, peerID, peerID, viewerID, viewerID, limit, offset); err != nil {
		return nil, err
	}
	return r.attach(ctx, rows, pairClause, viewerID, peerID, peerID, viewerID)
}

// ConversationHead is the newest message the viewer can see with one peer,
// plus the number of the peer's messages the viewer has not read.
type ConversationHead struct {
	PeerID string
	Last   models.Message
	Unread int
}

type headRow struct {
	messageRow
	PeerID string `db:"peer_id"`
	Unread int64  `db:"unread"`
}

const headColumns = `h.id, h.sender_id, h.recipient_id, h.content, h.message_type, h.file_url, h.file_name, h.reply_to, h.status, h.is_deleted, h.created_at, h.peer_id, h.unread`

// ListHeads returns one head per peer the viewer shares visible messages
// with, newest first. Tombstoned messages and the viewer's own deletions are
// excluded before the latest message and the unread count are taken.
// Reactions and deletion lists are not loaded.
func (r *MessageRepo) ListHeads(ctx context.Context, viewerID string) ([]ConversationHead, error) {
	query := r.db.Rebind(`SELECT ` + headColumns + ` FROM (
        SELECT x.*,
            ROW_NUMBER() OVER (PARTITION BY x.peer_id ORDER BY x.created_at DESC, x.id DESC) AS rn,
            SUM(CASE WHEN x.recipient_id = ? AND x.status <> ? THEN 1 ELSE 0 END) OVER (PARTITION BY x.peer_id) AS unread
        FROM (
            SELECT ` + messageColumns + `,
                CASE WHEN m.sender_id = ? THEN m.recipient_id ELSE m.sender_id END AS peer_id
            FROM messages m
            WHERE (m.sender_id = ? OR m.recipient_id = ?)
            AND m.is_deleted = FALSE
            AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.user_id = ?)
        ) x
    ) h
    WHERE h.rn = 1
    ORDER BY h.created_at DESC, h.id DESC`)
	var rows []headRow
	err := r.db.SelectContext(ctx, &rows, query,
		viewerID, string(models.StatusRead), viewerID, viewerID, viewerID, viewerID)
	if err != nil {
		return nil, err
	}
	heads := make([]ConversationHead, 0, len(rows))
	for _, row := range rows {
		heads = append(heads, ConversationHead{PeerID: row.PeerID, Last: row.toModel(), Unread: int(row.Unread)})
	}
	return heads, nil
}

type deletionRow struct {
	MessageID string `db:"message_id"`
	UserID    string `db:"user_id"`
}

type reactionRow struct {
	MessageID string `db:"message_id"`
	UserID    string `db:"user_id"`
	Emoji     string `db:"emoji"`
}

// attach loads deletions and reactions for the messages matched by scope.
func (r *MessageRepo) attach(ctx context.Context, rows []messageRow, scope string, args ...interface{}) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(rows))
	if len(rows) == 0 {
		return msgs, nil
	}
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		index[row.ID] = i
		msgs = append(msgs, row.toModel())
	}

	var deletions []deletionRow
	err := r.db.SelectContext(ctx, &deletions, r.db.Rebind(`SELECT d.message_id, d.user_id FROM message_deletions d
        JOIN messages m ON m.id = d.message_id WHERE `+scope), args...)
	if err != nil {
		return nil, err
	}
	for _, d := range deletions {
		if i, ok := index[d.MessageID]; ok {
			msgs[i].DeletedFor = append(msgs[i].DeletedFor, d.UserID)
		}
	}

	var reactions []reactionRow
	err = r.db.SelectContext(ctx, &reactions, r.db.Rebind(`SELECT x.message_id, x.user_id, x.emoji FROM message_reactions x
        JOIN messages m ON m.id = x.message_id WHERE `+scope+` ORDER BY x.created_at ASC`), args...)
	if err != nil {
		return nil, err
	}
	for _, x := range reactions {
		if i, ok := index[x.MessageID]; ok {
			msgs[i].Reactions = append(msgs[i].Reactions, models.Reaction{UserID: x.UserID, Emoji: x.Emoji})
		}
	}
	return msgs, nil
}

// AdvanceStatus moves a message forward to the given status. It reports
// false when the message already was at or past it.
func (r *MessageRepo) AdvanceStatus(ctx context.Context, messageID string, to models.Status) (bool, error) {
	var from []string
	for _, s := range to.Before() {
		from = append(from, string(s))
	}
	if len(from) == 0 {
		return false, nil
	}
	query, args, err := sqlx.In(`UPDATE messages SET status=? WHERE id=? AND status IN (?)`, string(to), messageID, from)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// MarkReadFrom marks every unread message from senderID to recipientID read.
func (r *MessageRepo) MarkReadFrom(ctx context.Context, senderID, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET status=? WHERE sender_id=? AND recipient_id=? AND status <> ?`),
		string(models.StatusRead), senderID, recipientID, string(models.StatusRead))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertReaction sets the user's single reaction on a message.
func (r *MessageRepo) UpsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = excluded.emoji`),
		messageID, userID, emoji, time.Now().UnixMilli())
	return err
}

// RemoveReaction drops the user's reaction, reporting whether one existed.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM message_reactions WHERE message_id=? AND user_id=?`), messageID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// DeleteForUser hides one message from a single participant.
func (r *MessageRepo) DeleteForUser(ctx context.Context, messageID, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO message_deletions (message_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		messageID, userID)
	return err
}

// Tombstone deletes a message for everyone, scrubbing its content. Status is untouched.
func (r *MessageRepo) Tombstone(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET is_deleted=TRUE, content=?, file_url='', file_name=''
        WHERE id=? AND is_deleted=FALSE`), models.DeletedPlaceholder, messageID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// DeleteConversationForUser hides every message between the two users from userID.
func (r *MessageRepo) DeleteConversationForUser(ctx context.Context, userID, peerID string) (int64, error) {
	query := r.db.Rebind(`INSERT INTO message_deletions (message_id, user_id)
        SELECT m.id, CAST(? AS TEXT) FROM messages m WHERE ` + pairClause + `
        ON CONFLICT DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query, userID, userID, peerID, peerID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TombstoneConversation deletes every message between the two users for both of them.
func (r *MessageRepo) TombstoneConversation(ctx context.Context, userA, userB string) (int64, error) {
	query := r.db.Rebind(`UPDATE messages SET is_deleted=TRUE, content=?, file_url='', file_name=''
        WHERE is_deleted=FALSE AND ((sender_id=? AND recipient_id=?) OR (sender_id=? AND recipient_id=?))`)
	res, err := r.db.ExecContext(ctx, query, models.DeletedPlaceholder, userA, userB, userB, userA)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ MessageRepository = (*MessageRepo)(nil)
