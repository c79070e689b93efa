package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"letschat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts account persistence including blocks and the hidden partition.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByIdentity(ctx context.Context, email, phone string) (models.User, error)
	MarkVerified(ctx context.Context, userID, email, phone string) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
	UpdateProfile(ctx context.Context, userID, name, about, avatar string) (models.User, error)
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
	SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]models.User, error)
	BlockUser(ctx context.Context, userID, peerID string) error
	UnblockUser(ctx context.Context, userID, peerID string) error
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
	SetPinHash(ctx context.Context, userID, hash string) error
	HidePeer(ctx context.Context, userID, peerID string) error
	UnhidePeer(ctx context.Context, userID, peerID string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

type userRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Avatar      string `db:"avatar"`
	About       string `db:"about"`
	PhoneNumber string `db:"phone_number"`
	Email       string `db:"email"`
	IsOnline    bool   `db:"is_online"`
	LastSeen    int64  `db:"last_seen"`
	IsVerified  bool   `db:"is_verified"`
	PinHash     string `db:"pin_hash"`
	CreatedAt   int64  `db:"created_at"`
}

const userColumns = `id, name, avatar, about, phone_number, email, is_online, last_seen, is_verified, pin_hash, created_at`

func (row userRow) toModel() models.User {
	return models.User{
		ID:          row.ID,
		Name:        row.Name,
		Avatar:      row.Avatar,
		About:       row.About,
		PhoneNumber: row.PhoneNumber,
		Email:       row.Email,
		IsOnline:    row.IsOnline,
		LastSeen:    fromMillis(row.LastSeen),
		IsVerified:  row.IsVerified,
		CreatedAt:   fromMillis(row.CreatedAt),
		Hidden:      models.Hidden{PinHash: row.PinHash},
	}
}

// CreateUser inserts a new account, filling id, about and timestamps when empty.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.About == "" {
		user.About = models.DefaultAbout
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}
	query := r.db.Rebind(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Avatar, user.About, user.PhoneNumber, user.Email,
		user.IsOnline, toMillis(user.LastSeen), user.IsVerified, user.Hidden.PinHash, toMillis(user.CreatedAt))
	if err != nil {
		return models.User{}, err
	}
	return r.GetUser(ctx, user.ID)
}

// FindByIdentity looks a user up by email first, then by phone number.
func (r *UserRepo) FindByIdentity(ctx context.Context, email, phone string) (models.User, error) {
	var row userRow
	if email != "" {
		err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE email=? LIMIT 1`), email)
		if err == nil {
			return r.hydrate(ctx, row)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.User{}, err
		}
	}
	if phone != "" {
		err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE phone_number=? LIMIT 1`), phone)
		if err == nil {
			return r.hydrate(ctx, row)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.User{}, err
		}
	}
	return models.User{}, ErrUserNotFound
}

// MarkVerified fills missing identifiers and flags the account verified and online.
func (r *UserRepo) MarkVerified(ctx context.Context, userID, email, phone string) (models.User, error) {
	query := r.db.Rebind(`UPDATE users SET
        email = CASE WHEN email = '' THEN ? ELSE email END,
        phone_number = CASE WHEN phone_number = '' THEN ? ELSE phone_number END,
        is_verified = TRUE,
        is_online = TRUE
        WHERE id=?`)
	res, err := r.db.ExecContext(ctx, query, email, phone, userID)
	if err != nil {
		return models.User{}, err
	}
	if err := expectRow(res, ErrUserNotFound); err != nil {
		return models.User{}, err
	}
	return r.GetUser(ctx, userID)
}

// GetUser loads a user together with its blocked and hidden peers.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return r.hydrate(ctx, row)
}

func (r *UserRepo) hydrate(ctx context.Context, row userRow) (models.User, error) {
	user := row.toModel()
	if err := r.db.SelectContext(ctx, &user.BlockedUsers,
		r.db.Rebind(`SELECT blocked_id FROM user_blocks WHERE user_id=? ORDER BY created_at`), row.ID); err != nil {
		return models.User{}, err
	}
	if err := r.db.SelectContext(ctx, &user.Hidden.Peers,
		r.db.Rebind(`SELECT peer_id FROM hidden_peers WHERE user_id=? ORDER BY created_at`), row.ID); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// GetUsers returns the profiles of the given ids; unknown ids are skipped.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

// UpdateProfile sets the name and, when non-empty, about and avatar.
func (r *UserRepo) UpdateProfile(ctx context.Context, userID, name, about, avatar string) (models.User, error) {
	current, err := r.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if about == "" {
		about = current.About
	}
	if avatar == "" {
		avatar = current.Avatar
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET name=?, about=?, avatar=? WHERE id=?`), name, about, avatar, userID)
	if err != nil {
		return models.User{}, err
	}
	current.Name, current.About, current.Avatar = name, about, avatar
	return current, nil
}

// SetPresence persists the online flag and last-seen stamp.
func (r *UserRepo) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET is_online=?, last_seen=? WHERE id=?`),
		online, toMillis(lastSeen), userID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrUserNotFound)
}

// SearchUsers matches verified users by name, phone or email, case-insensitively.
func (r *UserRepo) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]models.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users
        WHERE id <> ? AND is_verified = TRUE
        AND (LOWER(name) LIKE ? ESCAPE '\' OR LOWER(phone_number) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')
        ORDER BY name ASC
        LIMIT ?`)
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, q, excludeID, pattern, pattern, pattern, limit); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// BlockUser records that userID blocked peerID. Repeated blocks are no-ops.
func (r *UserRepo) BlockUser(ctx context.Context, userID, peerID string) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO user_blocks (user_id, blocked_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`),
		userID, peerID, time.Now().UnixMilli())
	return err
}

// UnblockUser removes a block if present.
func (r *UserRepo) UnblockUser(ctx context.Context, userID, peerID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM user_blocks WHERE user_id=? AND blocked_id=?`), userID, peerID)
	return err
}

// IsBlocked reports whether either user blocked the other.
func (r *UserRepo) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	var blocked bool
	err := r.db.GetContext(ctx, &blocked, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM user_blocks
        WHERE (user_id=? AND blocked_id=?) OR (user_id=? AND blocked_id=?))`), userA, userB, userB, userA)
	return blocked, err
}

// SetPinHash stores the hidden-partition PIN hash.
func (r *UserRepo) SetPinHash(ctx context.Context, userID, hash string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET pin_hash=? WHERE id=?`), hash, userID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrUserNotFound)
}

// HidePeer moves peerID into the user's hidden partition.
func (r *UserRepo) HidePeer(ctx context.Context, userID, peerID string) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO hidden_peers (user_id, peer_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`),
		userID, peerID, time.Now().UnixMilli())
	return err
}

// UnhidePeer removes peerID from the hidden partition.
func (r *UserRepo) UnhidePeer(ctx context.Context, userID, peerID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM hidden_peers WHERE user_id=? AND peer_id=?`), userID, peerID)
	return err
}

func expectRow(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}

var _ UserRepository = (*UserRepo)(nil)
