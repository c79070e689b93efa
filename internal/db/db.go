package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"letschat/internal/logging"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect opens the store for driver and applies migrations.
func Connect(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// a single connection keeps in-memory databases shared and serialises writers
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates the schema. Statements are idempotent and portable
// between Postgres and SQLite; timestamps are unix milliseconds.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            avatar TEXT NOT NULL DEFAULT '',
            about TEXT NOT NULL DEFAULT '',
            phone_number TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            is_online BOOLEAN NOT NULL DEFAULT FALSE,
            last_seen BIGINT NOT NULL DEFAULT 0,
            is_verified BOOLEAN NOT NULL DEFAULT FALSE,
            pin_hash TEXT NOT NULL DEFAULT '',
            created_at BIGINT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS users_email_idx ON users(email);`,
		`CREATE INDEX IF NOT EXISTS users_phone_idx ON users(phone_number);`,
		`CREATE TABLE IF NOT EXISTS user_blocks (
            user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            blocked_id TEXT NOT NULL,
            created_at BIGINT NOT NULL,
            PRIMARY KEY(user_id, blocked_id)
        );`,
		`CREATE TABLE IF NOT EXISTS hidden_peers (
            user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            peer_id TEXT NOT NULL,
            created_at BIGINT NOT NULL,
            PRIMARY KEY(user_id, peer_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            sender_id TEXT NOT NULL,
            recipient_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            message_type TEXT NOT NULL DEFAULT 'text',
            file_url TEXT NOT NULL DEFAULT '',
            file_name TEXT NOT NULL DEFAULT '',
            reply_to TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'sent',
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            created_at BIGINT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages(sender_id, recipient_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS messages_recipient_idx ON messages(recipient_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS message_deletions (
            message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            PRIMARY KEY(message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
            message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            emoji TEXT NOT NULL,
            created_at BIGINT NOT NULL,
            PRIMARY KEY(message_id, user_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	logging.New("Migrate").Debug("database migrations applied")
	return nil
}
