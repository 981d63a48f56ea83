package database

import (
	"context"
	"fmt"
)

// migrations are applied in order; the applied count is kept in
// schema_migrations so new entries only ever get appended.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		name             TEXT    NOT NULL,
		email            TEXT    NOT NULL UNIQUE,
		telegram_chat_id INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT    NOT NULL,
		description TEXT    NOT NULL DEFAULT '',
		owner_id    INTEGER NOT NULL REFERENCES users(id),
		available   INTEGER NOT NULL DEFAULT 1,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id    INTEGER NOT NULL REFERENCES items(id),
		booker_id  INTEGER NOT NULL REFERENCES users(id),
		owner_id   INTEGER NOT NULL,
		start_at   INTEGER NOT NULL,
		end_at     INTEGER NOT NULL,
		status     TEXT    NOT NULL DEFAULT 'WAITING',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		CHECK (start_at < end_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_item_start ON bookings(item_id, start_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_booker_start ON bookings(booker_id, start_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_owner_start ON bookings(owner_id, start_at)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id    INTEGER NOT NULL REFERENCES items(id),
		author_id  INTEGER NOT NULL REFERENCES users(id),
		text       TEXT    NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_item ON comments(item_id)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type     TEXT    NOT NULL,
		booking_id    INTEGER NOT NULL,
		payload       TEXT    NOT NULL DEFAULT '',
		status        TEXT    NOT NULL DEFAULT 'pending',
		attempts      INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT    NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		next_retry_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
}

// Migrate applies pending migrations. It is safe to call repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}

	if applied < len(migrations) {
		db.logger.Info().Int("from", applied).Int("to", len(migrations)).Msg("schema migrated")
	}
	return nil
}

// SchemaVersion returns the number of applied migrations.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}
