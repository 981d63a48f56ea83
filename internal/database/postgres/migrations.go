package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id               BIGSERIAL PRIMARY KEY,
		name             TEXT        NOT NULL,
		email            TEXT        NOT NULL UNIQUE,
		telegram_chat_id BIGINT      NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT        NOT NULL,
		description TEXT        NOT NULL DEFAULT '',
		owner_id    BIGINT      NOT NULL REFERENCES users(id),
		available   BOOLEAN     NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id         BIGSERIAL PRIMARY KEY,
		item_id    BIGINT      NOT NULL REFERENCES items(id),
		booker_id  BIGINT      NOT NULL REFERENCES users(id),
		owner_id   BIGINT      NOT NULL,
		start_at   TIMESTAMPTZ NOT NULL,
		end_at     TIMESTAMPTZ NOT NULL,
		status     TEXT        NOT NULL DEFAULT 'WAITING',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version    BIGINT      NOT NULL DEFAULT 1,
		CHECK (start_at < end_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_item_start ON bookings(item_id, start_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_booker_start ON bookings(booker_id, start_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_owner_start ON bookings(owner_id, start_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id         BIGSERIAL PRIMARY KEY,
		item_id    BIGINT      NOT NULL REFERENCES items(id),
		author_id  BIGINT      NOT NULL REFERENCES users(id),
		text       TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_item ON comments(item_id)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id            BIGSERIAL PRIMARY KEY,
		task_type     TEXT        NOT NULL,
		booking_id    BIGINT      NOT NULL,
		payload       JSONB,
		status        TEXT        NOT NULL DEFAULT 'pending',
		attempts      INT         NOT NULL DEFAULT 0,
		last_error    TEXT        NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		next_retry_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
}

// Migrate applies pending migrations under an advisory lock so that several
// instances starting together do not race.
func (s *Store) Migrate(ctx context.Context) error {
	const migrationLockKey = 727274

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied int
	if err := conn.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, migrations[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	if applied < len(migrations) {
		s.logger.Info().Int("from", applied).Int("to", len(migrations)).Msg("schema migrated")
	}
	return nil
}
