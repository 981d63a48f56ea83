package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	now := models.Truncate(time.Now())
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (name, email, telegram_chat_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		user.Name, user.Email, user.TelegramChatID, now.Unix(), now.Unix())
	if err != nil {
		return mapError("create user", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var (
		u                 models.User
		created, modified int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, telegram_chat_id, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.TelegramChatID, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = fromUnix(created)
	u.UpdatedAt = fromUnix(modified)
	return &u, nil
}
