package database

import (
	"context"
	"fmt"
	"time"

	"shareit/internal/models"
)

func (db *DB) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = models.Truncate(time.Now())
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO comments (item_id, author_id, text, created_at) VALUES (?, ?, ?, ?)`,
		comment.ItemID, comment.AuthorID, comment.Text, comment.CreatedAt.Unix())
	if err != nil {
		return mapError("create comment", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	comment.ID = id
	return nil
}

func (db *DB) GetItemComments(ctx context.Context, itemID int64) ([]*models.Comment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, item_id, author_id, text, created_at FROM comments WHERE item_id = ? ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		var (
			c       models.Comment
			created int64
		)
		if err := rows.Scan(&c.ID, &c.ItemID, &c.AuthorID, &c.Text, &created); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = fromUnix(created)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
