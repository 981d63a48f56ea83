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

func (db *DB) CreateItem(ctx context.Context, item *models.Item) error {
	now := models.Truncate(time.Now())
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (name, description, owner_id, available, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, item.Description, item.OwnerID, item.Available, now.Unix(), now.Unix())
	if err != nil {
		return mapError("create item", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (db *DB) GetItemByID(ctx context.Context, id int64) (*models.Item, error) {
	var (
		it                models.Item
		created, modified int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, available, created_at, updated_at FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.Name, &it.Description, &it.OwnerID, &it.Available, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("item %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	it.CreatedAt = fromUnix(created)
	it.UpdatedAt = fromUnix(modified)
	return &it, nil
}

// UpdateItem stores name, description and availability of an existing item.
func (db *DB) UpdateItem(ctx context.Context, item *models.Item) error {
	now := models.Truncate(time.Now())
	result, err := db.ExecContext(ctx,
		`UPDATE items SET name = ?, description = ?, available = ?, updated_at = ? WHERE id = ?`,
		item.Name, item.Description, item.Available, now.Unix(), item.ID)
	if err != nil {
		return mapError("update item", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("item %d not found", item.ID)
	}
	item.UpdatedAt = now
	return nil
}

func (db *DB) ListItemsByOwner(ctx context.Context, ownerID int64, offset, limit int) ([]*models.Item, error) {
	return db.queryItems(ctx,
		`SELECT id, name, description, owner_id, available, created_at, updated_at
		 FROM items WHERE owner_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
}

// SearchItems returns available items whose name or description contains
// text, ignoring case.
func (db *DB) SearchItems(ctx context.Context, text string, offset, limit int) ([]*models.Item, error) {
	return db.queryItems(ctx,
		`SELECT id, name, description, owner_id, available, created_at, updated_at
		 FROM items
		 WHERE available = 1 AND (instr(lower(name), lower(?)) > 0 OR instr(lower(description), lower(?)) > 0)
		 ORDER BY id LIMIT ? OFFSET ?`,
		text, text, limit, offset)
}

func (db *DB) queryItems(ctx context.Context, query string, args ...any) ([]*models.Item, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := []*models.Item{}
	for rows.Next() {
		var (
			it                models.Item
			created, modified int64
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.OwnerID, &it.Available, &created, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.CreatedAt = fromUnix(created)
		it.UpdatedAt = fromUnix(modified)
		items = append(items, &it)
	}
	return items, rows.Err()
}
