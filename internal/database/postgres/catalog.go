package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/doug-martin/goqu/v9"
)

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	now := models.Truncate(time.Now())
	query, args, err := render(s.builder.Insert(tableUsers).Prepared(true).
		Rows(goqu.Record{
			"name":             user.Name,
			"email":            user.Email,
			"telegram_chat_id": user.TelegramChatID,
			"created_at":       now,
			"updated_at":       now,
		}).
		Returning("id"))
	if err != nil {
		return err
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&user.ID); err != nil {
		return mapError("create user", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query, args, err := render(s.builder.From(tableUsers).Prepared(true).
		Select("id", "name", "email", "telegram_chat_id", "created_at", "updated_at").
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}
	var u models.User
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&u.ID, &u.Name, &u.Email, &u.TelegramChatID, &u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, domain.NotFoundf("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = utc(u.CreatedAt)
	u.UpdatedAt = utc(u.UpdatedAt)
	return &u, nil
}

func (s *Store) CreateItem(ctx context.Context, item *models.Item) error {
	now := models.Truncate(time.Now())
	query, args, err := render(s.builder.Insert(tableItems).Prepared(true).
		Rows(goqu.Record{
			"name":        item.Name,
			"description": item.Description,
			"owner_id":    item.OwnerID,
			"available":   item.Available,
			"created_at":  now,
			"updated_at":  now,
		}).
		Returning("id"))
	if err != nil {
		return err
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&item.ID); err != nil {
		return mapError("create item", err)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (s *Store) GetItemByID(ctx context.Context, id int64) (*models.Item, error) {
	query, args, err := render(s.builder.From(tableItems).Prepared(true).
		Select("id", "name", "description", "owner_id", "available", "created_at", "updated_at").
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}
	var it models.Item
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&it.ID, &it.Name, &it.Description, &it.OwnerID, &it.Available, &it.CreatedAt, &it.UpdatedAt)
	if isNoRows(err) {
		return nil, domain.NotFoundf("item %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	it.CreatedAt = utc(it.CreatedAt)
	it.UpdatedAt = utc(it.UpdatedAt)
	return &it, nil
}

// UpdateItem stores name, description and availability of an existing item.
func (s *Store) UpdateItem(ctx context.Context, item *models.Item) error {
	now := models.Truncate(time.Now())
	query, args, err := render(s.builder.Update(tableItems).Prepared(true).
		Set(goqu.Record{
			"name":        item.Name,
			"description": item.Description,
			"available":   item.Available,
			"updated_at":  now,
		}).
		Where(goqu.C("id").Eq(item.ID)))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update item", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("item %d not found", item.ID)
	}
	item.UpdatedAt = now
	return nil
}

func (s *Store) ListItemsByOwner(ctx context.Context, ownerID int64, offset, limit int) ([]*models.Item, error) {
	return s.queryItems(ctx, s.itemsSelect().
		Where(goqu.C("owner_id").Eq(ownerID)).
		Order(goqu.I("id").Asc()).
		Offset(uint(offset)).
		Limit(uint(limit)))
}

// SearchItems returns available items whose name or description contains
// text, ignoring case.
func (s *Store) SearchItems(ctx context.Context, text string, offset, limit int) ([]*models.Item, error) {
	pattern := "%" + likeEscaper.Replace(text) + "%"
	return s.queryItems(ctx, s.itemsSelect().
		Where(
			goqu.C("available").IsTrue(),
			goqu.Or(goqu.C("name").ILike(pattern), goqu.C("description").ILike(pattern)),
		).
		Order(goqu.I("id").Asc()).
		Offset(uint(offset)).
		Limit(uint(limit)))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *Store) itemsSelect() *goqu.SelectDataset {
	return s.builder.From(tableItems).Prepared(true).
		Select("id", "name", "description", "owner_id", "available", "created_at", "updated_at")
}

func (s *Store) queryItems(ctx context.Context, ds *goqu.SelectDataset) ([]*models.Item, error) {
	query, args, err := render(ds)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := []*models.Item{}
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.OwnerID, &it.Available, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.CreatedAt = utc(it.CreatedAt)
		it.UpdatedAt = utc(it.UpdatedAt)
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (s *Store) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = models.Truncate(time.Now())
	}
	query, args, err := render(s.builder.Insert(tableComments).Prepared(true).
		Rows(goqu.Record{
			"item_id":    comment.ItemID,
			"author_id":  comment.AuthorID,
			"text":       comment.Text,
			"created_at": comment.CreatedAt,
		}).
		Returning("id"))
	if err != nil {
		return err
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&comment.ID); err != nil {
		return mapError("create comment", err)
	}
	return nil
}

func (s *Store) GetItemComments(ctx context.Context, itemID int64) ([]*models.Comment, error) {
	query, args, err := render(s.builder.From(tableComments).Prepared(true).
		Select("id", "item_id", "author_id", "text", "created_at").
		Where(goqu.C("item_id").Eq(itemID)).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()))
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.ItemID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = utc(c.CreatedAt)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
