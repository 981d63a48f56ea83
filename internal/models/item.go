package models

import "time"

type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"owner_id"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Comment struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	AuthorID  int64     `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemPatch carries an owner's partial item update. Nil fields are kept.
type ItemPatch struct {
	Name        *string
	Description *string
	Available   *bool
}

// Empty reports whether the patch sets nothing.
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Available == nil
}
