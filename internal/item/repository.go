// Package item provides read access to learning items owned by the content
// service (folders, materials and notes live outside this module).
package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:generate mockgen -source=repository.go -destination=../mocks/item/mock_repository.go -package=mock_item

// Kind identifies the type of a learning item.
type Kind string

const (
	KindNote      Kind = "note"
	KindFlashcard Kind = "flashcard"
	KindMaterial  Kind = "material"
)

// Valid reports whether k is a known item kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNote, KindFlashcard, KindMaterial:
		return true
	}
	return false
}

// Item represents a reviewable piece of content.
type Item struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Kind      Kind      `db:"kind" json:"kind"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Repository defines the read operations the review engine needs on items.
type Repository interface {
	// GetItem returns the item, or nil if it does not exist.
	GetItem(ctx context.Context, id int64) (*Item, error)
	// GetItems returns the existing items among ids, in id order.
	GetItems(ctx context.Context, ids []int64) ([]Item, error)
}

// DBRepository implements Repository using MySQL.
type DBRepository struct {
	db *sqlx.DB
}

// NewDBRepository creates a new DBRepository.
func NewDBRepository(db *sqlx.DB) *DBRepository {
	return &DBRepository{db: db}
}

// GetItem returns the item with the given id, or nil if not found.
func (r *DBRepository) GetItem(ctx context.Context, id int64) (*Item, error) {
	var it Item
	err := r.db.GetContext(ctx, &it, "SELECT * FROM items WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(item) > %w", err)
	}
	return &it, nil
}

// GetItems returns items matching ids. Unknown ids are ignored.
func (r *DBRepository) GetItems(ctx context.Context, ids []int64) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM items WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("sqlx.In(items) > %w", err)
	}
	var items []Item
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext(items) > %w", err)
	}
	return items, nil
}
