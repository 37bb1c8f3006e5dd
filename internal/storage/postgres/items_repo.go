package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/hdvpipeline/internal/storage"
)

type itemsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewItemsRepo returns a storage.ItemsRepo backed by Postgres.
func NewItemsRepo(db *sqlx.DB, timeout time.Duration) storage.ItemsRepo {
	return &itemsRepo{db: db, timeout: timeout}
}

func (r *itemsRepo) GetByGid(ctx context.Context, gid int32) (*storage.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var item storage.Item
	err := r.db.GetContext(ctx, &item, `
		SELECT id, item_gid, item_name, sub_category_id, created_at, updated_at
		FROM items WHERE item_gid = $1`, gid)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("items: get by gid: %w", err)
	}
	return &item, nil
}

// Insert creates a new catalogue row. A race against a concurrent
// first-observation of the same gid surfaces as storage.ErrConflict;
// the caller is expected to retry GetByGid (spec §4.6).
func (r *itemsRepo) Insert(ctx context.Context, item storage.Item) (*storage.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO items (item_gid, item_name, sub_category_id, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, item_gid, item_name, sub_category_id, created_at, updated_at`,
		item.ItemGid, item.ItemName, item.SubCategoryID)

	var out storage.Item
	if err := row.Scan(&out.ID, &out.ItemGid, &out.ItemName, &out.SubCategoryID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("items: insert: %w", err)
	}
	return &out, nil
}
