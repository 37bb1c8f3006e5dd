package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/hdvpipeline/internal/storage"
)

type subCategoriesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSubCategoriesRepo returns a storage.SubCategoriesRepo backed by Postgres.
func NewSubCategoriesRepo(db *sqlx.DB, timeout time.Duration) storage.SubCategoriesRepo {
	return &subCategoriesRepo{db: db, timeout: timeout}
}

func (r *subCategoriesRepo) GetByDofusID(ctx context.Context, dofusID int32) (*storage.SubCategory, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sc storage.SubCategory
	err := r.db.GetContext(ctx, &sc, `
		SELECT id, dofus_id, name, created_at, updated_at
		FROM sub_categories WHERE dofus_id = $1`, dofusID)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("subcategories: get by dofus id: %w", err)
	}
	return &sc, nil
}

// Upsert inserts a category, or updates its name if dofusID already
// exists, matching the CategoryDescription message's role as the
// authoritative name source (spec §4.2).
func (r *subCategoriesRepo) Upsert(ctx context.Context, dofusID int32, name string) (*storage.SubCategory, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO sub_categories (dofus_id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (dofus_id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		RETURNING id, dofus_id, name, created_at, updated_at`,
		dofusID, name)

	var out storage.SubCategory
	if err := row.Scan(&out.ID, &out.DofusID, &out.Name, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("subcategories: upsert: %w", err)
	}
	return &out, nil
}
