package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/hdvpipeline/internal/storage"
)

type priceEntriesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPriceEntriesRepo returns a storage.PriceEntriesRepo backed by Postgres.
func NewPriceEntriesRepo(db *sqlx.DB, timeout time.Duration) storage.PriceEntriesRepo {
	return &priceEntriesRepo{db: db, timeout: timeout}
}

// Insert adds one price observation. A hit on the soft-dedup partial
// unique index (spec §3/§6) comes back as a 23505 from Postgres and is
// translated to storage.ErrConflict — benign, not a failure.
func (r *priceEntriesRepo) Insert(ctx context.Context, entry storage.PriceEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_entries (item_id, price, quantity, server_timestamp, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		entry.ItemID, entry.Price, entry.Quantity, entry.ServerTimestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("price_entries: insert: %w", err)
	}
	return nil
}

func (r *priceEntriesRepo) Latest(ctx context.Context, itemID int64, quantity int32) (*storage.PriceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var entry storage.PriceEntry
	err := r.db.GetContext(ctx, &entry, `
		SELECT id, item_id, price, quantity, server_timestamp, created_at
		FROM price_entries
		WHERE item_id = $1 AND quantity = $2
		ORDER BY created_at DESC
		LIMIT 1`, itemID, quantity)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("price_entries: latest: %w", err)
	}
	return &entry, nil
}

func (r *priceEntriesRepo) History(ctx context.Context, itemID int64, quantity int32, from, to time.Time) ([]storage.PriceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var entries []storage.PriceEntry
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, item_id, price, quantity, server_timestamp, created_at
		FROM price_entries
		WHERE item_id = $1 AND quantity = $2 AND created_at >= $3 AND created_at <= $4
		ORDER BY created_at DESC`, itemID, quantity, from, to)
	if err != nil {
		return nil, fmt.Errorf("price_entries: history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e storage.PriceEntry
		if err := rows.StructScan(&e); err != nil {
			return nil, fmt.Errorf("price_entries: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("price_entries: iterate: %w", err)
	}
	return entries, nil
}
