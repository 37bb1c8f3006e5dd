package storage

import (
	"context"
	"time"
)

// ItemsRepo persists the item catalogue. Implementations must resolve
// concurrent first-observation of the same gid idempotently: a second
// Insert racing the first returns ErrConflict, and the caller is
// expected to retry GetByGid.
type ItemsRepo interface {
	GetByGid(ctx context.Context, gid int32) (*Item, error)
	Insert(ctx context.Context, item Item) (*Item, error)
}

// SubCategoriesRepo persists auction-house category names.
type SubCategoriesRepo interface {
	GetByDofusID(ctx context.Context, dofusID int32) (*SubCategory, error)
	Upsert(ctx context.Context, dofusID int32, name string) (*SubCategory, error)
}

// PriceEntriesRepo persists price observations and answers the cached
// read paths the price service exposes.
type PriceEntriesRepo interface {
	// Insert adds one entry. A hit on the soft-dedup unique index
	// (spec §3/§6) returns ErrConflict, which the caller counts as
	// "not persisted" rather than a failure.
	Insert(ctx context.Context, entry PriceEntry) error

	Latest(ctx context.Context, itemID int64, quantity int32) (*PriceEntry, error)
	History(ctx context.Context, itemID int64, quantity int32, from, to time.Time) ([]PriceEntry, error)
}
