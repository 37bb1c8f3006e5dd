// Package storage defines the persisted data model and repository
// interfaces the price service depends on. Concrete implementations
// live in storage/postgres; schema migration tooling is explicitly
// out of scope (spec §1) — see storage/postgres/schema.sql for the
// one-shot DDL applied at startup.
package storage

import (
	"strconv"
	"time"
)

// Item is a catalogue entry, created on first observation of a gid and
// never deleted by the pipeline.
type Item struct {
	ID            int64     `db:"id"`
	ItemGid       int32     `db:"item_gid"`
	ItemName      *string   `db:"item_name"`
	SubCategoryID *int64    `db:"sub_category_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// PlaceholderName is the name assigned to an Item created before its
// metadata is known.
func PlaceholderName(gid int32) string {
	return "Item #" + strconv.FormatInt(int64(gid), 10)
}

// PlaceholderCategoryName is the name assigned to a SubCategory created
// before its description has been observed.
func PlaceholderCategoryName(dofusID int32) string {
	return "Category #" + strconv.FormatInt(int64(dofusID), 10)
}

// PriceEntry is one persisted auction-house price observation.
type PriceEntry struct {
	ID              int64     `db:"id"`
	ItemID          int64     `db:"item_id"`
	Price           int64     `db:"price"`
	Quantity        int32     `db:"quantity"`
	ServerTimestamp *int64    `db:"server_timestamp"`
	CreatedAt       time.Time `db:"created_at"`
}

// SubCategory names an auction-house category.
type SubCategory struct {
	ID        int64     `db:"id"`
	DofusID   int32     `db:"dofus_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ValidQuantities is the closed set of auction-house stack sizes.
var ValidQuantities = map[int32]bool{1: true, 10: true, 100: true}
