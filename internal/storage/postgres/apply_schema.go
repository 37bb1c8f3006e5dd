package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaDDL string

// ApplySchema runs the embedded DDL. It is idempotent and safe to call
// on every startup; there is no migration history or rollback (spec §1
// Non-goals) — schema changes are a new CREATE/ALTER statement here.
func ApplySchema(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}
