// internal/tenant/meta/query.go
//
// Tenant-table query helpers.
//
// Context
// -------
// These functions provide read-only access to the **tenant** table for two
// call sites:
//
//   - `AllActive` - the sync supervisor's periodic tenant sweep, plus admin
//     tooling and batch reports.
//   - `BySlug` / `ByID` - the tenant loader on first touch (ops request or
//     ledger operation for a tenant not yet cached).
//
// All helpers exclude suspended or deleted rows at SQL level to keep
// callers simple.
//
// Workflow
// --------
//  1. Callers supply a *sqlx.DB connected to the loyalty schema.
//  2. Each helper executes exactly one parameterised SELECT.
//  3. Rows are scanned into `meta.Record`, which mirrors the current
//     schema.
//  4. Errors are returned verbatim so the caller can wrap or log them
//     using the project logger.
//
// Notes
// -----
//   - Column list matches the fields in `Record`; update both together.
//   - Oxford commas, two spaces after periods.
package meta

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const columns = `id, slug, name, crm_url, crm_database, crm_login,
               suspended_at, deleted_at, created_at, updated_at`

// AllActive returns every tenant that is neither suspended nor deleted.
// Intended for the sync supervisor and batch operations, not per-request
// paths.
func AllActive(ctx context.Context, db *sqlx.DB) ([]Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   tenant
        WHERE  suspended_at IS NULL
          AND  deleted_at   IS NULL`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// BySlug fetches a single active tenant row.  The lookup respects request
// deadlines via the supplied context.Context.
func BySlug(ctx context.Context, db *sqlx.DB, slug string) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   tenant
        WHERE  slug = ?
          AND  suspended_at IS NULL
          AND  deleted_at   IS NULL
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, slug); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ByID fetches a single active tenant row by primary key.
func ByID(ctx context.Context, db *sqlx.DB, id uint64) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   tenant
        WHERE  id = ?
          AND  suspended_at IS NULL
          AND  deleted_at   IS NULL
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, id); err != nil {
		return nil, err
	}
	return &rec, nil
}
