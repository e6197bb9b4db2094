// internal/tenant/meta/config.go
//
// Per-tenant configuration fetcher.
//
// Context
// -------
// Every tenant defines its loyalty programme as string settings in the
// `tenant_config` table.  When a tenant is cold-loaded we execute a single
// query to pull all key-value pairs, parse them into a typed `Rules`
// value, and store that alongside the `Tenant` struct.  The Rules value is
// thus immutable for the lifetime of the tenant cache entry, eliminating
// per-request SQL traffic and any ambient mutable settings object.
//
// Workflow
// --------
//  1. `ConfigByTenant` receives a `context.Context`, a *sqlx.DB pool, and
//     the tenant primary key.
//  2. It runs one `SELECT key, value FROM tenant_config WHERE tenant_id=?`.
//  3. The result rows are copied into a slice of tiny structs, then folded
//     into a `map[string]string`.
//  4. `ParseRules` (rules.go) turns the map into the typed aggregate.
package meta

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// ConfigByTenant returns a map[key]value for one tenant_id.
func ConfigByTenant(ctx context.Context, db *sqlx.DB, tenantID uint64) (map[string]string, error) {
	const q = `
	    SELECT  ` + "`key`, value" + `
	    FROM    tenant_config
	    WHERE   tenant_id = ?`
	rows := make([]struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}, 0, 8) // small default cap

	if err := db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, err
	}

	cfg := make(map[string]string, len(rows))
	for _, r := range rows {
		cfg[r.Key] = r.Value
	}
	return cfg, nil
}
