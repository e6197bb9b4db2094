// internal/tenant/entry.go
//
// Tenant cache entry and aggregate.
//
// Context
// -------
// A live Tenant aggregates everything the ledger engines and the sync
// worker need for one business: its `tenant` row, the parsed loyalty
// Rules, and the per-tenant CRM session.  The cache stores a pointer to
// Tenant inside `entry`, along with a `lastSeen` UnixNano timestamp used
// by the evictor for idle and LRU eviction.
//
// Notes
// -----
//   - Close is invoked only by the cache evictor; everything else must
//     treat Tenant as immutable after initial load.
//   - CRM is nil for tenants that have not configured an external system;
//     the sync supervisor skips them.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

//
// Cache entry
//

type entry struct {
	tenant   *Tenant
	lastSeen int64 // UnixNano
}

//
// Tenant aggregate
//

// Tenant groups all per-tenant runtime assets needed by the engines and
// the sync worker.
type Tenant struct {
	Meta  meta.Record // row from `tenant`
	Rules *meta.Rules // parsed `tenant_config`
	CRM   crm.Client  // per-tenant session; nil when unconfigured
}

// Close releases the CRM session.  Called by the cache on eviction and on
// shutdown.
func (t *Tenant) Close() error {
	if t.CRM == nil {
		return nil
	}
	return t.CRM.Close()
}
