// internal/crm/client.go
//
// Outbound contract to the external system of record.
//
// Context
// -------
// Tenant data is mirrored into a third-party CRM/ERP for business
// operations outside this platform.  The sync worker only ever talks to
// this interface; the concrete adapter (internal/crm/odoo today) is chosen
// per tenant at cold-load from the tenant row.  The worker never assumes a
// wire protocol, and it treats every failure from a Client as transient:
// retry bookkeeping lives entirely in the sync state machine, so adapters
// must NOT retry internally.
//
// Notes
// -----
//   - External ids are opaque strings here; adapters format their native
//     id type (Odoo uses integers) on the way out.
//   - Implementations must be safe for sequential reuse within one tenant
//     run; they are never shared across concurrent tenant runs.
//   - Oxford commas, two spaces after periods.
package crm

import (
	"context"

	"github.com/perkloop/loyalty/internal/loyalty"
)

// Fields is the flat payload pushed to the external system.  Keys follow
// the external schema, values are JSON-encodable.
type Fields map[string]any

// Client is the minimal surface the sync worker needs.
type Client interface {
	// Create inserts a new external record and returns its external id.
	Create(ctx context.Context, entity loyalty.EntityType, fields Fields) (string, error)

	// Update overwrites fields on an existing external record.  Safe to
	// call repeatedly with the same payload (idempotent upsert semantics).
	Update(ctx context.Context, entity loyalty.EntityType, externalID string, fields Fields) error

	// TestConnection verifies the endpoint is reachable and credentials
	// are accepted.  Used as the session health check at tenant load.
	TestConnection(ctx context.Context) error

	// Close releases the per-tenant session.  Called on tenant eviction.
	Close() error
}
