// internal/points/model.go
//
// `points_ledger_entry` table row model.
//
// Context
// -------
// The ledger is append-only: entries are inserted once and never updated
// or deleted, which makes the member's cached balance recomputable at any
// time by summation.  `idempotency_key` attributes each award to exactly
// one triggering action (one like per member per content item, one signup
// bonus per member); the `uq_ledger_idem` unique index turns a double
// submit into a conflict instead of a double award.
package points

import (
	"time"

	"github.com/perkloop/loyalty/internal/loyalty"
)

// Entry mirrors one row in the `points_ledger_entry` table.
type Entry struct {
	ID             uint64       `db:"id"`
	TenantID       uint64       `db:"tenant_id"`
	MemberID       uint64       `db:"member_id"`
	PointsDelta    int          `db:"points_delta"`
	Kind           loyalty.Kind `db:"kind"`
	Reason         string       `db:"reason"`
	IdempotencyKey string       `db:"idempotency_key"`
	ExternalRef    *string      `db:"external_ref"`
	CreatedAt      time.Time    `db:"created_at"`
}
