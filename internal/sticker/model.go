// internal/sticker/model.go
//
// `sticker` table row model and token states.
//
// Context
// -------
// A sticker is one redeemable discount token: a globally unique code that
// grants one member a percentage discount.  Its lifecycle is a three-node
// state machine with no backward edges:
//
//	issued ──redeem──▶ redeemed   (terminal)
//	issued ──expiry──▶ expired    (terminal, flipped lazily at validation)
//
// Rows are never deleted; terminal states are the audit trail.
package sticker

import (
	"time"

	"github.com/perkloop/loyalty/internal/loyalty"
)

// State is one node of the sticker lifecycle.
type State string

const (
	StateIssued   State = "issued"
	StateRedeemed State = "redeemed"
	StateExpired  State = "expired"
)

// Valid reports whether s is one of the closed set.
func (s State) Valid() bool {
	switch s {
	case StateIssued, StateRedeemed, StateExpired:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// Sticker mirrors one row in the `sticker` table.
type Sticker struct {
	ID              uint64       `db:"id"`
	TenantID        uint64       `db:"tenant_id"`
	MemberID        uint64       `db:"member_id"`
	Code            string       `db:"code"`
	DiscountPercent int          `db:"discount_percent"`
	Kind            loyalty.Kind `db:"kind"`
	State           State        `db:"state"`
	IssuedAt        time.Time    `db:"issued_at"`
	ExpiresAt       time.Time    `db:"expires_at"`
	RedeemedAt      *time.Time   `db:"redeemed_at"`
	ExternalID      *string      `db:"external_id"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}
