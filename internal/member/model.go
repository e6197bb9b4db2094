// internal/member/model.go
//
// `member` table row model.
//
// Context
// -------
// A member is one end customer of one tenant.  The platform does not own
// the member identity; `member_id` is the tenant's own customer number, so
// the natural key is the (tenant_id, member_id) composite backed by the
// `uq_member` unique index.  `points_balance` is a cached aggregate of the
// append-only points ledger and can always be recomputed from it;
// `total_discount_percent` is the running sum of issued sticker percentages
// that the tenant discount cap is enforced against.
//
// Notes
// -----
//   - `external_id` is NULL until the first successful CRM sync, then
//     immutable.
//   - Oxford commas, two spaces after periods.
package member

import "time"

// Member mirrors one row in the `member` table.
type Member struct {
	ID                   uint64    `db:"id"`
	TenantID             uint64    `db:"tenant_id"`
	MemberID             uint64    `db:"member_id"`
	PointsBalance        int       `db:"points_balance"`
	TotalDiscountPercent int       `db:"total_discount_percent"`
	ExternalID           *string   `db:"external_id"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}
