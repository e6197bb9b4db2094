// internal/crmsync/payload.go
//
// Mapping from local entities to the external schema.
//
// Context
// -------
// The worker always reads the entity fresh at push time and maps the
// LATEST state, never a snapshot captured at enqueue time; a redeem that
// lands between enqueue and push is therefore what the CRM sees.  Field
// names follow the external models the Odoo adapter targets (res.partner
// for members, loyalty.card for stickers), but the maps stay plain
// crm.Fields so other adapters can consume them unchanged.
package crmsync

import (
	"strconv"
	"time"

	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/member"
	"github.com/perkloop/loyalty/internal/sticker"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

func memberFields(rec *meta.Record, m *member.Member) crm.Fields {
	return crm.Fields{
		"ref":                memberRef(rec.Slug, m.MemberID),
		"x_tenant":           rec.Slug,
		"x_member_id":        m.MemberID,
		"x_points_balance":   m.PointsBalance,
		"x_discount_percent": m.TotalDiscountPercent,
	}
}

func stickerFields(rec *meta.Record, s *sticker.Sticker) crm.Fields {
	f := crm.Fields{
		"code":               s.Code,
		"x_tenant":           rec.Slug,
		"x_member_id":        s.MemberID,
		"x_kind":             s.Kind.String(),
		"x_discount_percent": s.DiscountPercent,
		"x_state":            s.State.String(),
		"x_issued_at":        s.IssuedAt.UTC().Format(time.RFC3339),
		"x_expires_at":       s.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if s.RedeemedAt != nil {
		f["x_redeemed_at"] = s.RedeemedAt.UTC().Format(time.RFC3339)
	}
	return f
}

func memberRef(slug string, memberID uint64) string {
	return slug + "/" + strconv.FormatUint(memberID, 10)
}
