// internal/sticker/store.go
//
// Query and mutation helpers for the `sticker` table.
//
// Context
// -------
// All lifecycle transitions are conditional UPDATEs guarded on the current
// state, so the issued→redeemed and issued→expired edges are enforced by
// the database, not by in-process locks.  Insert leans on the global
// `uq_sticker_code` unique index and reports a duplicate code as
// loyalty.ErrConflict, which is exactly what the code generator's retry
// loop expects.
//
// Notes
// -----
//   - Helpers accept sqlx.ExtContext so the engine can compose them inside
//     its issuance transaction.
//   - Oxford commas, two spaces after periods.
package sticker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/perkloop/loyalty/internal/database"
	"github.com/perkloop/loyalty/internal/loyalty"
)

const columns = `id, tenant_id, member_id, code, discount_percent, kind, state,
               issued_at, expires_at, redeemed_at, external_id, created_at, updated_at`

// Insert claims a code and creates the sticker row in one statement.  A
// code collision (any tenant) surfaces as loyalty.ErrConflict.
func Insert(ctx context.Context, q sqlx.ExtContext, s *Sticker) (uint64, error) {
	const ins = `
        INSERT INTO sticker
               (tenant_id, member_id, code, discount_percent, kind, state, issued_at, expires_at)
        VALUES (?, ?, ?, ?, ?, 'issued', ?, ?)`
	res, err := q.ExecContext(ctx, ins,
		s.TenantID, s.MemberID, s.Code, s.DiscountPercent, s.Kind, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		if database.IsDuplicate(err) {
			return 0, fmt.Errorf("code %q taken: %w", s.Code, loyalty.ErrConflict)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ByCode fetches one sticker scoped to a tenant.  A code issued by another
// tenant is deliberately invisible here.
func ByCode(ctx context.Context, q sqlx.ExtContext, tenantID uint64, code string) (*Sticker, error) {
	const sel = `
        SELECT ` + columns + `
        FROM   sticker
        WHERE  tenant_id = ? AND code = ?
        LIMIT  1`
	var s Sticker
	if err := sqlx.GetContext(ctx, q, &s, sel, tenantID, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ByID fetches one sticker by primary key.  Used by the sync worker to
// read the latest entity state at push time.
func ByID(ctx context.Context, q sqlx.ExtContext, tenantID, id uint64) (*Sticker, error) {
	const sel = `
        SELECT ` + columns + `
        FROM   sticker
        WHERE  tenant_id = ? AND id = ?
        LIMIT  1`
	var s Sticker
	if err := sqlx.GetContext(ctx, q, &s, sel, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// MarkRedeemed performs the at-most-once issued→redeemed transition.
// Returns true when this caller won the edge.
func MarkRedeemed(ctx context.Context, q sqlx.ExtContext, tenantID, id uint64, at time.Time) (bool, error) {
	const upd = `
        UPDATE sticker
        SET    state = 'redeemed', redeemed_at = ?
        WHERE  tenant_id = ? AND id = ? AND state = 'issued'`
	res, err := q.ExecContext(ctx, upd, at, tenantID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkExpired performs the lazy issued→expired transition.  Losing the
// race to a concurrent redeem or another validator is not an error; the
// row is simply already terminal.
func MarkExpired(ctx context.Context, q sqlx.ExtContext, tenantID, id uint64) (bool, error) {
	const upd = `
        UPDATE sticker
        SET    state = 'expired'
        WHERE  tenant_id = ? AND id = ? AND state = 'issued'`
	res, err := q.ExecContext(ctx, upd, tenantID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetExternalID records the CRM id after the first successful sync; an
// already-set id stays immutable.
func SetExternalID(ctx context.Context, q sqlx.ExtContext, tenantID, id uint64, externalID string) error {
	const upd = `
        UPDATE sticker
        SET    external_id = ?
        WHERE  tenant_id = ? AND id = ?
          AND  external_id IS NULL`
	_, err := q.ExecContext(ctx, upd, externalID, tenantID, id)
	return err
}
