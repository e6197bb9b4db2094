// internal/member/store.go
//
// Query and mutation helpers for the `member` table.
//
// Context
// -------
// The points ledger and the sticker engine both mutate member aggregates
// inside their own transactions, so every helper here accepts a
// sqlx.ExtContext and works identically against a *sqlx.DB or a *sqlx.Tx.
// The two read-modify-write hot spots, discount total and points balance,
// are single conditional UPDATE statements, never a read followed by a
// write, so concurrent request goroutines and multiple processes stay
// correct without in-process locks.
//
// Notes
// -----
//   - Helpers return loyalty.ErrNotFound for missing rows; sqlx's
//     sql.ErrNoRows never escapes this package.
//   - Oxford commas, two spaces after periods.
package member

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/perkloop/loyalty/internal/loyalty"
)

const columns = `id, tenant_id, member_id, points_balance, total_discount_percent,
               external_id, created_at, updated_at`

// Get fetches one member row by the (tenant_id, member_id) composite key.
func Get(ctx context.Context, q sqlx.ExtContext, tenantID, memberID uint64) (*Member, error) {
	const sel = `
        SELECT ` + columns + `
        FROM   member
        WHERE  tenant_id = ? AND member_id = ?
        LIMIT  1`
	var m Member
	if err := sqlx.GetContext(ctx, q, &m, sel, tenantID, memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Ensure creates the member row if it does not exist yet.  Losing the race
// to another inserter is fine; the row is there either way.
func Ensure(ctx context.Context, q sqlx.ExtContext, tenantID, memberID uint64) error {
	const ins = `
        INSERT IGNORE INTO member (tenant_id, member_id)
        VALUES (?, ?)`
	_, err := q.ExecContext(ctx, ins, tenantID, memberID)
	return err
}

// AddDiscount raises the member's discount total by delta, but only when
// the result stays at or below cap.  The check and the update are one
// statement, so two concurrent issuances can never jointly exceed the cap:
// the loser's UPDATE matches zero rows.  Returns true when the delta was
// applied.
func AddDiscount(ctx context.Context, q sqlx.ExtContext, tenantID, memberID uint64, delta, capPct int) (bool, error) {
	const upd = `
        UPDATE member
        SET    total_discount_percent = total_discount_percent + ?
        WHERE  tenant_id = ? AND member_id = ?
          AND  total_discount_percent + ? <= ?`
	res, err := q.ExecContext(ctx, upd, delta, tenantID, memberID, delta, capPct)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddPoints raises the cached points balance by delta.  The ledger entry is
// the source of truth; this keeps the aggregate in step inside the same
// transaction.
func AddPoints(ctx context.Context, q sqlx.ExtContext, tenantID, memberID uint64, delta int) error {
	const upd = `
        UPDATE member
        SET    points_balance = points_balance + ?
        WHERE  tenant_id = ? AND member_id = ?`
	res, err := q.ExecContext(ctx, upd, delta, tenantID, memberID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrNotFound
	}
	return nil
}

// SetBalance overwrites the cached balance.  Used only by the audit repair
// path after recomputing the true sum from the ledger.
func SetBalance(ctx context.Context, q sqlx.ExtContext, tenantID, memberID uint64, balance int) error {
	const upd = `
        UPDATE member
        SET    points_balance = ?
        WHERE  tenant_id = ? AND member_id = ?`
	res, err := q.ExecContext(ctx, upd, balance, tenantID, memberID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrNotFound
	}
	return nil
}

// SetExternalID records the CRM id after the first successful sync.  The
// WHERE clause keeps an already-set id immutable.
func SetExternalID(ctx context.Context, q sqlx.ExtContext, tenantID, memberID uint64, externalID string) error {
	const upd = `
        UPDATE member
        SET    external_id = ?
        WHERE  tenant_id = ? AND member_id = ?
          AND  external_id IS NULL`
	_, err := q.ExecContext(ctx, upd, externalID, tenantID, memberID)
	return err
}
