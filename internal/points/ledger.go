// internal/points/ledger.go
//
// Points ledger engine.
//
// Context
// -------
// Award is the single write path: one transaction appends the ledger
// entry, bumps the member's cached balance, and enqueues a member sync
// record, so the three either all commit or all roll back.  Reads serve
// the cached balance; Recompute and Repair exist for audits, because the
// append-only ledger, not the cache, is the source of truth.
//
// Error mapping
// -------------
//   - negative points, unknown kind, empty key → loyalty.ValidationError
//   - duplicate idempotency key               → loyalty.ErrConflict
//   - unknown member on read paths            → loyalty.ErrNotFound
//
// Notes
// -----
//   - The notify emission happens after commit; a dropped event never
//     rolls back an award.
//   - Oxford commas, two spaces after periods.
package points

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/perkloop/loyalty/internal/authctx"
	"github.com/perkloop/loyalty/internal/database"
	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/member"
	"github.com/perkloop/loyalty/internal/metrics"
	"github.com/perkloop/loyalty/internal/notify"
	"github.com/perkloop/loyalty/internal/synclog"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

// Ledger owns all point-award traffic for every tenant.
type Ledger struct {
	DB   *sqlx.DB
	Sink notify.Sink // optional; nil disables emission
}

// AwardRequest carries one attributable point-earning action.
type AwardRequest struct {
	TenantID       uint64
	MemberID       uint64
	Kind           loyalty.Kind
	Reason         string
	Points         int
	IdempotencyKey string
	ExternalRef    string // optional correlation (sticker code, content id)
}

// Award appends one ledger entry and updates the cached balance.  The
// rules value supplies the tenant's sync retry budget for the enqueued
// member record.
func (l *Ledger) Award(ctx context.Context, rules *meta.Rules, req AwardRequest) (*Entry, error) {
	if req.Points < 0 {
		return nil, &loyalty.ValidationError{Field: "points", Reason: "must not be negative"}
	}
	if !req.Kind.Valid() {
		return nil, &loyalty.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
	if req.IdempotencyKey == "" {
		return nil, &loyalty.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}

	tx, err := l.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := member.Ensure(ctx, tx, req.TenantID, req.MemberID); err != nil {
		return nil, err
	}

	var ref *string
	if req.ExternalRef != "" {
		ref = &req.ExternalRef
	}
	const ins = `
        INSERT INTO points_ledger_entry
               (tenant_id, member_id, points_delta, kind, reason, idempotency_key, external_ref)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins,
		req.TenantID, req.MemberID, req.Points, req.Kind, req.Reason, req.IdempotencyKey, ref)
	if err != nil {
		if database.IsDuplicate(err) {
			// Same action already awarded; caller may treat this as
			// already-applied.
			return nil, fmt.Errorf("award %q already applied: %w", req.IdempotencyKey, loyalty.ErrConflict)
		}
		return nil, err
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := member.AddPoints(ctx, tx, req.TenantID, req.MemberID, req.Points); err != nil {
		return nil, err
	}
	if _, err := synclog.Enqueue(ctx, tx,
		req.TenantID, loyalty.EntityMember, req.MemberID, synclog.OpUpdate, rules.MaxRetries); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.PointsAwardedTotal.WithLabelValues(req.Kind.String()).Add(float64(req.Points))
	zap.S().Infow("points awarded", append([]any{
		"tenant", req.TenantID, "member", req.MemberID,
		"kind", req.Kind, "points", req.Points,
	}, authctx.LogFields(ctx)...)...)

	if l.Sink != nil {
		l.Sink.Emit(notify.Event{
			TenantID: req.TenantID,
			MemberID: req.MemberID,
			Kind:     req.Kind,
			Payload: map[string]any{
				"points": req.Points,
				"reason": req.Reason,
			},
		})
	}

	return &Entry{
		ID:             uint64(entryID),
		TenantID:       req.TenantID,
		MemberID:       req.MemberID,
		PointsDelta:    req.Points,
		Kind:           req.Kind,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		ExternalRef:    ref,
	}, nil
}

// AwardForAction awards the tenant's configured point value for one action
// kind.  Thin convenience over Award.
func (l *Ledger) AwardForAction(ctx context.Context, rules *meta.Rules, tenantID, memberID uint64, kind loyalty.Kind, reason, idemKey string) (*Entry, error) {
	return l.Award(ctx, rules, AwardRequest{
		TenantID:       tenantID,
		MemberID:       memberID,
		Kind:           kind,
		Reason:         reason,
		Points:         rules.PointsFor(kind),
		IdempotencyKey: idemKey,
	})
}

// Balance returns the cached balance for one member.
func (l *Ledger) Balance(ctx context.Context, tenantID, memberID uint64) (int, error) {
	m, err := member.Get(ctx, l.DB, tenantID, memberID)
	if err != nil {
		return 0, err
	}
	return m.PointsBalance, nil
}

// Recompute sums the append-only ledger for one member.  Auditing tool;
// the result is what the cached balance should be.
func (l *Ledger) Recompute(ctx context.Context, tenantID, memberID uint64) (int, error) {
	const sel = `
        SELECT COALESCE(SUM(points_delta), 0)
        FROM   points_ledger_entry
        WHERE  tenant_id = ? AND member_id = ?`
	var sum int
	if err := l.DB.GetContext(ctx, &sum, sel, tenantID, memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return sum, nil
}

// Repair recomputes the true balance and overwrites the cache when they
// disagree.  Returns the recomputed balance and whether a fix was applied.
func (l *Ledger) Repair(ctx context.Context, tenantID, memberID uint64) (int, bool, error) {
	truth, err := l.Recompute(ctx, tenantID, memberID)
	if err != nil {
		return 0, false, err
	}
	m, err := member.Get(ctx, l.DB, tenantID, memberID)
	if err != nil {
		return 0, false, err
	}
	if m.PointsBalance == truth {
		return truth, false, nil
	}
	if err := member.SetBalance(ctx, l.DB, tenantID, memberID, truth); err != nil {
		return 0, false, err
	}
	zap.S().Warnw("points balance repaired", append([]any{
		"tenant", tenantID, "member", memberID,
		"cached", m.PointsBalance, "recomputed", truth,
	}, authctx.LogFields(ctx)...)...)
	return truth, true, nil
}
