// internal/sticker/engine.go
//
// Discount-token engine: issue, validate, redeem.
//
// Context
// -------
// Issue is the cap-enforcement point.  The member's discount total is
// raised by a single conditional UPDATE whose WHERE clause re-checks the
// cap, so two concurrent issuances can never jointly exceed it; the loser
// gets CapExceededError, never a silent clamp.  The sticker insert, the
// cap update, and the sync-record enqueue share one transaction.
//
// Redeem re-validates and then takes the issued→redeemed edge with a
// conditional UPDATE; zero rows affected means somebody else got there
// first (double redeem, concurrent expiry) and surfaces as ErrConflict.
// Expiry is checked lazily at validation time; there is no background
// sweep, so an expired-but-still-issued row is flipped the first time
// anyone looks at it.
//
// Notes
// -----
//   - No lock is held across any of these calls; correctness comes from
//     the conditional updates alone, so any number of processes may run
//     this engine against the same database.
//   - Oxford commas, two spaces after periods.
package sticker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/perkloop/loyalty/internal/authctx"
	"github.com/perkloop/loyalty/internal/codegen"
	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/member"
	"github.com/perkloop/loyalty/internal/metrics"
	"github.com/perkloop/loyalty/internal/notify"
	"github.com/perkloop/loyalty/internal/synclog"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

// Engine owns all sticker traffic for every tenant.
type Engine struct {
	DB   *sqlx.DB
	Sink notify.Sink // optional; nil disables emission

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewEngine wires an engine on one database pool.
func NewEngine(db *sqlx.DB, sink notify.Sink) *Engine {
	return &Engine{DB: db, Sink: sink, now: time.Now}
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// IssueRequest carries one issuance.  TenantSlug feeds the code prefix.
type IssueRequest struct {
	TenantID         uint64
	TenantSlug       string
	MemberID         uint64
	Kind             loyalty.Kind
	RequestedPercent int
	// ExpiresAt overrides the tenant's expiration window when non-zero.
	ExpiresAt time.Time
}

// Issue creates a sticker worth req.RequestedPercent for one member,
// rejecting the request outright when the member's running total would
// pass rules.MaxDiscountPercent.
func (e *Engine) Issue(ctx context.Context, rules *meta.Rules, req IssueRequest) (*Sticker, error) {
	if !req.Kind.Valid() {
		return nil, &loyalty.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
	if req.RequestedPercent <= 0 {
		return nil, &loyalty.ValidationError{Field: "percent", Reason: "must be positive"}
	}

	now := e.clock()
	expires := req.ExpiresAt
	if expires.IsZero() {
		expires = rules.ExpiryFrom(now)
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := member.Ensure(ctx, tx, req.TenantID, req.MemberID); err != nil {
		return nil, err
	}

	// Cap check and total update in one statement; losing it means the
	// request must be rejected, so fetch the current total for the error.
	ok, err := member.AddDiscount(ctx, tx,
		req.TenantID, req.MemberID, req.RequestedPercent, rules.MaxDiscountPercent)
	if err != nil {
		return nil, err
	}
	if !ok {
		m, gerr := member.Get(ctx, tx, req.TenantID, req.MemberID)
		if gerr != nil {
			return nil, gerr
		}
		metrics.StickerCapRejectsTotal.Inc()
		return nil, &loyalty.CapExceededError{
			Requested: req.RequestedPercent,
			Current:   m.TotalDiscountPercent,
			Max:       rules.MaxDiscountPercent,
		}
	}

	s := &Sticker{
		TenantID:        req.TenantID,
		MemberID:        req.MemberID,
		DiscountPercent: req.RequestedPercent,
		Kind:            req.Kind,
		State:           StateIssued,
		IssuedAt:        now,
		ExpiresAt:       expires,
	}
	code, err := codegen.Generate(ctx, req.TenantSlug, req.Kind, func(ctx context.Context, candidate string) error {
		s.Code = candidate
		id, ierr := Insert(ctx, tx, s)
		if ierr != nil {
			return ierr
		}
		s.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Code = code

	if _, err := synclog.Enqueue(ctx, tx,
		req.TenantID, loyalty.EntitySticker, s.ID, synclog.OpCreate, rules.MaxRetries); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.StickersIssuedTotal.WithLabelValues(req.Kind.String()).Inc()
	zap.S().Infow("sticker issued", append([]any{
		"tenant", req.TenantID, "member", req.MemberID,
		"kind", req.Kind, "code", s.Code, "percent", s.DiscountPercent,
	}, authctx.LogFields(ctx)...)...)

	if e.Sink != nil {
		e.Sink.Emit(notify.Event{
			TenantID: req.TenantID,
			MemberID: req.MemberID,
			Kind:     req.Kind,
			Payload: map[string]any{
				"code":    s.Code,
				"percent": s.DiscountPercent,
				"expires": s.ExpiresAt,
			},
		})
	}
	return s, nil
}

// Status classifies a validation outcome.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid" // code unknown to this tenant
	StatusUsed    Status = "used"    // already redeemed
	StatusExpired Status = "expired"
)

// ValidationResult reports what a code is worth right now.
type ValidationResult struct {
	Status          Status
	DiscountPercent int      // set when Status == StatusValid
	Sticker         *Sticker // nil when Status == StatusInvalid
}

// Validate classifies a code for one tenant.  As a side effect it flips an
// overdue issued sticker to expired, so expiry is observed consistently by
// every later caller.
func (e *Engine) Validate(ctx context.Context, tenantID uint64, code string) (*ValidationResult, error) {
	s, err := ByCode(ctx, e.DB, tenantID, code)
	if err != nil {
		if errors.Is(err, loyalty.ErrNotFound) {
			return &ValidationResult{Status: StatusInvalid}, nil
		}
		return nil, err
	}

	switch s.State {
	case StateRedeemed:
		return &ValidationResult{Status: StatusUsed, Sticker: s}, nil
	case StateExpired:
		return &ValidationResult{Status: StatusExpired, Sticker: s}, nil
	}

	if e.clock().After(s.ExpiresAt) {
		// Lazy flip.  Losing this race to a concurrent redeem means the
		// token was redeemed before expiry was observed; report what the
		// row says now.
		if _, err := e.expire(ctx, s); err != nil {
			return nil, err
		}
		fresh, err := ByCode(ctx, e.DB, tenantID, code)
		if err != nil {
			return nil, err
		}
		if fresh.State == StateRedeemed {
			return &ValidationResult{Status: StatusUsed, Sticker: fresh}, nil
		}
		return &ValidationResult{Status: StatusExpired, Sticker: fresh}, nil
	}

	return &ValidationResult{Status: StatusValid, DiscountPercent: s.DiscountPercent, Sticker: s}, nil
}

// expire flips one overdue sticker and queues the state change for sync.
func (e *Engine) expire(ctx context.Context, s *Sticker) (bool, error) {
	flipped, err := MarkExpired(ctx, e.DB, s.TenantID, s.ID)
	if err != nil || !flipped {
		return false, err
	}
	// Rules are not at hand on the validate path; the record takes the
	// default retry budget, which the worker honours like any other.
	if _, err := synclog.Enqueue(ctx, e.DB,
		s.TenantID, loyalty.EntitySticker, s.ID, synclog.OpUpdate, 0); err != nil {
		return true, err
	}
	return true, nil
}

// Redeem consumes a valid code exactly once.  The optional memberID must
// match the issuing member.  Every non-valid state maps to ErrConflict or
// ErrNotFound so callers can answer "already used" without a type switch.
func (e *Engine) Redeem(ctx context.Context, rules *meta.Rules, tenantID uint64, code string, memberID *uint64) (*Sticker, error) {
	res, err := e.Validate(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case StatusInvalid:
		return nil, fmt.Errorf("code %q: %w", code, loyalty.ErrNotFound)
	case StatusUsed:
		return nil, fmt.Errorf("code %q already redeemed: %w", code, loyalty.ErrConflict)
	case StatusExpired:
		return nil, fmt.Errorf("code %q expired: %w", code, loyalty.ErrConflict)
	}

	s := res.Sticker
	if memberID != nil && *memberID != s.MemberID {
		return nil, &loyalty.ValidationError{Field: "member_id", Reason: "code belongs to a different member"}
	}

	now := e.clock()
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	won, err := MarkRedeemed(ctx, tx, tenantID, s.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		// Raced a concurrent redeem or expiry between validate and here.
		return nil, fmt.Errorf("code %q already redeemed: %w", code, loyalty.ErrConflict)
	}
	if _, err := synclog.Enqueue(ctx, tx,
		tenantID, loyalty.EntitySticker, s.ID, synclog.OpUpdate, rules.MaxRetries); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.StickersRedeemedTotal.Inc()
	zap.S().Infow("sticker redeemed",
		"tenant", tenantID, "code", code, "member", s.MemberID)

	s.State = StateRedeemed
	s.RedeemedAt = &now
	return s, nil
}
