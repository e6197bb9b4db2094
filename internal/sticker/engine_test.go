// internal/sticker/engine_test.go
//
// Unit-tests for the discount-token engine using sqlmock.
//
// Context
// -------
// Coverage follows the invariants that matter:
//
//   - cap enforcement rejects instead of clamping, including the boundary
//     where the request lands exactly on the cap,
//   - redeem is at-most-once (a lost conditional update is a conflict),
//   - validation lazily expires overdue tokens, and an expired token can
//     never be redeemed afterwards.
//
// Run: go test ./internal/sticker -v

package sticker

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

var (
	frozenNow  = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sampleTime = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

func testRules(t *testing.T) *meta.Rules {
	t.Helper()
	r, err := meta.ParseRules(map[string]string{
		"loyalty.max_discount_percent": "20",
	}, meta.Defaults{SyncInterval: 15 * time.Minute, MaxRetries: 5})
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	return r
}

func newEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	e := NewEngine(sqlx.NewDb(db, "mysql"), nil)
	e.now = func() time.Time { return frozenNow }
	return e, mock
}

func stickerRows(s Sticker) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "member_id", "code", "discount_percent", "kind", "state",
		"issued_at", "expires_at", "redeemed_at", "external_id", "created_at", "updated_at",
	}).AddRow(s.ID, s.TenantID, s.MemberID, s.Code, s.DiscountPercent, string(s.Kind),
		string(s.State), s.IssuedAt, s.ExpiresAt, s.RedeemedAt, s.ExternalID, sampleTime, sampleTime)
}

func TestIssue_HappyPath(t *testing.T) {
	e, mock := newEngine(t)
	rules := testRules(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT IGNORE INTO member").
		WithArgs(uint64(1), uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Cap CAS: 15 + 5 <= 20 passes.
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE member SET total_discount_percent = total_discount_percent + ? WHERE tenant_id = ? AND member_id = ? AND total_discount_percent + ? <= ?`,
	)).WithArgs(5, uint64(1), uint64(42), 5, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sticker").
		WithArgs(uint64(1), uint64(42), sqlmock.AnyArg(), 5, loyalty.KindReview, frozenNow, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(33, 1))
	mock.ExpectExec("INSERT INTO sync_record").
		WithArgs(sqlmock.AnyArg(), uint64(1), loyalty.EntitySticker, uint64(33), "create", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, err := e.Issue(context.Background(), rules, IssueRequest{
		TenantID:         1,
		TenantSlug:       "acme",
		MemberID:         42,
		Kind:             loyalty.KindReview,
		RequestedPercent: 5,
	})
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if s.ID != 33 || s.State != StateIssued {
		t.Fatalf("unexpected sticker: %+v", s)
	}
	if len(s.Code) < 8 || len(s.Code) > 11 {
		t.Errorf("code length out of range: %q", s.Code)
	}
	if want := rules.ExpiryFrom(frozenNow); !s.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, s.ExpiresAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestIssue_CapExceededRejects(t *testing.T) {
	e, mock := newEngine(t)
	rules := testRules(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT IGNORE INTO member").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Member sits at 15%; +10 would cross the 20% cap, CAS matches no rows.
	mock.ExpectExec("UPDATE member SET total_discount_percent").
		WithArgs(10, uint64(1), uint64(42), 10, 20).
		WillReturnResult(sqlmock.NewResult(0, 0))
	memberRows := sqlmock.NewRows([]string{
		"id", "tenant_id", "member_id", "points_balance", "total_discount_percent",
		"external_id", "created_at", "updated_at",
	}).AddRow(7, 1, 42, 0, 15, nil, sampleTime, sampleTime)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows)
	mock.ExpectRollback()

	_, err := e.Issue(context.Background(), rules, IssueRequest{
		TenantID: 1, TenantSlug: "acme", MemberID: 42,
		Kind: loyalty.KindReview, RequestedPercent: 10,
	})
	var capErr *loyalty.CapExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapExceededError, got %v", err)
	}
	if capErr.Requested != 10 || capErr.Current != 15 || capErr.Max != 20 {
		t.Fatalf("unexpected error detail: %+v", capErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestIssue_RejectsBadInput(t *testing.T) {
	e, _ := newEngine(t)
	rules := testRules(t)

	_, err := e.Issue(context.Background(), rules, IssueRequest{
		TenantID: 1, MemberID: 42, Kind: "bogus", RequestedPercent: 5,
	})
	var verr *loyalty.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown kind, got %v", err)
	}

	_, err = e.Issue(context.Background(), rules, IssueRequest{
		TenantID: 1, MemberID: 42, Kind: loyalty.KindVideo, RequestedPercent: 0,
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for zero percent, got %v", err)
	}
}

func TestValidate_StatusMapping(t *testing.T) {
	e, mock := newEngine(t)

	live := Sticker{
		ID: 5, TenantID: 1, MemberID: 42, Code: "ACR2345", DiscountPercent: 10,
		Kind: loyalty.KindReview, State: StateIssued,
		IssuedAt: sampleTime, ExpiresAt: frozenNow.Add(24 * time.Hour),
	}

	// Unknown code → invalid.
	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), "NOPE").
		WillReturnError(sql.ErrNoRows)
	res, err := e.Validate(context.Background(), 1, "NOPE")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.Status != StatusInvalid {
		t.Fatalf("expected invalid, got %s", res.Status)
	}

	// Live code → valid with percent.
	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), live.Code).
		WillReturnRows(stickerRows(live))
	res, err = e.Validate(context.Background(), 1, live.Code)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.Status != StatusValid || res.DiscountPercent != 10 {
		t.Fatalf("expected valid 10%%, got %+v", res)
	}

	// Redeemed code → used.
	used := live
	used.State = StateRedeemed
	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), live.Code).
		WillReturnRows(stickerRows(used))
	res, err = e.Validate(context.Background(), 1, live.Code)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.Status != StatusUsed {
		t.Fatalf("expected used, got %s", res.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestValidate_LazyExpiry(t *testing.T) {
	e, mock := newEngine(t)

	overdue := Sticker{
		ID: 5, TenantID: 1, MemberID: 42, Code: "ACR2345", DiscountPercent: 10,
		Kind: loyalty.KindReview, State: StateIssued,
		IssuedAt: sampleTime, ExpiresAt: frozenNow.Add(-time.Hour),
	}

	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), overdue.Code).
		WillReturnRows(stickerRows(overdue))
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE sticker SET state = 'expired' WHERE tenant_id = ? AND id = ? AND state = 'issued'`,
	)).WithArgs(uint64(1), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sync_record").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expired := overdue
	expired.State = StateExpired
	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), overdue.Code).
		WillReturnRows(stickerRows(expired))

	res, err := e.Validate(context.Background(), 1, overdue.Code)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", res.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestRedeem_HappyPath(t *testing.T) {
	e, mock := newEngine(t)
	rules := testRules(t)

	live := Sticker{
		ID: 5, TenantID: 1, MemberID: 42, Code: "ACR2345", DiscountPercent: 10,
		Kind: loyalty.KindReview, State: StateIssued,
		IssuedAt: sampleTime, ExpiresAt: frozenNow.Add(24 * time.Hour),
	}

	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), live.Code).
		WillReturnRows(stickerRows(live))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE sticker SET state = 'redeemed', redeemed_at = ? WHERE tenant_id = ? AND id = ? AND state = 'issued'`,
	)).WithArgs(frozenNow, uint64(1), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sync_record").
		WithArgs(sqlmock.AnyArg(), uint64(1), loyalty.EntitySticker, uint64(5), "update", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	memberID := uint64(42)
	s, err := e.Redeem(context.Background(), rules, 1, live.Code, &memberID)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}
	if s.State != StateRedeemed || s.RedeemedAt == nil {
		t.Fatalf("unexpected sticker after redeem: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestRedeem_LostRaceIsConflict(t *testing.T) {
	e, mock := newEngine(t)
	rules := testRules(t)

	live := Sticker{
		ID: 5, TenantID: 1, MemberID: 42, Code: "ACR2345", DiscountPercent: 10,
		Kind: loyalty.KindReview, State: StateIssued,
		IssuedAt: sampleTime, ExpiresAt: frozenNow.Add(24 * time.Hour),
	}

	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), live.Code).
		WillReturnRows(stickerRows(live))
	mock.ExpectBegin()
	// Concurrent redeem got there first: conditional update matches nothing.
	mock.ExpectExec("UPDATE sticker SET state = 'redeemed'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.Redeem(context.Background(), rules, 1, live.Code, nil)
	if !errors.Is(err, loyalty.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestRedeem_WrongMemberRejected(t *testing.T) {
	e, mock := newEngine(t)
	rules := testRules(t)

	live := Sticker{
		ID: 5, TenantID: 1, MemberID: 42, Code: "ACR2345", DiscountPercent: 10,
		Kind: loyalty.KindReview, State: StateIssued,
		IssuedAt: sampleTime, ExpiresAt: frozenNow.Add(24 * time.Hour),
	}
	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), live.Code).
		WillReturnRows(stickerRows(live))

	other := uint64(99)
	_, err := e.Redeem(context.Background(), rules, 1, live.Code, &other)
	var verr *loyalty.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRedeem_ExpiredNeverSucceeds(t *testing.T) {
	e, mock := newEngine(t)
	rules := testRules(t)

	expired := Sticker{
		ID: 5, TenantID: 1, MemberID: 42, Code: "ACR2345", DiscountPercent: 10,
		Kind: loyalty.KindReview, State: StateExpired,
		IssuedAt: sampleTime, ExpiresAt: frozenNow.Add(-time.Hour),
	}
	mock.ExpectQuery("SELECT id, tenant_id, member_id, code").
		WithArgs(uint64(1), expired.Code).
		WillReturnRows(stickerRows(expired))

	_, err := e.Redeem(context.Background(), rules, 1, expired.Code, nil)
	if !errors.Is(err, loyalty.ErrConflict) {
		t.Fatalf("expected ErrConflict for expired token, got %v", err)
	}
}
