// internal/points/ledger_test.go
//
// Unit-tests for the points ledger engine using sqlmock.
//
// Context
// -------
// The interesting behaviours are transactional: an award appends the
// entry, bumps the cached balance, and enqueues a member sync record in
// one commit; a duplicate idempotency key rolls everything back as a
// conflict; validation failures never touch the database.
//
// Run: go test ./internal/points -v

package points

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/notify"
	"github.com/perkloop/loyalty/internal/synclog"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

var sampleTime = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

func testRules() *meta.Rules {
	r, err := meta.ParseRules(map[string]string{}, meta.Defaults{SyncInterval: 15 * time.Minute, MaxRetries: 5})
	if err != nil {
		panic(err)
	}
	return r
}

func newLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Ledger{DB: sqlx.NewDb(db, "mysql")}, mock
}

type captureSink struct{ events []notify.Event }

func (c *captureSink) Emit(ev notify.Event) { c.events = append(c.events, ev) }

func TestAward_HappyPath(t *testing.T) {
	l, mock := newLedger(t)
	sink := &captureSink{}
	l.Sink = sink

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT IGNORE INTO member (tenant_id, member_id) VALUES (?, ?)`,
	)).WithArgs(uint64(1), uint64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO points_ledger_entry (tenant_id, member_id, points_delta, kind, reason, idempotency_key, external_ref) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)).WithArgs(uint64(1), uint64(42), 50, loyalty.KindReview, "left a review", "review:42:7", nil).
		WillReturnResult(sqlmock.NewResult(901, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE member SET points_balance = points_balance + ? WHERE tenant_id = ? AND member_id = ?`,
	)).WithArgs(50, uint64(1), uint64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO sync_record (id, tenant_id, entity_type, entity_id, operation, state, retry_count, max_retries, next_attempt_at) VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, NOW())`,
	)).WithArgs(sqlmock.AnyArg(), uint64(1), loyalty.EntityMember, uint64(42), synclog.OpUpdate, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := l.Award(context.Background(), testRules(), AwardRequest{
		TenantID:       1,
		MemberID:       42,
		Kind:           loyalty.KindReview,
		Reason:         "left a review",
		Points:         50,
		IdempotencyKey: "review:42:7",
	})
	if err != nil {
		t.Fatalf("Award error: %v", err)
	}
	if entry.ID != 901 || entry.PointsDelta != 50 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != loyalty.KindReview {
		t.Fatalf("expected one review event, got %+v", sink.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestAward_DuplicateIdempotencyKey(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT IGNORE INTO member").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO points_ledger_entry").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "duplicate entry"})
	mock.ExpectRollback()

	_, err := l.Award(context.Background(), testRules(), AwardRequest{
		TenantID:       1,
		MemberID:       42,
		Kind:           loyalty.KindVideo,
		Points:         10,
		IdempotencyKey: "video:42:99",
	})
	if !errors.Is(err, loyalty.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestAward_RejectsBadInput(t *testing.T) {
	l, _ := newLedger(t)

	cases := []struct {
		name string
		req  AwardRequest
	}{
		{"negative points", AwardRequest{TenantID: 1, MemberID: 2, Kind: loyalty.KindVideo, Points: -5, IdempotencyKey: "k"}},
		{"unknown kind", AwardRequest{TenantID: 1, MemberID: 2, Kind: "bogus", Points: 5, IdempotencyKey: "k"}},
		{"empty key", AwardRequest{TenantID: 1, MemberID: 2, Kind: loyalty.KindVideo, Points: 5}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := l.Award(context.Background(), testRules(), c.req)
			var verr *loyalty.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestBalanceAndRecompute(t *testing.T) {
	l, mock := newLedger(t)

	memberRows := sqlmock.NewRows([]string{
		"id", "tenant_id", "member_id", "points_balance", "total_discount_percent",
		"external_id", "created_at", "updated_at",
	}).AddRow(7, 1, 42, 160, 10, nil, sampleTime, sampleTime)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows)

	bal, err := l.Balance(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if bal != 160 {
		t.Fatalf("expected balance 160, got %d", bal)
	}

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT COALESCE(SUM(points_delta), 0) FROM points_ledger_entry WHERE tenant_id = ? AND member_id = ?`,
	)).WithArgs(uint64(1), uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(185))

	sum, err := l.Recompute(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("Recompute error: %v", err)
	}
	if sum != 185 {
		t.Fatalf("expected recomputed 185, got %d", sum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestRepair_FixesDrift(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(200))
	memberRows := sqlmock.NewRows([]string{
		"id", "tenant_id", "member_id", "points_balance", "total_discount_percent",
		"external_id", "created_at", "updated_at",
	}).AddRow(7, 1, 42, 160, 10, nil, sampleTime, sampleTime)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows)
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE member SET points_balance = ? WHERE tenant_id = ? AND member_id = ?`,
	)).WithArgs(200, uint64(1), uint64(42)).WillReturnResult(sqlmock.NewResult(0, 1))

	truth, fixed, err := l.Repair(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("Repair error: %v", err)
	}
	if truth != 200 || !fixed {
		t.Fatalf("expected repaired balance 200, got %d (fixed=%v)", truth, fixed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
