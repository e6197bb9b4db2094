// internal/crmsync/worker_test.go
//
// Unit-tests for the outbound sync worker.
//
// Context
// -------
// sqlmock plays the local database and a hand-rolled fake plays the CRM.
// The scenarios pin the properties the pipeline is built around:
//
//   - first sync creates and persists the external id on entity + record
//     in one local transaction,
//   - an entity that already has an external id can only be updated
//     (idempotent re-sync, no duplicate external records),
//   - a failed push parks the record in retry with a backoff hold, and a
//     spent budget parks it in dead,
//   - a lost claim is a silent skip (another worker owns the record).
//
// Run: go test ./internal/crmsync -v

package crmsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/synclog"
	"github.com/perkloop/loyalty/internal/tenant"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

var (
	frozenNow  = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sampleTime = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

// fakeClient satisfies crm.Client with scriptable outcomes.
type fakeClient struct {
	createID  string
	createErr error
	updateErr error

	creates int
	updates int
	lastExt string
}

func (f *fakeClient) Create(_ context.Context, _ loyalty.EntityType, _ crm.Fields) (string, error) {
	f.creates++
	return f.createID, f.createErr
}

func (f *fakeClient) Update(_ context.Context, _ loyalty.EntityType, ext string, _ crm.Fields) error {
	f.updates++
	f.lastExt = ext
	return f.updateErr
}

func (f *fakeClient) TestConnection(context.Context) error { return nil }
func (f *fakeClient) Close() error                         { return nil }

func newWorker(t *testing.T) (*Worker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	w := &Worker{
		DB:      sqlx.NewDb(db, "mysql"),
		Backoff: Backoff{Base: time.Minute, Max: time.Hour},
		now:     func() time.Time { return frozenNow },
	}
	return w, mock
}

func testTenant(cli crm.Client) *tenant.Tenant {
	return &tenant.Tenant{
		Meta: meta.Record{ID: 1, Slug: "acme", CRMURL: "https://crm.acme.example"},
		Rules: &meta.Rules{
			MaxDiscountPercent: 20, TokenExpirationDays: 30,
			SyncInterval: 15 * time.Minute, MaxRetries: 5,
		},
		CRM: cli,
	}
}

func memberRec() *synclog.Record {
	return &synclog.Record{
		ID: "rec-1", TenantID: 1, EntityType: loyalty.EntityMember, EntityID: 42,
		Operation: synclog.OpUpdate, State: synclog.StatePending, MaxRetries: 5,
	}
}

func expectClaim(mock sqlmock.Sqlmock, id string, won bool) {
	var n int64
	if won {
		n = 1
	}
	mock.ExpectExec("UPDATE sync_record SET state = 'syncing'").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, n))
}

// expectFailTransition scripts the two conditional updates of a charged
// failure: syncing -> failed, then failed -> retry|dead with the backoff
// hold.
func expectFailTransition(mock sqlmock.Sqlmock, next time.Time) {
	mock.ExpectExec("UPDATE sync_record SET state = 'failed'").
		WithArgs(sqlmock.AnyArg(), "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sync_record SET state = IF\(retry_count >= max_retries`).
		WithArgs(next, "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func memberRows(externalID *string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "member_id", "points_balance", "total_discount_percent",
		"external_id", "created_at", "updated_at",
	}).AddRow(7, 1, 42, 160, 10, externalID, sampleTime, sampleTime)
}

func TestSyncOne_FirstSyncCreates(t *testing.T) {
	w, mock := newWorker(t)
	cli := &fakeClient{createID: "1042"}
	ten := testTenant(cli)

	expectClaim(mock, "rec-1", true)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows(nil))
	// Entity external_id and record completion commit together.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE member SET external_id").
		WithArgs("1042", uint64(1), uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sync_record SET state = 'completed'").
		WithArgs("1042", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var stats RunStats
	if err := w.syncOne(context.Background(), ten, memberRec(), &stats); err != nil {
		t.Fatalf("syncOne error: %v", err)
	}
	if cli.creates != 1 || cli.updates != 0 {
		t.Fatalf("expected one create, got creates=%d updates=%d", cli.creates, cli.updates)
	}
	if stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSyncOne_CreatePersistAndCompleteAreAtomic(t *testing.T) {
	w, mock := newWorker(t)
	cli := &fakeClient{createID: "1042"}
	ten := testTenant(cli)

	expectClaim(mock, "rec-1", true)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows(nil))
	// Completion fails after the external id landed on the member: the
	// transaction must roll the member update back too, so the record
	// stays claimed and a later retry sees a consistent pair.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE member SET external_id").
		WithArgs("1042", uint64(1), uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sync_record SET state = 'completed'").
		WithArgs("1042", "rec-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	var stats RunStats
	if err := w.syncOne(context.Background(), ten, memberRec(), &stats); err == nil {
		t.Fatal("expected the infrastructure error to surface")
	}
	if stats.Completed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSyncOne_ExistingExternalIDUpdates(t *testing.T) {
	w, mock := newWorker(t)
	cli := &fakeClient{}
	ten := testTenant(cli)
	ext := "1042"

	expectClaim(mock, "rec-1", true)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows(&ext))
	mock.ExpectExec("UPDATE sync_record SET state = 'completed'").
		WithArgs("1042", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	var stats RunStats
	if err := w.syncOne(context.Background(), ten, memberRec(), &stats); err != nil {
		t.Fatalf("syncOne error: %v", err)
	}
	// Idempotency: the second sync of an already-created entity must be
	// an update, never another create.
	if cli.creates != 0 || cli.updates != 1 || cli.lastExt != "1042" {
		t.Fatalf("expected one update of 1042, got creates=%d updates=%d ext=%q",
			cli.creates, cli.updates, cli.lastExt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSyncOne_FailureSchedulesRetry(t *testing.T) {
	w, mock := newWorker(t)
	cli := &fakeClient{createErr: &crm.Error{Op: "create", Err: errors.New("timeout")}}
	ten := testTenant(cli)

	expectClaim(mock, "rec-1", true)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows(nil))
	// First failure: hold = base * 2^0 = 1m.
	expectFailTransition(mock, frozenNow.Add(time.Minute))
	mock.ExpectQuery("SELECT id, tenant_id, entity_type").
		WithArgs("rec-1").
		WillReturnRows(syncRecordRows(synclog.StateRetry, 1))

	var stats RunStats
	if err := w.syncOne(context.Background(), ten, memberRec(), &stats); err != nil {
		t.Fatalf("syncOne error: %v", err)
	}
	if stats.Retried != 1 || stats.Dead != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSyncOne_ExhaustedBudgetGoesDead(t *testing.T) {
	w, mock := newWorker(t)
	cli := &fakeClient{createErr: &crm.Error{Op: "create", Err: errors.New("boom")}}
	ten := testTenant(cli)

	rec := memberRec()
	rec.State = synclog.StateRetry
	rec.RetryCount = 4 // fifth failure spends the budget of 5

	expectClaim(mock, "rec-1", true)
	mock.ExpectQuery("SELECT id, tenant_id, member_id").
		WithArgs(uint64(1), uint64(42)).
		WillReturnRows(memberRows(nil))
	expectFailTransition(mock, frozenNow.Add(16*time.Minute))
	mock.ExpectQuery("SELECT id, tenant_id, entity_type").
		WithArgs("rec-1").
		WillReturnRows(syncRecordRows(synclog.StateDead, 5))

	var stats RunStats
	if err := w.syncOne(context.Background(), ten, rec, &stats); err != nil {
		t.Fatalf("syncOne error: %v", err)
	}
	if stats.Dead != 1 {
		t.Fatalf("expected a dead record, got %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSyncOne_LostClaimSkips(t *testing.T) {
	w, mock := newWorker(t)
	cli := &fakeClient{}
	ten := testTenant(cli)

	expectClaim(mock, "rec-1", false)

	var stats RunStats
	if err := w.syncOne(context.Background(), ten, memberRec(), &stats); err != nil {
		t.Fatalf("syncOne error: %v", err)
	}
	if stats.Skipped != 1 || stats.Attempted != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if cli.creates+cli.updates != 0 {
		t.Fatal("lost claim must not touch the CRM")
	}
}

func TestRun_NilCRMIsNoop(t *testing.T) {
	w, _ := newWorker(t)
	ten := testTenant(nil)
	ten.CRM = nil

	stats, err := w.Run(context.Background(), ten)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Attempted != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClaimInterval_GatesPerTenant(t *testing.T) {
	s := &Supervisor{now: func() time.Time { return frozenNow }}

	if !s.claimInterval(1, 15*time.Minute) {
		t.Fatal("first claim must pass")
	}
	if s.claimInterval(1, 15*time.Minute) {
		t.Fatal("second claim inside the interval must be gated")
	}

	s.now = func() time.Time { return frozenNow.Add(16 * time.Minute) }
	if !s.claimInterval(1, 15*time.Minute) {
		t.Fatal("claim after the interval must pass")
	}
}

func syncRecordRows(state synclog.State, retries int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "entity_type", "entity_id", "operation", "state",
		"retry_count", "max_retries", "next_attempt_at", "last_error",
		"external_id", "created_at", "updated_at",
	}).AddRow("rec-1", 1, "member", 42, "update", string(state), retries, 5,
		frozenNow, nil, nil, sampleTime, sampleTime)
}
