// internal/crmsync/worker.go
//
// Outbound sync worker: drains one tenant's queue into its CRM.
//
// Context
// -------
// One run claims due records (pending, plus retries whose backoff hold
// has elapsed) and pushes each to the tenant's CRM session.  The claim is
// a conditional update, so any number of worker processes may run against
// the same database: a lost claim is a skip, never an error.  No lock is
// held across the network call.
//
// The create-versus-update decision keys off the entity's external_id at
// push time: present means idempotent update, absent means create.  After
// a create the returned id lands on the entity and the record completes
// in ONE local transaction, so a crash after the external call either
// leaves both (retry updates) or neither (retry re-creates, the remote
// side's only unavoidable duplicate window).  Running the worker twice
// over a completed record is a no-op; re-running a record whose entity
// already carries an external_id can only update, never create.
//
// Failures from the CRM boundary count against the record's retry budget
// with exponential backoff; exhausting the budget parks the record in the
// dead state for operator replay.  A call timeout is a failure like any
// other.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package crmsync

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/member"
	"github.com/perkloop/loyalty/internal/metrics"
	"github.com/perkloop/loyalty/internal/sticker"
	"github.com/perkloop/loyalty/internal/synclog"
	"github.com/perkloop/loyalty/internal/tenant"
)

// Worker pushes sync records to the external system.  Safe to share
// across tenants; all per-tenant state lives on the Tenant aggregate.
type Worker struct {
	DB          *sqlx.DB
	Backoff     Backoff
	BatchSize   int
	CallTimeout time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func (w *Worker) clock() time.Time {
	if w.now == nil {
		return time.Now()
	}
	return w.now()
}

func (w *Worker) batch() int {
	if w.BatchSize <= 0 {
		return 100
	}
	return w.BatchSize
}

// RunStats summarises one tenant run.
type RunStats struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
	Skipped   int `json:"skipped"` // claims lost to another worker
}

// Run drains one batch of due records for ten.  Record-level failures are
// absorbed into the state machine; only infrastructure errors (the local
// database going away) surface as err.
func (w *Worker) Run(ctx context.Context, ten *tenant.Tenant) (RunStats, error) {
	var stats RunStats
	if ten.CRM == nil {
		return stats, nil
	}

	started := w.clock()
	defer func() {
		metrics.SyncRunDuration.Observe(w.clock().Sub(started).Seconds())
	}()

	due, err := synclog.ListDue(ctx, w.DB, ten.Meta.ID, started, w.batch())
	if err != nil {
		return stats, err
	}

	for i := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := w.syncOne(ctx, ten, &due[i], &stats); err != nil {
			return stats, err
		}
	}

	if stats.Attempted > 0 {
		zap.S().Infow("sync run finished",
			"tenant", ten.Meta.Slug,
			"attempted", stats.Attempted, "completed", stats.Completed,
			"retried", stats.Retried, "dead", stats.Dead, "skipped", stats.Skipped)
	}
	return stats, nil
}

// syncOne walks a single record through claim → push → complete|fail.
func (w *Worker) syncOne(ctx context.Context, ten *tenant.Tenant, rec *synclog.Record, stats *RunStats) error {
	claimed, err := synclog.Claim(ctx, w.DB, rec.ID)
	if err != nil {
		return err
	}
	if !claimed {
		stats.Skipped++
		return nil
	}
	stats.Attempted++
	metrics.SyncAttemptsTotal.Inc()

	externalID, created, pushErr := w.push(ctx, ten, rec)
	if pushErr == nil {
		if err := w.complete(ctx, rec, externalID, created); err != nil {
			return err
		}
		stats.Completed++
		metrics.SyncCompletedTotal.Inc()
		return nil
	}

	// Local deterministic errors (entity gone) ride the same retry
	// machine as remote ones; either way the failure is recorded, never
	// swallowed.
	next := w.clock().Add(w.Backoff.Delay(rec.RetryCount + 1))
	state, err := synclog.Fail(ctx, w.DB, rec.ID, pushErr.Error(), next)
	if err != nil {
		return err
	}
	switch state {
	case synclog.StateDead:
		stats.Dead++
		metrics.SyncDeadTotal.Inc()
		zap.S().Errorw("sync record dead",
			"tenant", ten.Meta.Slug, "record", rec.ID,
			"entity", rec.EntityType, "entity_id", rec.EntityID, "err", pushErr)
	default:
		stats.Retried++
		metrics.SyncRetriesTotal.Inc()
		zap.S().Warnw("sync attempt failed",
			"tenant", ten.Meta.Slug, "record", rec.ID,
			"retry_count", rec.RetryCount+1, "next_attempt", next, "err", pushErr)
	}
	return nil
}

// complete finishes a record whose push succeeded.  When the push was a
// create, the fresh external id must land on the entity together with the
// record's completion: committing them separately would leave a window
// where a completed create carries no local external_id, and the next
// enqueue for that entity would create a remote duplicate.
func (w *Worker) complete(ctx context.Context, rec *synclog.Record, externalID string, created bool) error {
	if !created {
		return synclog.Complete(ctx, w.DB, rec.ID, externalID)
	}
	tx, err := w.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := persistExternalID(ctx, tx, rec, externalID); err != nil {
		return err
	}
	if err := synclog.Complete(ctx, tx, rec.ID, externalID); err != nil {
		return err
	}
	return tx.Commit()
}

func persistExternalID(ctx context.Context, q sqlx.ExtContext, rec *synclog.Record, externalID string) error {
	switch rec.EntityType {
	case loyalty.EntityMember:
		return member.SetExternalID(ctx, q, rec.TenantID, rec.EntityID, externalID)
	case loyalty.EntitySticker:
		return sticker.SetExternalID(ctx, q, rec.TenantID, rec.EntityID, externalID)
	}
	return errors.New("unknown entity type " + rec.EntityType.String())
}

// push maps the LATEST entity state and performs the external call.  It
// never writes locally; created tells the caller whether the returned id
// is fresh and still needs persisting.
func (w *Worker) push(ctx context.Context, ten *tenant.Tenant, rec *synclog.Record) (externalID string, created bool, err error) {
	callCtx := ctx
	if w.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.CallTimeout)
		defer cancel()
	}

	switch rec.EntityType {
	case loyalty.EntityMember:
		m, err := member.Get(ctx, w.DB, rec.TenantID, rec.EntityID)
		if err != nil {
			return "", false, err
		}
		fields := memberFields(&ten.Meta, m)
		if m.ExternalID != nil {
			return *m.ExternalID, false, ten.CRM.Update(callCtx, loyalty.EntityMember, *m.ExternalID, fields)
		}
		extID, err := ten.CRM.Create(callCtx, loyalty.EntityMember, fields)
		if err != nil {
			return "", false, err
		}
		return extID, true, nil

	case loyalty.EntitySticker:
		s, err := sticker.ByID(ctx, w.DB, rec.TenantID, rec.EntityID)
		if err != nil {
			return "", false, err
		}
		fields := stickerFields(&ten.Meta, s)
		if s.ExternalID != nil {
			return *s.ExternalID, false, ten.CRM.Update(callCtx, loyalty.EntitySticker, *s.ExternalID, fields)
		}
		extID, err := ten.CRM.Create(callCtx, loyalty.EntitySticker, fields)
		if err != nil {
			return "", false, err
		}
		return extID, true, nil
	}
	return "", false, errors.New("unknown entity type " + rec.EntityType.String())
}
