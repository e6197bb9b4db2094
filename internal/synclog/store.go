// internal/synclog/store.go
//
// Persistence and query surface for sync records.
//
// Context
// -------
// This package carries no business logic.  The engines call Enqueue inside
// their own transactions, and the sync worker drives records through the
// state machine with the conditional updates below.  Claim is the
// single-writer guarantee: its UPDATE only matches eligible states, so when
// two worker processes race for the same record exactly one sees a row
// affected and the other skips.
//
// Notes
// -----
//   - Every state transition goes through one conditional UPDATE; there are
//     no read-modify-write sequences and no locks held across calls.
//   - Oxford commas, two spaces after periods.
package synclog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/perkloop/loyalty/internal/loyalty"
)

const columns = `id, tenant_id, entity_type, entity_id, operation, state,
               retry_count, max_retries, next_attempt_at, last_error,
               external_id, created_at, updated_at`

// DefaultMaxRetries applies when the caller has no tenant rules at hand.
const DefaultMaxRetries = 5

// Enqueue inserts a fresh pending record for one entity mutation.  Called
// inside the engine transaction that performs the mutation, so the record
// and the local change commit or roll back together.  A non-positive
// maxRetries falls back to DefaultMaxRetries.
func Enqueue(ctx context.Context, q sqlx.ExtContext, tenantID uint64, entity loyalty.EntityType, entityID uint64, op Operation, maxRetries int) (string, error) {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	id := uuid.NewString()
	const ins = `
        INSERT INTO sync_record
               (id, tenant_id, entity_type, entity_id, operation, state,
                retry_count, max_retries, next_attempt_at)
        VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, NOW())`
	if _, err := q.ExecContext(ctx, ins, id, tenantID, entity, entityID, op, maxRetries); err != nil {
		return "", err
	}
	return id, nil
}

// Get fetches one record by id.
func Get(ctx context.Context, q sqlx.ExtContext, id string) (*Record, error) {
	const sel = `
        SELECT ` + columns + `
        FROM   sync_record
        WHERE  id = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, q, &rec, sel, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListByState returns up to limit records of one tenant in one state,
// oldest first.  Backs the dead-letter inspection endpoint.
func ListByState(ctx context.Context, q sqlx.ExtContext, tenantID uint64, state State, limit int) ([]Record, error) {
	const sel = `
        SELECT ` + columns + `
        FROM   sync_record
        WHERE  tenant_id = ? AND state = ?
        ORDER  BY created_at
        LIMIT  ?`
	var rows []Record
	if err := sqlx.SelectContext(ctx, q, &rows, sel, tenantID, state, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListDue returns the records one tenant run should attempt now: everything
// pending, plus retries whose backoff hold has elapsed.
func ListDue(ctx context.Context, q sqlx.ExtContext, tenantID uint64, now time.Time, limit int) ([]Record, error) {
	const sel = `
        SELECT ` + columns + `
        FROM   sync_record
        WHERE  tenant_id = ?
          AND  (state = 'pending' OR (state = 'retry' AND next_attempt_at <= ?))
        ORDER  BY created_at
        LIMIT  ?`
	var rows []Record
	if err := sqlx.SelectContext(ctx, q, &rows, sel, tenantID, now, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// Claim attempts the pending|retry → syncing transition.  Returns false
// when another worker instance won the record first.
func Claim(ctx context.Context, q sqlx.ExtContext, id string) (bool, error) {
	const upd = `
        UPDATE sync_record
        SET    state = 'syncing'
        WHERE  id = ? AND state IN ('pending', 'retry')`
	res, err := q.ExecContext(ctx, upd, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete marks a claimed record done and stores the external id the push
// resolved to.  The guard on state keeps a stray double call harmless.
func Complete(ctx context.Context, q sqlx.ExtContext, id, externalID string) error {
	const upd = `
        UPDATE sync_record
        SET    state = 'completed', external_id = ?, last_error = NULL
        WHERE  id = ? AND state = 'syncing'`
	res, err := q.ExecContext(ctx, upd, externalID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrConflict
	}
	return nil
}

// Fail records one failed attempt on a claimed record in two conditional
// steps: syncing -> failed charges the attempt against the budget, then
// failed -> retry|dead resolves the marker.  While attempts remain the
// record parks in retry until nextAttempt; once the budget is spent it
// goes dead and stays there until an operator replays it.
//
// The split keeps the dead-letter arithmetic honest: MySQL applies SET
// assignments left to right using already-updated column values, so a
// single-statement increment-and-test would compare against the count
// plus one and kill the record an attempt early.  Here the resolve
// statement reads the committed incremented count.  A crash between the
// two statements strands the record in failed, the same exposure as a
// crash stranding it in syncing.
func Fail(ctx context.Context, q sqlx.ExtContext, id string, lastError string, nextAttempt time.Time) (State, error) {
	const mark = `
        UPDATE sync_record
        SET    state       = 'failed',
               retry_count = retry_count + 1,
               last_error  = ?
        WHERE  id = ? AND state = 'syncing'`
	res, err := q.ExecContext(ctx, mark, lastError, id)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", loyalty.ErrConflict
	}

	const resolve = `
        UPDATE sync_record
        SET    state           = IF(retry_count >= max_retries, 'dead', 'retry'),
               next_attempt_at = ?
        WHERE  id = ? AND state = 'failed'`
	if _, err := q.ExecContext(ctx, resolve, nextAttempt, id); err != nil {
		return "", err
	}

	rec, err := Get(ctx, q, id)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// Replay is the manual operator path out of the dead state: the record
// re-enters the queue with a fresh retry budget.  Replaying a record that
// is not dead is a conflict, not a no-op.
func Replay(ctx context.Context, q sqlx.ExtContext, id string) error {
	const upd = `
        UPDATE sync_record
        SET    state = 'pending', retry_count = 0, next_attempt_at = NOW()
        WHERE  id = ? AND state = 'dead'`
	res, err := q.ExecContext(ctx, upd, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrConflict
	}
	return nil
}
