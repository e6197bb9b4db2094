// internal/synclog/model.go
//
// `sync_record` table row model and state machine vocabulary.
//
// Context
// -------
// Every local mutation that must reach the external CRM leaves behind one
// sync record.  The record walks a small state machine owned exclusively
// by the sync worker:
//
//	pending ──claim──▶ syncing ──success──▶ completed
//	                      │
//	                      └─failure─▶ failed ──▶ retry ──claim──▶ syncing …
//	                                     │
//	                                     └─retries exhausted─▶ dead
//
// `dead` is terminal and queryable; an operator replays it explicitly.
// `failed` is the transient marker between charging an attempt against the
// retry budget and resolving it to retry or dead; a healthy worker never
// leaves it behind.
//
// Notes
// -----
//   - Ids are UUIDs minted at enqueue time, so a record is addressable
//     before the INSERT returns.
//   - `entity_id` is the sticker primary key for stickers, and the
//     tenant-scoped member number for members.
//   - Oxford commas, two spaces after periods.
package synclog

import (
	"time"

	"github.com/perkloop/loyalty/internal/loyalty"
)

// State is one node of the sync state machine.
type State string

const (
	StatePending   State = "pending"
	StateSyncing   State = "syncing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateRetry     State = "retry"
	StateDead      State = "dead"
)

// Valid reports whether s is one of the closed set.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateSyncing, StateCompleted, StateFailed, StateRetry, StateDead:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// Terminal reports whether the worker will never touch the record again.
func (s State) Terminal() bool { return s == StateCompleted || s == StateDead }

// Operation records the intent at enqueue time.  The worker's actual
// create-versus-update choice keys off the entity's external_id at sync
// time; the idempotency rule wins over stale intent.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// Record mirrors one row in the `sync_record` table.
type Record struct {
	ID            string             `db:"id"`
	TenantID      uint64             `db:"tenant_id"`
	EntityType    loyalty.EntityType `db:"entity_type"`
	EntityID      uint64             `db:"entity_id"`
	Operation     Operation          `db:"operation"`
	State         State              `db:"state"`
	RetryCount    int                `db:"retry_count"`
	MaxRetries    int                `db:"max_retries"`
	NextAttemptAt time.Time          `db:"next_attempt_at"`
	LastError     *string            `db:"last_error"`
	ExternalID    *string            `db:"external_id"`
	CreatedAt     time.Time          `db:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at"`
}
