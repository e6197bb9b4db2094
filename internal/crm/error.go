// internal/crm/error.go
//
// Error wrapper for external-system failures.  Errors of this type are the
// only kind the sync worker retries; everything else (validation, caps,
// conflicts) is deterministic and surfaces to the caller untouched.
package crm

import (
	"errors"
	"fmt"
)

// Error wraps any failure while talking to the external system: transport,
// authentication, or a remote validation message.  The sync worker counts
// each occurrence against the record's retry budget.
type Error struct {
	Op  string // "authenticate", "create", "update", "version"
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("crm: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IsRemote reports whether err originated at the CRM boundary, meaning the
// sync state machine may retry it.
func IsRemote(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
