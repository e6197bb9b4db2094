// internal/loyalty/errors.go
//
// Error kinds shared across the ledger core.
//
// Context
// -------
// Callers need to tell deterministic rejections apart from races and from
// remote failures, because only remote failures are ever retried.  The four
// local kinds below are returned synchronously and must never trigger a
// retry loop:
//
//   - ValidationError  - malformed input (negative points, unknown kind)
//   - CapExceededError - issuance would exceed the tenant discount cap
//   - ErrNotFound      - unknown code, member, or tenant
//   - ErrConflict      - an optimistic state transition lost the race
//
// Remote failures (talking to the CRM) are wrapped as crm.Error and handled
// by the sync worker's bounded retry machine, never here.
//
// Notes
// -----
//   - Wrap sentinels with %w so callers can errors.Is across layers.
//   - Oxford commas, two spaces after periods.
package loyalty

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups of unknown codes, members, or tenants.
var ErrNotFound = errors.New("not found")

// ErrConflict marks a conditional update that affected zero rows: the row
// was already in a different state (double redeem, duplicate idempotency
// key, lost sync claim).  Surfaced to callers as "already used / already
// applied", not as a system fault.
var ErrConflict = errors.New("conflict")

// ValidationError reports malformed input.  Deterministic; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// CapExceededError reports an issuance that would push a member past the
// tenant's discount cap.  The request is rejected outright rather than
// clamped; a silent clamp would under-reward the member while the caller
// believes the full percentage was granted.
type CapExceededError struct {
	Requested int // percent asked for
	Current   int // member total before the request
	Max       int // tenant cap
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("discount cap exceeded: requested %d%% on top of %d%%, cap %d%%",
		e.Requested, e.Current, e.Max)
}
