// internal/ops/respond.go
//
// JSON response plumbing and error-kind to status-code mapping.
package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/perkloop/loyalty/internal/loyalty"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw("ops: response encode failed", "err", err)
	}
}

// writeError maps the ledger-core error kinds onto HTTP statuses.  Internal
// detail stays in the log; the client sees the kind, not the stack.
func writeError(w http.ResponseWriter, err error) {
	var ve *loyalty.ValidationError
	var ce *loyalty.CapExceededError
	switch {
	case errors.Is(err, loyalty.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, loyalty.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": ve.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": ce.Error()})
	default:
		zap.S().Errorw("ops: internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
