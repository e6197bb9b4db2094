// internal/ops/admin.go
//
// Token-guarded operator interventions.
//
// Context
// -------
// Each handler is one intervention from the runbook.  Force runs a
// tenant's sync immediately, bypassing the interval gate but not the
// per-record backoff holds.  Dead-record listing and replay are the
// operator path out of the terminal sync state.  Sticker grant issues a
// manual `special` token through the same engine and cap check as any
// other issuance, and balance repair recomputes a member's cached balance
// from the ledger.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/perkloop/loyalty/internal/authctx"
	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/sticker"
	"github.com/perkloop/loyalty/internal/synclog"
)

// handleForceSync runs one tenant's sync queue now and reports the stats.
func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Sync.Force(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// deadRecord is the wire shape for one dead sync record.
type deadRecord struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   uint64    `json:"entity_id"`
	Operation  string    `json:"operation"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// handleListDead returns a tenant's dead sync records, oldest first.
func (s *Server) handleListDead(w http.ResponseWriter, r *http.Request) {
	ten, err := s.Tenants.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, &loyalty.ValidationError{Field: "limit", Reason: "must be 1-500"})
			return
		}
		limit = n
	}

	recs, err := synclog.ListByState(r.Context(), s.DB, ten.Meta.ID, synclog.StateDead, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]deadRecord, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		d := deadRecord{
			ID:         rec.ID,
			EntityType: rec.EntityType.String(),
			EntityID:   rec.EntityID,
			Operation:  string(rec.Operation),
			RetryCount: rec.RetryCount,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		}
		if rec.LastError != nil {
			d.LastError = *rec.LastError
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

// handleReplay requeues one dead record with a fresh retry budget.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := synclog.Replay(r.Context(), s.DB, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": "pending"})
}

// grantRequest is the body for a manual sticker grant.
type grantRequest struct {
	MemberID uint64 `json:"member_id"`
	Percent  int    `json:"percent"`
	Kind     string `json:"kind,omitempty"` // defaults to "special"
}

// stickerResponse is the wire shape for an issued sticker.
type stickerResponse struct {
	Code            string    `json:"code"`
	MemberID        uint64    `json:"member_id"`
	Kind            string    `json:"kind"`
	DiscountPercent int       `json:"discount_percent"`
	State           string    `json:"state"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// handleGrantSticker issues a manual sticker for one member.  The grant
// rides the normal engine, so the tenant cap applies to operators too.
func (s *Server) handleGrantSticker(w http.ResponseWriter, r *http.Request) {
	ten, err := s.Tenants.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}

	var body grantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &loyalty.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	kind := loyalty.KindSpecial
	if body.Kind != "" {
		if kind, err = loyalty.ParseKind(body.Kind); err != nil {
			writeError(w, err)
			return
		}
	}

	// Operator grants carry the acting tenant so the audit log names them.
	ctx := authctx.WithActor(r.Context(), authctx.Actor{TenantID: ten.Meta.ID})
	st, err := s.Stickers.Issue(ctx, ten.Rules, sticker.IssueRequest{
		TenantID:         ten.Meta.ID,
		TenantSlug:       ten.Meta.Slug,
		MemberID:         body.MemberID,
		Kind:             kind,
		RequestedPercent: body.Percent,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stickerResponse{
		Code:            st.Code,
		MemberID:        st.MemberID,
		Kind:            st.Kind.String(),
		DiscountPercent: st.DiscountPercent,
		State:           st.State.String(),
		ExpiresAt:       st.ExpiresAt,
	})
}

// handleRepairBalance recomputes one member's balance from the ledger and
// overwrites the cached aggregate when they disagree.
func (s *Server) handleRepairBalance(w http.ResponseWriter, r *http.Request) {
	ten, err := s.Tenants.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	memberID, err := strconv.ParseUint(chi.URLParam(r, "member"), 10, 64)
	if err != nil {
		writeError(w, &loyalty.ValidationError{Field: "member", Reason: "must be a positive integer"})
		return
	}

	ctx := authctx.WithActor(r.Context(), authctx.Actor{TenantID: ten.Meta.ID})
	balance, repaired, err := s.Ledger.Repair(ctx, ten.Meta.ID, memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"member_id": memberID,
		"balance":   balance,
		"repaired":  repaired,
	})
}
