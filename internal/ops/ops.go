// internal/ops/ops.go
//
// Operator HTTP surface.
//
// Context
// -------
// This is the ops plane, not a member-facing API: liveness, metrics, and a
// token-guarded /admin tree for the interventions an operator actually
// needs.  Forcing a sync run, inspecting and replaying dead sync records,
// granting a manual special sticker, and repairing a drifted points
// balance all live here.
//
// Handlers stay thin: decode, call the engine or store, map the error kind
// to a status code.  Deterministic rejections (validation, caps) are 422,
// unknown things are 404, lost races are 409, and everything else is a 500
// with the detail kept in the log rather than the response.
//
// Notes
// -----
//   - Dependencies arrive as narrow interfaces so tests run against fakes.
//   - Oxford commas, two spaces after periods.
package ops

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perkloop/loyalty/internal/crmsync"
	"github.com/perkloop/loyalty/internal/middleware"
	"github.com/perkloop/loyalty/internal/points"
	"github.com/perkloop/loyalty/internal/sticker"
	"github.com/perkloop/loyalty/internal/tenant"
)

// TenantSource resolves a slug to a loaded tenant.  *tenant.Cache is the
// production implementation.
type TenantSource interface {
	Get(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// SyncControl triggers an immediate sync run for one tenant.
// *crmsync.Supervisor is the production implementation.
type SyncControl interface {
	Force(ctx context.Context, slug string) (crmsync.RunStats, error)
}

// Server wires the operator endpoints to their dependencies.
type Server struct {
	DB         *sqlx.DB
	Tenants    TenantSource
	Sync       SyncControl
	Stickers   *sticker.Engine
	Ledger     *points.Ledger
	AdminToken string
}

// Routes builds the full ops router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Security)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(middleware.AdminToken(s.AdminToken))
		ar.Post("/tenants/{slug}/sync", s.handleForceSync)
		ar.Get("/tenants/{slug}/sync/dead", s.handleListDead)
		ar.Post("/sync/{id}/replay", s.handleReplay)
		ar.Post("/tenants/{slug}/stickers", s.handleGrantSticker)
		ar.Post("/tenants/{slug}/members/{member}/repair", s.handleRepairBalance)
	})
	return r
}

// handleHealth reports liveness plus database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "database": "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
