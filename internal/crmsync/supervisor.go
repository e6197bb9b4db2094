// internal/crmsync/supervisor.go
//
// Per-tenant scheduling of sync runs.
//
// Context
// -------
// The supervisor wakes on a fixed tick, sweeps the active tenant list,
// and starts a bounded number of parallel tenant runs for those whose
// per-tenant interval has elapsed.  Tenants share nothing during a run:
// each one's CRM session is used by exactly one goroutine at a time.
// Suspended tenants drop out of the sweep because the tenant queries
// exclude them, which also pauses their sync loop.
//
// Force triggers one immediate run for a single tenant, bypassing the
// interval gate but never the per-record backoff holds; those live in
// `next_attempt_at` and are honoured by ListDue regardless of how the
// run was started.
//
// Notes
// -----
//   - lastRun is in-process state only.  Two supervisor processes may
//     both start a tenant run; record claims keep that safe, just mildly
//     wasteful.
//   - Oxford commas, two spaces after periods.
package crmsync

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perkloop/loyalty/internal/tenant"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

// Supervisor owns the periodic sweep.
type Supervisor struct {
	DB          *sqlx.DB
	Cache       *tenant.Cache
	Worker      *Worker
	Tick        time.Duration
	Parallelism int

	mu      sync.Mutex
	lastRun map[uint64]time.Time

	// now is swappable for tests.
	now func() time.Time
}

func (s *Supervisor) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Run blocks, sweeping every Tick until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	tick := s.Tick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	zap.S().Infow("sync supervisor online", "tick", tick)
	for {
		select {
		case <-ctx.Done():
			zap.S().Infow("sync supervisor stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs every due tenant, bounded by Parallelism.
func (s *Supervisor) sweep(ctx context.Context) {
	tenants, err := meta.AllActive(ctx, s.DB)
	if err != nil {
		zap.S().Errorw("sync sweep: tenant listing failed", "err", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := s.Parallelism
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i := range tenants {
		rec := tenants[i]
		if rec.CRMURL == "" {
			continue
		}
		g.Go(func() error {
			ten, err := s.Cache.Get(gctx, rec.Slug)
			if err != nil {
				zap.S().Errorw("sync sweep: tenant load failed", "tenant", rec.Slug, "err", err)
				return nil // one broken tenant never stops the sweep
			}
			if !s.claimInterval(ten.Meta.ID, ten.Rules.SyncInterval) {
				return nil
			}
			if _, err := s.Worker.Run(gctx, ten); err != nil {
				zap.S().Errorw("sync run failed", "tenant", rec.Slug, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Force runs one tenant immediately, bypassing the interval gate.
func (s *Supervisor) Force(ctx context.Context, slug string) (RunStats, error) {
	ten, err := s.Cache.Get(ctx, slug)
	if err != nil {
		return RunStats{}, err
	}
	s.markRun(ten.Meta.ID)
	return s.Worker.Run(ctx, ten)
}

// claimInterval reports whether the tenant's interval has elapsed, and
// stamps the run when it has.
func (s *Supervisor) claimInterval(tenantID uint64, interval time.Duration) bool {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		s.lastRun = make(map[uint64]time.Time)
	}
	if last, ok := s.lastRun[tenantID]; ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[tenantID] = now
	return true
}

func (s *Supervisor) markRun(tenantID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		s.lastRun = make(map[uint64]time.Time)
	}
	s.lastRun[tenantID] = s.clock()
}
