// internal/tenant/cache.go
//
// Lazy tenant cache.
//
// Context
// -------
// Tenants are loaded on first touch (ops request, ledger operation, or
// sync sweep), kept in a sync.Map keyed by slug, and evicted on idle TTL
// or LRU pressure.  A singleflight group collapses concurrent cold loads
// of the same tenant, so one slow CRM health check never dogpiles.
//
// Eviction closes the tenant's CRM session; this is the whole lifecycle
// of the per-tenant connection object: open lazily at load, health-check
// once, reuse until eviction, close on the way out.  Suspended or deleted
// tenants never load because the meta queries exclude them at SQL level.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/perkloop/loyalty/internal/metrics"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

// Static defaults.  Override via Options.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 100
	EvictInterval = 5 * time.Minute
)

// Options tunes one Cache.
type Options struct {
	Defaults   meta.Defaults // service-level sync fallbacks
	Creds      CredentialSource
	Dial       Dialer
	IdleTTL    time.Duration
	MaxEntries int
}

// Cache lazily loads tenants, stores them in a sync.Map, and evicts them
// on idle TTL or LRU pressure.
type Cache struct {
	globalDB    *sqlx.DB
	defaults    meta.Defaults
	creds       CredentialSource
	dial        Dialer
	sfg         singleflight.Group
	m           sync.Map
	evictTicker *time.Ticker
	idleTTL     time.Duration
	maxEntries  int
	done        chan struct{}
	closeOnce   sync.Once
}

// New constructs a Cache and starts the background evictor.
func New(global *sqlx.DB, opts Options) *Cache {
	if opts.IdleTTL == 0 {
		opts.IdleTTL = IdleTTL
	}
	if opts.MaxEntries == 0 {
		opts.MaxEntries = MaxEntries
	}
	if opts.Dial == nil {
		opts.Dial = DialOdoo
	}
	if opts.Creds == nil {
		opts.Creds = EnvSource{}
	}
	c := &Cache{
		globalDB:   global,
		defaults:   opts.Defaults,
		creds:      opts.Creds,
		dial:       opts.Dial,
		idleTTL:    opts.IdleTTL,
		maxEntries: opts.MaxEntries,
		done:       make(chan struct{}),
	}
	c.evictTicker = time.NewTicker(EvictInterval)
	go c.evictLoop()
	return c
}

// Get returns the Tenant for slug, loading it on demand.
func (c *Cache) Get(ctx context.Context, slug string) (*Tenant, error) {
	if v, ok := c.m.Load(slug); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.tenant, nil
	}

	v, err, _ := c.sfg.Do(slug, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := c.m.Load(slug); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.tenant, nil
		}
		ten, err := c.loadTenant(ctx, slug)
		if err != nil {
			metrics.TenantLoadErrorsTotal.Inc()
			return nil, err
		}
		ent := &entry{
			tenant:   ten,
			lastSeen: time.Now().UnixNano(),
		}
		c.m.Store(slug, ent)
		metrics.TenantLoadTotal.Inc()
		metrics.ActiveTenants.Inc()
		zap.S().Infow("tenant online", "tenant", slug)
		return ten, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tenant), nil
}

// Evict drops one tenant and closes its CRM session.  Used when a tenant
// is suspended mid-flight.
func (c *Cache) Evict(slug string) {
	if v, ok := c.m.LoadAndDelete(slug); ok {
		_ = v.(*entry).tenant.Close()
		metrics.TenantEvictTotal.Inc()
		metrics.ActiveTenants.Dec()
		zap.S().Infow("tenant evicted", "tenant", slug, "reason", "explicit")
	}
}

// Close stops the evictor and closes every cached session.  Call once on
// shutdown.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.evictTicker.Stop()
		close(c.done)
		c.m.Range(func(key, value any) bool {
			_ = value.(*entry).tenant.Close()
			c.m.Delete(key)
			metrics.ActiveTenants.Dec()
			return true
		})
	})
}
