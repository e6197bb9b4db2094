// internal/config/model.go
//
// Typed configuration model for loyaltyd.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/global.yaml`                        – primary static file,
//   • `LOYALTY_`-prefixed environment overrides – highest precedence.
//
// Per-tenant loyalty rules (caps, point values, sync intervals) do NOT live
// here; they are rows in `tenant_config` and are loaded by the tenant cache.
// This file only carries process-wide knobs.
//
// Validation happens immediately after unmarshal; the daemon fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"` - Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section (ops plane: health, metrics, sync admin)
//

// HTTP holds ops-server tunables.  AdminToken guards the /admin routes; an
// empty token disables them entirely rather than leaving them open.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	AdminToken string `koanf:"admin_token"`
}

//
// Database section
//

// Database holds the DSN for the loyalty schema.  All tenants share one
// schema; every row is partitioned by tenant_id.  The password portion may
// be stored in Vault and spliced in at load time, keeping credentials out
// of flat files and git history.
type Database struct {
	DSN         string `koanf:"dsn" validate:"required"`
	Password    string `koanf:"password"`      // replaces a %s verb in DSN when set
	AutoMigrate bool   `koanf:"auto_migrate"`  // apply embedded DDL at boot
	MaxOpen     int    `koanf:"max_open"`      // pool: max open conns
	MaxIdle     int    `koanf:"max_idle"`      // pool: max idle conns
}

//
// Sync section (outbound CRM pipeline)
//

// Sync holds process-wide defaults for the outbound sync worker.  Interval
// and retry ceilings can be overridden per tenant via tenant_config.
type Sync struct {
	Tick              time.Duration `koanf:"tick"`                // supervisor wake-up granularity
	DefaultInterval   time.Duration `koanf:"default_interval"`    // per-tenant fallback
	DefaultMaxRetries int           `koanf:"default_max_retries"` // per-record fallback
	BaseBackoff       time.Duration `koanf:"base_backoff"`        // first retry delay
	MaxBackoff        time.Duration `koanf:"max_backoff"`         // backoff ceiling
	BatchSize         int           `koanf:"batch_size"`          // records drained per tenant run
	TenantParallelism int           `koanf:"tenant_parallelism"`  // concurrent tenant runs
}

//
// CRM section
//

// CRM holds transport knobs for the external system of record.  Endpoint
// and database name are per-tenant (tenant table); only wire-level tunables
// live here.
type CRM struct {
	RequestTimeout time.Duration `koanf:"request_timeout"` // per-call deadline
	SecretMount    string        `koanf:"secret_mount"`    // Vault KV-v2 mount for tenant CRM keys
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime - never set in YAML or env.  The loader
// discovers `Root` (repo root or LOYALTY_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // LOYALTY_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the daemon lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Sync     Sync     `koanf:"sync"`
	CRM      CRM      `koanf:"crm"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}

// applyDefaults fills zero values with conservative production defaults so
// a minimal YAML still yields a runnable daemon.
func (c *Config) applyDefaults() {
	if c.Sync.Tick == 0 {
		c.Sync.Tick = 30 * time.Second
	}
	if c.Sync.DefaultInterval == 0 {
		c.Sync.DefaultInterval = 15 * time.Minute
	}
	if c.Sync.DefaultMaxRetries == 0 {
		c.Sync.DefaultMaxRetries = 5
	}
	if c.Sync.BaseBackoff == 0 {
		c.Sync.BaseBackoff = time.Minute
	}
	if c.Sync.MaxBackoff == 0 {
		c.Sync.MaxBackoff = time.Hour
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.TenantParallelism == 0 {
		c.Sync.TenantParallelism = 4
	}
	if c.CRM.RequestTimeout == 0 {
		c.CRM.RequestTimeout = 15 * time.Second
	}
	if c.CRM.SecretMount == "" {
		c.CRM.SecretMount = "secret"
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 15
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
}
