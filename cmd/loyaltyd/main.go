// cmd/loyaltyd/main.go
//
// loyaltyd - loyalty ledger daemon entry point.
//
// Boot sequence
// -------------
//
//  1. Load config (conf/global.yaml, .env, LOYALTY_ env overrides).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Open the shared loyalty database; optionally apply the embedded DDL.
//
//  4. Resolve the tenant credential source: Vault when VAULT_ADDR is set,
//     env-variable fallback otherwise.
//
//  5. Build the tenant cache (lazy-loads each tenant, one CRM session each).
//
//  6. Start the notification dispatcher and the two engines (points ledger,
//     sticker engine).
//
//  7. Start the sync supervisor goroutine (periodic per-tenant CRM drains).
//
//  8. Serve the ops plane (healthz, metrics, /admin) until SIGINT/SIGTERM,
//     then shut down in reverse order: HTTP first, then supervisor, then
//     dispatcher and cache.
//
// Large comment blocks are framed by blank "//" lines; inline comments use
// a single "//".
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perkloop/loyalty/internal/config"
	"github.com/perkloop/loyalty/internal/crmsync"
	"github.com/perkloop/loyalty/internal/database"
	"github.com/perkloop/loyalty/internal/logger"
	"github.com/perkloop/loyalty/internal/notify"
	"github.com/perkloop/loyalty/internal/ops"
	"github.com/perkloop/loyalty/internal/points"
	"github.com/perkloop/loyalty/internal/schema"
	"github.com/perkloop/loyalty/internal/server"
	"github.com/perkloop/loyalty/internal/sticker"
	"github.com/perkloop/loyalty/internal/tenant"
	"github.com/perkloop/loyalty/internal/tenant/meta"
	"github.com/perkloop/loyalty/internal/vault"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	//
	// ── 1.  Config ──────────────────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Logger ──────────────────────────────────────────────────────
	//
	logOut, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer logOut.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//
	// ── 3.  Database ────────────────────────────────────────────────────
	//
	db, err := database.OpenWithOptions(ctx, cfg.ResolveDSN(), database.Options{
		MaxOpenConns: cfg.Database.MaxOpen,
		MaxIdleConns: cfg.Database.MaxIdle,
		Retries:      3,
	})
	if err != nil {
		logOut.Fatalw("connect database", "err", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := schema.Apply(ctx, db); err != nil {
			logOut.Fatalw("apply schema", "err", err)
		}
	}

	// Log active-tenant count as an early sanity check.
	var active int
	_ = db.GetContext(ctx, &active, `
	    SELECT COUNT(*) FROM tenant
	    WHERE suspended_at IS NULL AND deleted_at IS NULL`)
	logOut.Infow("database online", "active_tenants", active)

	//
	// ── 4.  Credential source ───────────────────────────────────────────
	//
	var creds tenant.CredentialSource = tenant.EnvSource{}
	if os.Getenv("VAULT_ADDR") != "" {
		vc, err := vault.New(ctx, logOut.Infof)
		if err != nil {
			logOut.Fatalw("vault init", "err", err)
		}
		creds = tenant.VaultSource{Client: vc, Mount: cfg.CRM.SecretMount}
		logOut.Infow("vault credential source online", "mount", cfg.CRM.SecretMount)
	}

	//
	// ── 5.  Tenant cache (lazy loader, one CRM session per tenant) ─────
	//
	cache := tenant.New(db, tenant.Options{
		Defaults: meta.Defaults{
			SyncInterval: cfg.Sync.DefaultInterval,
			MaxRetries:   cfg.Sync.DefaultMaxRetries,
		},
		Creds: creds,
	})

	//
	// ── 6.  Dispatcher and engines ─────────────────────────────────────
	//
	dispatcher := notify.NewDispatcher(0, nil)
	stickers := sticker.NewEngine(db, dispatcher)
	ledger := &points.Ledger{DB: db, Sink: dispatcher}

	//
	// ── 7.  Sync supervisor ────────────────────────────────────────────
	//
	worker := &crmsync.Worker{
		DB: db,
		Backoff: crmsync.Backoff{
			Base: cfg.Sync.BaseBackoff,
			Max:  cfg.Sync.MaxBackoff,
		},
		BatchSize:   cfg.Sync.BatchSize,
		CallTimeout: cfg.CRM.RequestTimeout,
	}
	super := &crmsync.Supervisor{
		DB:          db,
		Cache:       cache,
		Worker:      worker,
		Tick:        cfg.Sync.Tick,
		Parallelism: cfg.Sync.TenantParallelism,
	}
	superDone := make(chan struct{})
	go func() {
		defer close(superDone)
		if err := super.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logOut.Errorw("sync supervisor exited", "err", err)
		}
	}()

	//
	// ── 8.  Ops server ─────────────────────────────────────────────────
	//
	opsSrv := &ops.Server{
		DB:         db,
		Tenants:    cache,
		Sync:       super,
		Stickers:   stickers,
		Ledger:     ledger,
		AdminToken: cfg.HTTP.AdminToken,
	}
	httpSrv := server.New(cfg.HTTP.ListenAddr, opsSrv.Routes())
	go func() {
		logOut.Infow("ops server listening", "addr", cfg.HTTP.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logOut.Fatalw("ops server", "err", err)
		}
	}()

	<-ctx.Done()
	logOut.Infow("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logOut.Warnw("ops server shutdown", "err", err)
	}
	<-superDone
	dispatcher.Close()
	cache.Close()
	logOut.Infow("shutdown complete")
}
