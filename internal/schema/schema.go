// internal/schema/schema.go
//
// Embedded DDL for the loyalty schema.
//
// Context
// -------
// All tenants share one MySQL schema; every domain row carries a tenant_id.
// The statements below are idempotent (IF NOT EXISTS) and are applied at
// boot when `database.auto_migrate` is set, which keeps dev and CI setups
// to a single binary.  Production environments run the same DDL through
// their migration tooling instead.
//
// Two constraints here are load-bearing, not decorative:
//
//   - `uq_sticker_code` makes redemption codes unique across ALL tenants.
//     The code generator relies on this index for its insert-if-absent
//     retry loop; there is intentionally no in-memory used-code set.
//   - `uq_ledger_idem` makes point awards idempotent per (tenant, key).
//
// Notes
// -----
//   - Column order matches the Go structs in each owning package.
//   - Oxford commas, two spaces after periods.
package schema

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Statements holds the full DDL in dependency order.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS tenant (
	    id            BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
	    slug          VARCHAR(64)   NOT NULL,
	    name          VARCHAR(256)  NOT NULL,
	    crm_url       VARCHAR(512)  NOT NULL DEFAULT '',
	    crm_database  VARCHAR(128)  NOT NULL DEFAULT '',
	    crm_login     VARCHAR(128)  NOT NULL DEFAULT '',
	    suspended_at  TIMESTAMP NULL,
	    deleted_at    TIMESTAMP NULL,
	    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	    UNIQUE KEY uq_tenant_slug (slug)
	)`,

	`CREATE TABLE IF NOT EXISTS tenant_config (
	    tenant_id BIGINT UNSIGNED NOT NULL,
	    ` + "`key`" + `     VARCHAR(128) NOT NULL,
	    value     VARCHAR(512) NOT NULL,
	    PRIMARY KEY (tenant_id, ` + "`key`" + `)
	)`,

	`CREATE TABLE IF NOT EXISTS member (
	    id                     BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
	    tenant_id              BIGINT UNSIGNED NOT NULL,
	    member_id              BIGINT UNSIGNED NOT NULL,
	    points_balance         INT NOT NULL DEFAULT 0,
	    total_discount_percent INT NOT NULL DEFAULT 0,
	    external_id            VARCHAR(64) NULL,
	    created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	    UNIQUE KEY uq_member (tenant_id, member_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sticker (
	    id               BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
	    tenant_id        BIGINT UNSIGNED NOT NULL,
	    member_id        BIGINT UNSIGNED NOT NULL,
	    code             VARCHAR(16)  NOT NULL,
	    discount_percent INT          NOT NULL,
	    kind             VARCHAR(16)  NOT NULL,
	    state            VARCHAR(16)  NOT NULL DEFAULT 'issued',
	    issued_at        TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    expires_at       TIMESTAMP    NOT NULL,
	    redeemed_at      TIMESTAMP NULL,
	    external_id      VARCHAR(64) NULL,
	    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	    UNIQUE KEY uq_sticker_code (code),
	    KEY ix_sticker_member (tenant_id, member_id)
	)`,

	`CREATE TABLE IF NOT EXISTS points_ledger_entry (
	    id              BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
	    tenant_id       BIGINT UNSIGNED NOT NULL,
	    member_id       BIGINT UNSIGNED NOT NULL,
	    points_delta    INT          NOT NULL,
	    kind            VARCHAR(16)  NOT NULL,
	    reason          VARCHAR(256) NOT NULL DEFAULT '',
	    idempotency_key VARCHAR(128) NOT NULL,
	    external_ref    VARCHAR(128) NULL,
	    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    UNIQUE KEY uq_ledger_idem (tenant_id, idempotency_key),
	    KEY ix_ledger_member (tenant_id, member_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_record (
	    id              CHAR(36) PRIMARY KEY,
	    tenant_id       BIGINT UNSIGNED NOT NULL,
	    entity_type     VARCHAR(16) NOT NULL,
	    entity_id       BIGINT UNSIGNED NOT NULL,
	    operation       VARCHAR(8)  NOT NULL,
	    state           VARCHAR(16) NOT NULL DEFAULT 'pending',
	    retry_count     INT NOT NULL DEFAULT 0,
	    max_retries     INT NOT NULL DEFAULT 5,
	    next_attempt_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    last_error      TEXT NULL,
	    external_id     VARCHAR(64) NULL,
	    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	    KEY ix_sync_tenant_state (tenant_id, state),
	    KEY ix_sync_due (state, next_attempt_at)
	)`,
}

// Apply executes every DDL statement in order.  Safe to run repeatedly.
func Apply(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range Statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
