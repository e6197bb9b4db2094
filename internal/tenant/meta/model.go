// internal/tenant/meta/model.go
//
// `tenant` table row model.
//
// Context
// -------
// The `Record` struct mirrors one row in the persistent **tenant** table,
// capturing the business identity, the coordinates of its external CRM,
// and soft-delete flags.  It is used by the tenant loader to build the
// in-memory cache and by the sync supervisor to enumerate tenants whose
// outbound queue needs draining.
//
// Schema reference (2026-07-14)
//
//	CREATE TABLE tenant (
//	    id            BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
//	    slug          VARCHAR(64)   NOT NULL UNIQUE,
//	    name          VARCHAR(256)  NOT NULL,
//	    crm_url       VARCHAR(512)  NOT NULL DEFAULT '',
//	    crm_database  VARCHAR(128)  NOT NULL DEFAULT '',
//	    crm_login     VARCHAR(128)  NOT NULL DEFAULT '',
//	    suspended_at  TIMESTAMP NULL,
//	    deleted_at    TIMESTAMP NULL,
//	    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
// Notes
// -----
// • Nullable timestamps are `*time.Time`; callers must nil-check before use.
// • `CreatedAt` and `UpdatedAt` are NOT NULL, so plain `time.Time` is safe.
// • This struct contains no behaviour - pure data model for sqlx scans.
package meta

import "time"

// Record mirrors one row in the `tenant` table.
type Record struct {
	ID          uint64     `db:"id"`
	Slug        string     `db:"slug"`
	Name        string     `db:"name"`
	CRMURL      string     `db:"crm_url"`
	CRMDatabase string     `db:"crm_database"`
	CRMLogin    string     `db:"crm_login"`
	SuspendedAt *time.Time `db:"suspended_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Active reports whether the tenant may serve traffic and sync outbound.
// Either timestamp being non-NULL takes the tenant out of rotation.
func (r *Record) Active() bool {
	return r.SuspendedAt == nil && r.DeletedAt == nil
}
