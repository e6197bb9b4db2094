// internal/tenant/loader.go
//
// Cold-load of one tenant.  Steps:
//
//  1. Fetch the tenant row (active rows only).
//  2. Fetch key-value config rows and parse them into Rules.
//  3. Resolve the CRM API key (Vault, or env fallback).
//  4. Dial the CRM session and health-check it.
//
// A tenant without a CRM URL loads fine with a nil session; the sync
// supervisor skips it.  A tenant whose configured CRM fails its health
// check does NOT load - a half-working tenant hiding sync failures is
// worse than a visible load error.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/tenant/meta"
)

// Dialer opens a CRM session for one tenant row.
type Dialer func(rec *meta.Record, apiKey string) (crm.Client, error)

func (c *Cache) loadTenant(ctx context.Context, slug string) (*Tenant, error) {
	// 1. tenant row
	rec, err := meta.BySlug(ctx, c.globalDB, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %q: %w", slug, loyalty.ErrNotFound)
		}
		return nil, err
	}

	// 2. key-value config → Rules
	kv, err := meta.ConfigByTenant(ctx, c.globalDB, rec.ID)
	if err != nil {
		return nil, err
	}
	rules, err := meta.ParseRules(kv, c.defaults)
	if err != nil {
		return nil, fmt.Errorf("tenant %q config: %w", slug, err)
	}

	ten := &Tenant{Meta: *rec, Rules: rules}

	// 3+4. CRM session, when configured
	if rec.CRMURL != "" {
		apiKey, err := c.creds.APIKey(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("tenant %q crm credentials: %w", slug, err)
		}
		sess, err := c.dial(rec, apiKey)
		if err != nil {
			return nil, fmt.Errorf("tenant %q crm dial: %w", slug, err)
		}
		if err := sess.TestConnection(ctx); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("tenant %q crm health check: %w", slug, err)
		}
		ten.CRM = sess
	}

	return ten, nil
}
