// internal/tenant/creds.go
//
// Per-tenant CRM credential resolution.
//
// Context
// -------
// CRM API keys never live in the `tenant` table.  The preferred source is
// Vault (KV-v2, one secret per tenant under the configured mount); dev
// and CI environments fall back to environment variables.  Resolution
// happens once per cold load, and Vault responses are TTL-cached inside
// the Vault client itself.
//
// Notes
// -----
//   - Secret layout: `<mount>/tenants/<slug>`, key `crm_api_key`.
//   - Env fallback: `LOYALTY_CRM_API_KEY_<SLUG>` with dashes mapped to
//     underscores, e.g. `LOYALTY_CRM_API_KEY_ACME_SHOP`.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/perkloop/loyalty/internal/config"
	"github.com/perkloop/loyalty/internal/crm"
	"github.com/perkloop/loyalty/internal/crm/odoo"
	"github.com/perkloop/loyalty/internal/tenant/meta"
	"github.com/perkloop/loyalty/internal/vault"
)

// CredentialSource resolves the CRM API key for one tenant.
type CredentialSource interface {
	APIKey(ctx context.Context, rec *meta.Record) (string, error)
}

// VaultSource reads per-tenant keys from a KV-v2 mount.
type VaultSource struct {
	Client *vault.Client
	Mount  string
}

// APIKey fetches `<mount>/tenants/<slug>` key `crm_api_key`, cached for
// five minutes by the underlying client.
func (v VaultSource) APIKey(ctx context.Context, rec *meta.Record) (string, error) {
	path := v.Mount + "/tenants/" + rec.Slug
	return v.Client.GetKV(ctx, path, "crm_api_key", 5*time.Minute)
}

// EnvSource reads per-tenant keys from the process environment.  Dev and
// CI fallback when no Vault is reachable.
type EnvSource struct{}

func (EnvSource) APIKey(_ context.Context, rec *meta.Record) (string, error) {
	name := "LOYALTY_CRM_API_KEY_" + strings.ToUpper(strings.ReplaceAll(rec.Slug, "-", "_"))
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no CRM API key in env %s", name)
}

// DialOdoo is the default Dialer: one Odoo JSON-RPC session per tenant.
func DialOdoo(rec *meta.Record, apiKey string) (crm.Client, error) {
	timeout := 15 * time.Second
	if cfg := config.Get(); cfg != nil {
		timeout = cfg.CRM.RequestTimeout
	}
	return odoo.New(odoo.Config{
		URL:      rec.CRMURL,
		Database: rec.CRMDatabase,
		Login:    rec.CRMLogin,
		APIKey:   apiKey,
		Timeout:  timeout,
	}), nil
}
