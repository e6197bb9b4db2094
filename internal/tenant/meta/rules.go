// internal/tenant/meta/rules.go
//
// Typed per-tenant loyalty rules.
//
// Context
// -------
// `Rules` is the immutable aggregate every ledger operation receives in
// place of a global settings object.  It is parsed once from the raw
// `tenant_config` key-value rows at tenant cold-load, validated, and then
// shared read-only by the token engine, the points ledger, and the sync
// supervisor.
//
// Recognised keys
// ---------------
//	loyalty.max_discount_percent   int, 0–100
//	loyalty.discount_per_action    int, 0–100
//	loyalty.token_expiration_days  int, > 0
//	points.<kind>                  int ≥ 0, one per loyalty.Kind
//	sync.interval                  Go duration string ("15m", "1h")
//	sync.max_retries               int ≥ 1
//
// Unset keys fall back to programme defaults, then to the service-level
// defaults passed in by the caller for the sync pair.
//
// Notes
// -----
//   - Parse failures surface as loyalty.ValidationError so operators see
//     which key is malformed instead of a generic 500.
//   - Oxford commas, two spaces after periods.
package meta

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/perkloop/loyalty/internal/loyalty"
)

// Programme defaults for tenants that have not customised a key.
const (
	DefaultMaxDiscountPercent  = 20
	DefaultDiscountPerAction   = 5
	DefaultTokenExpirationDays = 30
)

// defaultPoints seeds points.<kind> for unset kinds.
var defaultPoints = map[loyalty.Kind]int{
	loyalty.KindSignup:  100,
	loyalty.KindSocial:  25,
	loyalty.KindReview:  50,
	loyalty.KindVideo:   10,
	loyalty.KindSpecial: 0,
}

// Defaults carries the service-level fallbacks for the sync pair; they come
// from conf/global.yaml and apply when a tenant sets neither key.
type Defaults struct {
	SyncInterval time.Duration
	MaxRetries   int
}

// Rules is the read-only loyalty configuration of one tenant.
type Rules struct {
	MaxDiscountPercent  int                  `validate:"gte=0,lte=100"`
	DiscountPerAction   int                  `validate:"gte=0,lte=100"`
	TokenExpirationDays int                  `validate:"gt=0"`
	PointsPerAction     map[loyalty.Kind]int `validate:"-"`
	SyncInterval        time.Duration        `validate:"gt=0"`
	MaxRetries          int                  `validate:"gte=1"`
}

var rulesValidator = validator.New()

// ParseRules folds raw tenant_config pairs into a validated Rules value.
func ParseRules(kv map[string]string, def Defaults) (*Rules, error) {
	r := &Rules{
		MaxDiscountPercent:  DefaultMaxDiscountPercent,
		DiscountPerAction:   DefaultDiscountPerAction,
		TokenExpirationDays: DefaultTokenExpirationDays,
		PointsPerAction:     make(map[loyalty.Kind]int, len(defaultPoints)),
		SyncInterval:        def.SyncInterval,
		MaxRetries:          def.MaxRetries,
	}
	for k, v := range defaultPoints {
		r.PointsPerAction[k] = v
	}

	var err error
	if s, ok := kv["loyalty.max_discount_percent"]; ok {
		if r.MaxDiscountPercent, err = parseInt("loyalty.max_discount_percent", s); err != nil {
			return nil, err
		}
	}
	if s, ok := kv["loyalty.discount_per_action"]; ok {
		if r.DiscountPerAction, err = parseInt("loyalty.discount_per_action", s); err != nil {
			return nil, err
		}
	}
	if s, ok := kv["loyalty.token_expiration_days"]; ok {
		if r.TokenExpirationDays, err = parseInt("loyalty.token_expiration_days", s); err != nil {
			return nil, err
		}
	}
	for _, kind := range loyalty.Kinds() {
		key := "points." + kind.String()
		if s, ok := kv[key]; ok {
			n, perr := parseInt(key, s)
			if perr != nil {
				return nil, perr
			}
			if n < 0 {
				return nil, &loyalty.ValidationError{Field: key, Reason: "must not be negative"}
			}
			r.PointsPerAction[kind] = n
		}
	}
	if s, ok := kv["sync.interval"]; ok {
		d, perr := time.ParseDuration(s)
		if perr != nil {
			return nil, &loyalty.ValidationError{Field: "sync.interval", Reason: perr.Error()}
		}
		r.SyncInterval = d
	}
	if s, ok := kv["sync.max_retries"]; ok {
		if r.MaxRetries, err = parseInt("sync.max_retries", s); err != nil {
			return nil, err
		}
	}

	if verr := rulesValidator.Struct(r); verr != nil {
		return nil, &loyalty.ValidationError{Field: "tenant_config", Reason: verr.Error()}
	}
	return r, nil
}

// PointsFor returns the points value for one action kind.
func (r *Rules) PointsFor(kind loyalty.Kind) int { return r.PointsPerAction[kind] }

// ExpiryFrom computes a sticker expiration from the issue instant.
func (r *Rules) ExpiryFrom(now time.Time) time.Time {
	return now.Add(time.Duration(r.TokenExpirationDays) * 24 * time.Hour)
}

func parseInt(key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &loyalty.ValidationError{Field: key, Reason: fmt.Sprintf("not an integer: %q", s)}
	}
	return n, nil
}
