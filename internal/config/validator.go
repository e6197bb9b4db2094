// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Any tag
// mismatch or validation error aborts startup, ensuring the daemon never
// runs with partial, malformed, or missing configuration.
//
// The rules we rely on are `required` and `hostname_port`, attached to
// fields such as `Database.DSN` and `HTTP.ListenAddr`.  Per-tenant loyalty
// rules are validated separately by internal/tenant/meta, which shares the
// same validator idiom.
//
// Notes
// -----
//   • Oxford commas, two spaces after periods.

package config

import "github.com/go-playground/validator/v10"

//
// validator instance (package-level singleton)
//

var v = validator.New()

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}
