// internal/middleware/security.go
//
// Security-header middleware.
//
// Injects conservative defaults on every ops-plane response:
//
//   - Strict-Transport-Security  -  forces HTTPS (2 years + preload)
//   - X-Frame-Options            -  click-jacking defence
//   - X-Content-Type-Options     -  MIME-sniffing defence
//   - Referrer-Policy            -  drops path/query from Referer
//
// Notes
// -----
//   - Headers are added *after* next.ServeHTTP so handlers may set
//     Content-Type first; the middleware never overwrites an existing value.
//   - HSTS stays useful behind a TLS-terminating proxy because browsers see
//     the public host as HTTPS.
//   - Oxford commas, two spaces after periods.
package middleware

import "net/http"

// Security sets security headers for every response.
func Security(next http.Handler) http.Handler {
	const (
		hsts  = "max-age=63072000; includeSubDomains; preload"
		xfo   = "DENY"
		nosn  = "nosniff"
		refer = "strict-origin-when-cross-origin"
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		add := w.Header().Add

		if w.Header().Get("Strict-Transport-Security") == "" {
			add("Strict-Transport-Security", hsts)
		}
		if w.Header().Get("X-Frame-Options") == "" {
			add("X-Frame-Options", xfo)
		}
		if w.Header().Get("X-Content-Type-Options") == "" {
			add("X-Content-Type-Options", nosn)
		}
		if w.Header().Get("Referrer-Policy") == "" {
			add("Referrer-Policy", refer)
		}
	})
}
