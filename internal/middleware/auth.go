// internal/middleware/auth.go
//
// Admin-token gate for the operator surface.
//
// Context
// -------
// The ops plane is operator tooling, not a member-facing API, so a single
// shared bearer token is the whole auth story.  The token arrives as
// `Authorization: Bearer <token>` or, for curl convenience, as the
// `X-Admin-Token` header.  Comparison is constant time.
//
// An empty configured token disables the admin surface entirely rather
// than leaving it open.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminToken returns a wrapper that rejects requests lacking the token.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin surface disabled", http.StatusForbidden)
				return
			}
			if subtle.ConstantTimeCompare([]byte(requestToken(r)), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestToken extracts the presented token, preferring the Authorization
// header over X-Admin-Token.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return tok
		}
		return auth
	}
	return r.Header.Get("X-Admin-Token")
}
