// internal/codegen/codegen.go
//
// Redemption-code generator.
//
// Context
// -------
// Every sticker carries a short code a member can read over the phone or
// type from a printed voucher, so the alphabet drops visually confusable
// characters (0/O, 1/I/L).  Codes are 8–11 characters: a tenant tag, a
// kind tag, and a cryptographically random suffix.
//
// Uniqueness is global across all tenants and is enforced by the database,
// never by an in-process set: the caller hands us an insert function backed
// by the `uq_sticker_code` unique index, and we retry with a fresh suffix
// when the insert reports a duplicate.  After maxAttempts collisions we
// fall back to a timestamp-derived suffix, which cannot collide with a
// concurrent generator outside the same second and still ends below the
// 11-character ceiling.
//
// Notes
// -----
//   - The insert function must return loyalty.ErrConflict (wrapped or not)
//     for a duplicate code, and execute atomically against durable storage.
//   - Oxford commas, two spaces after periods.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perkloop/loyalty/internal/loyalty"
)

// Alphabet is the unambiguous character set used for tags and suffixes.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	suffixLen   = 6 // random part
	maxAttempts = 4 // collisions tolerated before the timestamp fallback
)

// InsertFunc atomically records a candidate code, returning
// loyalty.ErrConflict when the code already exists.
type InsertFunc func(ctx context.Context, code string) error

// Generate produces a unique code for one sticker and persists it via
// insert.  The returned code has been durably claimed when err is nil.
func Generate(ctx context.Context, tenantSlug string, kind loyalty.Kind, insert InsertFunc) (string, error) {
	prefix := TenantTag(tenantSlug) + kind.Tag()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		suffix, err := randomSuffix(suffixLen)
		if err != nil {
			return "", err
		}
		code := prefix + suffix
		switch err := insert(ctx, code); {
		case err == nil:
			return code, nil
		case errors.Is(err, loyalty.ErrConflict):
			continue // fresh suffix next round
		default:
			return "", err
		}
	}

	// Timestamp fallback.  Seconds-since-epoch in base-31 is currently
	// seven characters, keeping the full code at ten.
	code := prefix + encode(uint64(time.Now().Unix()))
	if err := insert(ctx, code); err != nil {
		if errors.Is(err, loyalty.ErrConflict) {
			return "", fmt.Errorf("code generation exhausted for prefix %s: %w", prefix, err)
		}
		return "", err
	}
	return code, nil
}

// TenantTag folds a tenant slug into a two-character tag drawn from
// Alphabet.  Characters outside the alphabet are skipped; short or fully
// ambiguous slugs pad with 'X'.
func TenantTag(slug string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(slug) {
		if strings.ContainsRune(Alphabet, r) {
			b.WriteRune(r)
			if b.Len() == 2 {
				return b.String()
			}
		}
	}
	for b.Len() < 2 {
		b.WriteByte('X')
	}
	return b.String()
}

// randomSuffix draws n characters from Alphabet using crypto/rand.
func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("codegen random: %w", err)
	}
	out := make([]byte, n)
	for i, c := range buf {
		out[i] = Alphabet[int(c)%len(Alphabet)]
	}
	return string(out), nil
}

// encode renders v in base-len(Alphabet), most significant digit first.
func encode(v uint64) string {
	if v == 0 {
		return string(Alphabet[0])
	}
	base := uint64(len(Alphabet))
	var out []byte
	for v > 0 {
		out = append([]byte{Alphabet[v%base]}, out...)
		v /= base
	}
	return string(out)
}
