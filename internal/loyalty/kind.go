// internal/loyalty/kind.go
//
// Closed set of reward kinds.
//
// Context
// -------
// Every sticker (discount token) and every points award is triggered by one
// member action.  The action taxonomy is deliberately a closed enum shared
// by the token engine, the points ledger, and the CRM sync worker, so a new
// kind is added in exactly one place and every switch over Kind stays
// exhaustive.  Free-form strings scattered across services are what this
// replaces.
//
// Notes
// -----
//   - Tag() feeds the code generator; tags must stay inside codegen's
//     unambiguous alphabet.
//   - Oxford commas, two spaces after periods.
package loyalty

import "fmt"

// Kind identifies the member action behind a reward.
type Kind string

const (
	KindSignup  Kind = "signup"  // account creation bonus
	KindSocial  Kind = "social"  // social account connected
	KindReview  Kind = "review"  // review left on a product
	KindVideo   Kind = "video"   // promotional video watched
	KindSpecial Kind = "special" // manually granted by the tenant
)

// Kinds returns all valid kinds in stable order.  Used for config parsing
// and exhaustive-handling tests.
func Kinds() []Kind {
	return []Kind{KindSignup, KindSocial, KindReview, KindVideo, KindSpecial}
}

// Valid reports whether k is one of the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindSignup, KindSocial, KindReview, KindVideo, KindSpecial:
		return true
	}
	return false
}

// Tag returns the single-letter code prefix for the kind.  Letters are
// chosen from the unambiguous code alphabet.
func (k Kind) Tag() string {
	switch k {
	case KindSignup:
		return "S"
	case KindSocial:
		return "C"
	case KindReview:
		return "R"
	case KindVideo:
		return "V"
	case KindSpecial:
		return "X"
	}
	return "X"
}

func (k Kind) String() string { return string(k) }

// ParseKind converts user or config input into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s)}
	}
	return k, nil
}
