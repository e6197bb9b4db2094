// internal/loyalty/entity.go
//
// Closed set of entity types that are mirrored to the external CRM.
// Shared by the sync log (column value), the sync worker (dispatch), and
// the CRM adapters (model mapping), so all three switch exhaustively over
// the same variant.
package loyalty

// EntityType names a local entity class that has an external twin.
type EntityType string

const (
	EntityMember  EntityType = "member"
	EntitySticker EntityType = "sticker"
)

// Valid reports whether t is one of the closed set.
func (t EntityType) Valid() bool {
	switch t {
	case EntityMember, EntitySticker:
		return true
	}
	return false
}

func (t EntityType) String() string { return string(t) }
