// Package instance implements the instance graph: the Entity, Attribute,
// Relation, and Casting values that populate a keyspace against its
// schema. Things reference their SchemaConcept by schema.ConceptID, never
// by pointer, and their own identity is likewise a schema.ConceptID
// minted by the ID Block Pool — the same arena-and-index pattern the
// schema graph uses, per DESIGN NOTES §9's "global ID monotonicity"
// note.
package instance

import "github.com/vaultgraph/graphd/internal/schema"

// Kind tags which instance-graph variant a Thing represents.
type Kind uint8

const (
	EntityKind Kind = iota
	AttributeKind
	RelationKind
)

// Thing is the common header every instance carries: its own ID, its
// schema type, and which shard it was attached to at creation.
type Thing struct {
	ID    schema.ConceptID
	Type  schema.ConceptID
	Kind  Kind
	Shard ShardID
}

// Entity is a Thing with no further structure beyond its type.
type Entity struct {
	Thing
}

// Attribute is a Thing that owns a scalar value. V is stored as `any` at
// this layer (the concrete value type is validated against the
// AttributeType's DataType by the transaction layer before staging).
type Attribute struct {
	Thing
	Value any
}

// Casting is one edge of a Relation: the role an instance plays in it.
type Casting struct {
	Role       schema.ConceptID
	Player     schema.ConceptID
	PlayerType schema.ConceptID
}

// Relation is a Thing that is a set of Castings. Per the data model
// invariant, every Relation must have at least one Casting by the time a
// transaction commits; a Relation under construction may briefly violate
// this before its castings are added.
type Relation struct {
	Thing
	Castings []Casting
}

// AddCasting appends a casting to the relation. Duplicate (role, player)
// pairs are allowed — the spec does not forbid a player from filling the
// same role for a relation more than once (e.g. irreflexive-role cases
// are a schema concern, checked by the validator, not rejected here).
func (r *Relation) AddCasting(role, player, playerType schema.ConceptID) {
	r.Castings = append(r.Castings, Casting{Role: role, Player: player, PlayerType: playerType})
}
