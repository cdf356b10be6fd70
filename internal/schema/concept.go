// Package schema implements the global schema/instance invariant checks
// (the Schema Validator) run at transaction commit time. The validator is
// a pure function over a snapshot handed to it by internal/txn: it never
// touches storage, and it never short-circuits — every check runs and
// every diagnostic it finds is reported together.
package schema

// ConceptID indexes into a Graph's arena. Concepts reference each other
// by ConceptID rather than by pointer, per the "cyclic schema
// references" design note: a Role points at the RelationTypes that
// relate it and vice versa, and that cycle is only representable cleanly
// through indirection.
type ConceptID uint64

// Kind tags the SchemaConcept variant a Concept represents.
type Kind uint8

const (
	Thing Kind = iota
	EntityType
	RelationType
	AttributeType
	Role
	Rule
)

func (k Kind) String() string {
	switch k {
	case Thing:
		return "thing"
	case EntityType:
		return "entity-type"
	case RelationType:
		return "relation-type"
	case AttributeType:
		return "attribute-type"
	case Role:
		return "role"
	case Rule:
		return "rule"
	default:
		return "unknown"
	}
}

// PlaysEntry is one entry of a type's `plays` set: the role it may play,
// and whether that role is required (every instance must own exactly one
// relation in it, per the required-role instance check).
type PlaysEntry struct {
	Role     ConceptID
	Required bool
}

// KeyEntry declares that AttributeType is a key for the owning type: the
// attribute's value must be unique across all instances of the owner
// (and its subtypes).
type KeyEntry struct {
	AttributeType ConceptID
}

// Concept is a tagged union over the six SchemaConcept variants. Only the
// fields relevant to Kind are meaningful; this mirrors the teacher's
// preference for a handful of wide structs over a deep interface
// hierarchy when the variant set is small and closed.
type Concept struct {
	ID    ConceptID
	Kind  Kind
	Label string

	// Super is the direct supertype; zero means "no super" (only Thing,
	// the schema graph's root, has no super).
	Super    ConceptID
	Abstract bool

	// RelationType only: the roles it relates.
	Relates []ConceptID

	// Any Type (EntityType, RelationType, AttributeType): roles it plays.
	Plays []PlaysEntry

	// Any Type: attribute types that key it.
	Keys []KeyEntry

	// AttributeType only.
	DataType string

	// Rule only. When/Then hold the raw pattern text (query-language
	// parsing is out of scope for this package); the hypothesis/
	// conclusion sets are populated as a side effect of the rule
	// well-formedness check and consumed by the stratifiability check.
	When                string
	Then                string
	PositiveHypothesis  map[ConceptID]struct{}
	NegativeHypothesis  map[ConceptID]struct{}
	Conclusion          map[ConceptID]struct{}
}

func (c *Concept) IsType() bool {
	return c.Kind == EntityType || c.Kind == RelationType || c.Kind == AttributeType
}

func (c *Concept) IsRelationType() bool { return c.Kind == RelationType }
func (c *Concept) IsRole() bool         { return c.Kind == Role }
func (c *Concept) IsRule() bool         { return c.Kind == Rule }

// RequiredPlays returns the roles this concept must play exactly once
// per instance.
func (c *Concept) RequiredPlays() []ConceptID {
	var out []ConceptID
	for _, p := range c.Plays {
		if p.Required {
			out = append(out, p.Role)
		}
	}
	return out
}
