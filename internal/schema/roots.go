package schema

// Reserved ConceptIDs for the Thing root and the five structural-kind
// roots (entity, relation, attribute, role, rule) every keyspace's
// schema graph is seeded with. They never come from the ID pool: they
// are identical across every keyspace and sit far above any block an
// Authority hands out in practice, so they can never collide with a
// minted concept ID.
const (
	ThingRootID     = ConceptID(^uint64(0))
	EntityRootID    = ConceptID(^uint64(0) - 1)
	RelationRootID  = ConceptID(^uint64(0) - 2)
	AttributeRootID = ConceptID(^uint64(0) - 3)
	RoleRootID      = ConceptID(^uint64(0) - 4)
	RuleRootID      = ConceptID(^uint64(0) - 5)

	// HasEdgeRoleID is the reserved Role sentinel used when persisting an
	// attribute-ownership edge (`$x has name "Alice"`) through the same
	// Edge{Relation, Role, Player} shape a Relation's castings use: the
	// "Relation" field holds the owner's ID, "Role" is this sentinel, and
	// "Player" is the attribute instance's ID. This avoids widening the
	// out-of-scope vertex/edge store contract with a second edge kind.
	HasEdgeRoleID = ConceptID(^uint64(0) - 6)
)

// SeedRoots installs the six structural root concepts into g if they
// are not already present. Every schema.Graph a Keyspace works with must
// be seeded exactly once, before any put_* or define operation runs,
// since `person sub entity` resolves "entity" by label against these
// roots.
func SeedRoots(g *Graph) {
	if _, ok := g.Get(ThingRootID); ok {
		return
	}
	g.Put(&Concept{ID: ThingRootID, Kind: Thing, Label: "thing"})
	g.Put(&Concept{ID: EntityRootID, Kind: EntityType, Label: "entity", Super: ThingRootID, Abstract: true})
	g.Put(&Concept{ID: RelationRootID, Kind: RelationType, Label: "relation", Super: ThingRootID, Abstract: true})
	g.Put(&Concept{ID: AttributeRootID, Kind: AttributeType, Label: "attribute", Super: ThingRootID, Abstract: true})
	g.Put(&Concept{ID: RoleRootID, Kind: Role, Label: "role", Super: ThingRootID, Abstract: true})
	g.Put(&Concept{ID: RuleRootID, Kind: Rule, Label: "rule", Super: ThingRootID, Abstract: true})
}
