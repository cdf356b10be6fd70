package schema

// Graph is the schema arena: every SchemaConcept in a keyspace's schema,
// keyed by ConceptID. A Graph is built fresh per transaction (staged
// schema mutations merged over the persisted schema) and handed to
// Validate. The validator's only writes to it are check 8's: it fills in
// each Rule's PositiveHypothesis/NegativeHypothesis/Conclusion sets.
type Graph struct {
	concepts map[ConceptID]*Concept
	byLabel  map[string]ConceptID
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		concepts: make(map[ConceptID]*Concept),
		byLabel:  make(map[string]ConceptID),
	}
}

// Put inserts or replaces a concept in the arena.
func (g *Graph) Put(c *Concept) {
	g.concepts[c.ID] = c
	if c.Label != "" {
		g.byLabel[c.Label] = c.ID
	}
}

// Get returns the concept with the given ID, if present.
func (g *Graph) Get(id ConceptID) (*Concept, bool) {
	c, ok := g.concepts[id]
	return c, ok
}

// ByLabel resolves a concept by its schema label.
func (g *Graph) ByLabel(label string) (*Concept, bool) {
	id, ok := g.byLabel[label]
	if !ok {
		return nil, false
	}
	return g.Get(id)
}

// All returns every concept in the arena, in no particular order.
func (g *Graph) All() []*Concept {
	out := make([]*Concept, 0, len(g.concepts))
	for _, c := range g.concepts {
		out = append(out, c)
	}
	return out
}

// OfKind returns every concept of the given kind.
func (g *Graph) OfKind(k Kind) []*Concept {
	var out []*Concept
	for _, c := range g.concepts {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// SuperChain walks from id up through Super links to the root, id
// inclusive, terminating at Thing (or at the first ID this graph cannot
// resolve, which indicates a dangling reference the caller should treat
// as a schema-consistency bug rather than silently ignore).
func (g *Graph) SuperChain(id ConceptID) []ConceptID {
	var chain []ConceptID
	seen := make(map[ConceptID]bool)
	for {
		if seen[id] {
			// A cycle in the super chain is a schema-consistency bug
			// outside what this validator is asked to detect; stop
			// rather than loop forever.
			break
		}
		seen[id] = true
		chain = append(chain, id)
		c, ok := g.Get(id)
		if !ok || c.Super == 0 {
			break
		}
		id = c.Super
	}
	return chain
}

// IsAncestor reports whether ancestor appears in descendant's super
// chain (ancestor == descendant counts as true).
func (g *Graph) IsAncestor(ancestor, descendant ConceptID) bool {
	for _, id := range g.SuperChain(descendant) {
		if id == ancestor {
			return true
		}
	}
	return false
}

// EffectiveRelates returns the union of relates(t) for every t in the
// super chain of relationType, used by the relation-type/role hierarchy
// check to compare a relation type's own roles against its ancestors'.
func (g *Graph) EffectiveRelates(relationType ConceptID) map[ConceptID]bool {
	out := make(map[ConceptID]bool)
	for _, id := range g.SuperChain(relationType) {
		c, ok := g.Get(id)
		if !ok {
			continue
		}
		for _, r := range c.Relates {
			out[r] = true
		}
	}
	return out
}

// PlaysEntryFor walks playerType's super chain looking for a plays
// declaration of role. It returns the nearest (most specific) declaring
// type's entry and true if found.
func (g *Graph) PlaysEntryFor(playerType, role ConceptID) (PlaysEntry, bool) {
	for _, id := range g.SuperChain(playerType) {
		c, ok := g.Get(id)
		if !ok {
			continue
		}
		for _, p := range c.Plays {
			if p.Role == role {
				return p, true
			}
		}
	}
	return PlaysEntry{}, false
}

// AllRequiredPlays returns every (role) this type or an ancestor
// declares required, deduplicated.
func (g *Graph) AllRequiredPlays(typeID ConceptID) []ConceptID {
	seen := make(map[ConceptID]bool)
	var out []ConceptID
	for _, id := range g.SuperChain(typeID) {
		c, ok := g.Get(id)
		if !ok {
			continue
		}
		for _, p := range c.Plays {
			if p.Required && !seen[p.Role] {
				seen[p.Role] = true
				out = append(out, p.Role)
			}
		}
	}
	return out
}

// AllKeys returns every key entry declared by this type or an ancestor.
func (g *Graph) AllKeys(typeID ConceptID) []KeyEntry {
	var out []KeyEntry
	for _, id := range g.SuperChain(typeID) {
		c, ok := g.Get(id)
		if !ok {
			continue
		}
		out = append(out, c.Keys...)
	}
	return out
}
