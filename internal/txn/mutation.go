package txn

import (
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

// tempBase is the base of the IDs a transaction hands out to concepts and
// instances it stages but has not yet minted a real ID for from the pool.
// Staged IDs count up from tempBase+1 for the transaction's lifetime; they are
// never visible outside the transaction and are fully replaced by real
// pool-minted IDs during commit's mint phase, which runs only after
// Validate has accepted the staged snapshot (validation cares about
// structural identity and equality, not about whether an ID happens to
// be temporary or real, so checking the temp-numbered graph first and
// renumbering after is equivalent to checking the final one).
const tempBase = schema.ConceptID(1) << 62

// stagedSchema accumulates put_entity_type/put_relation_type/
// put_attribute_type/put_role/put_rule calls and a transaction's `define`
// statements: concepts not yet in the keyspace's canonical graph, keyed
// by label so a second put_* for the same label is idempotent (the
// round-trip property in SPEC_FULL.md §8: "put_entity_type(L) twice
// returns the same concept").
type stagedSchema struct {
	byLabel map[string]*schema.Concept
	next    schema.ConceptID
}

func newStagedSchema() *stagedSchema {
	return &stagedSchema{byLabel: make(map[string]*schema.Concept), next: tempBase}
}

func (s *stagedSchema) newTemp() schema.ConceptID {
	s.next++
	return s.next
}

// putOrFetch returns the existing staged concept for label if present,
// otherwise stages a fresh one built by build (which receives the newly
// minted temp ID) and returns it.
func (s *stagedSchema) putOrFetch(label string, build func(id schema.ConceptID) *schema.Concept) *schema.Concept {
	if c, ok := s.byLabel[label]; ok {
		return c
	}
	c := build(s.newTemp())
	s.byLabel[label] = c
	return c
}

func (s *stagedSchema) get(label string) (*schema.Concept, bool) {
	c, ok := s.byLabel[label]
	return c, ok
}

// stagedCasting references a role player either by a real, already-
// persisted ConceptID or by the temp ID of an instance staged earlier in
// the same transaction (e.g. `$x isa person` followed by a relation
// pattern naming `$x` as a role player, all within one insert).
type stagedCasting struct {
	role   schema.ConceptID
	player schema.ConceptID
}

// stagedInstance is one Entity/Attribute/Relation created by this
// transaction, identified provisionally by a temp ConceptID until commit
// mints a real one.
type stagedInstance struct {
	id       schema.ConceptID // temp until commit
	kind     instance.Kind
	typ      schema.ConceptID
	value    any // AttributeKind only
	castings []stagedCasting
}

// stagedDelete marks an already-persisted instance (and, if it is a
// Relation, its castings) for removal at commit.
type stagedDelete struct {
	id schema.ConceptID
}

// stagedMutations is a transaction's complete pending write set. By
// design a transaction stages either schema changes or instance changes,
// never both: the literal end-to-end scenarios always commit a `define`
// before any `insert` that depends on it, and mixing the two would
// require resolving instance types against a schema graph that is
// simultaneously being edited mid-transaction. Attempting to mix raises
// ErrMixedMutationKinds.
type stagedMutations struct {
	schema    *stagedSchema
	instances []*stagedInstance
	deletes   []stagedDelete
}

func newStagedMutations() *stagedMutations {
	return &stagedMutations{schema: newStagedSchema()}
}

func (m *stagedMutations) empty() bool {
	return len(m.schema.byLabel) == 0 && len(m.instances) == 0 && len(m.deletes) == 0
}

func (m *stagedMutations) hasSchemaChanges() bool { return len(m.schema.byLabel) > 0 }
func (m *stagedMutations) hasInstanceChanges() bool {
	return len(m.instances) > 0 || len(m.deletes) > 0
}
