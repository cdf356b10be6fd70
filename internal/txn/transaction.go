package txn

import (
	"context"
	"sync"

	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/schema"
)

// Mode is a transaction's read/write mode, fixed at creation.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

type txState int32

const (
	stateOpen txState = iota
	stateCommitting
	stateClosed
)

// Transaction mediates reads, writes, and commit against one Keyspace.
// It is bound to the thread (goroutine) that created it: Go exposes no
// public goroutine-ID API, so thread affinity is modeled as an opaque,
// caller-supplied comparable Owner token passed explicitly to every
// method, rather than introspected runtime identity — see DESIGN.md's
// Open Question ledger. A call whose owner does not match the creating
// owner is treated exactly like a call on a closed transaction, per the
// spec's "cross-thread use is indistinguishable from use-after-close"
// rule.
type Transaction struct {
	ks    *Keyspace
	mode  Mode
	owner any

	mu    sync.Mutex
	state txState

	staged *stagedMutations
	parser query.Parser

	onClose func()
}

func newTransaction(ks *Keyspace, mode Mode, owner any, parser query.Parser, onClose func()) *Transaction {
	return &Transaction{
		ks:      ks,
		mode:    mode,
		owner:   owner,
		state:   stateOpen,
		staged:  newStagedMutations(),
		parser:  parser,
		onClose: onClose,
	}
}

// checkAccess enforces the thread-affinity and lifecycle rule. Must be
// called with mu held.
func (t *Transaction) checkAccess(owner any) error {
	if t.state == stateClosed {
		return ErrTransactionClosed
	}
	if owner != t.owner {
		return ErrTransactionClosed
	}
	return nil
}

// CheckMutationAllowed raises ErrReadOnly in read mode, per the
// `check_mutation_allowed()` operation.
func (t *Transaction) CheckMutationAllowed(owner any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return err
	}
	if t.mode == ModeRead {
		return ErrReadOnly
	}
	return nil
}

// overlayGraph returns a fresh schema.Graph combining the keyspace's
// committed concepts with this transaction's staged ones, cloned so
// Validate's check-8 side effects (populating a Rule's hypothesis/
// conclusion sets) never touch the canonical keyspace graph concurrently
// visible to other transactions.
func (t *Transaction) overlayGraph() *schema.Graph {
	g := schema.NewGraph()
	for _, c := range t.ks.schemaView().All() {
		g.Put(cloneConcept(c))
	}
	for _, c := range t.staged.schema.byLabel {
		g.Put(cloneConcept(c))
	}
	return g
}

func cloneConcept(c *schema.Concept) *schema.Concept {
	clone := *c
	clone.Relates = append([]schema.ConceptID(nil), c.Relates...)
	clone.Plays = append([]schema.PlaysEntry(nil), c.Plays...)
	clone.Keys = append([]schema.KeyEntry(nil), c.Keys...)
	clone.PositiveHypothesis = nil
	clone.NegativeHypothesis = nil
	clone.Conclusion = nil
	return &clone
}

func (t *Transaction) resolveLabel(label string) (*schema.Concept, bool) {
	if c, ok := t.staged.schema.get(label); ok {
		return c, true
	}
	if c, ok := t.ks.schemaView().ByLabel(label); ok {
		return c, true
	}
	return nil, false
}

// stageSchemaChange records that this transaction is about to add a
// schema concept, enforcing the schema/instance mutual-exclusion rule.
func (t *Transaction) stageSchemaChange() error {
	if t.staged.hasInstanceChanges() {
		return ErrMixedMutationKinds
	}
	return nil
}

func (t *Transaction) stageInstanceChange() error {
	if t.staged.hasSchemaChanges() {
		return ErrMixedMutationKinds
	}
	return nil
}

// PutEntityType creates-or-fetches an entity type by label.
func (t *Transaction) PutEntityType(owner any, label string) (schema.ConceptID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return 0, err
	}
	if err := t.stageSchemaChange(); err != nil {
		return 0, err
	}
	c := t.staged.schema.putOrFetch(label, func(id schema.ConceptID) *schema.Concept {
		return &schema.Concept{ID: id, Kind: schema.EntityType, Label: label, Super: schema.EntityRootID}
	})
	return c.ID, nil
}

// PutRelationType creates-or-fetches a relation type by label.
func (t *Transaction) PutRelationType(owner any, label string) (schema.ConceptID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return 0, err
	}
	if err := t.stageSchemaChange(); err != nil {
		return 0, err
	}
	c := t.staged.schema.putOrFetch(label, func(id schema.ConceptID) *schema.Concept {
		return &schema.Concept{ID: id, Kind: schema.RelationType, Label: label, Super: schema.RelationRootID}
	})
	return c.ID, nil
}

// PutAttributeType creates-or-fetches an attribute type by label and
// datatype.
func (t *Transaction) PutAttributeType(owner any, label, datatype string) (schema.ConceptID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return 0, err
	}
	if err := t.stageSchemaChange(); err != nil {
		return 0, err
	}
	c := t.staged.schema.putOrFetch(label, func(id schema.ConceptID) *schema.Concept {
		return &schema.Concept{ID: id, Kind: schema.AttributeType, Label: label, Super: schema.AttributeRootID, DataType: datatype}
	})
	return c.ID, nil
}

// PutRole creates-or-fetches a role by label.
func (t *Transaction) PutRole(owner any, label string) (schema.ConceptID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return 0, err
	}
	if err := t.stageSchemaChange(); err != nil {
		return 0, err
	}
	c := t.staged.schema.putOrFetch(label, func(id schema.ConceptID) *schema.Concept {
		return &schema.Concept{ID: id, Kind: schema.Role, Label: label, Super: schema.RoleRootID}
	})
	return c.ID, nil
}

// PutRule creates-or-fetches a rule by an auto-generated label derived
// from its when/then text (rules are otherwise unlabeled in the spec's
// direct put_rule operation; Execute's `define ... sub rule` form lets
// callers give a rule an explicit label instead).
func (t *Transaction) PutRule(owner any, when, then string) (schema.ConceptID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return 0, err
	}
	if err := t.stageSchemaChange(); err != nil {
		return 0, err
	}
	label := "rule#" + when + "=>" + then
	c := t.staged.schema.putOrFetch(label, func(id schema.ConceptID) *schema.Concept {
		return &schema.Concept{ID: id, Kind: schema.Rule, Label: label, Super: schema.RuleRootID, When: when, Then: then}
	})
	return c.ID, nil
}

// GetEntityType, GetRelationType, GetAttributeType, GetRole, and GetRule
// all share the same lookup-by-label shape; getByLabel implements it
// once.
func (t *Transaction) getByLabel(owner any, label string, kind schema.Kind) (schema.ConceptID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return 0, false, err
	}
	c, ok := t.resolveLabel(label)
	if !ok || c.Kind != kind {
		return 0, false, nil
	}
	return c.ID, true, nil
}

func (t *Transaction) GetEntityType(owner any, label string) (schema.ConceptID, bool, error) {
	return t.getByLabel(owner, label, schema.EntityType)
}

func (t *Transaction) GetRelationType(owner any, label string) (schema.ConceptID, bool, error) {
	return t.getByLabel(owner, label, schema.RelationType)
}

func (t *Transaction) GetAttributeType(owner any, label string) (schema.ConceptID, bool, error) {
	return t.getByLabel(owner, label, schema.AttributeType)
}

func (t *Transaction) GetRole(owner any, label string) (schema.ConceptID, bool, error) {
	return t.getByLabel(owner, label, schema.Role)
}

func (t *Transaction) GetRule(owner any, label string) (schema.ConceptID, bool, error) {
	return t.getByLabel(owner, label, schema.Rule)
}

// GetAttributesByValue returns every staged-or-persisted Attribute
// instance, of any attribute type, whose value equals v.
func (t *Transaction) GetAttributesByValue(ctx context.Context, owner any, v any) ([]instance.Attribute, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return nil, err
	}

	var out []instance.Attribute
	for _, si := range t.staged.instances {
		if si.kind == instance.AttributeKind && si.value == v {
			out = append(out, instance.Attribute{Thing: instance.Thing{ID: si.id, Type: si.typ, Kind: instance.AttributeKind}, Value: si.value})
		}
	}
	for typ := range t.attributeTypesLocked() {
		verts, err := t.ks.store.ScanByIndex(ctx, typ, v)
		if err != nil {
			return nil, err
		}
		for _, vx := range verts {
			out = append(out, instance.Attribute{Thing: instance.Thing{ID: vx.ID, Type: vx.Type, Kind: vx.Kind, Shard: vx.Shard}, Value: vx.Value})
		}
	}
	return out, nil
}

func (t *Transaction) attributeTypesLocked() map[schema.ConceptID]struct{} {
	out := make(map[schema.ConceptID]struct{})
	for _, c := range t.ks.schemaView().OfKind(schema.AttributeType) {
		out[c.ID] = struct{}{}
	}
	return out
}

// Shard opens a new current-shard for typeID: subsequent instance
// creations of that type attach to the new shard.
func (t *Transaction) Shard(owner any, typeID schema.ConceptID, newShard instance.ShardID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return err
	}
	ss := t.ks.shardSetFor(typeID, instance.ShardID(typeID))
	ss.OpenNew(newShard)
	return nil
}

// Close discards staged mutations and transitions to closed. Idempotent.
func (t *Transaction) Close(owner any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateClosed {
		return nil
	}
	// Close is the one operation that must succeed even from the wrong
	// thread-affinity token, since a Session closes every outstanding
	// transaction on its own goroutine (scenario: "close() closes all
	// outstanding transactions belonging to this session").
	t.state = stateClosed
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}
