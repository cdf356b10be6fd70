package txn

import (
	"context"
	"errors"

	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

// Commit runs §4.2 validation, mints any IDs the staged mutation set
// still needs, and persists — the teacher's validate-then-persist
// three-phase commit shape (see DESIGN.md), generalized from a
// single-row insert to a whole staged mutation set. A no-op read
// transaction's commit is a no-op; a transaction that is already closed
// is also a no-op, matching the round-trip properties in SPEC_FULL.md
// §8.
func (t *Transaction) Commit(ctx context.Context, owner any) error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return nil
	}
	if err := t.checkAccess(owner); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.mode == ModeRead && !t.staged.empty() {
		t.mu.Unlock()
		t.forceClose()
		return ErrReadOnlyCommit
	}
	if t.staged.empty() {
		t.mu.Unlock()
		t.forceClose()
		return nil
	}
	t.state = stateCommitting
	staged := t.staged
	// Unlocked for the remainder of commit: staging methods are no longer
	// reachable once state is stateCommitting (checkAccess only passes
	// for stateOpen), so nothing else will touch `staged` concurrently,
	// and internal calls commit makes (e.g. minting from the pool) must
	// not deadlock trying to re-acquire this same lock.
	t.mu.Unlock()

	g := t.overlayGraph()
	snapshot, err := t.buildSnapshot(ctx, g, staged)
	if err != nil {
		t.forceClose()
		return err
	}
	if diags := schema.Validate(snapshot); len(diags) > 0 {
		t.forceClose()
		return &ValidationFailed{Diagnostics: diags}
	}

	if staged.hasSchemaChanges() {
		if err := t.commitSchema(ctx, g, staged); err != nil {
			t.forceClose()
			return err
		}
	} else {
		if err := t.commitInstances(ctx, staged); err != nil {
			t.forceClose()
			return err
		}
	}

	t.mu.Lock()
	t.state = stateClosed
	t.mu.Unlock()
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

func (t *Transaction) forceClose() {
	t.mu.Lock()
	t.state = stateClosed
	t.mu.Unlock()
	if t.onClose != nil {
		t.onClose()
	}
}

// mintReal pulls the next real ID from the keyspace's pool, wrapping
// failures into the stable PoolError taxonomy.
func (t *Transaction) mintReal(ctx context.Context) (schema.ConceptID, error) {
	n, err := t.ks.pool.Next(ctx)
	if err != nil {
		kind := "backend"
		switch {
		case errors.Is(err, ids.ErrPoolExhausted):
			kind = "exhausted"
		case errors.Is(err, ids.ErrPoolTimeout):
			kind = "timeout"
		case errors.Is(err, ids.ErrPoolClosed):
			kind = "closed"
		}
		return 0, &PoolError{Kind: kind, Err: err}
	}
	return schema.ConceptID(n), nil
}

// commitSchema mints real IDs for every staged schema concept, rewrites
// their internal ConceptID references (Super, Relates, Plays, Keys) from
// temp to real, and merges the result into the keyspace's canonical
// graph. Rule concepts keep whatever PositiveHypothesis/NegativeHypothesis/
// Conclusion sets check 8 populated on the validated overlay graph g,
// translated the same way.
func (t *Transaction) commitSchema(ctx context.Context, g *schema.Graph, staged *stagedMutations) error {
	translate := make(map[schema.ConceptID]schema.ConceptID, len(staged.schema.byLabel))
	for _, c := range staged.schema.byLabel {
		real, err := t.mintReal(ctx)
		if err != nil {
			return err
		}
		translate[c.ID] = real
	}

	tr := func(id schema.ConceptID) schema.ConceptID {
		if real, ok := translate[id]; ok {
			return real
		}
		return id
	}

	delta := make(map[schema.ConceptID]*schema.Concept, len(staged.schema.byLabel))
	for _, sc := range staged.schema.byLabel {
		validated, _ := g.Get(sc.ID) // the same concept, post check-8 side effects
		final := &schema.Concept{
			ID:       tr(sc.ID),
			Kind:     sc.Kind,
			Label:    sc.Label,
			Super:    tr(sc.Super),
			Abstract: sc.Abstract,
			DataType: sc.DataType,
			When:     sc.When,
			Then:     sc.Then,
		}
		for _, r := range sc.Relates {
			final.Relates = append(final.Relates, tr(r))
		}
		for _, p := range sc.Plays {
			final.Plays = append(final.Plays, schema.PlaysEntry{Role: tr(p.Role), Required: p.Required})
		}
		for _, k := range sc.Keys {
			final.Keys = append(final.Keys, schema.KeyEntry{AttributeType: tr(k.AttributeType)})
		}
		if validated != nil {
			final.PositiveHypothesis = translateSet(validated.PositiveHypothesis, tr)
			final.NegativeHypothesis = translateSet(validated.NegativeHypothesis, tr)
			final.Conclusion = translateSet(validated.Conclusion, tr)
		}
		delta[final.ID] = final
	}
	t.ks.mergeSchema(delta)
	return nil
}

func translateSet(in map[schema.ConceptID]struct{}, tr func(schema.ConceptID) schema.ConceptID) map[schema.ConceptID]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[schema.ConceptID]struct{}, len(in))
	for id := range in {
		out[tr(id)] = struct{}{}
	}
	return out
}

// commitInstances mints real IDs for every staged instance, translates
// casting/ownership edge references from temp to real, and persists the
// result plus any staged deletes in one call to the vertex store.
func (t *Transaction) commitInstances(ctx context.Context, staged *stagedMutations) error {
	translate := make(map[schema.ConceptID]schema.ConceptID, len(staged.instances))
	for _, si := range staged.instances {
		real, err := t.mintReal(ctx)
		if err != nil {
			return err
		}
		translate[si.id] = real
	}
	tr := func(id schema.ConceptID) schema.ConceptID {
		if real, ok := translate[id]; ok {
			return real
		}
		return id
	}

	var mutations instance.Mutations
	for _, si := range staged.instances {
		shard := t.shardFor(ctx, si.typ)
		mutations.Vertices = append(mutations.Vertices, instance.Vertex{
			ID: tr(si.id), Type: si.typ, Kind: si.kind, Shard: shard, Value: si.value,
		})
		for _, c := range si.castings {
			mutations.Edges = append(mutations.Edges, instance.Edge{
				Relation: tr(si.id), Role: c.role, Player: tr(c.player),
			})
		}
	}
	for _, d := range staged.deletes {
		mutations.Deletes = append(mutations.Deletes, d.id)
	}

	if err := t.ks.store.Commit(ctx, mutations); err != nil {
		return err
	}
	t.ks.mu.Lock()
	t.ks.commitSeq++
	t.ks.mu.Unlock()
	return nil
}

// shardFor attaches one more instance of typ to its current shard. It
// mints a candidate shard ID from the pool on every call; ShardSet.Attach
// opens that shard only when the attachment crosses the sharding threshold.
func (t *Transaction) shardFor(ctx context.Context, typ schema.ConceptID) instance.ShardID {
	ss := t.ks.shardSetFor(typ, instance.ShardID(typ))
	next, err := t.mintReal(ctx)
	if err != nil {
		// Shard IDs are a best-effort grouping aid, not a correctness
		// invariant; fall back to the current shard rather than fail the
		// whole commit over a shard-rollover mint failure.
		return ss.Current()
	}
	return ss.Attach(instance.ShardID(next))
}
