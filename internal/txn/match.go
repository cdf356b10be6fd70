package txn

import (
	"context"

	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/schema"
)

// hasEdge is one owner->attribute ownership fact gathered for matching.
type hasEdge struct {
	attrType schema.ConceptID
	attrID   schema.ConceptID
	value    any
}

// castingFact is one role/player pair of a relation, gathered for
// matching.
type castingFact struct {
	role   schema.ConceptID
	player schema.ConceptID
}

// factIndex is the staged-plus-persisted instance graph, shaped for the
// match engine rather than for Validate (see buildSnapshot for that
// shape). It only ever reflects this transaction's own view: staged
// instances are visible to it and to nothing else, which is what gives
// scenario 3 ("open tx_write_1, stage an insert, don't commit; tx_2 from
// another thread sees count 0") its uncommitted isolation.
type factIndex struct {
	typeOf   map[schema.ConceptID]schema.ConceptID
	byType   map[schema.ConceptID][]schema.ConceptID
	hasEdges map[schema.ConceptID][]hasEdge
	castings map[schema.ConceptID][]castingFact
}

func newFactIndex() *factIndex {
	return &factIndex{
		typeOf:   make(map[schema.ConceptID]schema.ConceptID),
		byType:   make(map[schema.ConceptID][]schema.ConceptID),
		hasEdges: make(map[schema.ConceptID][]hasEdge),
		castings: make(map[schema.ConceptID][]castingFact),
	}
}

func (f *factIndex) addInstance(id, typ schema.ConceptID) {
	if _, ok := f.typeOf[id]; ok {
		return
	}
	f.typeOf[id] = typ
	f.byType[typ] = append(f.byType[typ], id)
}

func (f *factIndex) addHas(owner, attrType, attrID schema.ConceptID, value any) {
	f.hasEdges[owner] = append(f.hasEdges[owner], hasEdge{attrType: attrType, attrID: attrID, value: value})
}

func (f *factIndex) addCasting(relation, role, player schema.ConceptID) {
	f.castings[relation] = append(f.castings[relation], castingFact{role: role, player: player})
}

// gatherFacts builds a factIndex over every non-abstract type's
// instances, excluding staged deletes, plus this transaction's own
// staged instances.
func (t *Transaction) gatherFacts(ctx context.Context) (*factIndex, error) {
	f := newFactIndex()
	deleted := make(map[schema.ConceptID]bool, len(t.staged.deletes))
	for _, d := range t.staged.deletes {
		deleted[d.id] = true
	}

	g := t.ks.schemaView()
	for _, c := range g.All() {
		if !c.IsType() || c.Abstract {
			continue
		}
		verts, err := t.ks.store.ScanByType(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range verts {
			if deleted[v.ID] {
				continue
			}
			f.addInstance(v.ID, v.Type)
			edges, err := t.ks.store.Edges(ctx, v.ID)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if deleted[e.Player] {
					continue
				}
				if e.Role == schema.HasEdgeRoleID {
					attrVal, attrType := t.attributeValue(ctx, e.Player, t.staged)
					f.addInstance(e.Player, attrType)
					f.addHas(v.ID, attrType, e.Player, attrVal)
				} else {
					f.addCasting(v.ID, e.Role, e.Player)
				}
			}
		}
	}

	for _, si := range t.staged.instances {
		f.addInstance(si.id, si.typ)
		for _, c := range si.castings {
			if c.role == schema.HasEdgeRoleID {
				val, attrType := t.attributeValue(ctx, c.player, t.staged)
				f.addHas(si.id, attrType, c.player, val)
			} else {
				f.addCasting(si.id, c.role, c.player)
			}
		}
	}
	return f, nil
}

// matchLocked is the shared Get/Delete evaluator: gather facts (running
// inference first if requested), then join patterns left to right.
func (t *Transaction) matchLocked(ctx context.Context, patterns []query.Pattern, infer bool) ([]Answer, error) {
	facts, err := t.gatherFacts(ctx)
	if err != nil {
		return nil, err
	}
	if infer {
		t.applyInference(facts)
	}

	partials := []Answer{{}}
	for _, p := range patterns {
		var next []Answer
		for _, partial := range partials {
			next = append(next, t.expand(facts, partial, p)...)
		}
		partials = next
		if len(partials) == 0 {
			return nil, nil
		}
	}
	return partials, nil
}

// expand extends one partial binding with every way pattern p can be
// satisfied against facts, given what is already bound.
func (t *Transaction) expand(facts *factIndex, partial Answer, p query.Pattern) []Answer {
	var out []Answer

	bind := func(b Answer, varName string, id, typ schema.ConceptID, value any) (Answer, bool) {
		if existing, ok := b[varName]; ok {
			return b, existing.ID == id
		}
		clone := make(Answer, len(b)+1)
		for k, v := range b {
			clone[k] = v
		}
		clone[varName] = Binding{ID: id, Type: typ, Value: value}
		return clone, true
	}

	switch {
	case p.HasIDRef:
		typ := facts.typeOf[schema.ConceptID(p.IDRef)]
		if b, ok := bind(partial, p.Var, schema.ConceptID(p.IDRef), typ, nil); ok {
			out = append(out, b)
		}

	case len(p.RoleRefs) > 0:
		var candidates []schema.ConceptID
		if existing, ok := partial[p.Var]; ok {
			candidates = []schema.ConceptID{existing.ID}
		} else if p.Isa != "" {
			if typ, ok := t.resolveLabel(p.Isa); ok {
				candidates = facts.byType[typ.ID]
			}
		}
		for _, relID := range candidates {
			b := partial
			ok := true
			b, ok = bind(b, p.Var, relID, facts.typeOf[relID], nil)
			if !ok {
				continue
			}
			for _, rr := range p.RoleRefs {
				role, found := t.resolveLabel(rr.Role)
				if !found {
					ok = false
					break
				}
				playerID, hasPlayer := t.castingPlayer(facts, relID, role.ID, b, rr.Var)
				if !hasPlayer {
					ok = false
					break
				}
				b, ok = bind(b, rr.Var, playerID, facts.typeOf[playerID], nil)
				if !ok {
					break
				}
			}
			if ok {
				out = append(out, b)
			}
		}

	case p.Isa != "":
		typ, found := t.resolveLabel(p.Isa)
		if !found {
			return nil
		}
		for _, id := range t.instancesOfTypeOrSub(facts, typ.ID) {
			b, ok := bind(partial, p.Var, id, facts.typeOf[id], nil)
			if !ok {
				continue
			}
			if p.HasLabel != "" {
				out = append(out, t.expandHas(facts, b, p, id)...)
				continue
			}
			out = append(out, b)
		}

	case p.HasLabel != "" && p.Var != "":
		owner, ok := partial[p.Var]
		if !ok {
			return nil
		}
		out = append(out, t.expandHas(facts, partial, p, owner.ID)...)

	default:
		out = append(out, partial)
	}
	return out
}

func (t *Transaction) expandHas(facts *factIndex, partial Answer, p query.Pattern, owner schema.ConceptID) []Answer {
	attrType, found := t.resolveLabel(p.HasLabel)
	if !found {
		return nil
	}
	var out []Answer
	for _, e := range facts.hasEdges[owner] {
		if e.attrType != attrType.ID {
			continue
		}
		if p.HasValue != nil && e.value != p.HasValue {
			continue
		}
		b := partial
		if p.HasVar != "" {
			clone := make(Answer, len(b)+1)
			for k, v := range b {
				clone[k] = v
			}
			clone[p.HasVar] = Binding{ID: e.attrID, Type: e.attrType, Value: e.value}
			b = clone
		}
		out = append(out, b)
	}
	return out
}

// castingPlayer resolves the player bound to role on relID: either a
// variable already bound in b (the player must match it) or any player
// filling that role.
func (t *Transaction) castingPlayer(facts *factIndex, relID, role schema.ConceptID, b Answer, varName string) (schema.ConceptID, bool) {
	if existing, ok := b[varName]; ok {
		for _, c := range facts.castings[relID] {
			if c.role == role && c.player == existing.ID {
				return c.player, true
			}
		}
		return 0, false
	}
	for _, c := range facts.castings[relID] {
		if c.role == role {
			return c.player, true
		}
	}
	return 0, false
}

// instancesOfTypeOrSub returns every instance whose type is typeID or a
// descendant of it.
func (t *Transaction) instancesOfTypeOrSub(facts *factIndex, typeID schema.ConceptID) []schema.ConceptID {
	g := t.ks.schemaView()
	var out []schema.ConceptID
	for typ, ids := range facts.byType {
		if g.IsAncestor(typeID, typ) {
			out = append(out, ids...)
		}
	}
	return out
}
