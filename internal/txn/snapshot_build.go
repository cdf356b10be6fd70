package txn

import (
	"context"

	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

// buildSnapshot projects persisted instance-graph state (queried from
// the vertex store, minus any staged deletes) plus this transaction's
// staged instances into the schema.Snapshot shape Validate consumes.
// Temp IDs are used as-is: Validate only cares about structural
// identity and equality within one snapshot, not about whether an ID
// happens to be a pool-minted real one or a transaction-local temp one.
func (t *Transaction) buildSnapshot(ctx context.Context, g *schema.Graph, staged *stagedMutations) (schema.Snapshot, error) {
	snap := schema.Snapshot{Graph: g}

	deleted := make(map[schema.ConceptID]bool, len(staged.deletes))
	for _, d := range staged.deletes {
		deleted[d.id] = true
	}

	for _, c := range g.All() {
		if !c.IsType() || c.Abstract {
			continue
		}
		verts, err := t.ks.store.ScanByType(ctx, c.ID)
		if err != nil {
			return schema.Snapshot{}, err
		}
		for _, v := range verts {
			if deleted[v.ID] {
				continue
			}
			switch v.Kind {
			case instance.RelationKind:
				edges, err := t.ks.store.Edges(ctx, v.ID)
				if err != nil {
					return schema.Snapshot{}, err
				}
				rv := schema.RelationView{ID: v.ID, Type: v.Type}
				for _, e := range edges {
					if e.Role == schema.HasEdgeRoleID || deleted[e.Player] {
						continue
					}
					playerType := t.instanceType(ctx, e.Player, staged)
					rv.Castings = append(rv.Castings, schema.CastingView{Role: e.Role, Relation: v.ID, Player: e.Player, PlayerType: playerType})
				}
				snap.Relations = append(snap.Relations, rv)
				snap.Instances = append(snap.Instances, schema.InstanceView{ID: v.ID, Type: v.Type})
			case instance.EntityKind, instance.AttributeKind:
				snap.Instances = append(snap.Instances, schema.InstanceView{ID: v.ID, Type: v.Type})
				edges, err := t.ks.store.Edges(ctx, v.ID)
				if err != nil {
					return schema.Snapshot{}, err
				}
				for _, e := range edges {
					if e.Role != schema.HasEdgeRoleID || deleted[e.Player] {
						continue
					}
					val, attrType := t.attributeValue(ctx, e.Player, staged)
					snap.AttributeOwners = append(snap.AttributeOwners, schema.AttributeOwnerView{
						AttributeType: attrType, Value: val, Owner: v.ID, OwnerType: v.Type,
					})
				}
			}
		}
	}

	for _, si := range staged.instances {
		snap.Instances = append(snap.Instances, schema.InstanceView{ID: si.id, Type: si.typ})
		if si.kind == instance.RelationKind {
			rv := schema.RelationView{ID: si.id, Type: si.typ}
			for _, c := range si.castings {
				if c.role == schema.HasEdgeRoleID {
					continue
				}
				rv.Castings = append(rv.Castings, schema.CastingView{
					Role: c.role, Relation: si.id, Player: c.player, PlayerType: t.instanceType(ctx, c.player, staged),
				})
			}
			snap.Relations = append(snap.Relations, rv)
		}
		for _, c := range si.castings {
			if c.role != schema.HasEdgeRoleID {
				continue
			}
			val, attrType := t.attributeValue(ctx, c.player, staged)
			snap.AttributeOwners = append(snap.AttributeOwners, schema.AttributeOwnerView{
				AttributeType: attrType, Value: val, Owner: si.id, OwnerType: si.typ,
			})
		}
	}

	return snap, nil
}

// instanceType resolves id's schema type, checking staged instances
// first (they are not yet visible to the store).
func (t *Transaction) instanceType(ctx context.Context, id schema.ConceptID, staged *stagedMutations) schema.ConceptID {
	for _, si := range staged.instances {
		if si.id == id {
			return si.typ
		}
	}
	v, ok, err := t.ks.store.GetVertex(ctx, id)
	if err != nil || !ok {
		return 0
	}
	return v.Type
}

// attributeValue resolves an attribute instance's (value, type) pair,
// checking staged instances first.
func (t *Transaction) attributeValue(ctx context.Context, id schema.ConceptID, staged *stagedMutations) (any, schema.ConceptID) {
	for _, si := range staged.instances {
		if si.id == id {
			return si.value, si.typ
		}
	}
	v, ok, err := t.ks.store.GetVertex(ctx, id)
	if err != nil || !ok {
		return nil, 0
	}
	return v.Value, v.Type
}
