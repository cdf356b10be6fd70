package schema

import "fmt"

// Diagnostic is one human-readable validation failure. Check identifies
// which of the nine ordered checks produced it, for tests and logging;
// clients only ever see Message.
type Diagnostic struct {
	Check   int
	Message string
}

func (d Diagnostic) String() string { return d.Message }

// Validate runs all nine checks against snapshot, in order, aggregating
// every diagnostic rather than stopping at the first failing check — a
// commit's caller should see every problem in one round trip, not
// discover them one at a time across repeated commit attempts. Checks 8
// and 9 share state: check 8 populates each Rule's hypothesis/conclusion
// sets as a side effect, which check 9 then reads to build the rule
// dependency graph.
func Validate(s Snapshot) []Diagnostic {
	var diags []Diagnostic
	diags = append(diags, checkRoleRelationLinkage(s.Graph)...)
	diags = append(diags, checkMinimumRoles(s.Graph)...)
	diags = append(diags, checkRelationHierarchy(s.Graph)...)
	diags = append(diags, checkCastingValidity(s)...)
	diags = append(diags, checkRequiredRoleInstances(s)...)
	diags = append(diags, checkKeyUniqueness(s)...)
	diags = append(diags, checkRelationNonEmpty(s)...)
	diags = append(diags, checkRuleWellFormedness(s.Graph)...)
	diags = append(diags, checkRuleStratifiability(s.Graph)...)
	return diags
}

// 1. Role -> Relation linkage.
func checkRoleRelationLinkage(g *Graph) []Diagnostic {
	related := make(map[ConceptID]bool)
	for _, rt := range g.OfKind(RelationType) {
		for _, r := range rt.Relates {
			related[r] = true
		}
	}
	var diags []Diagnostic
	for _, role := range g.OfKind(Role) {
		if role.Abstract {
			continue
		}
		if !related[role.ID] {
			diags = append(diags, Diagnostic{1, fmt.Sprintf("role %q is not related-to by any relation type", role.Label)})
		}
	}
	return diags
}

// 2. Minimum roles.
func checkMinimumRoles(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, rt := range g.OfKind(RelationType) {
		if rt.Abstract {
			continue
		}
		if len(rt.Relates) == 0 {
			diags = append(diags, Diagnostic{2, fmt.Sprintf("relation type %q has no roles in its relates set", rt.Label)})
		}
	}
	return diags
}

// 3. Relation-type/role hierarchy.
func checkRelationHierarchy(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, rt := range g.OfKind(RelationType) {
		if rt.Abstract || rt.Super == 0 {
			continue
		}
		super, ok := g.Get(rt.Super)
		if !ok || super.Kind != RelationType || super.Abstract {
			continue
		}

		ancestorRelates := make(map[ConceptID]bool)
		for _, id := range g.SuperChain(rt.Super) {
			c, ok := g.Get(id)
			if !ok {
				continue
			}
			for _, r := range c.Relates {
				ancestorRelates[r] = true
			}
		}

		for _, role := range rt.Relates {
			if !anyAncestorIn(g, role, ancestorRelates) {
				diags = append(diags, Diagnostic{3, fmt.Sprintf(
					"relation type %q relates role %q with no corresponding role in supertype %q",
					rt.Label, labelOf(g, role), super.Label)})
			}
		}
		for _, roleS := range super.Relates {
			if !anyDescendantIn(g, roleS, rt.Relates) {
				diags = append(diags, Diagnostic{3, fmt.Sprintf(
					"relation type %q does not cover supertype %q's role %q with a descendant role",
					rt.Label, super.Label, labelOf(g, roleS))})
			}
		}
	}
	return diags
}

func anyAncestorIn(g *Graph, role ConceptID, set map[ConceptID]bool) bool {
	for _, id := range g.SuperChain(role) {
		if set[id] {
			return true
		}
	}
	return false
}

func anyDescendantIn(g *Graph, roleS ConceptID, candidates []ConceptID) bool {
	for _, r := range candidates {
		if g.IsAncestor(roleS, r) {
			return true
		}
	}
	return false
}

// 4. Casting validity.
func checkCastingValidity(s Snapshot) []Diagnostic {
	var diags []Diagnostic
	for _, casting := range s.allCastings() {
		entry, found := s.Graph.PlaysEntryFor(casting.PlayerType, casting.Role)
		if !found {
			diags = append(diags, Diagnostic{4, fmt.Sprintf(
				"instance of type %q played role %q in relation %q without a plays declaration",
				labelOf(s.Graph, casting.PlayerType), labelOf(s.Graph, casting.Role), labelOf(s.Graph, casting.Relation))})
			continue
		}
		if entry.Required {
			count := countPlayerInRole(s, casting.Player, casting.Role)
			if count != 1 {
				diags = append(diags, Diagnostic{4, fmt.Sprintf(
					"instance %d of type %q is required to play role %q exactly once, plays it %d times",
					casting.Player, labelOf(s.Graph, casting.PlayerType), labelOf(s.Graph, casting.Role), count)})
			}
		}
	}
	return diags
}

func countPlayerInRole(s Snapshot, player, role ConceptID) int {
	n := 0
	for _, c := range s.allCastings() {
		if c.Player == player && c.Role == role {
			n++
		}
	}
	return n
}

// 5. Required-role instance check.
func checkRequiredRoleInstances(s Snapshot) []Diagnostic {
	var diags []Diagnostic
	for _, inst := range s.Instances {
		for _, role := range s.Graph.AllRequiredPlays(inst.Type) {
			count := countPlayerInRole(s, inst.ID, role)
			if count != 1 {
				diags = append(diags, Diagnostic{5, fmt.Sprintf(
					"instance %d of type %q must play required role %q exactly once, plays it %d times",
					inst.ID, labelOf(s.Graph, inst.Type), labelOf(s.Graph, role), count)})
			}
		}
	}
	return diags
}

// 6. Key uniqueness.
func checkKeyUniqueness(s Snapshot) []Diagnostic {
	type keyCell struct {
		owner ConceptID
		attr  ConceptID
		value any
	}
	owners := make(map[keyCell][]ConceptID)

	for _, t := range s.Graph.All() {
		if !t.IsType() || len(t.Keys) == 0 {
			continue
		}
		for _, key := range t.Keys {
			for _, ao := range s.AttributeOwners {
				if ao.AttributeType != key.AttributeType {
					continue
				}
				if !s.Graph.IsAncestor(t.ID, ao.OwnerType) {
					continue
				}
				cell := keyCell{owner: t.ID, attr: key.AttributeType, value: ao.Value}
				owners[cell] = append(owners[cell], ao.Owner)
			}
		}
	}

	var diags []Diagnostic
	for cell, ownerIDs := range owners {
		if len(ownerIDs) <= 1 {
			continue
		}
		diags = append(diags, Diagnostic{6, fmt.Sprintf(
			"key attribute %q of type %q has value %v owned by %d instances, want at most 1",
			labelOf(s.Graph, cell.attr), labelOf(s.Graph, cell.owner), cell.value, len(ownerIDs))})
	}
	return diags
}

// 7. Relation non-empty.
func checkRelationNonEmpty(s Snapshot) []Diagnostic {
	var diags []Diagnostic
	for _, r := range s.Relations {
		if len(r.Castings) == 0 {
			diags = append(diags, Diagnostic{7, fmt.Sprintf(
				"relation %d of type %q has no castings", r.ID, labelOf(s.Graph, r.Type))})
		}
	}
	return diags
}

func labelOf(g *Graph, id ConceptID) string {
	if c, ok := g.Get(id); ok {
		return c.Label
	}
	return fmt.Sprintf("concept#%d", id)
}
