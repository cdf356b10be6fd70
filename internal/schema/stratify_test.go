package schema

import "testing"

func buildTypeOnlyGraph(labels ...string) (*Graph, map[string]ConceptID) {
	g := NewGraph()
	g.Put(&Concept{ID: 1, Kind: Thing, Label: "thing"})
	ids := make(map[string]ConceptID)
	var next ConceptID = 2
	for _, l := range labels {
		g.Put(&Concept{ID: next, Kind: EntityType, Label: l, Super: 1})
		ids[l] = next
		next++
	}
	return g, ids
}

func putRule(g *Graph, id ConceptID, label string, positive, negative, conclusion []ConceptID) {
	pos := make(map[ConceptID]struct{})
	neg := make(map[ConceptID]struct{})
	con := make(map[ConceptID]struct{})
	for _, id := range positive {
		pos[id] = struct{}{}
	}
	for _, id := range negative {
		neg[id] = struct{}{}
	}
	for _, id := range conclusion {
		con[id] = struct{}{}
	}
	g.Put(&Concept{
		ID: id, Kind: Rule, Label: label, Super: 1,
		PositiveHypothesis: pos, NegativeHypothesis: neg, Conclusion: con,
	})
}

func TestCheckRuleStratifiabilityAcyclic(t *testing.T) {
	g, id := buildTypeOnlyGraph("a", "b", "c")
	putRule(g, 10, "r1", []ConceptID{id["a"]}, nil, []ConceptID{id["b"]})
	putRule(g, 11, "r2", []ConceptID{id["b"]}, nil, []ConceptID{id["c"]})

	if diags := checkRuleStratifiability(g); len(diags) != 0 {
		t.Fatalf("checkRuleStratifiability() = %v, want none (acyclic)", diags)
	}
}

func TestCheckRuleStratifiabilityPositiveRecursionOK(t *testing.T) {
	// r1: a (positive) -> a. Self-recursive but never negative: fine.
	g, id := buildTypeOnlyGraph("a")
	putRule(g, 10, "r1", []ConceptID{id["a"]}, nil, []ConceptID{id["a"]})

	if diags := checkRuleStratifiability(g); len(diags) != 0 {
		t.Fatalf("checkRuleStratifiability() = %v, want none (positive recursion is stratifiable)", diags)
	}
}

func TestCheckRuleStratifiabilityNegativeCycleRejected(t *testing.T) {
	// r1: a -> b (positive). r2: b -> a (negative). a and b end up in one
	// SCC (a->b->a), and that SCC contains a negative edge.
	g, id := buildTypeOnlyGraph("a", "b")
	putRule(g, 10, "r1", []ConceptID{id["a"]}, nil, []ConceptID{id["b"]})
	putRule(g, 11, "r2", nil, []ConceptID{id["b"]}, []ConceptID{id["a"]})

	diags := checkRuleStratifiability(g)
	if len(diags) != 1 || diags[0].Check != 9 {
		t.Fatalf("checkRuleStratifiability() = %v, want exactly one check-9 diagnostic", diags)
	}
}

func TestCheckRuleStratifiabilityNegativeButAcyclicOK(t *testing.T) {
	// r1: a -> b (negative), but nothing produces a from b: no cycle.
	g, id := buildTypeOnlyGraph("a", "b")
	putRule(g, 10, "r1", nil, []ConceptID{id["a"]}, []ConceptID{id["b"]})

	if diags := checkRuleStratifiability(g); len(diags) != 0 {
		t.Fatalf("checkRuleStratifiability() = %v, want none (negative edge outside any cycle)", diags)
	}
}

func TestTarjanSCCGroupsCycle(t *testing.T) {
	// a -> b -> c -> a forms one SCC; d is isolated.
	nodes := []ConceptID{1, 2, 3, 4}
	adj := map[ConceptID][]ConceptID{
		1: {2},
		2: {3},
		3: {1},
	}
	scc := tarjanSCC(nodes, adj)
	if scc[1] != scc[2] || scc[2] != scc[3] {
		t.Fatalf("tarjanSCC() = %v, want 1,2,3 in the same component", scc)
	}
	if scc[4] == scc[1] {
		t.Fatalf("tarjanSCC() put isolated node 4 in the same component as the cycle")
	}
}
