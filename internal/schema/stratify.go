package schema

import "fmt"

type ruleEdge struct {
	from, to ConceptID
	negative bool
}

// buildRuleGraph builds the rule dependency graph from the hypothesis/
// conclusion sets check 8 populated: an edge t -> t' for every type t in
// a rule's positive hypothesis and t' in its conclusion (positive), and
// t -> t' for every type t in its negative hypothesis (negative) — so a rule that reads its own head back (recursion) is
// represented the same as one that reads another rule's head.
func buildRuleGraph(g *Graph) (nodes []ConceptID, edges []ruleEdge) {
	nodeSet := make(map[ConceptID]bool)
	for _, rule := range g.OfKind(Rule) {
		for head := range rule.Conclusion {
			nodeSet[head] = true
			for t := range rule.PositiveHypothesis {
				edges = append(edges, ruleEdge{from: t, to: head, negative: false})
				nodeSet[t] = true
			}
			for t := range rule.NegativeHypothesis {
				edges = append(edges, ruleEdge{from: t, to: head, negative: true})
				nodeSet[t] = true
			}
		}
	}
	for id := range nodeSet {
		nodes = append(nodes, id)
	}
	return nodes, edges
}

// 9. Rule stratifiability: no strongly connected component of the rule
// dependency graph may contain a negative edge.
func checkRuleStratifiability(g *Graph) []Diagnostic {
	nodes, edges := buildRuleGraph(g)
	if len(nodes) == 0 {
		return nil
	}

	adj := make(map[ConceptID][]ConceptID, len(nodes))
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
	}
	sccOf := tarjanSCC(nodes, adj)

	var diags []Diagnostic
	reported := make(map[int]bool)
	for _, e := range edges {
		if !e.negative {
			continue
		}
		ci, cj := sccOf[e.from], sccOf[e.to]
		if ci == cj && !reported[ci] {
			reported[ci] = true
			diags = append(diags, Diagnostic{9, fmt.Sprintf(
				"rule dependency graph is not stratifiable: negative edge %q -> %q closes a cycle",
				labelOf(g, e.from), labelOf(g, e.to))})
		}
	}
	return diags
}

// tarjanSCC computes strongly connected components of the graph given by
// nodes and adj, returning each node's component index. Standard
// iterative-by-recursion Tarjan; the rule dependency graphs this runs
// over are small (one node per schema type touched by a rule), so
// recursion depth is not a practical concern.
func tarjanSCC(nodes []ConceptID, adj map[ConceptID][]ConceptID) map[ConceptID]int {
	var (
		index    = 0
		indices  = make(map[ConceptID]int)
		lowlink  = make(map[ConceptID]int)
		onStack  = make(map[ConceptID]bool)
		stack    []ConceptID
		sccOf    = make(map[ConceptID]int)
		sccCount = 0
	)

	var strongconnect func(v ConceptID)
	strongconnect = func(v ConceptID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				sccOf[w] = sccCount
				if w == v {
					break
				}
			}
			sccCount++
		}
	}

	for _, v := range nodes {
		if _, seen := indices[v]; !seen {
			strongconnect(v)
		}
	}
	return sccOf
}
