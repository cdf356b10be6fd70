package schema

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	isaAtom = regexp.MustCompile(`\bisa\s+([A-Za-z_][\w-]*)`)
	hasAtom = regexp.MustCompile(`\bhas\s+([A-Za-z_][\w-]*)`)
)

// parseConjunction extracts the type labels a rule pattern's conjunction
// of statements references. It recognizes only `isa <label>` and
// `has <label>` atoms, plus a leading `not` marking a statement as
// negated — the minimal subset of pattern syntax needed to validate and
// stratify rules. This is not a query language implementation (see
// internal/query for the execution-time AST); a statement containing
// neither atom, like a numeric comparison, contributes no type
// reference.
func parseConjunction(pattern string) (positive, negative []string, err error) {
	body := strings.TrimSpace(pattern)
	body = strings.TrimPrefix(body, "{")
	body = strings.TrimSuffix(body, "}")
	if strings.Contains(body, "} or {") {
		return nil, nil, fmt.Errorf("disjunctive patterns are not supported")
	}

	for _, stmt := range strings.Split(body, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		negated := false
		if strings.HasPrefix(stmt, "not ") {
			negated = true
			stmt = strings.TrimSpace(strings.TrimPrefix(stmt, "not"))
			stmt = strings.TrimPrefix(stmt, "{")
			stmt = strings.TrimSuffix(stmt, "}")
		}

		var labels []string
		for _, m := range isaAtom.FindAllStringSubmatch(stmt, -1) {
			labels = append(labels, m[1])
		}
		for _, m := range hasAtom.FindAllStringSubmatch(stmt, -1) {
			labels = append(labels, m[1])
		}
		for _, l := range labels {
			if negated {
				negative = append(negative, l)
			} else {
				positive = append(positive, l)
			}
		}
	}
	return positive, negative, nil
}

// 8. Rule well-formedness. Populates PositiveHypothesis/NegativeHypothesis/
// Conclusion on each Rule concept as a side effect, consumed by check 9.
func checkRuleWellFormedness(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, rule := range g.OfKind(Rule) {
		posWhen, negWhen, err := parseConjunction(rule.When)
		if err != nil {
			diags = append(diags, Diagnostic{8, fmt.Sprintf("rule %q: malformed when pattern: %v", rule.Label, err)})
			continue
		}
		posThen, negThen, err := parseConjunction(rule.Then)
		if err != nil {
			diags = append(diags, Diagnostic{8, fmt.Sprintf("rule %q: malformed then pattern: %v", rule.Label, err)})
			continue
		}
		if len(posThen)+len(negThen) != 1 {
			diags = append(diags, Diagnostic{8, fmt.Sprintf(
				"rule %q: then must contain exactly one selectable atom, found %d", rule.Label, len(posThen)+len(negThen))})
		}
		if len(negThen) > 0 {
			diags = append(diags, Diagnostic{8, fmt.Sprintf("rule %q: then atom cannot be negated", rule.Label)})
		}

		rule.PositiveHypothesis = make(map[ConceptID]struct{})
		rule.NegativeHypothesis = make(map[ConceptID]struct{})
		rule.Conclusion = make(map[ConceptID]struct{})

		resolve := func(label string, into map[ConceptID]struct{}) {
			c, found := g.ByLabel(label)
			if !found {
				diags = append(diags, Diagnostic{8, fmt.Sprintf("rule %q: references unknown type %q", rule.Label, label)})
				return
			}
			into[c.ID] = struct{}{}
		}
		for _, l := range posWhen {
			resolve(l, rule.PositiveHypothesis)
		}
		for _, l := range negWhen {
			resolve(l, rule.NegativeHypothesis)
		}
		for _, l := range posThen {
			resolve(l, rule.Conclusion)
		}
	}
	return diags
}
