package txn

import (
	"regexp"
	"strings"

	"github.com/vaultgraph/graphd/internal/schema"
)

// Full stratified rule evaluation is explicitly out of this module's
// core scope — only a rule's registration and stratifiability are (see
// spec.md §1). applyInference is a minimal forward-chaining pass
// sufficient to drive the one inference scenario SPEC_FULL.md names: a
// single-variable rule whose body is an isa/has conjunction and whose
// head asserts one more has-clause on that variable. It runs once (no
// fixpoint loop) because nothing in the corpus of scenarios chains a
// derived fact into a second rule's body; a head atom a later rule's body
// could consume would need a small fixpoint loop here instead.
var (
	inferIsaAtom = regexp.MustCompile(`\$([A-Za-z_]\w*)\s+isa\s+([A-Za-z_][\w-]*)`)
	inferHasAtom = regexp.MustCompile(`\$([A-Za-z_]\w*)\s+has\s+([A-Za-z_][\w-]*)\s+(?:\$[A-Za-z_]\w*|'([^']*)'|"([^"]*)"|(-?[0-9.]+))`)
)

func (t *Transaction) applyInference(facts *factIndex) {
	for _, rule := range t.ks.schemaView().OfKind(schema.Rule) {
		if rule.ID == schema.RuleRootID || rule.When == "" || rule.Then == "" {
			continue
		}
		t.fireRule(facts, rule)
	}
}

// fireRule evaluates one rule's when-body against facts for every
// candidate binding of its leading isa atom's variable, staging the
// then-body's has-clause as an ephemeral fact for each that satisfies
// every has-atom in the body. Atoms this recognizer doesn't understand
// (comparisons, negation) are skipped rather than rejected, matching the
// "only registration and stratifiability are core" scope: a rule with
// such atoms simply fires more permissively than full evaluation would.
func (t *Transaction) fireRule(facts *factIndex, rule *schema.Concept) {
	isaMatch := inferIsaAtom.FindStringSubmatch(rule.When)
	if isaMatch == nil {
		return
	}
	subjectVar, typeLabel := isaMatch[1], isaMatch[2]
	typ, ok := t.resolveLabel(typeLabel)
	if !ok {
		return
	}

	var bodyHasAtoms [][]string
	for _, stmt := range strings.Split(rule.When, ";") {
		if lead := inferIsaAtom.FindStringSubmatch(stmt); lead != nil && lead[1] == subjectVar {
			// `$p isa person, has score $s` chains its has-clause onto $p.
			stmt = regexp.MustCompile(`,\s*has\s+`).ReplaceAllLiteralString(stmt, ", $"+subjectVar+" has ")
		}
		for _, m := range inferHasAtom.FindAllStringSubmatch(stmt, -1) {
			if m[1] == subjectVar {
				bodyHasAtoms = append(bodyHasAtoms, m)
			}
		}
	}

	headMatch := inferHasAtom.FindStringSubmatch(rule.Then)
	if headMatch == nil {
		return
	}
	headAttrLabel := headMatch[2]
	headAttrType, ok := t.resolveLabel(headAttrLabel)
	if !ok {
		return
	}
	headValue := literalFrom(headMatch)

	for _, subjectID := range t.instancesOfTypeOrSub(facts, typ.ID) {
		satisfied := true
		for _, atom := range bodyHasAtoms {
			attrLabel := atom[2]
			attrType, ok := t.resolveLabel(attrLabel)
			if !ok {
				satisfied = false
				break
			}
			if !hasAnyEdge(facts, subjectID, attrType.ID) {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		if hasAnyEdge(facts, subjectID, headAttrType.ID) {
			continue // already has this attribute; don't duplicate
		}
		facts.addHas(subjectID, headAttrType.ID, 0, headValue)
	}
}

func hasAnyEdge(facts *factIndex, owner, attrType schema.ConceptID) bool {
	for _, e := range facts.hasEdges[owner] {
		if e.attrType == attrType {
			return true
		}
	}
	return false
}

func literalFrom(m []string) any {
	switch {
	case m[3] != "":
		return m[3]
	case m[4] != "":
		return m[4]
	case m[5] != "":
		return strings.TrimSpace(m[5])
	default:
		return nil
	}
}
