package query

import "testing"

func TestParseDefineScenarioOne(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`define
		person sub entity, plays friend.
		friendship sub relation, relates friend.
		name sub attribute, datatype string.`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ast.Kind != Define {
		t.Fatalf("Kind = %v, want Define", ast.Kind)
	}
	if len(ast.TypeDefs) != 3 {
		t.Fatalf("TypeDefs = %d entries, want 3", len(ast.TypeDefs))
	}

	person := ast.TypeDefs[0]
	if person.Label != "person" || person.Sub != "entity" {
		t.Fatalf("person def = %+v", person)
	}
	if len(person.Plays) != 1 || person.Plays[0].Role != "friend" {
		t.Fatalf("person.Plays = %+v", person.Plays)
	}

	friendship := ast.TypeDefs[1]
	if friendship.Label != "friendship" || friendship.Sub != "relation" {
		t.Fatalf("friendship def = %+v", friendship)
	}
	if len(friendship.Relates) != 1 || friendship.Relates[0] != "friend" {
		t.Fatalf("friendship.Relates = %+v", friendship.Relates)
	}

	name := ast.TypeDefs[2]
	if name.Label != "name" || name.Sub != "attribute" || name.DataType != "string" {
		t.Fatalf("name def = %+v", name)
	}
}

func TestParseDefineWithRequiredPlaysAndRule(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`define
		employee sub entity, plays employer (required).
		seniority-rule sub rule,
			when { $x isa employee; not { has seniority $x }; },
			then { $x has seniority 'junior'; };`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	employee := ast.TypeDefs[0]
	if len(employee.Plays) != 1 || !employee.Plays[0].Required {
		t.Fatalf("employee.Plays = %+v, want one required role", employee.Plays)
	}

	rule := ast.TypeDefs[1]
	if rule.Label != "seniority-rule" || rule.Sub != "rule" {
		t.Fatalf("rule def = %+v", rule)
	}
	if rule.When == "" || rule.Then == "" {
		t.Fatalf("rule.When/Then not captured: %+v", rule)
	}
}

func TestParseInsertScenarioOne(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`insert
		$x isa person, has name "Alice";
		$y isa person, has name "Bob";
		$r (friend: $x, friend: $y) isa friendship;`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ast.Kind != Insert {
		t.Fatalf("Kind = %v, want Insert", ast.Kind)
	}
	if len(ast.Patterns) != 3 {
		t.Fatalf("Patterns = %d, want 3: %+v", len(ast.Patterns), ast.Patterns)
	}

	alice := ast.Patterns[0]
	if alice.Var != "x" || alice.Isa != "person" || alice.HasLabel != "name" || alice.HasValue != "Alice" {
		t.Fatalf("alice pattern = %+v", alice)
	}

	rel := ast.Patterns[2]
	if rel.Var != "r" || rel.Isa != "friendship" {
		t.Fatalf("relation pattern = %+v", rel)
	}
	if len(rel.RoleRefs) != 2 || rel.RoleRefs[0].Role != "friend" || rel.RoleRefs[0].Var != "x" {
		t.Fatalf("relation.RoleRefs = %+v", rel.RoleRefs)
	}
}

func TestParseMatchGet(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`match $x isa person, has name $n; get;`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ast.Kind != Get {
		t.Fatalf("Kind = %v, want Get", ast.Kind)
	}
	if len(ast.Patterns) != 1 {
		t.Fatalf("Patterns = %d, want 1: %+v", len(ast.Patterns), ast.Patterns)
	}
	p := ast.Patterns[0]
	if p.Var != "x" || p.Isa != "person" || p.HasLabel != "name" || p.HasVar != "n" {
		t.Fatalf("pattern = %+v", p)
	}
}

func TestParseMatchDelete(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`match $x isa person, has name "Alice"; delete $x;`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ast.Kind != Delete {
		t.Fatalf("Kind = %v, want Delete", ast.Kind)
	}
	if len(ast.DeleteVars) != 1 || ast.DeleteVars[0] != "x" {
		t.Fatalf("DeleteVars = %+v", ast.DeleteVars)
	}
}

func TestParseMatchAggregateCount(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`match $x isa person; aggregate count;`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ast.Kind != Aggregate || ast.AggregateFunc != "count" {
		t.Fatalf("ast = %+v, want Aggregate/count", ast)
	}
}

func TestParseByIDReference(t *testing.T) {
	r := NewRecognizer()
	ast, err := r.Parse(`match $x id <42>; get;`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p := ast.Patterns[0]
	if !p.HasIDRef || p.IDRef != 42 {
		t.Fatalf("pattern = %+v, want id ref 42", p)
	}
}

func TestSplitDepthAwareRespectsNestedDelimiters(t *testing.T) {
	parts := splitDepthAware(`a, b (c: $x, d: $y), "e, f", g`, ',')
	want := []string{"a", " b (c: $x, d: $y)", ` "e, f"`, " g"}
	if len(parts) != len(want) {
		t.Fatalf("splitDepthAware = %q, want %q", parts, want)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("part %d = %q, want %q", i, parts[i], want[i])
		}
	}
}

func TestParseRejectsUnknownStatement(t *testing.T) {
	r := NewRecognizer()
	if _, err := r.Parse(`frobnicate $x`); err == nil {
		t.Fatal("Parse() on unrecognized statement succeeded, want error")
	}
}

func TestParseRejectsMalformedTypeDef(t *testing.T) {
	r := NewRecognizer()
	if _, err := r.Parse(`define person entity;`); err == nil {
		t.Fatal("Parse() on malformed type def succeeded, want error")
	}
}
