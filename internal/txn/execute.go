package txn

import (
	"context"
	"fmt"

	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/schema"
)

// Binding is one $variable's resolved concept within an Answer: its
// instance ID, schema type, and (for attribute bindings) stored value.
type Binding struct {
	ID    schema.ConceptID
	Type  schema.ConceptID
	Value any
}

// Answer is one result row of a match, keyed by variable name without
// its leading `$`.
type Answer map[string]Binding

// Execute parses and runs a query-language statement: Define stages
// schema concepts, Insert stages instances, Get/Aggregate match against
// staged-plus-persisted state (optionally with inference), and Delete
// stages removals. None of this persists anything until Commit runs.
func (t *Transaction) Execute(ctx context.Context, owner any, text string) ([]Answer, error) {
	t.mu.Lock()
	if err := t.checkAccess(owner); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	ast, err := t.parser.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("txn: execute: %w", err)
	}

	switch ast.Kind {
	case query.Define:
		return nil, t.executeDefine(owner, ast)
	case query.Insert:
		return t.executeInsert(ctx, owner, ast)
	case query.Get:
		return t.executeGet(ctx, ast)
	case query.Delete:
		return t.executeDelete(ctx, owner, ast)
	case query.Aggregate:
		answers, err := t.executeGet(ctx, ast)
		if err != nil {
			return nil, err
		}
		return []Answer{{"count": Binding{Value: len(answers)}}}, nil
	default:
		return nil, fmt.Errorf("txn: execute: unhandled statement kind %v", ast.Kind)
	}
}

// executeDefine stages every TypeDef in ast, auto-vivifying any role
// label referenced by a `plays`/`relates` clause that has no explicit
// definition of its own — TypeQL-style shorthand scenario 1 relies on
// (`friendship sub relation, relates friend.` never separately declares
// `friend sub role`). Two passes: the first stages every label (explicit
// defs plus implicit role refs) so forward references within the same
// define statement resolve; the second fills in each concept's fields.
func (t *Transaction) executeDefine(owner any, ast query.AST) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return err
	}
	if err := t.stageSchemaChange(); err != nil {
		return err
	}

	kindOf := func(sub string) (schema.Kind, schema.ConceptID, bool) {
		switch sub {
		case "entity":
			return schema.EntityType, schema.EntityRootID, true
		case "relation":
			return schema.RelationType, schema.RelationRootID, true
		case "attribute":
			return schema.AttributeType, schema.AttributeRootID, true
		case "role":
			return schema.Role, schema.RoleRootID, true
		case "rule":
			return schema.Rule, schema.RuleRootID, true
		default:
			return 0, 0, false
		}
	}

	ensure := func(label string, fallbackKind schema.Kind, fallbackSuper schema.ConceptID) *schema.Concept {
		return t.staged.schema.putOrFetch(label, func(id schema.ConceptID) *schema.Concept {
			if existing, ok := t.resolveLabel(label); ok {
				clone := *existing
				return &clone
			}
			return &schema.Concept{ID: id, Kind: fallbackKind, Label: label, Super: fallbackSuper}
		})
	}

	for _, td := range ast.TypeDefs {
		k, super, builtin := kindOf(td.Sub)
		if !builtin {
			if parent, ok := t.resolveLabel(td.Sub); ok {
				k, super = parent.Kind, parent.ID
			} else {
				return fmt.Errorf("%w: %q", ErrUnknownType, td.Sub)
			}
		}
		ensure(td.Label, k, super)
		for _, p := range td.Plays {
			ensure(p.Role, schema.Role, schema.RoleRootID)
		}
		for _, r := range td.Relates {
			ensure(r, schema.Role, schema.RoleRootID)
		}
	}

	for _, td := range ast.TypeDefs {
		c, _ := t.staged.schema.get(td.Label)
		for _, p := range td.Plays {
			role, _ := t.resolveLabel(p.Role)
			c.Plays = append(c.Plays, schema.PlaysEntry{Role: role.ID, Required: p.Required})
		}
		for _, r := range td.Relates {
			role, _ := t.resolveLabel(r)
			c.Relates = append(c.Relates, role.ID)
		}
		if td.DataType != "" {
			c.DataType = td.DataType
		}
		if td.When != "" {
			c.When = td.When
		}
		if td.Then != "" {
			c.Then = td.Then
		}
	}
	return nil
}

// executeInsert stages one Entity/Attribute/Relation per pattern,
// threading $variable bindings across statements within the same insert
// so a relation pattern can reference role players bound earlier in the
// same statement (`$x isa person; ...; $r (friend:$x, ...) isa
// friendship;`).
func (t *Transaction) executeInsert(ctx context.Context, owner any, ast query.AST) ([]Answer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return nil, err
	}
	if t.mode == ModeRead {
		return nil, ErrReadOnly
	}
	if err := t.stageInstanceChange(); err != nil {
		return nil, err
	}

	bindings := make(map[string]*stagedInstance)
	var order []string

	for _, p := range ast.Patterns {
		switch {
		case len(p.RoleRefs) > 0:
			typ, ok := t.resolveLabel(p.Isa)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Isa)
			}
			rel := &stagedInstance{id: t.nextTempInstanceID(), kind: instance.RelationKind, typ: typ.ID}
			for _, rr := range p.RoleRefs {
				role, ok := t.resolveLabel(rr.Role)
				if !ok {
					return nil, fmt.Errorf("%w: %q", ErrUnknownType, rr.Role)
				}
				player, ok := bindings[rr.Var]
				if !ok {
					return nil, fmt.Errorf("txn: insert: role player $%s not bound before use", rr.Var)
				}
				rel.castings = append(rel.castings, stagedCasting{role: role.ID, player: player.id})
			}
			t.staged.instances = append(t.staged.instances, rel)
			if p.Var != "" {
				bindings[p.Var] = rel
				order = append(order, p.Var)
			}

		case p.Isa != "":
			typ, ok := t.resolveLabel(p.Isa)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Isa)
			}
			kind := instance.EntityKind
			if typ.Kind == schema.AttributeType {
				kind = instance.AttributeKind
			}
			inst := &stagedInstance{id: t.nextTempInstanceID(), kind: kind, typ: typ.ID}
			t.staged.instances = append(t.staged.instances, inst)
			if p.Var != "" {
				bindings[p.Var] = inst
				order = append(order, p.Var)
			}
			if p.HasLabel != "" {
				if err := t.attachHas(bindings, p); err != nil {
					return nil, err
				}
			}

		case p.HasLabel != "" && p.Var != "":
			if _, ok := bindings[p.Var]; !ok {
				return nil, fmt.Errorf("txn: insert: $%s has no prior isa clause", p.Var)
			}
			if err := t.attachHas(bindings, p); err != nil {
				return nil, err
			}
		}
	}

	answers := make([]Answer, 1)
	answers[0] = Answer{}
	for _, v := range order {
		si := bindings[v]
		answers[0][v] = Binding{ID: si.id, Type: si.typ, Value: si.value}
	}
	return answers, nil
}

// attachHas stages an Attribute instance for p's has-clause and an
// ownership edge from the bound owner variable to it.
func (t *Transaction) attachHas(bindings map[string]*stagedInstance, p query.Pattern) error {
	owner, ok := bindings[p.Var]
	if !ok {
		return fmt.Errorf("txn: insert: $%s has no bound owner for has %s", p.Var, p.HasLabel)
	}
	attrType, ok := t.resolveLabel(p.HasLabel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, p.HasLabel)
	}
	attr := &stagedInstance{id: t.nextTempInstanceID(), kind: instance.AttributeKind, typ: attrType.ID, value: p.HasValue}
	t.staged.instances = append(t.staged.instances, attr)
	owner.castings = append(owner.castings, stagedCasting{role: schema.HasEdgeRoleID, player: attr.id})
	return nil
}

func (t *Transaction) nextTempInstanceID() schema.ConceptID {
	t.staged.schema.next++
	return t.staged.schema.next
}

// executeDelete resolves ast's match patterns, then stages every bound
// variable named in ast.DeleteVars for removal.
func (t *Transaction) executeDelete(ctx context.Context, owner any, ast query.AST) ([]Answer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAccess(owner); err != nil {
		return nil, err
	}
	if t.mode == ModeRead {
		return nil, ErrReadOnly
	}
	answers, err := t.matchLocked(ctx, ast.Patterns, false)
	if err != nil {
		return nil, err
	}
	seen := make(map[schema.ConceptID]bool)
	for _, a := range answers {
		for _, v := range ast.DeleteVars {
			if b, ok := a[v]; ok && !seen[b.ID] {
				seen[b.ID] = true
				t.staged.deletes = append(t.staged.deletes, stagedDelete{id: b.ID})
			}
		}
	}
	return answers, nil
}

// executeGet matches ast's patterns against staged-plus-persisted state.
func (t *Transaction) executeGet(ctx context.Context, ast query.AST) ([]Answer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matchLocked(ctx, ast.Patterns, ast.Infer)
}
