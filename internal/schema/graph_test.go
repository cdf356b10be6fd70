package schema

import "testing"

func TestGraphSuperChain(t *testing.T) {
	g := NewGraph()
	g.Put(&Concept{ID: 1, Kind: Thing, Label: "thing"})
	g.Put(&Concept{ID: 2, Kind: EntityType, Label: "animal", Super: 1})
	g.Put(&Concept{ID: 3, Kind: EntityType, Label: "dog", Super: 2})

	chain := g.SuperChain(3)
	want := []ConceptID{3, 2, 1}
	if len(chain) != len(want) {
		t.Fatalf("SuperChain(3) = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("SuperChain(3) = %v, want %v", chain, want)
		}
	}

	if !g.IsAncestor(1, 3) {
		t.Error("IsAncestor(thing, dog) = false, want true")
	}
	if g.IsAncestor(3, 1) {
		t.Error("IsAncestor(dog, thing) = true, want false")
	}
}

func TestGraphPlaysEntryForWalksSuperChain(t *testing.T) {
	g := NewGraph()
	g.Put(&Concept{ID: 1, Kind: Thing, Label: "thing"})
	g.Put(&Concept{ID: 2, Kind: Role, Label: "friend", Super: 1})
	g.Put(&Concept{ID: 3, Kind: EntityType, Label: "animal", Super: 1, Plays: []PlaysEntry{{Role: 2, Required: true}}})
	g.Put(&Concept{ID: 4, Kind: EntityType, Label: "dog", Super: 3})

	entry, ok := g.PlaysEntryFor(4, 2)
	if !ok {
		t.Fatal("PlaysEntryFor(dog, friend) not found, want inherited from animal")
	}
	if !entry.Required {
		t.Error("PlaysEntryFor(dog, friend).Required = false, want true")
	}

	if _, ok := g.PlaysEntryFor(4, 99); ok {
		t.Error("PlaysEntryFor(dog, <unknown role>) found, want not found")
	}
}

func TestGraphAllKeysAndRequiredPlaysAggregateSuperChain(t *testing.T) {
	g := NewGraph()
	g.Put(&Concept{ID: 1, Kind: Thing, Label: "thing"})
	g.Put(&Concept{ID: 2, Kind: Role, Label: "owner", Super: 1})
	g.Put(&Concept{ID: 3, Kind: AttributeType, Label: "email", Super: 1, DataType: "string"})
	g.Put(&Concept{ID: 4, Kind: EntityType, Label: "person", Super: 1,
		Plays: []PlaysEntry{{Role: 2, Required: true}},
		Keys:  []KeyEntry{{AttributeType: 3}},
	})
	g.Put(&Concept{ID: 5, Kind: EntityType, Label: "employee", Super: 4})

	keys := g.AllKeys(5)
	if len(keys) != 1 || keys[0].AttributeType != 3 {
		t.Fatalf("AllKeys(employee) = %v, want [{email}]", keys)
	}
	required := g.AllRequiredPlays(5)
	if len(required) != 1 || required[0] != 2 {
		t.Fatalf("AllRequiredPlays(employee) = %v, want [owner]", required)
	}
}
