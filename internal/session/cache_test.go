package session

import (
	"testing"

	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

type fakeSeq struct{ v uint64 }

func (f *fakeSeq) CommitSeq() uint64 { return f.v }

func newTestCache(seq *fakeSeq) *Cache {
	return &Cache{seq: seq, values: make(map[any][]instance.Attribute)}
}

func TestCacheHitsUntilCommitSeqMoves(t *testing.T) {
	seq := &fakeSeq{}
	c := newTestCache(seq)

	c.Put("Alice", []instance.Attribute{{Thing: instance.Thing{ID: schema.ConceptID(1)}, Value: "Alice"}})

	if _, ok := c.Get("Alice"); !ok {
		t.Fatalf("expected cache hit before any commit")
	}

	seq.v++ // simulate a commit, from this session or another

	if _, ok := c.Get("Alice"); ok {
		t.Fatalf("expected cache miss after CommitSeq advanced")
	}
}

func TestCacheInvalidateAllDropsEverything(t *testing.T) {
	seq := &fakeSeq{}
	c := newTestCache(seq)
	c.Put("Alice", []instance.Attribute{{Value: "Alice"}})
	c.Put("Bob", []instance.Attribute{{Value: "Bob"}})

	c.InvalidateAll()

	if _, ok := c.Get("Alice"); ok {
		t.Fatalf("expected miss after InvalidateAll")
	}
	if _, ok := c.Get("Bob"); ok {
		t.Fatalf("expected miss after InvalidateAll")
	}
}
