package txn

import (
	"context"
	"sync"

	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

// memStore is a minimal in-memory instance.Store good enough to drive
// the transaction layer end to end in tests, without any of the real
// backends' persistence concerns.
type memStore struct {
	mu       sync.Mutex
	vertices map[schema.ConceptID]instance.Vertex
	edges    map[schema.ConceptID][]instance.Edge
}

func newMemStore() *memStore {
	return &memStore{
		vertices: make(map[schema.ConceptID]instance.Vertex),
		edges:    make(map[schema.ConceptID][]instance.Edge),
	}
}

func (s *memStore) PutVertex(ctx context.Context, v instance.Vertex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vertices[v.ID] = v
	return nil
}

func (s *memStore) GetVertex(ctx context.Context, id schema.ConceptID) (instance.Vertex, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vertices[id]
	return v, ok, nil
}

func (s *memStore) Edges(ctx context.Context, relation schema.ConceptID) ([]instance.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]instance.Edge(nil), s.edges[relation]...), nil
}

func (s *memStore) ScanByIndex(ctx context.Context, attrType schema.ConceptID, value any) ([]instance.Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []instance.Vertex
	for _, v := range s.vertices {
		if v.Type == attrType && v.Value == value {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memStore) ScanByType(ctx context.Context, typeID schema.ConceptID) ([]instance.Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []instance.Vertex
	for _, v := range s.vertices {
		if v.Type == typeID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memStore) Commit(ctx context.Context, staged instance.Mutations) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range staged.Deletes {
		delete(s.vertices, id)
		delete(s.edges, id)
	}
	for _, v := range staged.Vertices {
		s.vertices[v.ID] = v
	}
	for _, e := range staged.Edges {
		s.edges[e.Relation] = append(s.edges[e.Relation], e)
	}
	return nil
}

func (s *memStore) Rollback(ctx context.Context) error { return nil }

// fakeAuthority hands out one big block so tests never need to think
// about renewal.
type fakeAuthority struct{ next uint64 }

func (f *fakeAuthority) GetIDBlock(ctx context.Context, partition, namespace string, blockSize, upperBound uint64) (ids.Block, error) {
	lo := f.next
	f.next += blockSize
	return ids.Block{Lo: lo, Hi: f.next}, nil
}

func (f *fakeAuthority) SupportsInterruption() bool { return true }

func newTestKeyspace(ctx context.Context) (*Keyspace, error) {
	pool, err := ids.NewPool(ctx, &fakeAuthority{next: 1000}, ids.Config{
		Partition: "test", Namespace: "concepts", BlockSize: 100000, UpperBound: 0,
	})
	if err != nil {
		return nil, err
	}
	return NewKeyspace(nil, newMemStore(), pool, 0), nil
}
