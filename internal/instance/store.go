package instance

import (
	"context"

	"github.com/vaultgraph/graphd/internal/schema"
)

// Vertex is the on-disk representation of one Thing: enough to
// reconstruct an Entity/Attribute/Relation header without re-deriving it
// from the schema graph. Value is populated only for AttributeKind.
type Vertex struct {
	ID    schema.ConceptID
	Type  schema.ConceptID
	Kind  Kind
	Shard ShardID
	Value any
}

// Edge is one Casting persisted against a Relation vertex.
type Edge struct {
	Relation schema.ConceptID
	Role     schema.ConceptID
	Player   schema.ConceptID
}

// Mutations is everything a transaction stages for commit: new/updated
// vertices, new edges, and vertex deletions, handed to the store as one
// atomic unit. A deleted vertex's edges are the store's responsibility
// to remove along with it.
type Mutations struct {
	Vertices []Vertex
	Edges    []Edge
	Deletes  []schema.ConceptID
}

// Store is the out-of-scope vertex/edge store collaborator named in
// SPEC_FULL.md §6: put_vertex, get_vertex, edges, scan_by_index,
// commit(staged), rollback. internal/txn depends only on this interface;
// internal/storage/sqlite and internal/storage/dolt provide concrete
// implementations.
type Store interface {
	PutVertex(ctx context.Context, v Vertex) error
	GetVertex(ctx context.Context, id schema.ConceptID) (Vertex, bool, error)
	Edges(ctx context.Context, relation schema.ConceptID) ([]Edge, error)

	// ScanByIndex returns every attribute vertex of attrType whose Value
	// equals value: the attribute-by-value lookup and a key-uniqueness
	// scanning primitive.
	ScanByIndex(ctx context.Context, attrType schema.ConceptID, value any) ([]Vertex, error)

	// ScanByType returns every vertex of the given type, for the
	// required-role-instance check and schema-wide scans.
	ScanByType(ctx context.Context, typeID schema.ConceptID) ([]Vertex, error)

	// Commit persists a staged mutation batch atomically. A batch that
	// fails must leave the store observably unchanged.
	Commit(ctx context.Context, staged Mutations) error

	// Rollback discards any resources associated with a transaction that
	// never reached Commit (e.g. an in-progress store-side handle).
	Rollback(ctx context.Context) error
}
