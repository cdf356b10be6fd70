package txn

import (
	"sync"

	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/schema"
)

// Keyspace is the named isolation unit of SPEC_FULL.md §3: one schema
// graph, one instance graph, backed by a single ID pool and vertex
// store. Sessions mint Transactions against a Keyspace; Transactions
// never talk to the pool or store directly except through it.
//
// The committed schema graph is kept in memory for the Keyspace's
// lifetime rather than round-tripped through the vertex store: the
// store's contract (instance.Store) only names vertex/edge persistence,
// per SPEC_FULL.md §6's out-of-scope storage boundary, and schema
// concepts are small enough in practice that losing them on process
// restart (until a future backend adds schema persistence) is an
// accepted simplification — see DESIGN.md's open question ledger.
type Keyspace struct {
	mu sync.RWMutex

	graph  *schema.Graph
	store  instance.Store
	pool   *ids.Pool
	shards map[schema.ConceptID]*instance.ShardSet

	shardingThreshold int
	closed            bool
	commitSeq         uint64
}

// NewKeyspace wires a Keyspace around an already-opened schema graph,
// vertex store, and ID pool. graph may be empty for a brand-new
// keyspace.
func NewKeyspace(graph *schema.Graph, store instance.Store, pool *ids.Pool, shardingThreshold int) *Keyspace {
	if shardingThreshold == 0 {
		shardingThreshold = instance.DefaultShardingThreshold
	}
	if graph == nil {
		graph = schema.NewGraph()
	}
	schema.SeedRoots(graph)
	return &Keyspace{
		graph:             graph,
		store:             store,
		pool:              pool,
		shards:            make(map[schema.ConceptID]*instance.ShardSet),
		shardingThreshold: shardingThreshold,
	}
}

// schemaView returns the canonical graph a fresh transaction overlays
// its staged edits on top of.
func (k *Keyspace) schemaView() *schema.Graph {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.graph
}

// shardSetFor returns (creating if necessary) the ShardSet tracking
// instance counts for typeID.
func (k *Keyspace) shardSetFor(typeID schema.ConceptID, firstShard instance.ShardID) *instance.ShardSet {
	k.mu.Lock()
	defer k.mu.Unlock()
	ss, ok := k.shards[typeID]
	if !ok {
		ss = instance.NewShardSet(typeID, k.shardingThreshold, firstShard)
		k.shards[typeID] = ss
	}
	return ss
}

// mergeSchema installs a transaction's validated schema delta into the
// canonical graph. Called only after Validate has reported no
// diagnostics, under the keyspace lock so concurrent readers never
// observe a partially-merged graph.
func (k *Keyspace) mergeSchema(delta map[schema.ConceptID]*schema.Concept) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range delta {
		k.graph.Put(c)
	}
	k.commitSeq++
}

// CommitSeq returns the number of commits this keyspace has accepted so
// far (schema or instance). Session.Cache uses it as a cheap freshness
// probe: a change between two reads means some transaction committed,
// possibly from another session, and any cached attribute-by-value
// lookups should be treated as stale.
func (k *Keyspace) CommitSeq() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.commitSeq
}

// NewTransaction opens a Transaction against this keyspace. owner is the
// caller-supplied thread-affinity token (see Transaction's doc comment);
// onClose, if non-nil, is invoked once when the transaction transitions
// to closed, so a Session can drop it from its per-thread registry.
func (k *Keyspace) NewTransaction(mode Mode, owner any, parser query.Parser, onClose func()) *Transaction {
	return newTransaction(k, mode, owner, parser, onClose)
}
