package session

import (
	"sync"

	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/txn"
)

// seqSource is the freshness probe a Cache checks against: Keyspace's
// monotonic commit counter. Narrowed to an interface so cache_test.go can
// fake it without standing up a full Keyspace.
type seqSource interface {
	CommitSeq() uint64
}

// Cache is a per-session attribute-by-value lookup cache. It trades the
// read-committed guarantee get_attributes_by_value would otherwise need
// (a round trip to the store on every call) for a cheap counter check:
// see DESIGN.md's OQ-1 for why this is an accepted weaker guarantee, not
// an oversight. Grounded on
// `internal/storage/sqlite/freshness.go`'s FreshnessChecker shape —
// detect a change, drop everything — adapted from file-stat polling to
// a counter the keyspace already maintains.
type Cache struct {
	mu      sync.Mutex
	seq     seqSource
	lastSeq uint64
	primed  bool
	values  map[any][]instance.Attribute
}

// NewCache returns a Cache that invalidates itself whenever ks's commit
// counter advances past the value observed at the last Get/Put.
func NewCache(ks *txn.Keyspace) *Cache {
	return &Cache{seq: ks, values: make(map[any][]instance.Attribute)}
}

// Get returns a cached attribute-by-value lookup, if one exists and the
// keyspace has not committed anything since it was populated.
func (c *Cache) Get(value any) ([]instance.Attribute, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkFreshnessLocked()
	attrs, ok := c.values[value]
	return attrs, ok
}

// Put records attrs as the result of looking up value, tagged with the
// keyspace's current commit counter.
func (c *Cache) Put(value any, attrs []instance.Attribute) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkFreshnessLocked()
	c.values[value] = attrs
}

// InvalidateAll drops every cached entry unconditionally. Called after
// this session commits a transaction, so its own writes are never read
// back through a stale cache entry even if CommitSeq somehow hasn't been
// observed to move yet.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[any][]instance.Attribute)
	c.primed = false
}

func (c *Cache) checkFreshnessLocked() {
	seq := c.seq.CommitSeq()
	if !c.primed {
		c.lastSeq, c.primed = seq, true
		return
	}
	if seq != c.lastSeq {
		c.values = make(map[any][]instance.Attribute)
		c.lastSeq = seq
	}
}
