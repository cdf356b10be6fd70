package instance

import "github.com/vaultgraph/graphd/internal/schema"

// ShardID identifies a shard, minted by the ID Block Pool the same as
// any other instance ID.
type ShardID uint64

// DefaultShardingThreshold is the per-type instance count at which a new
// current-shard is auto-opened, absent an explicit sharding_threshold
// configuration value.
const DefaultShardingThreshold = 10000

// ShardSet tracks one schema type's append-only shard list and its
// current (writable) shard. Instance creation attaches to Current();
// crossing the threshold, or an explicit OpenNew call from the
// transaction-level `shard(type_id)` operation, opens a new one. Old
// shards' membership is frozen once superseded — ShardSet never removes
// or reassigns an entry from shards.
type ShardSet struct {
	typeID    schema.ConceptID
	threshold int
	shards    []ShardID
	count     int
}

// NewShardSet starts a type's shard list with a single, already-minted
// first shard.
func NewShardSet(typeID schema.ConceptID, threshold int, first ShardID) *ShardSet {
	if threshold <= 0 {
		threshold = DefaultShardingThreshold
	}
	return &ShardSet{typeID: typeID, threshold: threshold, shards: []ShardID{first}}
}

// Current returns the shard new instances of this type should attach to.
func (s *ShardSet) Current() ShardID {
	return s.shards[len(s.shards)-1]
}

// Attach records one more instance against the current shard, opening a
// new shard first (using next, which the caller must have already
// minted from the ID pool) if the previous attach crossed the threshold.
func (s *ShardSet) Attach(next ShardID) ShardID {
	if s.count >= s.threshold {
		s.open(next)
	}
	s.count++
	return s.Current()
}

// OpenNew opens a new current-shard unconditionally, per the
// `shard(type_id)` transaction operation.
func (s *ShardSet) OpenNew(next ShardID) {
	s.open(next)
}

func (s *ShardSet) open(next ShardID) {
	s.shards = append(s.shards, next)
	s.count = 0
}

// Shards returns the append-only shard list, oldest first. The slice is
// a copy; callers may not mutate ShardSet through it.
func (s *ShardSet) Shards() []ShardID {
	out := make([]ShardID, len(s.shards))
	copy(out, s.shards)
	return out
}
