package instance

import "testing"

func TestShardSetAttachesBeforeThreshold(t *testing.T) {
	s := NewShardSet(1, 3, 100)
	for i := 0; i < 3; i++ {
		got := s.Attach(ShardID(200 + i))
		if got != 100 {
			t.Fatalf("Attach() = %d, want 100 (still under threshold)", got)
		}
	}
	if len(s.Shards()) != 1 {
		t.Fatalf("Shards() = %v, want exactly one shard before crossing threshold", s.Shards())
	}
}

func TestShardSetOpensNewShardOnCross(t *testing.T) {
	s := NewShardSet(1, 2, 100)
	s.Attach(0) // count=1
	s.Attach(0) // count=2, at threshold
	got := s.Attach(999)
	if got != 999 {
		t.Fatalf("Attach() after crossing threshold = %d, want new shard 999", got)
	}
	shards := s.Shards()
	if len(shards) != 2 || shards[0] != 100 || shards[1] != 999 {
		t.Fatalf("Shards() = %v, want [100, 999]", shards)
	}
}

func TestShardSetOpenNewIsExplicitAndImmediate(t *testing.T) {
	s := NewShardSet(1, 1000, 100)
	s.OpenNew(200)
	if s.Current() != 200 {
		t.Fatalf("Current() = %d, want 200 after explicit OpenNew", s.Current())
	}
	if len(s.Shards()) != 2 {
		t.Fatalf("Shards() = %v, want 2 entries", s.Shards())
	}
}

func TestShardSetDefaultThreshold(t *testing.T) {
	s := NewShardSet(1, 0, 100)
	if s.threshold != DefaultShardingThreshold {
		t.Fatalf("threshold = %d, want default %d", s.threshold, DefaultShardingThreshold)
	}
}
