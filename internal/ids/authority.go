package ids

import "context"

// Authority is the remote collaborator that hands out ID blocks for a
// (partition, namespace) pair. Implementations live outside this package
// (see internal/storage/sqlite and internal/storage/dolt) — the ID Block
// Pool only depends on this interface, per the out-of-scope storage
// backend boundary in SPEC_FULL.md §6.
type Authority interface {
	// GetIDBlock fetches the next block of IDs for partition/namespace,
	// of approximately blockSize IDs, bounded above by upperBound
	// (exclusive). Implementations must honor ctx cancellation promptly.
	//
	// Returns ErrPoolExhausted (wrapped) if the authority has no more IDs
	// to hand out for this partition/namespace; any other failure should
	// be returned unwrapped so the pool can attach BackendError context.
	GetIDBlock(ctx context.Context, partition, namespace string, blockSize, upperBound uint64) (Block, error)

	// SupportsInterruption reports whether GetIDBlock, when canceled via
	// ctx, actually abandons the in-flight remote call rather than
	// completing it in the background. Pools use this to decide whether a
	// timed-out fetch can simply be dropped (true) or must be parked in
	// close_blockers for later collection (false).
	SupportsInterruption() bool
}
