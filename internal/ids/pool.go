package ids

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// DefaultMinRenewIDCount is RENEW_ID_COUNT: the minimum number of
// remaining IDs in the current block that must be buffered before it
// runs out, regardless of RenewBufferPercentage. A pool configured with a
// large BlockSize and a small RenewBufferPercentage would otherwise start
// its renewal fetch too late to land before the block drains.
const DefaultMinRenewIDCount = 1000

// Config configures a Pool for a single (partition, namespace) pair.
type Config struct {
	Partition  string
	Namespace  string
	BlockSize  uint64
	UpperBound uint64

	// RenewTimeout bounds how long Next will wait for an in-flight
	// renewal before returning ErrPoolTimeout. Zero means wait forever.
	RenewTimeout time.Duration

	// RenewBufferPercentage is the fraction (0, 1] of the current block
	// that must remain when the asynchronous renewal fetch is started.
	// The actual buffer is max(RenewIDCount, ceil(BlockSize * pct)),
	// capped at BlockSize. Zero defaults to 0.1 (10%).
	RenewBufferPercentage float64

	// MinRenewIDCount overrides DefaultMinRenewIDCount. Zero uses the
	// default.
	MinRenewIDCount uint64
}

// Pool is the ID Block Pool for a single (partition, namespace) pair: a
// monotonic, gap-tolerant allocator of 64-bit IDs backed by an Authority
// that hands out ranges ("blocks") rather than individual IDs. All public
// operations serialize on the pool's own lock; the background renewer
// does its remote fetching off that lock so a slow authority never blocks
// concurrent callers from observing an already-available ID.
type Pool struct {
	mu sync.Mutex

	authority             Authority
	partition, namespace  string
	blockSize, upperBound uint64
	renewTimeout          time.Duration
	renewBuffer           uint64 // absolute ID count, precomputed from percentage
	supportsInterruption  bool

	current      Block
	currentIndex uint64

	fetchPending bool
	resultWaiter <-chan fetchOutcome

	closed        bool
	exhausted     bool
	closeBlockers []<-chan fetchOutcome

	worker *renewer
}

// NewPool constructs a Pool and immediately fetches its first block from
// authority so the first Next call does not pay renewal latency.
func NewPool(ctx context.Context, authority Authority, cfg Config) (*Pool, error) {
	if cfg.BlockSize == 0 {
		return nil, errors.New("ids: BlockSize must be > 0")
	}
	pct := cfg.RenewBufferPercentage
	if pct <= 0 {
		pct = 0.1
	}
	minCount := cfg.MinRenewIDCount
	if minCount == 0 {
		minCount = DefaultMinRenewIDCount
	}
	buf := uint64(math.Ceil(float64(cfg.BlockSize) * pct))
	if buf < minCount {
		buf = minCount
	}
	if buf > cfg.BlockSize {
		buf = cfg.BlockSize
	}

	p := &Pool{
		authority:            authority,
		partition:            cfg.Partition,
		namespace:            cfg.Namespace,
		blockSize:            cfg.BlockSize,
		upperBound:           cfg.UpperBound,
		renewTimeout:         cfg.RenewTimeout,
		renewBuffer:          buf,
		supportsInterruption: authority.SupportsInterruption(),
		worker:               newRenewer(authority, cfg.Partition, cfg.Namespace, cfg.BlockSize, cfg.UpperBound),
	}

	block, err := authority.GetIDBlock(ctx, cfg.Partition, cfg.Namespace, cfg.BlockSize, cfg.UpperBound)
	if err != nil {
		p.worker.Close()
		if errors.Is(err, ErrPoolExhausted) {
			return nil, ErrPoolExhausted
		}
		return nil, &BackendError{Op: "get_id_block", Err: err}
	}
	p.current = block
	return p, nil
}

// Next returns the next ID, renewing the underlying block as needed. It
// blocks while a renewal is outstanding and the current block is drained,
// up to RenewTimeout (if set) or until ctx is canceled.
func (p *Pool) Next(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPoolClosed
	}
	if p.exhausted || p.current.exhausted {
		p.exhausted = true
		return 0, ErrPoolExhausted
	}

	if !p.fetchPending && p.currentIndex+p.renewBuffer >= p.current.NumIDs() {
		p.startRenewLocked()
	}

	if p.currentIndex >= p.current.NumIDs() {
		if err := p.swapInLocked(ctx); err != nil {
			return 0, err
		}
	}

	id := p.current.GetID(p.currentIndex)
	p.currentIndex++
	return id, nil
}

func (p *Pool) startRenewLocked() {
	p.fetchPending = true
	p.resultWaiter = p.worker.RequestResult()
	p.worker.RequestFetch()
}

// swapInLocked waits for the outstanding renewal and installs it as the
// current block. Called with p.mu held; the lock is never released while
// waiting, matching the spec's "public operations serialize on the
// pool's lock" rule — concurrent callers simply queue behind this one.
func (p *Pool) swapInLocked(ctx context.Context) error {
	if !p.fetchPending {
		p.startRenewLocked()
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if p.renewTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, p.renewTimeout)
		defer cancel()
	}

	select {
	case out := <-p.resultWaiter:
		p.fetchPending = false
		resultCh := p.resultWaiter
		p.resultWaiter = nil
		return p.installFetchResultLocked(out, resultCh)

	case <-waitCtx.Done():
		p.worker.RequestStop()
		resultCh := p.resultWaiter
		p.fetchPending = false
		p.resultWaiter = nil
		if ctx.Err() != nil {
			// The caller's own context was canceled, not just our
			// internal renewTimeout. The fetch may still land; if the
			// authority can't be interrupted, park it for Close to drain.
			if !p.supportsInterruption {
				p.closeBlockers = append(p.closeBlockers, resultCh)
			}
			return ErrInterrupted
		}
		if !p.supportsInterruption {
			p.closeBlockers = append(p.closeBlockers, resultCh)
		}
		return ErrPoolTimeout
	}
}

func (p *Pool) installFetchResultLocked(out fetchOutcome, resultCh <-chan fetchOutcome) error {
	if out.err != nil {
		if errors.Is(out.err, errAborted) {
			return ErrPoolTimeout
		}
		if errors.Is(out.err, ErrPoolExhausted) {
			p.current = exhaustionBlock
			p.exhausted = true
			return ErrPoolExhausted
		}
		return &BackendError{Op: "get_id_block", Err: out.err}
	}
	_ = resultCh
	p.current = out.block
	p.currentIndex = 0
	return nil
}

// Close idempotently shuts down the pool's background renewer. If a
// renewal previously timed out against an authority that does not
// support interruption, Close waits for that stray fetch to finish before
// returning, so no goroutine outlives the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	blockers := p.closeBlockers
	p.closeBlockers = nil
	p.mu.Unlock()

	for _, ch := range blockers {
		<-ch
	}
	p.worker.Close()
	return nil
}
