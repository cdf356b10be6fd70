package ids

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// fetchOutcome is the result of one IDAuthority.GetIDBlock call.
type fetchOutcome struct {
	block Block
	err   error
}

type takeRequest struct {
	respCh chan fetchOutcome
}

// renewer owns exactly one background goroutine dedicated to fetching the
// next block for a single (partition, namespace) pool. All renewal state —
// whether a fetch is in flight, its cancellation func, and the one
// outstanding result — is owned by this single goroutine and reached only
// through channels, so the pool's own lock never has to be held across a
// blocking remote call.
//
// This is modeled on the event-driven auto-flush coordinator pattern from
// the teacher repo (a single goroutine that is the sole mutator of its
// state, driven by buffered command channels instead of a mutex shared
// with callers): renewal requests, stop requests, and shutdown all arrive
// as messages rather than by locking shared fields.
type renewer struct {
	authority  Authority
	partition  string
	namespace  string
	blockSize  uint64
	upperBound uint64

	startCh    chan struct{}
	stopCh     chan struct{}
	doneCh     chan fetchOutcome
	takeCh     chan takeRequest
	shutdownCh chan chan struct{}

	done chan struct{} // closed when run() returns
}

func newRenewer(authority Authority, partition, namespace string, blockSize, upperBound uint64) *renewer {
	r := &renewer{
		authority:  authority,
		partition:  partition,
		namespace:  namespace,
		blockSize:  blockSize,
		upperBound: upperBound,
		startCh:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}, 1),
		doneCh:     make(chan fetchOutcome, 1),
		takeCh:     make(chan takeRequest, 1),
		shutdownCh: make(chan chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

// RequestFetch asks the worker to start fetching the next block if one
// isn't already in flight. Non-blocking, idempotent.
func (r *renewer) RequestFetch() {
	select {
	case r.startCh <- struct{}{}:
	default:
	}
}

// RequestStop asks the worker to abandon the in-flight fetch, per the
// renewal protocol's cancellation policy: if the worker observes the stop
// before it has dispatched the remote call, it never calls the authority
// at all and reports errAborted instead.
func (r *renewer) RequestStop() {
	select {
	case r.stopCh <- struct{}{}:
	default:
	}
}

// RequestResult registers interest in the next fetch's outcome and
// returns a channel that will receive exactly one value. Safe to call
// before, during, or after the fetch completes.
func (r *renewer) RequestResult() <-chan fetchOutcome {
	respCh := make(chan fetchOutcome, 1)
	r.takeCh <- takeRequest{respCh: respCh}
	return respCh
}

// Close idempotently stops the worker goroutine and waits for it to
// return. A fetch that is already in flight and whose authority does not
// support interruption keeps running in its own goroutine after Close
// returns; the pool is responsible for collecting it via close_blockers
// if it registered for the result (see Pool.Close).
func (r *renewer) Close() {
	select {
	case <-r.done:
		return
	default:
	}
	ack := make(chan struct{})
	select {
	case r.shutdownCh <- ack:
		<-ack
	case <-r.done:
	}
}

func (r *renewer) run() {
	defer close(r.done)

	var (
		fetching       bool
		stopRequested  bool
		cancelInFlight context.CancelFunc
		outcomeReady   bool
		outcome        fetchOutcome
		waiter         chan fetchOutcome
	)
	stopInFlight := func() {
		if cancelInFlight != nil {
			cancelInFlight()
			cancelInFlight = nil
		}
	}
	defer stopInFlight()

	for {
		select {
		case <-r.startCh:
			if fetching {
				continue
			}
			if stopRequested {
				stopRequested = false
				out := fetchOutcome{err: errAborted}
				if waiter != nil {
					waiter <- out
					waiter = nil
				} else {
					outcome, outcomeReady = out, true
				}
				continue
			}
			fetching = true
			ctx, cancel := context.WithCancel(context.Background())
			cancelInFlight = cancel
			go r.doFetch(ctx)

		case <-r.stopCh:
			stopRequested = true
			stopInFlight()

		case out := <-r.doneCh:
			fetching = false
			stopRequested = false
			cancelInFlight = nil
			if waiter != nil {
				waiter <- out
				waiter = nil
			} else {
				outcome, outcomeReady = out, true
			}

		case req := <-r.takeCh:
			if outcomeReady {
				req.respCh <- outcome
				outcomeReady = false
			} else {
				waiter = req.respCh
			}

		case ack := <-r.shutdownCh:
			stopInFlight()
			ack <- struct{}{}
			return
		}
	}
}

// doFetch runs off the renewer's own goroutine so a slow or hanging
// authority never blocks the run loop from processing stop/shutdown
// requests. Panics inside the authority are caught so a misbehaving
// IDAuthority implementation surfaces as an error instead of crashing the
// process.
func (r *renewer) doFetch(ctx context.Context) {
	var out fetchOutcome
	var catcher panics.Catcher
	catcher.Try(func() {
		out.block, out.err = r.authority.GetIDBlock(ctx, r.partition, r.namespace, r.blockSize, r.upperBound)
	})
	if rec := catcher.Recovered(); rec != nil {
		out = fetchOutcome{err: fmt.Errorf("ids: authority panicked: %v", rec.Value)}
	}
	r.doneCh <- out
}
