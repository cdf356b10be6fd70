package ids

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAuthority is a table-driven stand-in for a storage backend. Each
// call to GetIDBlock pops the next configured response, optionally after
// blocking on a gate the test controls.
type fakeAuthority struct {
	mu            sync.Mutex
	blocks        []Block
	errs          []error
	calls         int32
	gate          chan struct{} // if non-nil, GetIDBlock waits on it (or ctx.Done)
	interruptible bool
}

func (f *fakeAuthority) GetIDBlock(ctx context.Context, partition, namespace string, blockSize, upperBound uint64) (Block, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			if f.interruptible {
				return Block{}, ctx.Err()
			}
			<-f.gate
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(atomic.LoadInt32(&f.calls)) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return Block{}, f.errs[idx]
	}
	if idx < len(f.blocks) {
		return f.blocks[idx], nil
	}
	return Block{}, ErrPoolExhausted
}

func (f *fakeAuthority) SupportsInterruption() bool { return f.interruptible }

func TestPoolAllocatesSequentially(t *testing.T) {
	auth := &fakeAuthority{blocks: []Block{{Lo: 0, Hi: 5}}, interruptible: true}
	p, err := NewPool(context.Background(), auth, Config{BlockSize: 5, UpperBound: 1000})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	for i := uint64(0); i < 5; i++ {
		id, err := p.Next(context.Background())
		if err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
		if id != i {
			t.Fatalf("Next(%d) = %d, want %d", i, id, i)
		}
	}
}

func TestPoolRenewsAcrossBlocks(t *testing.T) {
	auth := &fakeAuthority{
		blocks:        []Block{{Lo: 0, Hi: 3}, {Lo: 100, Hi: 103}},
		interruptible: true,
	}
	p, err := NewPool(context.Background(), auth, Config{
		BlockSize:             3,
		UpperBound:            1000,
		RenewBufferPercentage: 1, // renew immediately, before draining
		MinRenewIDCount:       0,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	got := make([]uint64, 0, 6)
	for i := 0; i < 6; i++ {
		id, err := p.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() iteration %d: %v", i, err)
		}
		got = append(got, id)
	}
	want := []uint64{0, 1, 2, 100, 101, 102}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPoolExhaustion(t *testing.T) {
	auth := &fakeAuthority{blocks: []Block{{Lo: 0, Hi: 2}}, interruptible: true}
	p, err := NewPool(context.Background(), auth, Config{BlockSize: 2, UpperBound: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	for i := 0; i < 2; i++ {
		if _, err := p.Next(context.Background()); err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
	}
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Next() after drain = %v, want ErrPoolExhausted", err)
	}
	// Exhaustion is sticky.
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Next() after exhaustion = %v, want ErrPoolExhausted again", err)
	}
}

func TestPoolNextAfterClose(t *testing.T) {
	auth := &fakeAuthority{blocks: []Block{{Lo: 0, Hi: 5}}, interruptible: true}
	p, err := NewPool(context.Background(), auth, Config{BlockSize: 5, UpperBound: 1000})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// idempotent
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Next() after Close = %v, want ErrPoolClosed", err)
	}
}

func TestPoolRenewTimeoutInterruptible(t *testing.T) {
	gate := make(chan struct{})
	auth := &fakeAuthority{
		blocks:        []Block{{Lo: 0, Hi: 1}, {Lo: 50, Hi: 51}},
		gate:          gate,
		interruptible: true,
	}
	// First GetIDBlock call (the constructor's) must not block on the gate.
	go func() { gate <- struct{}{} }()

	p, err := NewPool(context.Background(), auth, Config{
		BlockSize:    1,
		UpperBound:   1000,
		RenewTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer func() {
		go func() {
			select {
			case gate <- struct{}{}:
			case <-time.After(time.Second):
			}
		}()
		p.Close()
	}()

	// Drain the constructor's one-ID block; this also starts the renewal
	// fetch, which then blocks on the gate.
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("first Next(): %v", err)
	}
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrPoolTimeout) {
		t.Fatalf("Next() = %v, want ErrPoolTimeout", err)
	}
}

func TestPoolCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	auth := &fakeAuthority{
		blocks:        []Block{{Lo: 0, Hi: 1}, {Lo: 50, Hi: 51}},
		gate:          gate,
		interruptible: true,
	}
	go func() { gate <- struct{}{} }()

	p, err := NewPool(context.Background(), auth, Config{BlockSize: 1, UpperBound: 1000})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer func() {
		go func() {
			select {
			case gate <- struct{}{}:
			case <-time.After(time.Second):
			}
		}()
		p.Close()
	}()

	// Drain the constructor's one-ID block; this also starts the renewal
	// fetch, which then blocks on the gate.
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("first Next(): %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Next(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Next() = %v, want ErrInterrupted", err)
	}
}

func TestPoolCloseDrainsNonInterruptibleBlocker(t *testing.T) {
	gate := make(chan struct{})
	auth := &fakeAuthority{
		blocks:        []Block{{Lo: 0, Hi: 1}, {Lo: 50, Hi: 51}},
		gate:          gate,
		interruptible: false,
	}
	go func() { gate <- struct{}{} }()

	p, err := NewPool(context.Background(), auth, Config{
		BlockSize:    1,
		UpperBound:   1000,
		RenewTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	// Drain the constructor's one-ID block; this also starts the renewal
	// fetch, which then blocks on the gate.
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("first Next(): %v", err)
	}
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrPoolTimeout) {
		t.Fatalf("Next() = %v, want ErrPoolTimeout", err)
	}

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Close returned before the non-interruptible fetch was released")
	case <-time.After(30 * time.Millisecond):
	}

	gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the stray fetch completed")
	}
}

func TestPoolBackendError(t *testing.T) {
	gate := make(chan struct{})
	auth := &fakeAuthority{
		blocks:        []Block{{Lo: 0, Hi: 1}},
		errs:          []error{nil, errors.New("connection reset")},
		gate:          gate,
		interruptible: true,
	}
	go func() { gate <- struct{}{} }()

	p, err := NewPool(context.Background(), auth, Config{BlockSize: 1, UpperBound: 1000})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer func() {
		go func() { gate <- struct{}{} }()
		p.Close()
	}()

	// Drain the constructor's one-ID block; this also starts the renewal
	// fetch, which the next gate release lets reach the failing response.
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("first Next(): %v", err)
	}
	go func() { gate <- struct{}{} }()
	if _, err := p.Next(context.Background()); err == nil {
		t.Fatal("Next() = nil error, want BackendError")
	} else {
		var be *BackendError
		if !errors.As(err, &be) {
			t.Fatalf("Next() = %v, want *BackendError", err)
		}
	}
}

func TestNewPoolPropagatesConstructorExhaustion(t *testing.T) {
	auth := &fakeAuthority{blocks: nil, interruptible: true}
	_, err := NewPool(context.Background(), auth, Config{BlockSize: 1, UpperBound: 1})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("NewPool() = %v, want ErrPoolExhausted", err)
	}
}
