package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyBound(t *testing.T) {
	const max = 2

	q := New(max)

	var running, peak atomic.Int32
	handles := make([]*Handle, 0, 8)
	for range 8 {
		handles = append(handles, q.Submit(func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		if err := h.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	if got := peak.Load(); got > max {
		t.Errorf("observed %d concurrent units, bound is %d", got, max)
	}
	if got := q.InFlight(); got != 0 {
		t.Errorf("in-flight after completion = %d, want 0", got)
	}
}

func TestFIFOStartOrder(t *testing.T) {
	q := New(1)

	var mu sync.Mutex
	var order []int

	handles := make([]*Handle, 0, 5)
	for i := range 5 {
		handles = append(handles, q.Submit(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		if err := h.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i {
			t.Fatalf("start order %v, want ascending submission order", order)
		}
	}
}

func TestCompletionRestoresCapacity(t *testing.T) {
	q := New(1)

	release := make(chan struct{})
	first := q.Submit(func(context.Context) error {
		<-release
		return nil
	})

	started := make(chan struct{})
	second := q.Submit(func(context.Context) error {
		close(started)
		return nil
	})

	// The second unit must not start while the first occupies the only slot.
	select {
	case <-started:
		t.Fatal("second unit started while capacity was exhausted")
	case <-time.After(20 * time.Millisecond):
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("queue depth = %d, want 1", got)
	}

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := first.Wait(ctx); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := second.Wait(ctx); err != nil {
		t.Fatalf("second: %v", err)
	}

	select {
	case <-started:
	default:
		t.Fatal("second unit never started after capacity freed")
	}
}

func TestAdvanceIdempotent(t *testing.T) {
	q := New(2)

	// Advancing an empty queue must not change any state.
	q.mu.Lock()
	q.advance()
	q.mu.Unlock()

	if got := q.Len(); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
	if got := q.InFlight(); got != 0 {
		t.Errorf("in-flight = %d, want 0", got)
	}

	// Advancing with capacity exhausted must leave the pending unit queued.
	block := make(chan struct{})
	defer close(block)
	for range 2 {
		q.Submit(func(context.Context) error {
			<-block
			return nil
		})
	}
	queued := q.Submit(func(context.Context) error { return nil })

	q.mu.Lock()
	q.advance()
	depth, inFlight := len(q.pending), q.inFlight
	q.mu.Unlock()

	if depth != 1 || inFlight != 2 {
		t.Errorf("after no-op advance: depth=%d in-flight=%d, want 1 and 2", depth, inFlight)
	}

	select {
	case <-queued.Done():
		t.Fatal("queued unit ran despite exhausted capacity")
	default:
	}
}

// Concrete scenario: two slow units occupy both slots, two fast units queue
// behind them, and everything completes without exceeding the bound.
func TestTwoSlotsFourJobs(t *testing.T) {
	q := New(2)

	var running, peak atomic.Int32
	job := func(d time.Duration) func(context.Context) error {
		return func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(d)
			running.Add(-1)
			return nil
		}
	}

	h1 := q.Submit(job(100 * time.Millisecond))
	h2 := q.Submit(job(100 * time.Millisecond))
	h3 := q.Submit(job(10 * time.Millisecond))
	h4 := q.Submit(job(10 * time.Millisecond))

	// J1 and J2 start immediately, J3 and J4 must wait for a free slot.
	time.Sleep(20 * time.Millisecond)
	if got := q.InFlight(); got != 2 {
		t.Errorf("in-flight = %d, want 2", got)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range []*Handle{h1, h2, h3, h4} {
		if err := h.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	if got := peak.Load(); got > 2 {
		t.Errorf("observed %d concurrent units, bound is 2", got)
	}
}

func TestFailFastAbandonsPending(t *testing.T) {
	q := New(1)

	boom := errors.New("boom")
	h1 := q.Submit(func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return boom
	})

	var ran atomic.Bool
	h2 := q.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h1.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("first unit error = %v, want %v", err, boom)
	}
	err := h2.Wait(ctx)
	if !errors.Is(err, ErrAbandoned) {
		t.Fatalf("second unit error = %v, want ErrAbandoned", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("abandonment error should carry the causing failure, got %v", err)
	}
	if ran.Load() {
		t.Fatal("second unit ran after the first failed")
	}
	if !errors.Is(q.Err(), boom) {
		t.Fatalf("queue error = %v, want %v", q.Err(), boom)
	}

	// Later submissions fail immediately against the poisoned queue.
	h3 := q.Submit(func(context.Context) error { return nil })
	if err := h3.Wait(ctx); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("post-failure submission error = %v, want ErrAbandoned", err)
	}
}

func TestDrainAllIsolatesFailures(t *testing.T) {
	q := New(1, WithPolicy(DrainAll))

	boom := errors.New("boom")
	h1 := q.Submit(func(context.Context) error { return boom })

	var ran atomic.Bool
	h2 := q.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h1.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("first unit error = %v, want %v", err, boom)
	}
	if err := h2.Wait(ctx); err != nil {
		t.Fatalf("second unit error = %v, want nil", err)
	}
	if !ran.Load() {
		t.Fatal("second unit never ran under drain-all")
	}
	if q.Err() != nil {
		t.Fatalf("queue poisoned under drain-all: %v", q.Err())
	}
}

func TestWaitRespectsContext(t *testing.T) {
	q := New(1)

	release := make(chan struct{})
	defer close(release)
	h := q.Submit(func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait error = %v, want context deadline", err)
	}
}
