package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Queue admits units of work in FIFO order and runs at most maxConcurrency
// of them at the same time. Each Queue owns its own pending list and
// in-flight counter, so independent queues can coexist (e.g. in tests).
//
// Completion of a running unit frees a slot and pulls in the next pending
// unit, if any. There is no priority, no reordering, no cancellation of
// admitted work and no intrinsic timeout: a unit that needs a deadline must
// apply one to the context it receives.
type Queue struct {
	mu       sync.Mutex
	pending  []*Handle
	inFlight int
	max      int
	policy   Policy
	failed   error // first failure under FailFast, poisons the queue
}

// Policy decides what a job failure means for the rest of the queue.
type Policy int

const (
	// FailFast treats the first failure as unrecoverable: pending units never
	// start and their handles fail with the first error. This mirrors the
	// fact that one failed compilation invalidates the whole artifact set.
	FailFast Policy = iota

	// DrainAll isolates failures: every admitted unit still runs, and each
	// handle reports only its own error.
	DrainAll
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case DrainAll:
		return "drain-all"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ErrAbandoned marks handles of units that were admitted but never started
// because an earlier unit failed under FailFast.
var ErrAbandoned = errors.New("abandoned after earlier failure")

// Handle tracks one submitted unit of work. Wait blocks until the unit has
// both started and finished, or until the waiting context is done.
type Handle struct {
	unit func(context.Context) error
	done chan struct{}
	err  error
}

func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the unit has finished (or will never start).
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type Option func(*Queue)

func WithPolicy(p Policy) Option {
	return func(q *Queue) { q.policy = p }
}

func New(maxConcurrency int, opts ...Option) *Queue {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	q := &Queue{max: maxConcurrency}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit admits a unit of work and returns its handle. If the queue has been
// poisoned by an earlier failure (FailFast), the handle fails immediately and
// the unit never runs.
func (q *Queue) Submit(unit func(context.Context) error) *Handle {
	h := &Handle{unit: unit, done: make(chan struct{})}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.failed != nil {
		h.err = fmt.Errorf("%w: %w", ErrAbandoned, q.failed)
		close(h.done)
		return h
	}

	q.pending = append(q.pending, h)
	q.advance()
	return h
}

// advance starts pending units while capacity remains. It is a no-op when
// the queue is empty or all slots are taken. "Start" means admission: units
// are dequeued and handed their goroutines in FIFO order, but units admitted
// in the same batch may interleave their first instructions. Callers must
// hold q.mu.
func (q *Queue) advance() {
	for len(q.pending) > 0 && q.inFlight < q.max {
		var h *Handle
		h, q.pending = q.pending[0], q.pending[1:]
		q.inFlight++
		go q.run(h)
	}
}

func (q *Queue) run(h *Handle) {
	err := h.unit(context.Background())

	q.mu.Lock()
	q.inFlight--
	if err != nil && q.policy == FailFast && q.failed == nil {
		q.failed = err
		for _, p := range q.pending {
			p.err = fmt.Errorf("%w: %w", ErrAbandoned, err)
			close(p.done)
		}
		q.pending = nil
	}
	q.advance()
	q.mu.Unlock()

	h.err = err
	close(h.done)
}

// Len returns the number of admitted units that have not started yet.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of units currently running.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Err returns the error that poisoned the queue, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}
