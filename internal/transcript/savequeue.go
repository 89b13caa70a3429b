package transcript

import (
	"context"
	"log/slog"
	"sync"
)

// PersistenceError wraps a failed save operation. Failures are logged and
// surfaced to the optional failure hook only — they never block the UI and
// are never retried; the next full reload reconciles against the content
// store as ground truth.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "transcript: save failed: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// SaveOp is one persistence operation.
type SaveOp func(ctx context.Context) error

// SaveQueue executes persistence operations strictly in enqueue order, one
// per lesson. Callers fire and forget: Enqueue never blocks on the write
// itself, and a failed write never blocks or drops subsequent writes.
//
// Writes are not cancelable once enqueued — a persisted write must not
// silently vanish. Close drains the queue before returning.
type SaveQueue struct {
	mu     sync.Mutex
	ch     chan SaveOp
	done   chan struct{}
	closed bool

	// onFailure, when set, receives every *PersistenceError. Used to feed
	// the failure counter.
	onFailure func(error)
}

// SaveQueueOption configures a [SaveQueue].
type SaveQueueOption func(*SaveQueue)

// WithFailureHook registers fn to be called with a *PersistenceError for
// every failed write, after it has been logged.
func WithFailureHook(fn func(error)) SaveQueueOption {
	return func(q *SaveQueue) {
		q.onFailure = fn
	}
}

// saveQueueBuffer bounds how many pending writes Enqueue accepts before it
// applies backpressure by blocking. Writes are small; the bound exists only
// to keep a wedged store from accumulating unbounded closures.
const saveQueueBuffer = 64

// NewSaveQueue creates a SaveQueue and starts its consumer. ctx scopes the
// execution of the enqueued operations: it should be the lesson session's
// background context, not a per-call one — cancelling it abandons pending
// writes, which only ever happens at process shutdown.
func NewSaveQueue(ctx context.Context, opts ...SaveQueueOption) *SaveQueue {
	q := &SaveQueue{
		ch:   make(chan SaveOp, saveQueueBuffer),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.run(ctx)
	return q
}

// Enqueue appends op to the queue. Operations execute strictly in the order
// Enqueue was called, regardless of how long each one takes. Enqueue on a
// closed queue drops the operation with a warning.
func (q *SaveQueue) Enqueue(op SaveOp) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Warn("transcript: enqueue on closed save queue — write dropped")
		return
	}
	// Holding the lock through the send keeps enqueue order equal to call
	// order even when the buffer is full and the send blocks.
	defer q.mu.Unlock()
	q.ch <- op
}

// Depth returns the number of writes waiting in the queue.
func (q *SaveQueue) Depth() int {
	return len(q.ch)
}

// Close stops accepting new operations and waits for the pending ones to
// drain.
func (q *SaveQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.done
}

func (q *SaveQueue) run(ctx context.Context) {
	defer close(q.done)
	for op := range q.ch {
		if err := op(ctx); err != nil {
			perr := &PersistenceError{Err: err}
			slog.Warn("transcript: background save failed", "err", err)
			if q.onFailure != nil {
				q.onFailure(perr)
			}
		}
	}
}
