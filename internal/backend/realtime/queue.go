package realtime

import (
	"sync"

	"github.com/reelroom/reel/internal/backend/schema"
)

// changeQueue is an unbounded FIFO of changes for one subscription.
//
// Publishers never block on a slow subscriber; the subscription's delivery
// goroutine waits on the signal channel and drains with TryDequeue.
type changeQueue struct {
	mu      sync.Mutex
	changes []schema.Change
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		changes: make([]schema.Change, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a change to the back of the queue.
// Returns false if the queue is closed.
func (q *changeQueue) Enqueue(c schema.Change) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.changes = append(q.changes, c)

	// Coalesce: one pending signal is enough to wake the consumer.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front change without blocking.
func (q *changeQueue) TryDequeue() (schema.Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.changes) == 0 {
		return schema.Change{}, false
	}

	c := q.changes[0]
	// Release the payload map for GC.
	q.changes[0] = schema.Change{}

	if len(q.changes) == 1 {
		q.changes = q.changes[:0]
	} else {
		q.changes = q.changes[1:]
	}

	return c, true
}

// Wait returns a channel that signals when changes may be available. It is
// closed by Close.
func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.changes)
}

// Close drops pending changes and wakes the consumer.
func (q *changeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.changes = nil
	close(q.signal)
}
