package queue

import (
	"errors"
	"fmt"
)

// ErrQueueFull is returned by Push when the buffer is at capacity. The job
// is still durable; the worker reaches it through the store.
var ErrQueueFull = errors.New("queue: full")

// defaultCapacity is used when New is given a non-positive size.
const defaultCapacity = 256

// Queue is the in-memory tier of the job queue: a bounded FIFO of request
// ids for interactively triggered jobs. Push is safe for concurrent
// callers; a single worker pops.
type Queue struct {
	ids  chan int64
	wake chan struct{}
}

// New returns a queue holding up to size ids.
func New(size int) *Queue {
	if size <= 0 {
		size = defaultCapacity
	}
	return &Queue{ids: make(chan int64, size), wake: make(chan struct{}, 1)}
}

// Push appends id without blocking.
func (q *Queue) Push(id int64) error {
	select {
	case q.ids <- id:
		select {
		case q.wake <- struct{}{}:
		default:
		}
		return nil
	default:
		return fmt.Errorf("%w: %d ids waiting", ErrQueueFull, cap(q.ids))
	}
}

// TryPop removes the oldest id. ok is false when the queue is empty.
func (q *Queue) TryPop() (id int64, ok bool) {
	select {
	case id = <-q.ids:
		return id, true
	default:
		return 0, false
	}
}

// Ready receives a signal after a Push. Signals coalesce, so a receiver
// should drain with TryPop.
func (q *Queue) Ready() <-chan struct{} {
	return q.wake
}

// Len returns the number of waiting ids.
func (q *Queue) Len() int {
	return len(q.ids)
}

// Cap returns the queue's capacity.
func (q *Queue) Cap() int {
	return cap(q.ids)
}
