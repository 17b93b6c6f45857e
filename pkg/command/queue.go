package command

import (
	"context"
	"errors"
	"time"
)

// DefaultCapacity is the number of command slots between ingress and dispatcher.
const DefaultCapacity = 4

// ErrQueueFull is returned when no slot became free within the enqueue wait.
var ErrQueueFull = errors.New("command: queue full")

// Queue is a bounded FIFO of records with many producers and one consumer.
// Records are copied in and out; nothing is shared with the caller.
type Queue struct {
	slots chan Record
}

// NewQueue creates a queue with the given capacity (DefaultCapacity when <= 0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{slots: make(chan Record, capacity)}
}

// Enqueue offers a record to the queue.
//
// wait < 0 blocks until a slot frees up or ctx is done, wait == 0 tries once
// and wait > 0 blocks at most that long. A full queue is reported as
// ErrQueueFull; the queue itself never retries.
func (q *Queue) Enqueue(ctx context.Context, r Record, wait time.Duration) error {
	select {
	case q.slots <- r:
		return nil
	default:
	}

	if wait == 0 {
		return ErrQueueFull
	}

	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case q.slots <- r:
		return nil
	case <-timeout:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDequeue pulls the oldest record without blocking.
func (q *Queue) TryDequeue() (Record, bool) {
	select {
	case r := <-q.slots:
		return r, true
	default:
		return Record{}, false
	}
}

// Waiting returns the number of queued records.
func (q *Queue) Waiting() int { return len(q.slots) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.slots) }
