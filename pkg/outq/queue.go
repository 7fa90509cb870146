// Package outq provides the outbound message queue that sits between a simulation
// loop and the relay sessions that deliver its output to a remote operator.
//
// A Queue is an in-process FIFO of opaque messages. Producers call Enqueue at will;
// Enqueue never blocks and never fails. A single consumer at a time (the outbound
// flow of the live session) drains the queue with TryDequeue, waiting on Ready()
// between drains rather than spinning.
//
// By default the queue is unbounded: if no session ever drains it, it grows
// without limit and nothing is signalled back to the producer. WithMaxPending
// bounds it, in which case the oldest pending messages are dropped to make room
// and counted in Dropped().
package outq

import (
	"context"
	"sync"
)

// Option configures a Queue at construction time
type Option func(q *Queue)

// WithMaxPending bounds the number of pending messages. When the bound is
// reached, Enqueue drops the oldest pending message. A value <= 0 means unbounded.
func WithMaxPending(n int) Option {
	return func(q *Queue) {
		if n < 0 {
			n = 0
		}
		q.maxPending = n
	}
}

// Queue is a concurrency-safe FIFO of outbound messages
type Queue struct {
	lock       sync.Mutex
	items      []interface{}
	head       int
	maxPending int
	enqueued   uint64
	dequeued   uint64
	dropped    uint64

	// ready holds at most one pending wakeup for the consumer
	ready chan struct{}

	// consumer holds a token while some consumer owns the queue
	consumer chan struct{}
}

// New creates an empty Queue
func New(opts ...Option) *Queue {
	q := &Queue{
		ready:    make(chan struct{}, 1),
		consumer: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a message to the tail of the queue. It never blocks.
func (q *Queue) Enqueue(msg interface{}) {
	q.lock.Lock()
	if q.maxPending > 0 && q.lenLocked() >= q.maxPending {
		q.items[q.head] = nil
		q.head++
		q.dropped++
		q.compactLocked()
	}
	q.items = append(q.items, msg)
	q.enqueued++
	q.lock.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the message at the head of the queue. If the
// queue is empty it returns (nil, false) immediately.
func (q *Queue) TryDequeue() (interface{}, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.lenLocked() == 0 {
		return nil, false
	}
	msg := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	q.dequeued++
	q.compactLocked()
	return msg, true
}

// Ready returns a channel that receives a value after one or more Enqueue calls.
// Wakeups are coalesced; after receiving from it the consumer should drain with
// TryDequeue until the queue reports empty.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Acquire waits until the caller is the only consumer of the queue. The returned
// release function gives up ownership; it is safe to call more than once.
func (q *Queue) Acquire(ctx context.Context) (func(), error) {
	select {
	case q.consumer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			<-q.consumer
			// hand any pending wakeup to the next consumer
			if q.Len() > 0 {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
		})
	}
	return release, nil
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.lenLocked()
}

// Stats is a point-in-time snapshot of queue counters
type Stats struct {
	Pending  int    `json:"pending"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Dropped  uint64 `json:"dropped"`
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	q.lock.Lock()
	defer q.lock.Unlock()
	return Stats{
		Pending:  q.lenLocked(),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Dropped:  q.dropped,
	}
}

// Dropped returns the number of messages discarded by the drop-oldest policy
func (q *Queue) Dropped() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped
}

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

// compactLocked reclaims the consumed prefix of the backing slice once it
// dominates the slice.
func (q *Queue) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
}
