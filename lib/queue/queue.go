// Package queue implements the bounded request queue between the dispatcher
// and the workers.
//
// Producers block in Put while the queue is full, consumers wait in Poll for
// at most a given timeout so that they can observe shutdown. Items are kept in
// a deque, the ordering decides whether consumers take the oldest (FIFO) or the
// newest (LIFO) item.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edwingeng/deque/v2"
)

// ErrClosed is returned by Put once the queue has been closed
var ErrClosed = errors.New("queue: closed")

// Ordering selects which end of the queue consumers take from
type Ordering int

const (
	FIFO Ordering = iota
	LIFO
)

func (o Ordering) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// Queue is a bounded, blocking queue safe for any number of producers and
// consumers
type Queue[T any] struct {
	mu       sync.Mutex
	items    *deque.Deque[T]
	ordering Ordering

	// slots holds one token per occupied place, ready one token per queued item
	slots chan struct{}
	ready chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a queue holding at most capacity items
func New[T any](capacity int, ordering Ordering) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    deque.NewDeque[T](),
		ordering: ordering,
		slots:    make(chan struct{}, capacity),
		ready:    make(chan struct{}, capacity),
		closed:   make(chan struct{}),
	}
}

// Put appends item, blocking while the queue is full. It fails when ctx is
// done or the queue is closed before a place became free.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrClosed
	}

	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()

	q.ready <- struct{}{}
	return nil
}

// Poll takes the next item, waiting at most timeout. ok is false if no item
// arrived in time. err is set when ctx is done.
func (q *Queue[T]) Poll(ctx context.Context, timeout time.Duration) (item T, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.ready:
	case <-timer.C:
		return item, false, nil
	case <-ctx.Done():
		return item, false, ctx.Err()
	}

	q.mu.Lock()
	if q.ordering == LIFO {
		item = q.items.PopBack()
	} else {
		item = q.items.PopFront()
	}
	q.mu.Unlock()

	<-q.slots
	return item, true, nil
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Cap returns the capacity of the queue
func (q *Queue[T]) Cap() int {
	return cap(q.slots)
}

// Close makes every pending and future Put fail. Queued items can still be
// polled.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Drain removes and returns every queued item without blocking
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case <-q.ready:
		default:
			return out
		}
		q.mu.Lock()
		out = append(out, q.items.PopFront())
		q.mu.Unlock()
		<-q.slots
	}
}
