package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is a single queued value
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// MPSC is an unbounded lock-free multi-producer single-consumer queue.
//
// Producers append with Push from any goroutine without blocking. A single
// drain goroutine moves the values to the channel returned by Recv, so the
// consumer can select on it. With concurrent producers the order between them
// is the order in which their appends succeed. Values from one producer keep
// their order.
//
// Workers use it to hand statistics samples to the collector without ever
// waiting on it.
type MPSC[T any] struct {
	head   atomic.Pointer[mpscNode[T]]
	tail   atomic.Pointer[mpscNode[T]]
	out    chan T
	closed atomic.Bool
	done   sync.WaitGroup

	mu   sync.Mutex
	wake *sync.Cond
}

// NewMPSC creates a queue and starts its drain goroutine
func NewMPSC[T any]() *MPSC[T] {
	q := &MPSC[T]{out: make(chan T)}
	q.wake = sync.NewCond(&q.mu)

	// head always points at an already consumed node
	sentinel := &mpscNode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.drain()
	return q
}

// Push appends a value. It returns false once the queue is closed.
func (q *MPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			// another producer linked a node but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.signal()
			return true
		}

		// contention: spin briefly, then let other goroutines run
		if spins > 4 {
			runtime.Gosched()
		}
	}
}

func (q *MPSC[T]) signal() {
	q.mu.Lock()
	q.wake.Signal()
	q.mu.Unlock()
}

// drain moves values from the list to the output channel until the queue is
// closed and empty
func (q *MPSC[T]) drain() {
	defer q.done.Done()
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = zero
			continue
		}

		if q.closed.Load() {
			return
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.wake.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the channel values are delivered on. It is closed after Close
// once every queued value has been delivered.
func (q *MPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting values. Values already queued are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// IsClosed reports whether Close has been called
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len counts the queued values. It walks the list and is meant for debugging
// and tests.
func (q *MPSC[T]) Len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}
