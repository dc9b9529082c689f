// Package queue provides channel backed FIFO queues with a single producer
// side and any number of consumers ranging over Out.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Queue is a FIFO whose items are received from Out. Out is closed once the
// queue has been closed and every pushed item has been received.
type Queue[T any] interface {
	Push(v T) error
	Out() <-chan T
	Close()
	Len() int
}

// Unbounded never rejects a Push. A pump goroutine moves items from the
// intake channel into a slice buffer and feeds them to Out in order.
type Unbounded[T any] struct {
	in     chan T
	out    chan T
	mu     sync.RWMutex
	closed bool
	length atomic.Int64
}

func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.pump()
	return q
}

func (q *Unbounded[T]) pump() {
	var buf []T
	in := q.in

	for in != nil || len(buf) > 0 {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)

		case out <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
			q.length.Add(-1)
		}
	}

	close(q.out)
}

// Push enqueues v. It only fails after Close.
func (q *Unbounded[T]) Push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	q.length.Add(1)
	q.in <- v
	return nil
}

func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

// Close stops intake. Items already pushed are still delivered.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}

// Len returns the number of items pushed but not yet received.
func (q *Unbounded[T]) Len() int {
	return int(q.length.Load())
}

// Bounded holds at most its capacity and rejects pushes beyond it.
type Bounded[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool
}

func NewBounded[T any](capacity int) *Bounded[T] {
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// Push enqueues v without blocking, failing with ErrFull when at capacity.
func (q *Bounded[T]) Push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return ErrFull
	}
}

func (q *Bounded[T]) Out() <-chan T {
	return q.ch
}

func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *Bounded[T]) Len() int {
	return len(q.ch)
}
