package protocol

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueCapacity is the capacity used when a non-positive capacity is
// requested.
const DefaultQueueCapacity = 16

var (
	// ErrClosed is returned by Put on a closed queue, and by Get once a
	// closed queue has been drained.
	ErrClosed = errors.New("protocol: queue closed")

	// ErrEmpty is returned by TryGet when no message is waiting.
	ErrEmpty = errors.New("protocol: queue empty")
)

// Queue is a bounded FIFO shared between one producer and one consumer. It
// is safe for concurrent use.
type Queue[T any] struct {
	name   string
	ch     chan T
	closed chan struct{}
	once   sync.Once
}

// NewQueue creates a queue holding at most capacity messages.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue[T]{
		name:   name,
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Len returns the number of waiting messages.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Put appends v, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- v:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest message, blocking while the queue is
// empty. Messages put before Close are still delivered.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}

	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	case <-q.closed:
		return q.TryGet()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryGet is like Get but never blocks. It returns ErrEmpty if nothing is
// waiting, or ErrClosed if the queue is closed and drained.
func (q *Queue[T]) TryGet() (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}

	select {
	case <-q.closed:
		return zero, ErrClosed
	default:
		return zero, ErrEmpty
	}
}

// Close marks the queue closed. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.closed)
	})
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Pair is the request and response queue connecting one client to one
// server.
type Pair struct {
	Requests  *Queue[Request]
	Responses *Queue[Response]
}

// NewPair creates a pair whose queues are named after name.
func NewPair(name string, capacity int) Pair {
	return Pair{
		Requests:  NewQueue[Request](name+" request", capacity),
		Responses: NewQueue[Response](name+" response", capacity),
	}
}

// Close closes both queues.
func (p Pair) Close() {
	p.Requests.Close()
	p.Responses.Close()
}
