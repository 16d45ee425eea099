package coordinator

import "sync"

// fifo is an unbounded first-in first-out queue. push never blocks, so it
// is safe to call from library callbacks.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{ready: make(chan struct{}, 1)}
}

// push appends v. It returns false once the queue is closed.
func (q *fifo[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
	return true
}

// take removes and returns everything queued. closed reports whether no
// further items will ever be pushed.
func (q *fifo[T]) take() (items []T, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, q.items = q.items, nil
	return items, q.closed
}

// close rejects further pushes. Items already queued stay available to take.
func (q *fifo[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// signal receives a value whenever items may be available or the queue closed.
func (q *fifo[T]) signal() <-chan struct{} {
	return q.ready
}

func (q *fifo[T]) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
