package session

import "sync"

// task is one unit of work executed on the worker goroutine
type task func()

// queue is an unbounded FIFO. push never blocks, so transport callbacks can
// hand work to the worker without stalling the transport.
type queue struct {
	mu     sync.Mutex
	items  []task
	closed bool
	wake   chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends t. It reports false once the queue is closed.
func (q *queue) push(t task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	q.signal()
	return true
}

// pop removes the oldest task. done is true when the queue is closed and
// fully drained.
func (q *queue) pop() (t task, ok bool, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false, q.closed
	}
	t = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true, false
}

// close rejects further pushes; queued tasks still drain
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// len returns the number of queued tasks
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
