package threadpool

import (
	"sync"
)

const minQueueCapacity = 16

// queue is an unbounded FIFO of tasks shared by the pool(producer side) and
// all of its workers(consumer side).
//
// The mutex is held only for a single push or pop, a waiting consumer
// parks on the condition variable and never spins.
type queue struct {
	lock   sync.Mutex
	cond   sync.Cond
	buf    []Func
	head   int
	count  int
	closed bool
	// Total number of accepted pushes.
	npushed uint64
}

func newQueue() *queue {
	q := &queue{
		buf: make([]Func, minQueueCapacity),
	}
	q.cond.L = &q.lock
	return q
}

// push appends fn to the tail, it never blocks on consumers.
func (q *queue) push(fn Func) error {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return ErrPoolClosed
	}
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = fn
	q.count++
	q.npushed++
	q.lock.Unlock()

	q.cond.Signal()
	return nil
}

// pop removes the head, waiting until one is available.
// It returns false only if the queue has been closed and fully drained.
// claim, if not nil, is called with the lock held right after the head
// is removed.
func (q *queue) pop(claim func()) (Func, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for q.count == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}

	fn := q.buf[q.head]
	q.buf[q.head] = nil // Let the captured state go.
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	if q.count == 0 {
		q.head = 0
	}
	if claim != nil {
		claim()
	}
	return fn, true
}

// close rejects further pushes and wakes up all waiting consumers,
// items already queued are still handed out by pop.
func (q *queue) close() bool {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return false
	}
	q.closed = true
	q.lock.Unlock()

	q.cond.Broadcast()
	return true
}

// inspect calls fn with the lock held, so that no pop or push happens
// in the middle of fn.
func (q *queue) inspect(fn func(queued int, pushed uint64)) {
	q.lock.Lock()
	defer q.lock.Unlock()
	fn(q.count, q.npushed)
}

func (q *queue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.count
}

func (q *queue) grow() {
	buf := make([]Func, len(q.buf)*2)
	n := copy(buf, q.buf[q.head:])
	copy(buf[n:], q.buf[:q.head])
	q.buf = buf
	q.head = 0
}
