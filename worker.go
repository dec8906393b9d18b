package threadpool

import (
	"fmt"
	"sync/atomic"
)

// WorkerState is the state of a worker.
type WorkerState int32

const (
	// WorkerWaiting means the worker is waiting for a func to be queued.
	WorkerWaiting WorkerState = iota
	// WorkerExecuting means the worker is running a func.
	WorkerExecuting
	// WorkerStopped means the pool is closed and the queue has been drained.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerWaiting:
		return "waiting"
	case WorkerExecuting:
		return "executing"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// WorkerInfo is a snapshot of a worker.
type WorkerInfo struct {
	// ID is used for diagnostics only, it starts with 0.
	ID       int
	State    WorkerState
	Executed uint64
}

type worker struct {
	id    int
	pool  *Pool
	state atomic.Int32
	// Including the panicked ones.
	nexecuted atomic.Uint64
}

func newWorker(id int, pool *Pool) *worker {
	return &worker{id: id, pool: pool}
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) info() WorkerInfo {
	return WorkerInfo{
		ID:       w.id,
		State:    w.State(),
		Executed: w.nexecuted.Load(),
	}
}

// claim is called by the queue with its lock held.
func (w *worker) claim() {
	w.state.Store(int32(WorkerExecuting))
}

// run claims and executes funcs until the queue is closed and empty.
// The queue lock is released by pop before the func runs, so a long
// running func never stops the other workers from claiming work.
func (w *worker) run(ready func()) {
	defer w.state.Store(int32(WorkerStopped))

	ready()
	for {
		fn, ok := w.pool.queue.pop(w.claim)
		if !ok {
			w.pool.logger.Debug("worker stopped", "worker", w.id)
			return
		}

		w.pool.logger.Debug("worker got a job; executing", "worker", w.id)
		w.pool.execute(w, fn)
		w.nexecuted.Add(1)
		w.state.Store(int32(WorkerWaiting))
	}
}
