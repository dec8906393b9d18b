package threadpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidSize is returned by New if the requested number of workers is not positive.
	ErrInvalidSize = fmt.Errorf("threadpool: the number of workers must be greater than zero")
	// ErrPoolClosed is returned by Submit once WaitDone(or Stop) has been called,
	// nothing submitted after that point will ever be executed.
	ErrPoolClosed = fmt.Errorf("threadpool: pool is closed")
	// ErrNilFunc is returned if a nil Func is submitted.
	ErrNilFunc = fmt.Errorf("threadpool: nil func")
)

// Func is the unit of work executed by exactly one worker in the pool.
type Func func()

// PanicError describes a panic recovered from a Func.
type PanicError struct {
	// WorkerID is the id of the worker which ran the Func, -1 if unknown.
	WorkerID int
	// Value is the value passed to panic.
	Value interface{}
	// Stack is the stack trace of the panicking goroutine.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("threadpool: worker %d recovered from panic: %v", e.WorkerID, e.Value)
}

// Options configurates the Pool.
type Options struct {
	// Logger receives the diagnostics of the pool and its workers.
	// Nil means discarding everything.
	Logger *slog.Logger
	// PanicHandler is called on the worker goroutine after a Func panicked,
	// the worker keeps serving afterwards. Nil means the panic is logged
	// at error level. It must not panic itself.
	PanicHandler func(*PanicError)
}

// Pool offers a fixed number of long-lived workers(goroutines) consuming
// a single shared FIFO queue.
//
// The queue is unbounded, Submit never blocks on the workers, so it is the
// caller's responsibility to not outpace them forever.
type Pool struct {
	size    int
	queue   *queue
	workers []*worker
	logger  *slog.Logger
	onPanic func(*PanicError)

	ncompleted atomic.Uint64
	npanicked  atomic.Uint64

	wg    sync.WaitGroup
	donec chan struct{}
}

// New creates a Pool with exactly size workers, it returns after all
// of them are waiting for work.
func New(size int, opts Options) (*Pool, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Pool{
		size:    size,
		queue:   newQueue(),
		workers: make([]*worker, 0, size),
		logger:  logger,
		onPanic: opts.PanicHandler,
		donec:   make(chan struct{}),
	}
	if p.onPanic == nil {
		p.onPanic = p.logPanic
	}

	ready := sync.WaitGroup{}
	for id := 0; id < size; id++ {
		w := newWorker(id, p)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		ready.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ready.Done)
		}()
	}
	ready.Wait()

	p.logger.Debug("threadpool started", "workers", size)
	return p, nil
}

// MustNew is like New but panics if the pool can not be created.
func MustNew(size int, opts Options) *Pool {
	p, err := New(size, opts)
	if err != nil {
		panic(err)
	}
	return p
}

// Size returns the fixed number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit enqueues fn and returns immediately, it neither waits for nor
// reports the execution of fn.
// Funcs are queued in submission order, but funcs claimed by different
// workers may finish in any order.
func (p *Pool) Submit(fn Func) error {
	if fn == nil {
		return ErrNilFunc
	}

	return p.queue.push(fn)
}

// WaitDone stops accepting new funcs and waits until all queued and running
// funcs are done and all workers exit, or until the context done.
// The workers keep draining the queue even if the context is done.
// The pool becomes unusable(read only) after this operation.
//
// NOTE that calling it from a Func running in the same pool never returns.
func (p *Pool) WaitDone(ctx context.Context) error {
	if p.queue.close() {
		p.logger.Debug("threadpool stopping", "queued", p.queue.len())
		go func() {
			p.wg.Wait()
			close(p.donec)
			p.logger.Debug("threadpool stopped")
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.donec:
		return nil
	}
}

// Stop is WaitDone without a deadline.
func (p *Pool) Stop() {
	_ = p.WaitDone(context.Background())
}

// Stats contains a list of pool counters.
type Stats struct {
	Workers          int
	WaitingWorkers   int
	ExecutingWorkers int
	StoppedWorkers   int
	// Queued is the number of funcs waiting to be claimed by a worker.
	Queued    int
	Submitted uint64
	Completed uint64
	Panicked  uint64
}

// Stats returns the current stats.
//
// The queue depth, Submitted and the worker states are read atomically with
// respect to Submit and to workers claiming funcs, so a claimed func is never
// counted as both queued and waiting. The Completed and Panicked counters are
// read just before, thus Completed+Panicked never exceeds Submitted, but a
// worker which just finished a func may still be reported as executing.
func (p *Pool) Stats() Stats {
	stats := Stats{
		Workers:   p.size,
		Completed: p.ncompleted.Load(),
		Panicked:  p.npanicked.Load(),
	}
	p.queue.inspect(func(queued int, pushed uint64) {
		stats.Queued = queued
		stats.Submitted = pushed
		for _, w := range p.workers {
			switch w.State() {
			case WorkerWaiting:
				stats.WaitingWorkers++
			case WorkerExecuting:
				stats.ExecutingWorkers++
			case WorkerStopped:
				stats.StoppedWorkers++
			}
		}
	})
	return stats
}

// Workers returns a snapshot of every worker ordered by id,
// each worker is read independently.
func (p *Pool) Workers() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, w.info())
	}
	return infos
}

func (p *Pool) execute(w *worker, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			p.npanicked.Add(1)
			p.onPanic(&PanicError{WorkerID: w.id, Value: r, Stack: debug.Stack()})
			return
		}
		p.ncompleted.Add(1)
	}()

	fn()
}

func (p *Pool) logPanic(e *PanicError) {
	p.logger.Error("func panicked", "worker", e.WorkerID, "panic", e.Value, "stack", string(e.Stack))
}
