package threadpool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func emptyFunc() {}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPool_New(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 4, 33} {
		pool, err := New(n, Options{})
		require.Nil(t, err)
		require.Equal(t, n, pool.Size())

		stats := pool.Stats()
		require.Equal(t, n, stats.Workers)
		require.Equal(t, n, stats.WaitingWorkers)
		require.Equal(t, 0, stats.ExecutingWorkers)
		require.Equal(t, 0, stats.Queued)

		infos := pool.Workers()
		require.Len(t, infos, n)
		for i, info := range infos {
			require.Equal(t, i, info.ID)
			require.Equal(t, WorkerWaiting, info.State)
			require.Equal(t, uint64(0), info.Executed)
		}
		require.Nil(t, pool.WaitDone(context.TODO()))
	}
}

func TestPool_NewInvalidSize(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1} {
		pool, err := New(n, Options{})
		require.ErrorIs(t, err, ErrInvalidSize)
		require.Nil(t, pool)
	}
	require.PanicsWithValue(t, ErrInvalidSize, func() { MustNew(0, Options{}) })
}

func TestPool_ExactlyOnce(t *testing.T) {
	t.Parallel()

	const n = 1000
	pool := MustNew(8, Options{})
	counts := make([]int32, n)
	for i := 0; i < n; i++ {
		i := i
		require.Nil(t, pool.Submit(func() { atomic.AddInt32(&counts[i], 1) }))
	}
	require.Nil(t, pool.WaitDone(context.TODO()))

	for i, c := range counts {
		require.Equal(t, int32(1), c, "func %d", i)
	}
	stats := pool.Stats()
	require.Equal(t, uint64(n), stats.Submitted)
	require.Equal(t, uint64(n), stats.Completed)
	require.Equal(t, 8, stats.StoppedWorkers)

	executed := uint64(0)
	for _, info := range pool.Workers() {
		require.Equal(t, WorkerStopped, info.State)
		executed += info.Executed
	}
	require.Equal(t, uint64(n), executed)
}

func TestPool_MoreFuncsThanWorkers(t *testing.T) {
	t.Parallel()

	pool := MustNew(2, Options{})
	count := int32(0)
	for i := 0; i < 50; i++ {
		require.Nil(t, pool.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&count, 1)
		}))
	}
	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&count) == 50 })
	require.Nil(t, pool.WaitDone(context.TODO()))
}

func TestPool_SubmitDoesNotWaitForExecution(t *testing.T) {
	t.Parallel()

	pool := MustNew(1, Options{})
	blockc := make(chan struct{})
	require.Nil(t, pool.Submit(func() { <-blockc }))

	donec := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = pool.Submit(emptyFunc)
		}
		close(donec)
	}()
	select {
	case <-time.After(time.Second):
		t.Fatalf("timed out")
	case <-donec:
	}
	waitUntil(t, time.Second, func() bool { return pool.Stats().ExecutingWorkers == 1 })
	require.Equal(t, 100, pool.Stats().Queued)

	close(blockc)
	require.Nil(t, pool.WaitDone(context.TODO()))
	require.Equal(t, 0, pool.Stats().Queued)
}

func TestPool_FIFO(t *testing.T) {
	t.Parallel()

	pool := MustNew(1, Options{})
	blockc := make(chan struct{})
	require.Nil(t, pool.Submit(func() { <-blockc }))

	lock := sync.Mutex{}
	order := []int{}
	for i := 0; i < 100; i++ {
		i := i
		require.Nil(t, pool.Submit(func() {
			lock.Lock()
			order = append(order, i)
			lock.Unlock()
		}))
	}
	close(blockc)
	require.Nil(t, pool.WaitDone(context.TODO()))

	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestPool_SlowFuncDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	pool := MustNew(4, Options{})
	slowDone := int32(0)
	fastDone := int32(0)
	require.Nil(t, pool.Submit(func() {
		time.Sleep(300 * time.Millisecond)
		atomic.StoreInt32(&slowDone, 1)
	}))
	waitUntil(t, time.Second, func() bool { return pool.Stats().ExecutingWorkers == 1 })

	for i := 0; i < 20; i++ {
		require.Nil(t, pool.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&fastDone, 1)
		}))
	}
	waitUntil(t, 250*time.Millisecond, func() bool { return atomic.LoadInt32(&fastDone) == 20 })
	require.Equal(t, int32(0), atomic.LoadInt32(&slowDone))
	require.Nil(t, pool.WaitDone(context.TODO()))
	require.Equal(t, int32(1), atomic.LoadInt32(&slowDone))
}

func TestPool_PanicIsolation(t *testing.T) {
	t.Parallel()

	panics := make(chan *PanicError, 10)
	pool := MustNew(1, Options{
		PanicHandler: func(e *PanicError) { panics <- e },
	})

	require.Nil(t, pool.Submit(func() { panic("boom") }))
	count := int32(0)
	for i := 0; i < 10; i++ {
		require.Nil(t, pool.Submit(func() { atomic.AddInt32(&count, 1) }))
	}
	require.Nil(t, pool.WaitDone(context.TODO()))

	require.Equal(t, int32(10), count)
	require.Len(t, panics, 1)
	e := <-panics
	require.Equal(t, 0, e.WorkerID)
	require.Equal(t, "boom", e.Value)
	require.NotEmpty(t, e.Stack)
	require.Contains(t, e.Error(), "boom")

	stats := pool.Stats()
	require.Equal(t, uint64(1), stats.Panicked)
	require.Equal(t, uint64(10), stats.Completed)
	require.Equal(t, uint64(11), pool.Workers()[0].Executed)
}

func TestPool_PanicIsLogged(t *testing.T) {
	t.Parallel()

	buf := bytes.Buffer{}
	lock := sync.Mutex{}
	logger := slog.New(slog.NewTextHandler(&lockedWriter{lock: &lock, w: &buf}, nil))
	pool := MustNew(2, Options{Logger: logger})
	require.Nil(t, pool.Submit(func() { panic("oops") }))
	require.Nil(t, pool.WaitDone(context.TODO()))

	lock.Lock()
	defer lock.Unlock()
	require.Contains(t, buf.String(), "func panicked")
	require.Contains(t, buf.String(), "oops")
}

func TestPool_WaitDone(t *testing.T) {
	t.Parallel()

	pool := MustNew(2, Options{})
	count := int32(0)
	for i := 0; i < 20; i++ {
		require.Nil(t, pool.Submit(func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&count, 1)
		}))
	}
	require.Nil(t, pool.WaitDone(context.TODO()))
	require.Equal(t, int32(20), atomic.LoadInt32(&count))

	require.ErrorIs(t, pool.Submit(emptyFunc), ErrPoolClosed)
	require.Nil(t, pool.WaitDone(context.TODO()))
	pool.Stop()
	require.Equal(t, uint64(20), pool.Stats().Submitted)
}

func TestPool_WaitDoneContext(t *testing.T) {
	t.Parallel()

	pool := MustNew(1, Options{})
	blockc := make(chan struct{})
	require.Nil(t, pool.Submit(func() { <-blockc }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.WaitDone(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, pool.Submit(emptyFunc), ErrPoolClosed)

	close(blockc)
	require.Nil(t, pool.WaitDone(context.TODO()))
}

func TestPool_SubmitNil(t *testing.T) {
	t.Parallel()

	pool := MustNew(1, Options{})
	require.ErrorIs(t, pool.Submit(nil), ErrNilFunc)
	require.Nil(t, pool.WaitDone(context.TODO()))
	require.Equal(t, uint64(0), pool.Stats().Submitted)
}

func TestPool_Concurrent(t *testing.T) {
	t.Parallel()

	pool := MustNew(16, Options{})
	count := int64(0)
	wg := sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < 10; j++ {
				d := time.Duration(rand.Intn(3)) * time.Millisecond
				_ = pool.Submit(func() {
					time.Sleep(d)
					atomic.AddInt64(&count, 1)
				})
			}
		}()
	}
	wg.Wait()
	require.Nil(t, pool.WaitDone(context.TODO()))
	require.Equal(t, int64(1000), atomic.LoadInt64(&count))
	require.Equal(t, uint64(1000), pool.Stats().Completed)
}

func TestWorkerState_String(t *testing.T) {
	require.Equal(t, "waiting", WorkerWaiting.String())
	require.Equal(t, "executing", WorkerExecuting.String())
	require.Equal(t, "stopped", WorkerStopped.String())
	require.Equal(t, "WorkerState(9)", WorkerState(9).String())
}

type lockedWriter struct {
	lock *sync.Mutex
	w    *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.w.Write(p)
}

func TestPool_StatsDuringWaitDone(t *testing.T) {
	t.Parallel()

	pool := MustNew(4, Options{PanicHandler: func(*PanicError) {}})

	accepted := atomic.Uint64{}
	submitWg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		submitWg.Add(1)
		go func(i int) {
			defer submitWg.Done()

			for j := 0; j < 200; j++ {
				j := j
				fn := emptyFunc
				if (i+j)%17 == 0 {
					fn = func() { panic(j) }
				}
				if err := pool.Submit(fn); err != nil {
					if !errors.Is(err, ErrPoolClosed) {
						t.Errorf("unexpected error: %v", err)
					}
					return
				}
				accepted.Add(1)
			}
		}(i)
	}

	stopc := make(chan struct{})
	readWg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		readWg.Add(1)
		go func() {
			defer readWg.Done()

			for {
				select {
				case <-stopc:
					return
				default:
				}
				stats := pool.Stats()
				if stats.Completed+stats.Panicked > stats.Submitted {
					t.Errorf("more funcs done than submitted: %+v", stats)
				}
				if n := stats.WaitingWorkers + stats.ExecutingWorkers + stats.StoppedWorkers; n != 4 {
					t.Errorf("unexpected number of workers: %+v", stats)
				}
				if len(pool.Workers()) != 4 {
					t.Errorf("unexpected number of worker infos")
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.Nil(t, pool.WaitDone(context.TODO()))
	submitWg.Wait()
	close(stopc)
	readWg.Wait()

	stats := pool.Stats()
	require.Equal(t, accepted.Load(), stats.Submitted)
	require.Equal(t, stats.Submitted, stats.Completed+stats.Panicked)
	require.Equal(t, 0, stats.Queued)
	require.Equal(t, 4, stats.StoppedWorkers)

	executed := uint64(0)
	for _, info := range pool.Workers() {
		require.Equal(t, WorkerStopped, info.State)
		executed += info.Executed
	}
	require.Equal(t, stats.Submitted, executed)
}

func TestPool_StatsClaimedFuncIsNotWaiting(t *testing.T) {
	t.Parallel()

	pool := MustNew(1, Options{})
	blockc := make(chan struct{})
	startedc := make(chan struct{})
	require.Nil(t, pool.Submit(func() {
		close(startedc)
		<-blockc
	}))
	<-startedc

	// Once the func runs, the claim must already be visible.
	stats := pool.Stats()
	require.Equal(t, 1, stats.ExecutingWorkers)
	require.Equal(t, 0, stats.WaitingWorkers)
	require.Equal(t, 0, stats.Queued)
	require.Equal(t, WorkerExecuting, pool.Workers()[0].State)

	close(blockc)
	require.Nil(t, pool.WaitDone(context.TODO()))
}
