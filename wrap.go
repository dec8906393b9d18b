package threadpool

import (
	"runtime/debug"
	"sync"
)

// None is a placeholder for convinience if there is no parameters or no return value.
type None struct{}

type wrapResult[T any] struct {
	val T
	err error
}

// Wrap wraps a function for ease of future use,
// allowing the wrapped function to be executed within the Pool.
// The wrapped function waits for the result, a panic in f is
// returned as a *PanicError instead of reaching the PanicHandler.
func Wrap[In, Out any](p *Pool, f func(In) (Out, error)) func(In) (Out, error) {
	chanPool := sync.Pool{}

	return func(in In) (Out, error) {
		c, ok := chanPool.Get().(chan wrapResult[Out])
		if !ok {
			c = make(chan wrapResult[Out], 1)
		}

		err := p.Submit(func() {
			var ret wrapResult[Out]
			defer func() {
				if r := recover(); r != nil {
					ret.err = &PanicError{WorkerID: -1, Value: r, Stack: debug.Stack()}
				}
				c <- ret
			}()
			ret.val, ret.err = f(in)
		})
		if err != nil {
			chanPool.Put(c)
			var out Out
			return out, err
		}
		ret := <-c
		chanPool.Put(c)
		return ret.val, ret.err
	}
}
