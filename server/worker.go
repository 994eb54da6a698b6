package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/pagevm/vm"
)

// ErrWorkerStopped is returned by Do once Stop has been called.
var ErrWorkerStopped = errors.New("server: worker stopped")

// request is a unit of work to be executed on the runtime goroutine.
type request struct {
	fn   func(*vm.Runtime) (any, error)
	done chan result
}

// result holds the return value from a runtime operation.
type result struct {
	value any
	err   error
}

// Worker serializes all runtime access through a single goroutine.
// A vm.Runtime is single-threaded; every handler must go through the
// worker to avoid data races.
type Worker struct {
	rt       *vm.Runtime
	requests chan request
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(rt *vm.Runtime) *Worker {
	w := &Worker{
		rt:       rt,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the runtime, recovering from panics. Contract
// violations panic with a *vm.ContractError, which is returned as is so
// callers can still match it with errors.Is.
func (w *Worker) execute(fn func(*vm.Runtime) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				res.err = err
			} else {
				res.err = fmt.Errorf("%v", r)
			}
			log.Warningf("recovered from panic in worker: %s", res.err)
		}
	}()
	res.value, res.err = fn(w.rt)
	return res
}

// Do submits fn for execution on the runtime goroutine and blocks until
// it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*vm.Runtime) (any, error)) (any, error) {
	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// Runtime returns the underlying runtime. Only use it from functions
// passed to Do.
func (w *Worker) Runtime() *vm.Runtime {
	return w.rt
}

// doTyped runs fn through w and asserts its result type.
func doTyped[T any](w *Worker, fn func(*vm.Runtime) (T, error)) (T, error) {
	v, err := w.Do(func(rt *vm.Runtime) (any, error) {
		return fn(rt)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
