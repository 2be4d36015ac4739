package esbridge

import (
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-esbridge/taskqueue"
)

// Bridge carries script jobs between the engine's job queue and the worker
// queue. Task bodies run inside a script frame, so promise reactions and
// microtasks queued by a task run once the body has returned, in FIFO
// order, before the next task. Jobs originating off the worker, such as
// host promise settlements, become tasks of their own.
type Bridge struct {
	queue    *taskqueue.Queue
	runtime  *goja.Runtime
	frame    goja.Callable
	schedule goja.Callable
	depth    int
}

func newBridge(queue *taskqueue.Queue, rt *goja.Runtime, program *goja.Program) (*Bridge, error) {
	b := &Bridge{queue: queue, runtime: rt}

	factory, err := rt.RunProgram(program)
	if err != nil {
		return nil, err
	}
	create, ok := goja.AssertFunction(factory)
	if !ok {
		return nil, fmt.Errorf("%w: bridge factory", ErrNotFunction)
	}
	v, err := create(goja.Undefined(), rt.ToValue(b.report))
	if err != nil {
		return nil, err
	}
	obj := v.ToObject(rt)
	if b.frame, ok = goja.AssertFunction(obj.Get("frame")); !ok {
		return nil, fmt.Errorf("%w: bridge frame", ErrNotFunction)
	}
	if b.schedule, ok = goja.AssertFunction(obj.Get("schedule")); !ok {
		return nil, fmt.Errorf("%w: bridge schedule", ErrNotFunction)
	}
	return b, nil
}

// Run calls fn inside a script frame. Engine jobs queued by fn run after fn
// returns, before Run does. A panic inside fn is re-raised once the frame is
// left. Worker only.
func (b *Bridge) Run(fn func()) {
	var (
		caught   any
		panicked bool
	)
	body := b.runtime.ToValue(func(goja.FunctionCall) goja.Value {
		defer func() {
			if r := recover(); r != nil {
				caught, panicked = r, true
			}
		}()
		fn()
		return goja.Undefined()
	})

	b.depth++
	_, err := b.frame(goja.Undefined(), body)
	b.depth--

	if err != nil {
		b.queue.LogError("microtask", err)
	}
	if panicked {
		panic(caught)
	}
}

// Enqueue schedules job, invoked with an undefined receiver. Within a
// [Bridge.Run] frame it joins the engine's job queue, so it keeps its
// place relative to promise reactions. Otherwise, including off the worker,
// it becomes a new task. Failures of the job are logged.
func (b *Bridge) Enqueue(job goja.Callable) error {
	if b.depth > 0 && b.queue.IsWorker() {
		_, err := b.schedule(goja.Undefined(), b.runtime.ToValue(func(goja.FunctionCall) goja.Value {
			if _, err := job(goja.Undefined()); err != nil {
				b.queue.LogError("microtask", err)
			}
			return goja.Undefined()
		}))
		return err
	}
	return b.EnqueueFunc(func() {
		if _, err := job(goja.Undefined()); err != nil {
			b.queue.LogError("microtask", err)
		}
	})
}

// EnqueueFunc schedules fn as a new task, run via [Bridge.Run]. It may be
// called from any goroutine.
func (b *Bridge) EnqueueFunc(fn func()) error {
	task := func() { b.Run(fn) }
	if b.queue.IsWorker() {
		return b.queue.SubmitFromWorker(task)
	}
	return b.queue.Submit(task)
}

// report receives the exceptions thrown by scheduled jobs.
func (b *Bridge) report(call goja.FunctionCall) goja.Value {
	thrown := call.Argument(0)
	msg := thrown.String()
	if obj, ok := thrown.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			msg = stack.String()
		}
	}
	b.queue.LogError("microtask", fmt.Errorf("uncaught exception: %s", msg))
	return goja.Undefined()
}

// queueMicrotask implements the script global of the same name. Within a
// frame the callback is scheduled directly, so an exception it throws is
// reported with its stack.
func (s *Session) queueMicrotask(call goja.FunctionCall) goja.Value {
	fn := call.Argument(0)
	job, ok := goja.AssertFunction(fn)
	if !ok {
		panic(s.runtime.NewTypeError("queueMicrotask requires a function as first argument"))
	}
	var err error
	if s.bridge.depth > 0 {
		_, err = s.bridge.schedule(goja.Undefined(), fn)
	} else {
		err = s.bridge.Enqueue(job)
	}
	if err != nil {
		panic(s.runtime.NewGoError(err))
	}
	return goja.Undefined()
}

// NewPromise creates a promise settled by the host. resolve and reject may be
// called from any goroutine, the settlement is delivered as a later task.
// Only the first settlement takes effect.
func (s *Session) NewPromise() (promise *goja.Promise, resolve, reject func(value any)) {
	s.mustBeWorker()

	p, res, rej := s.runtime.NewPromise()
	var settled atomic.Bool

	resolve = func(value any) {
		if !settled.CompareAndSwap(false, true) {
			return
		}
		if err := s.bridge.EnqueueFunc(func() { res(value) }); err != nil {
			s.logger.Err().Err(err).Log("dropped promise resolution")
		}
	}
	reject = func(value any) {
		if !settled.CompareAndSwap(false, true) {
			return
		}
		if err := s.bridge.EnqueueFunc(func() { rej(value) }); err != nil {
			s.logger.Err().Err(err).Log("dropped promise rejection")
		}
	}

	return p, resolve, reject
}
