package esbridge

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-esbridge/taskqueue"
)

type (
	// Operation is a host function invocable from script by name, via
	// esbridge.invoke(name, ...args). It runs on the worker.
	Operation func(s *Session, args []goja.Value) (goja.Value, error)

	// AsyncOperation runs on its own goroutine, script receives a promise of
	// its result. Arguments are exported before the goroutine starts, as
	// engine values must not leave the worker. ctx is cancelled when the
	// session is torn down.
	AsyncOperation func(ctx context.Context, args []any) (any, error)
)

// RegisterOperation registers op under name, replacing any previous
// operation of that name.
func (s *Session) RegisterOperation(name string, op Operation) {
	s.mustBeWorker()
	delete(s.asyncOps, name)
	s.ops[name] = op
}

// RegisterAsyncOperation registers op under name, replacing any previous
// operation of that name.
func (s *Session) RegisterAsyncOperation(name string, op AsyncOperation) {
	s.mustBeWorker()
	delete(s.ops, name)
	s.asyncOps[name] = op
}

// InvokeOperation runs the operation registered under name. Async
// operations return a promise.
func (s *Session) InvokeOperation(name string, args []goja.Value) (goja.Value, error) {
	s.mustBeWorker()

	if b := s.logger.Trace(); b.Enabled() {
		b.Str("op", name).
			Int("args", len(args)).
			Log("invoking operation")
	}

	if op, ok := s.ops[name]; ok {
		return op(s, args)
	}
	if op, ok := s.asyncOps[name]; ok {
		return s.startAsync(name, op, args), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
}

// invokeHostOp implements __invoke_host_op(name, ...args).
func (s *Session) invokeHostOp(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	var args []goja.Value
	if len(call.Arguments) > 1 {
		args = call.Arguments[1:]
	}
	v, err := s.InvokeOperation(name, args)
	if err != nil {
		panic(s.runtime.NewGoError(fmt.Errorf("op %s failed: %w", name, err)))
	}
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// startAsync runs op on a new goroutine, settling the returned promise in a
// later task. A panic or runtime.Goexit inside op rejects the promise.
func (s *Session) startAsync(name string, op AsyncOperation, args []goja.Value) goja.Value {
	exported := make([]any, len(args))
	for i, arg := range args {
		exported[i] = arg.Export()
	}

	promise, resolve, reject := s.runtime.NewPromise()
	rt := s.runtime
	ctx := s.ctx

	// settle runs off the worker, the settlement itself on it
	settle := func(fn func()) {
		if err := s.bridge.EnqueueFunc(fn); err != nil {
			s.logger.Err().
				Str("op", name).
				Err(err).
				Log("dropped async operation result")
		}
	}
	fail := func(err error) {
		settle(func() { reject(rt.NewGoError(fmt.Errorf("op %s failed: %w", name, err))) })
	}

	go func() {
		var completed bool
		defer func() {
			if r := recover(); r != nil {
				fail(taskqueue.PanicError{Value: r})
			} else if !completed {
				fail(taskqueue.ErrGoexit)
			}
		}()

		if err := ctx.Err(); err != nil {
			completed = true
			fail(err)
			return
		}

		value, err := op(ctx, exported)
		completed = true
		if err != nil {
			fail(err)
			return
		}
		settle(func() { resolve(value) })
	}()

	return rt.ToValue(promise)
}
