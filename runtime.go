package esbridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/joeycumines/go-esbridge/reflection"
	"github.com/joeycumines/go-esbridge/taskqueue"
	"github.com/joeycumines/logiface"
)

// Runtime is the handle to a script engine running on its own worker
// goroutine. It is safe for concurrent use; every operation is serialized
// through the worker's task queue.
//
// A Runtime should be closed. If it becomes unreachable without Close, its
// worker is shut down once the garbage collector notices.
type Runtime struct {
	core *runtimeCore
}

// runtimeCore is everything the worker needs. It never references the
// Runtime, so the handle can be collected while tasks are pending.
type runtimeCore struct {
	logger   *logiface.Logger[logiface.Event]
	queue    *taskqueue.Queue
	session  *taskqueue.Local[*Session]
	loader   ModuleLoader
	cache    *moduleCache
	stop     chan struct{}
	id       string
	stopOnce sync.Once
}

// New starts a runtime. The engine itself is created lazily, by the first
// task that needs it.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("esbridge: %w", err)
	}

	id := uuid.NewString()

	queue, err := taskqueue.New(
		taskqueue.WithLogger(cfg.logger),
		taskqueue.WithName(cfg.name),
		taskqueue.WithMetrics(cfg.registerer),
	)
	if err != nil {
		return nil, fmt.Errorf("esbridge: %w", err)
	}

	core := &runtimeCore{
		logger: cfg.logger,
		queue:  queue,
		loader: cfg.loader,
		cache:  newModuleCache(cfg.moduleCacheSize),
		stop:   make(chan struct{}),
		id:     id,
	}

	r := &Runtime{core: core}
	owner := weak.Make(r)
	core.session = taskqueue.NewLocal(queue, func() *Session {
		return newSession(core, owner)
	})

	runtime.AddCleanup(r, func(core *runtimeCore) {
		if core.queue.State() != taskqueue.StateOpen {
			return
		}
		core.logger.Warning().
			Str("runtime", core.id).
			Log("runtime reclaimed without close")
		go func() { _ = core.close(context.Background()) }()
	}, core)

	if cfg.gcInterval > 0 {
		go core.collectPeriodically(cfg.gcInterval)
	}

	core.logger.Debug().
		Str("runtime", id).
		Str("name", cfg.name).
		Log("runtime started")

	return r, nil
}

// ID returns the unique id of the runtime.
func (r *Runtime) ID() string {
	return r.core.id
}

// Do submits fn to run on the worker, returning once it is queued.
func (r *Runtime) Do(fn func(*Session)) error {
	if fn == nil {
		return taskqueue.ErrNilTask
	}
	core := r.core
	return core.queue.Submit(func() {
		s := core.session.Get()
		s.bridge.Run(func() { fn(s) })
	})
}

// Exec runs fn on the worker and waits for its result. The result is
// delivered before any promise reaction or microtask queued by fn runs.
// Calling it from the worker fails with [taskqueue.ErrReentrantCall].
func Exec[R any](r *Runtime, fn func(*Session) (R, error)) (R, error) {
	if fn == nil {
		var zero R
		return zero, taskqueue.ErrNilTask
	}
	core := r.core
	return taskqueue.Settle(core.queue, func(settle func(R, error)) {
		s := core.session.Get()
		s.bridge.Run(func() { settle(fn(s)) })
	})
}

// Eval evaluates code and returns the exported completion value.
func (r *Runtime) Eval(code, name string) (any, error) {
	return Exec(r, func(s *Session) (any, error) {
		v, err := s.Eval(code, name)
		if err != nil {
			return nil, err
		}
		return v.Export(), nil
	})
}

// EvalVoid evaluates code and waits for it to complete.
func (r *Runtime) EvalVoid(code, name string) error {
	_, err := Exec(r, func(s *Session) (struct{}, error) {
		return struct{}{}, s.EvalVoid(code, name)
	})
	return err
}

// EvalAsync queues the evaluation of code. Failures are logged.
func (r *Runtime) EvalAsync(code, name string) error {
	core := r.core
	return r.Do(func(s *Session) {
		if err := s.EvalVoid(code, name); err != nil {
			core.queue.LogError("eval", err)
		}
	})
}

// LoadModule transforms and evaluates a module, see [Session.LoadModule].
func (r *Runtime) LoadModule(src, name string) error {
	_, err := Exec(r, func(s *Session) (struct{}, error) {
		return struct{}{}, s.LoadModule(src, name)
	})
	return err
}

// Call invokes a script function and returns its exported result, see
// [Session.Call].
func (r *Runtime) Call(path []string, fn string, args ...any) (any, error) {
	return Exec(r, func(s *Session) (any, error) {
		v, err := s.Call(path, fn, args...)
		if err != nil {
			return nil, err
		}
		return v.Export(), nil
	})
}

// CallAsync queues the invocation of a script function. Failures are
// logged.
func (r *Runtime) CallAsync(path []string, fn string, args ...any) error {
	core := r.core
	return r.Do(func(s *Session) {
		if _, err := s.Call(path, fn, args...); err != nil {
			core.queue.LogError("call", err)
		}
	})
}

// RegisterOperation registers a synchronous operation.
func (r *Runtime) RegisterOperation(name string, op Operation) error {
	_, err := Exec(r, func(s *Session) (struct{}, error) {
		s.RegisterOperation(name, op)
		return struct{}{}, nil
	})
	return err
}

// RegisterAsyncOperation registers an asynchronous operation.
func (r *Runtime) RegisterAsyncOperation(name string, op AsyncOperation) error {
	_, err := Exec(r, func(s *Session) (struct{}, error) {
		s.RegisterAsyncOperation(name, op)
		return struct{}{}, nil
	})
	return err
}

// Define builds a class into the global scope. The returned proxy must only
// be used from the worker.
func (r *Runtime) Define(b *reflection.ProxyBuilder) (*reflection.Proxy, error) {
	return Exec(r, func(s *Session) (*reflection.Proxy, error) {
		return s.Define(b)
	})
}

// Cleanup runs the cleanup hooks and forces a garbage collection, see
// [Session.Cleanup].
func (r *Runtime) Cleanup() error {
	_, err := Exec(r, func(s *Session) (struct{}, error) {
		return struct{}{}, s.Cleanup()
	})
	return err
}

// Close shuts the runtime down: queued tasks still run, then the session is
// torn down and the worker exits. ctx bounds the wait.
func (r *Runtime) Close(ctx context.Context) error {
	return r.core.close(ctx)
}

func (c *runtimeCore) close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })

	err := c.queue.Close(ctx, func() {
		if s, ok := c.session.Peek(); ok {
			s.teardown()
		}
		c.session.Clear()
	})
	if errors.Is(err, taskqueue.ErrQueueClosed) {
		return nil
	}
	if err == nil {
		c.logger.Debug().
			Str("runtime", c.id).
			Log("runtime closed")
	}
	return err
}

// collectPeriodically submits a cleanup task every interval, until the
// runtime closes. Ticks are skipped while the session does not exist yet.
func (c *runtimeCore) collectPeriodically(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.queue.Done():
			return
		case <-ticker.C:
			if err := c.queue.Submit(c.periodicCleanup); err != nil {
				return
			}
		}
	}
}

func (c *runtimeCore) periodicCleanup() {
	s, ok := c.session.Peek()
	if !ok {
		return
	}
	s.bridge.Run(func() {
		if err := s.Cleanup(); err != nil {
			c.queue.LogError("cleanup", err)
		}
	})
}
