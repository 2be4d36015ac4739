package esbridge

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"weak"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-esbridge/reflection"
	"github.com/joeycumines/go-esbridge/taskqueue"
	"github.com/joeycumines/logiface"
)

// Session is the engine state owned by the worker of a [Runtime]: the
// script runtime, its reflection host, registered operations and loaded
// modules.
//
// Every method must be called from the worker, i.e. from within a task
// submitted via [Runtime.Do] or [Exec], and panics with
// [taskqueue.ErrNotWorker] otherwise.
type Session struct {
	ctx      context.Context
	core     *runtimeCore
	owner    weak.Pointer[Runtime]
	logger   *logiface.Logger[logiface.Event]
	runtime  *goja.Runtime
	require  *require.RequireModule
	host     *reflection.Host
	bridge   *Bridge
	modules  *moduleSet
	ops      map[string]Operation
	asyncOps map[string]AsyncOperation
	cancel   context.CancelFunc
	hooks    []func(*Session)
}

func newSession(core *runtimeCore, owner weak.Pointer[Runtime]) *Session {
	eng, err := sharedEngine()
	if err != nil {
		panic(fmt.Errorf("esbridge: prelude: %w", err))
	}

	rt := goja.New()
	bridge, err := newBridge(core.queue, rt, eng.bridge)
	if err != nil {
		panic(fmt.Errorf("esbridge: bridge: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ctx:      ctx,
		cancel:   cancel,
		core:     core,
		owner:    owner,
		logger:   core.logger,
		runtime:  rt,
		bridge:   bridge,
		modules:  newModuleSet(core.logger, core.loader, core.cache),
		ops:      make(map[string]Operation),
		asyncOps: make(map[string]AsyncOperation),
	}

	registry := require.NewRegistry(
		require.WithLoader(s.modules.load),
		require.WithGlobalFolders("."),
	)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{logger: core.logger}))
	s.require = registry.Enable(rt)
	console.Enable(rt)

	s.host, err = reflection.NewHost(rt,
		reflection.WithLogger(core.logger),
		reflection.WithFinalizeNotifier(func(fn func()) error {
			return core.queue.Submit(func() { bridge.Run(fn) })
		}),
		reflection.WithConfinement(core.queue.IsWorker),
	)
	if err != nil {
		panic(err)
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"__log":            s.scriptLog,
		"__invoke_host_op": s.invokeHostOp,
		"queueMicrotask":   s.queueMicrotask,
	} {
		if err := rt.Set(name, fn); err != nil {
			panic(err)
		}
	}

	if _, err := rt.RunProgram(eng.prelude); err != nil {
		panic(fmt.Errorf("esbridge: prelude: %w", err))
	}

	s.logger.Debug().
		Str("runtime", core.id).
		Log("session started")

	return s
}

// teardown releases the session. It runs as the final task of the queue.
func (s *Session) teardown() {
	s.cancel()
	s.logger.Debug().
		Str("runtime", s.core.id).
		Int("instances", s.host.Directory().Len()).
		Log("session stopped")
}

func (s *Session) mustBeWorker() {
	if !s.core.queue.IsWorker() {
		panic(taskqueue.ErrNotWorker)
	}
}

// Runtime returns the script runtime.
func (s *Session) Runtime() *goja.Runtime {
	s.mustBeWorker()
	return s.runtime
}

// Host returns the reflection host of the session.
func (s *Session) Host() *reflection.Host {
	s.mustBeWorker()
	return s.host
}

// Registry returns the class registry.
func (s *Session) Registry() *reflection.Registry {
	s.mustBeWorker()
	return s.host.Registry()
}

// Directory returns the instance directory.
func (s *Session) Directory() *reflection.Directory {
	s.mustBeWorker()
	return s.host.Directory()
}

// Bridge returns the microtask bridge.
func (s *Session) Bridge() *Bridge {
	return s.bridge
}

// Context is cancelled once the session is torn down.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Owner returns the [Runtime] owning this session. It panics with
// [ErrOwnerGone] if the handle has been reclaimed, which can only be
// observed by tasks still draining after the handle was dropped.
func (s *Session) Owner() *Runtime {
	r := s.owner.Value()
	if r == nil {
		panic(ErrOwnerGone)
	}
	return r
}

// Define builds b into the global scope.
func (s *Session) Define(b *reflection.ProxyBuilder) (*reflection.Proxy, error) {
	return s.DefineIn(nil, b)
}

// DefineIn builds b into scope, or the global scope if nil.
func (s *Session) DefineIn(scope *goja.Object, b *reflection.ProxyBuilder) (*reflection.Proxy, error) {
	s.mustBeWorker()
	return b.Build(s.host, scope)
}

// Eval evaluates code as a script named name, returning its completion
// value.
func (s *Session) Eval(code, name string) (goja.Value, error) {
	s.mustBeWorker()

	if b := s.logger.Trace(); b.Enabled() {
		b.Str("script", name).Log("evaluating")
	}

	v, err := s.runtime.RunScript(name, code)
	if err != nil {
		return nil, newScriptError(err, s.modules)
	}
	return v, nil
}

// EvalVoid evaluates code, discarding the completion value.
func (s *Session) EvalVoid(code, name string) error {
	_, err := s.Eval(code, name)
	return err
}

// LoadModule transforms and evaluates src as the module name, which is then
// resolvable via require(name). Loading identical source under the same name
// again is a no-op.
func (s *Session) LoadModule(src, name string) error {
	s.mustBeWorker()

	if _, err := s.modules.define(name, src); err != nil {
		return newScriptError(err, s.modules)
	}
	if _, err := s.require.Require(name); err != nil {
		return newScriptError(err, s.modules)
	}

	s.logger.Debug().
		Str("module", name).
		Log("module loaded")

	return nil
}

// Require resolves a module the way script require does, returning its
// exports.
func (s *Session) Require(name string) (goja.Value, error) {
	s.mustBeWorker()
	v, err := s.require.Require(name)
	if err != nil {
		return nil, newScriptError(err, s.modules)
	}
	return v, nil
}

// Call invokes the function fn of the object at path, which is resolved from
// the global scope, with that object as receiver. Arguments are converted
// with [goja.Runtime.ToValue].
func (s *Session) Call(path []string, fn string, args ...any) (goja.Value, error) {
	s.mustBeWorker()

	obj := s.runtime.GlobalObject()
	for i, seg := range path {
		next, ok := obj.Get(seg).(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrNotFunction, strings.Join(path[:i+1], "."))
		}
		obj = next
	}

	qualified := strings.Join(append(path[:len(path):len(path)], fn), ".")
	callable, ok := goja.AssertFunction(obj.Get(fn))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFunction, qualified)
	}

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = s.runtime.ToValue(arg)
	}

	if b := s.logger.Trace(); b.Enabled() {
		b.Str("function", qualified).Log("calling")
	}

	v, err := callable(obj, values...)
	if err != nil {
		return nil, newScriptError(err, s.modules)
	}
	return v, nil
}

// AddCleanupHook registers fn to run at the start of every [Session.Cleanup].
func (s *Session) AddCleanupHook(fn func(*Session)) {
	s.mustBeWorker()
	s.hooks = append(s.hooks, fn)
}

// Cleanup runs the host cleanup hooks, then the script hooks registered via
// esbridge.onCleanup, then forces a garbage collection. Instances found
// unreachable are finalized by later tasks.
func (s *Session) Cleanup() error {
	s.mustBeWorker()

	for _, hook := range s.hooks {
		hook(s)
	}

	_, err := s.Call([]string{"esbridge"}, "cleanup")

	runtime.GC()

	s.logger.Debug().
		Str("runtime", s.core.id).
		Int("instances", s.host.Directory().Len()).
		Log("cleanup complete")

	return err
}
