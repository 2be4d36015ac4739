package reflection

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dop251/goja"
)

// Proxy is a published class definition. Its declarations are immutable, only
// the listener tables change after Build.
type Proxy struct {
	host                *Host
	constructor         Constructor
	finalizer           Finalizer
	callable            *goja.Object
	properties          map[string]property
	methods             map[string]Method
	nativeMethods       map[string]NativeMethod
	events              map[string]struct{}
	staticProperties    map[string]staticProperty
	staticMethods       map[string]StaticMethod
	staticNativeMethods map[string]NativeMethod
	staticEvents        map[string]struct{}
	listeners           map[int32]map[string][]goja.Value
	staticListeners     map[string][]goja.Value
	name                string
	canonical           string
	namespace           []string
	mu                  sync.Mutex
}

// Name returns the class name.
func (p *Proxy) Name() string {
	return p.name
}

// CanonicalName returns the namespace path joined with the class name.
func (p *Proxy) CanonicalName() string {
	return p.canonical
}

// Namespace returns a copy of the namespace path.
func (p *Proxy) Namespace() []string {
	return slices.Clone(p.namespace)
}

// Callable returns the constructible function defined for the class.
func (p *Proxy) Callable() *goja.Object {
	return p.callable
}

// Constructible reports whether script may instantiate the class.
func (p *Proxy) Constructible() bool {
	return p.constructor != nil
}

// NewInstance constructs an instance as script would with new, converting
// args with the runtime's ToValue. The current definition of the class
// is used. It fails with [ErrNoSuchClass] if p declares no constructor.
func (p *Proxy) NewInstance(args ...any) (*goja.Object, error) {
	p.host.mustBeConfined()
	if p.constructor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchClass, p.canonical)
	}
	rt := p.host.runtime
	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = rt.ToValue(arg)
	}
	return rt.New(p.callable, values...)
}

// Instance returns the live instance with the given id, if it has not been
// collected.
func (p *Proxy) Instance(id int32) (*goja.Object, bool) {
	p.host.mustBeConfined()
	className, ok := p.host.directory.ClassName(id)
	if !ok || className != p.canonical {
		return nil, false
	}
	return p.host.directory.Object(id)
}

// AddListener registers fn for an instance event. Undeclared events are
// logged and ignored.
func (p *Proxy) AddListener(id int32, event string, fn goja.Value) error {
	p.host.mustBeConfined()
	return p.addListener(instanceScope(id), event, fn)
}

// AddStaticListener registers fn for a class event.
func (p *Proxy) AddStaticListener(event string, fn goja.Value) error {
	p.host.mustBeConfined()
	return p.addListener(staticScope, event, fn)
}

// RemoveListener removes the first registration of fn for an instance event.
func (p *Proxy) RemoveListener(id int32, event string, fn goja.Value) {
	p.host.mustBeConfined()
	p.removeListener(instanceScope(id), event, fn)
}

// RemoveStaticListener removes the first registration of fn for a class event.
func (p *Proxy) RemoveStaticListener(event string, fn goja.Value) {
	p.host.mustBeConfined()
	p.removeListener(staticScope, event, fn)
}

// Dispatch invokes the listeners of an instance event in registration order.
// Dispatching to an id without listeners, e.g. a finalized one, is a no-op.
// The first failing listener aborts the dispatch, see [ErrListenerFailed].
func (p *Proxy) Dispatch(id int32, event string, value any) error {
	p.host.mustBeConfined()
	return p.dispatch(instanceScope(id), event, p.host.runtime.ToValue(value))
}

// DispatchStatic invokes the listeners of a class event.
func (p *Proxy) DispatchStatic(event string, value any) error {
	p.host.mustBeConfined()
	return p.dispatch(staticScope, event, p.host.runtime.ToValue(value))
}

// ListenerCount returns the number of listeners of an instance event.
func (p *Proxy) ListenerCount(id int32, event string) int {
	return len(p.snapshot(instanceScope(id), event))
}

// StaticListenerCount returns the number of listeners of a class event.
func (p *Proxy) StaticListenerCount(event string) int {
	return len(p.snapshot(staticScope, event))
}
