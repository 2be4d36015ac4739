package reflection

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dop251/goja"
)

type (
	// Constructor creates the host side of a new instance, returning its id.
	// Ids must be unique among live instances of all classes.
	Constructor func(rt *goja.Runtime, args []goja.Value) (int32, error)

	// Finalizer is called exactly once, after the instance was reclaimed.
	Finalizer func(id int32)

	// Getter reads an instance property.
	Getter func(rt *goja.Runtime, id int32) (goja.Value, error)

	// Setter writes an instance property.
	Setter func(rt *goja.Runtime, id int32, value goja.Value) error

	// Method implements an instance method.
	Method func(rt *goja.Runtime, id int32, args []goja.Value) (goja.Value, error)

	// StaticGetter reads a class property.
	StaticGetter func(rt *goja.Runtime) (goja.Value, error)

	// StaticSetter writes a class property.
	StaticSetter func(rt *goja.Runtime, value goja.Value) error

	// StaticMethod implements a class method.
	StaticMethod func(rt *goja.Runtime, args []goja.Value) (goja.Value, error)

	// NativeMethod is exposed to script as is, receiving the raw call.
	NativeMethod func(call goja.FunctionCall) goja.Value
)

type property struct {
	get Getter
	set Setter
}

type staticProperty struct {
	get StaticGetter
	set StaticSetter
}

// ProxyBuilder accumulates a class declaration. It is consumed by Build.
type ProxyBuilder struct {
	constructor         Constructor
	finalizer           Finalizer
	properties          map[string]property
	methods             map[string]Method
	nativeMethods       map[string]NativeMethod
	events              map[string]struct{}
	staticProperties    map[string]staticProperty
	staticMethods       map[string]StaticMethod
	staticNativeMethods map[string]NativeMethod
	staticEvents        map[string]struct{}
	name                string
	namespace           []string
	errs                []error
	consumed            bool
}

// NewProxyBuilder starts the declaration of className under the namespace
// path (which may be empty).
func NewProxyBuilder(namespace []string, className string) *ProxyBuilder {
	return &ProxyBuilder{
		namespace:           slices.Clone(namespace),
		name:                className,
		properties:          make(map[string]property),
		methods:             make(map[string]Method),
		nativeMethods:       make(map[string]NativeMethod),
		events:              make(map[string]struct{}),
		staticProperties:    make(map[string]staticProperty),
		staticMethods:       make(map[string]StaticMethod),
		staticNativeMethods: make(map[string]NativeMethod),
		staticEvents:        make(map[string]struct{}),
	}
}

// Constructor sets the constructor. Without one, the class cannot be
// instantiated from script.
func (b *ProxyBuilder) Constructor(fn Constructor) *ProxyBuilder {
	if b.constructor != nil {
		b.fail("constructor declared twice")
	}
	b.constructor = fn
	return b
}

// Finalizer sets the finalizer.
func (b *ProxyBuilder) Finalizer(fn Finalizer) *ProxyBuilder {
	if b.finalizer != nil {
		b.fail("finalizer declared twice")
	}
	b.finalizer = fn
	return b
}

// Property declares an instance property. A nil setter makes it read-only.
func (b *ProxyBuilder) Property(name string, get Getter, set Setter) *ProxyBuilder {
	if b.member(name, false) && get != nil {
		b.properties[name] = property{get: get, set: set}
	} else if get == nil {
		b.fail("property %q has no getter", name)
	}
	return b
}

// Method declares an instance method.
func (b *ProxyBuilder) Method(name string, fn Method) *ProxyBuilder {
	if b.member(name, false) && b.notNil(name, fn != nil) {
		b.methods[name] = fn
	}
	return b
}

// NativeMethod declares an instance method receiving the raw call.
func (b *ProxyBuilder) NativeMethod(name string, fn NativeMethod) *ProxyBuilder {
	if b.member(name, false) && b.notNil(name, fn != nil) {
		b.nativeMethods[name] = fn
	}
	return b
}

// Event declares an instance event name.
func (b *ProxyBuilder) Event(name string) *ProxyBuilder {
	if name == "" {
		b.fail("event name must not be empty")
	}
	b.events[name] = struct{}{}
	return b
}

// StaticProperty declares a class property. A nil setter makes it read-only.
func (b *ProxyBuilder) StaticProperty(name string, get StaticGetter, set StaticSetter) *ProxyBuilder {
	if b.member(name, true) && get != nil {
		b.staticProperties[name] = staticProperty{get: get, set: set}
	} else if get == nil {
		b.fail("static property %q has no getter", name)
	}
	return b
}

// StaticMethod declares a class method.
func (b *ProxyBuilder) StaticMethod(name string, fn StaticMethod) *ProxyBuilder {
	if b.member(name, true) && b.notNil(name, fn != nil) {
		b.staticMethods[name] = fn
	}
	return b
}

// StaticNativeMethod declares a class method receiving the raw call.
func (b *ProxyBuilder) StaticNativeMethod(name string, fn NativeMethod) *ProxyBuilder {
	if b.member(name, true) && b.notNil(name, fn != nil) {
		b.staticNativeMethods[name] = fn
	}
	return b
}

// StaticEvent declares a class event name.
func (b *ProxyBuilder) StaticEvent(name string) *ProxyBuilder {
	if name == "" {
		b.fail("event name must not be empty")
	}
	b.staticEvents[name] = struct{}{}
	return b
}

func (b *ProxyBuilder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf("%w: %s: %s", ErrDefinition, b.name, fmt.Sprintf(format, args...)))
}

func (b *ProxyBuilder) notNil(name string, ok bool) bool {
	if !ok {
		b.fail("member %q has a nil implementation", name)
	}
	return ok
}

// member validates a new member name against the existing declarations of
// the same scope.
func (b *ProxyBuilder) member(name string, static bool) bool {
	switch {
	case name == "":
		b.fail("member name must not be empty")
		return false
	case isEventManagementName(name):
		b.fail("member %q shadows an event management function", name)
		return false
	}
	var taken bool
	if static {
		_, p := b.staticProperties[name]
		_, m := b.staticMethods[name]
		_, n := b.staticNativeMethods[name]
		taken = p || m || n
	} else {
		_, p := b.properties[name]
		_, m := b.methods[name]
		_, n := b.nativeMethods[name]
		taken = p || m || n
	}
	if taken {
		b.fail("member %q declared twice", name)
		return false
	}
	return true
}

// CanonicalName returns the registry key the class will be published under.
func (b *ProxyBuilder) CanonicalName() string {
	return canonicalName(b.namespace, b.name)
}

func canonicalName(namespace []string, name string) string {
	if len(namespace) == 0 {
		return name
	}
	return strings.Join(namespace, ".") + "." + name
}

func (b *ProxyBuilder) validate() error {
	errs := append([]error(nil), b.errs...)
	if b.name == "" || strings.Contains(b.name, ".") {
		errs = append(errs, fmt.Errorf("%w: invalid class name %q", ErrDefinition, b.name))
	}
	for _, seg := range b.namespace {
		if seg == "" || strings.Contains(seg, ".") {
			errs = append(errs, fmt.Errorf("%w: invalid namespace segment %q", ErrDefinition, seg))
		}
	}
	return errors.Join(errs...)
}

// Build consumes the builder, defines the class in scope and publishes it in
// the host's registry, replacing any class with the same canonical name.
// Definition errors abort the build before the runtime is touched.
func (b *ProxyBuilder) Build(h *Host, scope *goja.Object) (*Proxy, error) {
	h.mustBeConfined()

	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	if err := b.validate(); err != nil {
		return nil, err
	}
	if scope == nil {
		scope = h.runtime.GlobalObject()
	}

	ns, err := h.namespaceObject(scope, b.namespace)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		host:                h,
		namespace:           b.namespace,
		name:                b.name,
		canonical:           b.CanonicalName(),
		constructor:         b.constructor,
		finalizer:           b.finalizer,
		properties:          b.properties,
		methods:             b.methods,
		nativeMethods:       b.nativeMethods,
		events:              b.events,
		staticProperties:    b.staticProperties,
		staticMethods:       b.staticMethods,
		staticNativeMethods: b.staticNativeMethods,
		staticEvents:        b.staticEvents,
		listeners:           make(map[int32]map[string][]goja.Value),
		staticListeners:     make(map[string][]goja.Value),
	}

	p.callable = h.newClassCallable(p)
	if err := ns.Set(p.name, p.callable); err != nil {
		return nil, fmt.Errorf("reflection: define %s: %w", p.canonical, err)
	}

	if old := h.registry.publish(p); old != nil {
		h.logger.Debug().
			Str("class", p.canonical).
			Log("class definition replaced")
	} else {
		h.logger.Debug().
			Str("class", p.canonical).
			Log("class defined")
	}

	return p, nil
}

// namespaceObject resolves the namespace path under scope, creating missing
// objects along the way.
func (h *Host) namespaceObject(scope *goja.Object, namespace []string) (*goja.Object, error) {
	obj := scope
	for i, seg := range namespace {
		v := obj.Get(seg)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			next := h.runtime.NewObject()
			if err := obj.Set(seg, next); err != nil {
				return nil, fmt.Errorf("reflection: create namespace %s: %w", strings.Join(namespace[:i+1], "."), err)
			}
			obj = next
			continue
		}
		next, ok := v.(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("%w: namespace %s is not an object", ErrDefinition, strings.Join(namespace[:i+1], "."))
		}
		obj = next
	}
	return obj, nil
}
