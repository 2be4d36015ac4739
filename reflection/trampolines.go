package reflection

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// All trampolines resolve the class through the registry when invoked, so a
// rebuilt class serves instances created from the previous definition.

func (h *Host) newClassCallable(p *Proxy) *goja.Object {
	rt := h.runtime
	canonical := p.canonical
	var ctor *goja.Object
	ctor = rt.ToValue(func(call goja.ConstructorCall) *goja.Object {
		return h.construct(ctor, canonical, call)
	}).(*goja.Object)

	_ = ctor.DefineDataProperty("name", rt.ToValue(p.name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = ctor.DefineDataProperty(classTagKey, rt.ToValue(&classTag{canonical: p.canonical}), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	for name, prop := range p.staticProperties {
		getLabel, setLabel := getterPrefix+name, setterPrefix+name
		getter := h.labelled(getLabel, func(call goja.FunctionCall) goja.Value {
			return h.staticGetter(call.This, getLabel)
		})
		var setter goja.Value
		if prop.set != nil {
			setter = h.labelled(setLabel, func(call goja.FunctionCall) goja.Value {
				h.staticSetter(call.This, setLabel, call.Argument(0))
				return goja.Undefined()
			})
		}
		_ = ctor.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}

	for name := range p.staticMethods {
		fn := h.labelled(name, func(call goja.FunctionCall) goja.Value {
			return h.callStaticMethod(call, name)
		})
		_ = ctor.DefineDataProperty(name, fn, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}

	for name := range p.staticNativeMethods {
		fn := h.labelled(name, func(call goja.FunctionCall) goja.Value {
			return h.callStaticNativeMethod(call, name)
		})
		_ = ctor.DefineDataProperty(name, fn, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}

	for _, name := range [...]string{addEventListenerName, removeEventListenerName, dispatchEventName} {
		_ = ctor.DefineDataProperty(name, h.eventFunction(name, true), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}

	return ctor
}

// labelled wraps fn as a script function with the given name.
func (h *Host) labelled(name string, fn func(call goja.FunctionCall) goja.Value) goja.Value {
	obj := h.runtime.ToValue(fn).(*goja.Object)
	_ = obj.DefineDataProperty("name", h.runtime.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	return obj
}

// construct instantiates the class canonical for the callable ctor. The
// definition is resolved on each call, so the latest Define wins.
func (h *Host) construct(ctor *goja.Object, canonical string, call goja.ConstructorCall) *goja.Object {
	// goja leaves NewTarget nil for new on native constructors, only a
	// receiver outside the class's prototype chain marks a plain call
	if call.NewTarget == nil && !inherits(call.This, ctor.Get("prototype")) {
		panic(h.runtime.NewTypeError(fmt.Sprintf("class constructor %s cannot be invoked without 'new'", canonical)))
	}

	p, ok := h.registry.Lookup(canonical)
	if !ok || p.constructor == nil {
		h.throw(fmt.Errorf("%w: %s", ErrNoSuchClass, canonical))
	}

	id, err := p.constructor(h.runtime, call.Arguments)
	if err != nil {
		h.throw(fmt.Errorf("construct %s failed: %w", p.canonical, err))
	}

	in := &instance{
		host: h,
		tag:  Tag{ClassName: p.canonical, InstanceID: id},
	}
	obj := h.runtime.NewDynamicObject(in)
	if proto := call.This.Prototype(); proto != nil {
		_ = obj.SetPrototype(proto)
	}
	in.tag.ObjectID = h.directory.register(obj, p, id)

	if b := h.logger.Debug(); b.Enabled() {
		b.Str("class", p.canonical).
			Int64("instance", int64(id)).
			Uint64("object", uint64(in.tag.ObjectID)).
			Log("constructed instance")
	}

	return obj
}

// bindInstanceMember creates the binding for key on in, or returns nil if
// the class declares no such member.
func (h *Host) bindInstanceMember(p *Proxy, in *instance, key string) *boundMember {
	if isEventManagementName(key) {
		return &boundMember{value: h.eventFunction(key, false)}
	}

	if prop, ok := p.properties[key]; ok {
		getLabel, setLabel := getterPrefix+key, setterPrefix+key
		m := &boundMember{
			get: func() goja.Value { return h.instanceGetter(in.tag, getLabel) },
		}
		if prop.set != nil {
			m.set = func(v goja.Value) bool { return h.instanceSetter(in.tag, setLabel, v) }
		}
		return m
	}

	if _, ok := p.methods[key]; ok {
		return &boundMember{value: h.labelled(key, func(call goja.FunctionCall) goja.Value {
			return h.callMethod(call, key)
		})}
	}

	if _, ok := p.nativeMethods[key]; ok {
		return &boundMember{value: h.labelled(key, func(call goja.FunctionCall) goja.Value {
			return h.callNativeMethod(call, key)
		})}
	}

	return nil
}

// proxyFor returns the current definition of className, throwing if there is
// none.
func (h *Host) proxyFor(className string) *Proxy {
	p, ok := h.registry.Lookup(className)
	if !ok {
		h.throw(fmt.Errorf("%w: %s", ErrNoSuchClass, className))
	}
	return p
}

// classOf returns the current definition of the class callable v.
func (h *Host) classOf(v goja.Value) *Proxy {
	if obj, ok := v.(*goja.Object); ok {
		if tag, ok := exported[*classTag](obj.Get(classTagKey)); ok {
			return h.proxyFor(tag.canonical)
		}
	}
	panic(h.runtime.NewTypeError("receiver is not a class"))
}

// instanceOf returns the instance backing v.
func (h *Host) instanceOf(v goja.Value) *instance {
	if obj, ok := v.(*goja.Object); ok {
		if handle, ok := exported[*instanceHandle](obj.Get(instanceTagKey)); ok {
			return handle.in
		}
	}
	h.throw(ErrNotInstance)
	return nil
}

// inherits reports whether proto is on the prototype chain of v.
func inherits(v, proto goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok || proto == nil {
		return false
	}
	for o := obj.Prototype(); o != nil; o = o.Prototype() {
		if o.SameAs(proto) {
			return true
		}
	}
	return false
}

func exported[T any](v goja.Value) (T, bool) {
	var zero T
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return zero, false
	}
	t, ok := v.Export().(T)
	return t, ok
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}

func (h *Host) instanceGetter(tag Tag, label string) goja.Value {
	name := memberName(label)
	p := h.proxyFor(tag.ClassName)
	prop, ok := p.properties[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	v, err := prop.get(h.runtime, tag.InstanceID)
	if err != nil {
		h.throw(fmt.Errorf("getter %s failed: %w", name, err))
	}
	return orUndefined(v)
}

func (h *Host) instanceSetter(tag Tag, label string, value goja.Value) bool {
	name := memberName(label)
	p := h.proxyFor(tag.ClassName)
	prop, ok := p.properties[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	if prop.set == nil {
		return false
	}
	if err := prop.set(h.runtime, tag.InstanceID, value); err != nil {
		h.throw(fmt.Errorf("setter %s failed: %w", name, err))
	}
	return true
}

func (h *Host) callMethod(call goja.FunctionCall, name string) goja.Value {
	in := h.instanceOf(call.This)
	p := h.proxyFor(in.tag.ClassName)
	fn, ok := p.methods[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	v, err := fn(h.runtime, in.tag.InstanceID, call.Arguments)
	if err != nil {
		h.throw(fmt.Errorf("method %s failed: %w", name, err))
	}
	return orUndefined(v)
}

func (h *Host) callNativeMethod(call goja.FunctionCall, name string) goja.Value {
	in := h.instanceOf(call.This)
	p := h.proxyFor(in.tag.ClassName)
	fn, ok := p.nativeMethods[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	return orUndefined(fn(call))
}

func (h *Host) staticGetter(this goja.Value, label string) goja.Value {
	name := memberName(label)
	p := h.classOf(this)
	prop, ok := p.staticProperties[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	v, err := prop.get(h.runtime)
	if err != nil {
		h.throw(fmt.Errorf("getter %s failed: %w", name, err))
	}
	return orUndefined(v)
}

func (h *Host) staticSetter(this goja.Value, label string, value goja.Value) {
	name := memberName(label)
	p := h.classOf(this)
	prop, ok := p.staticProperties[name]
	if !ok || prop.set == nil {
		h.throw(fmt.Errorf("%w: %s.%s is not writable", ErrNoSuchMember, p.canonical, name))
	}
	if err := prop.set(h.runtime, value); err != nil {
		h.throw(fmt.Errorf("setter %s failed: %w", name, err))
	}
}

func (h *Host) callStaticMethod(call goja.FunctionCall, name string) goja.Value {
	p := h.classOf(call.This)
	fn, ok := p.staticMethods[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	v, err := fn(h.runtime, call.Arguments)
	if err != nil {
		h.throw(fmt.Errorf("method %s failed: %w", name, err))
	}
	return orUndefined(v)
}

func (h *Host) callStaticNativeMethod(call goja.FunctionCall, name string) goja.Value {
	p := h.classOf(call.This)
	fn, ok := p.staticNativeMethods[name]
	if !ok {
		h.throw(fmt.Errorf("%w: %s.%s", ErrNoSuchMember, p.canonical, name))
	}
	return orUndefined(fn(call))
}

// eventFunction returns the script side of addEventListener,
// removeEventListener or dispatchEvent. Static variants take the class as
// receiver, the others an instance.
func (h *Host) eventFunction(name string, static bool) goja.Value {
	receiver := func(this goja.Value) (*Proxy, listenerScope) {
		if static {
			return h.classOf(this), staticScope
		}
		in := h.instanceOf(this)
		return h.proxyFor(in.tag.ClassName), instanceScope(in.tag.InstanceID)
	}

	switch name {
	case addEventListenerName:
		return h.labelled(name, func(call goja.FunctionCall) goja.Value {
			p, s := receiver(call.This)
			if err := p.addListener(s, call.Argument(0).String(), call.Argument(1)); err != nil {
				panic(h.runtime.NewTypeError(err.Error()))
			}
			return goja.Undefined()
		})
	case removeEventListenerName:
		return h.labelled(name, func(call goja.FunctionCall) goja.Value {
			p, s := receiver(call.This)
			p.removeListener(s, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
	case dispatchEventName:
		return h.labelled(name, func(call goja.FunctionCall) goja.Value {
			p, s := receiver(call.This)
			if err := p.dispatch(s, call.Argument(0).String(), call.Argument(1)); err != nil {
				var ex *goja.Exception
				if errors.As(err, &ex) {
					panic(ex)
				}
				h.throw(err)
			}
			return goja.Undefined()
		})
	default:
		panic(fmt.Sprintf("reflection: unknown event function %q", name))
	}
}
