package reflection

import (
	"slices"

	"github.com/dop251/goja"
)

// Tag identifies a constructed instance.
type Tag struct {
	// ClassName is the canonical name of the class the instance was
	// constructed from.
	ClassName string
	// InstanceID is the id returned by the class constructor.
	InstanceID int32
	// ObjectID is the directory key of the script object.
	ObjectID ObjectID
}

// classTag is stored, hidden, on every class callable.
type classTag struct {
	canonical string
}

// instanceHandle is the value exposed under instanceTagKey. It wraps the
// instance so the runtime reflects a plain struct pointer.
type instanceHandle struct {
	in *instance
}

// boundMember is a member resolved on first access. Accessors carry get and
// set, everything else is a plain value.
type boundMember struct {
	value goja.Value
	get   func() goja.Value
	set   func(goja.Value) bool
}

// instance backs the script object of a constructed instance. Declared
// members are bound lazily, anything else script assigns is kept as an
// ordinary own property.
type instance struct {
	host    *Host
	handle  goja.Value
	members map[string]*boundMember
	expando map[string]goja.Value
	keys    []string
	tag     Tag
}

var _ goja.DynamicObject = (*instance)(nil)

func (in *instance) Get(key string) goja.Value {
	if key == instanceTagKey {
		if in.handle == nil {
			in.handle = in.host.runtime.ToValue(&instanceHandle{in: in})
		}
		return in.handle
	}
	if m := in.resolve(key); m != nil {
		if m.get != nil {
			return m.get()
		}
		return m.value
	}
	return in.expando[key]
}

func (in *instance) Set(key string, val goja.Value) bool {
	if key == instanceTagKey {
		return false
	}
	if m := in.resolve(key); m != nil {
		if m.set != nil {
			return m.set(val)
		}
		if m.get != nil {
			return false
		}
		// methods may be overridden per instance
		m.value = val
		return true
	}
	if in.expando == nil {
		in.expando = make(map[string]goja.Value)
	}
	if _, ok := in.expando[key]; !ok {
		in.keys = append(in.keys, key)
	}
	in.expando[key] = val
	return true
}

func (in *instance) Has(key string) bool {
	if key == instanceTagKey {
		return true
	}
	if _, ok := in.expando[key]; ok {
		return true
	}
	return in.declares(key)
}

func (in *instance) Delete(key string) bool {
	if _, ok := in.expando[key]; ok {
		delete(in.expando, key)
		in.keys = slices.DeleteFunc(in.keys, func(k string) bool { return k == key })
		return true
	}
	return !in.declares(key)
}

// Keys lists the script assigned properties. Declared members behave like
// class members and are not enumerable.
func (in *instance) Keys() []string {
	return slices.Clone(in.keys)
}

// declares reports whether the current class definition has a member named
// key, without binding it.
func (in *instance) declares(key string) bool {
	if isEventManagementName(key) {
		return true
	}
	p, ok := in.host.registry.Lookup(in.tag.ClassName)
	if !ok {
		return false
	}
	if _, ok := p.properties[key]; ok {
		return true
	}
	if _, ok := p.methods[key]; ok {
		return true
	}
	_, ok = p.nativeMethods[key]
	return ok
}

// resolve returns the bound member for key, binding it on first access.
func (in *instance) resolve(key string) *boundMember {
	if m, ok := in.members[key]; ok {
		return m
	}
	p, ok := in.host.registry.Lookup(in.tag.ClassName)
	if !ok {
		return nil
	}
	m := in.host.bindInstanceMember(p, in, key)
	if m == nil {
		return nil
	}
	if in.members == nil {
		in.members = make(map[string]*boundMember)
	}
	in.members[key] = m
	in.host.defines++

	if b := in.host.logger.Trace(); b.Enabled() {
		b.Str("class", in.tag.ClassName).
			Str("member", key).
			Int64("instance", int64(in.tag.InstanceID)).
			Log("bound instance member")
	}

	return m
}
