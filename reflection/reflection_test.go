package reflection

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T, opts ...Option) (*goja.Runtime, *Host) {
	t.Helper()
	rt := goja.New()
	h, err := NewHost(rt, opts...)
	require.NoError(t, err)
	return rt, h
}

// fooState is the host side of the Foo test class.
type fooState struct {
	counts    map[int32]int64
	labels    map[int32]string
	finalized []int32
	next      int32
}

func newFooState() *fooState {
	return &fooState{
		counts: make(map[int32]int64),
		labels: make(map[int32]string),
	}
}

func (s *fooState) builder(namespace ...string) *ProxyBuilder {
	return NewProxyBuilder(namespace, "Foo").
		Constructor(func(rt *goja.Runtime, args []goja.Value) (int32, error) {
			if len(args) > 0 && args[0].String() == "fail" {
				return 0, errors.New("nope")
			}
			s.next++
			s.counts[s.next] = 0
			return s.next, nil
		}).
		Finalizer(func(id int32) {
			s.finalized = append(s.finalized, id)
		}).
		Property("count", func(rt *goja.Runtime, id int32) (goja.Value, error) {
			return rt.ToValue(s.counts[id]), nil
		}, nil).
		Property("label", func(rt *goja.Runtime, id int32) (goja.Value, error) {
			return rt.ToValue(s.labels[id]), nil
		}, func(rt *goja.Runtime, id int32, value goja.Value) error {
			s.labels[id] = value.String()
			return nil
		}).
		Property("broken", func(rt *goja.Runtime, id int32) (goja.Value, error) {
			return nil, errors.New("boom")
		}, nil).
		Method("inc", func(rt *goja.Runtime, id int32, args []goja.Value) (goja.Value, error) {
			s.counts[id]++
			return rt.ToValue(s.counts[id]), nil
		}).
		NativeMethod("echo", func(call goja.FunctionCall) goja.Value {
			return call.Argument(0)
		}).
		Event("changed")
}

func TestProxy_countAndInc(t *testing.T) {
	rt, h := newTestHost(t)
	_, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		const f = new Foo();
		const before = f.count;
		f.inc();
		before + ',' + f.count + ',' + f.echo('raw');
	`)
	require.NoError(t, err)
	assert.Equal(t, "0,1,raw", v.String())
}

func TestProxy_propertyRoundTrip(t *testing.T) {
	rt, h := newTestHost(t)
	_, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		const f = new Foo();
		f.label = 'hello';
		f.label;
	`)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.String())

	// read-only properties ignore assignment outside strict mode
	v, err = rt.RunString(`f.count = 7; f.count`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Export())

	_, err = rt.RunString(`(function () { 'use strict'; f.count = 7 })()`)
	assert.Error(t, err)
}

func TestProxy_lazyDefineCounter(t *testing.T) {
	rt, h := newTestHost(t)
	_, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	_, err = rt.RunString(`var a = new Foo(), b = new Foo()`)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.DefineCount())

	_, err = rt.RunString(`a.count; a.count; a.inc(); a.inc()`)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.DefineCount())

	_, err = rt.RunString(`b.inc(); a.inc(); a.undeclared`)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.DefineCount())
}

func TestProxy_expandoProperties(t *testing.T) {
	rt, h := newTestHost(t)
	_, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		const f = new Foo();
		f.extra = 5;
		f.other = 'x';
		delete f.other;
		JSON.stringify([f.extra, Object.keys(f), f instanceof Foo, 'inc' in f]);
	`)
	require.NoError(t, err)
	assert.Equal(t, `[5,["extra"],true,true]`, v.String())
}

func TestProxy_memberErrors(t *testing.T) {
	rt, h := newTestHost(t)
	_, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	for _, tc := range [...]struct {
		name   string
		script string
		want   string
	}{
		{"getter", `new Foo().broken`, "getter broken failed: boom"},
		{"constructor", `new Foo('fail')`, "construct Foo failed: nope"},
		{"without new", `Foo.call({})`, "cannot be invoked without 'new'"},
		{"detached method", `const inc = new Foo().inc; inc()`, ErrNotInstance.Error()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := rt.RunString(`(function () { try { ` + tc.script + ` } catch (e) { return String(e) } return 'no error' })()`)
			require.NoError(t, err)
			assert.Contains(t, v.String(), tc.want)
		})
	}
}

func TestProxy_notConstructible(t *testing.T) {
	rt, h := newTestHost(t)
	p, err := h.Define(NewProxyBuilder(nil, "Util").
		StaticMethod("twice", func(rt *goja.Runtime, args []goja.Value) (goja.Value, error) {
			return rt.ToValue(args[0].ToInteger() * 2), nil
		}))
	require.NoError(t, err)

	v, err := rt.RunString(`Util.twice(21)`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Export())

	_, err = rt.RunString(`new Util()`)
	assert.ErrorIs(t, err, ErrNoSuchClass)
	assert.ErrorContains(t, err, "no such class: Util")

	_, err = p.NewInstance()
	assert.ErrorIs(t, err, ErrNoSuchClass)
}

func TestProxy_newFromScript(t *testing.T) {
	rt, h := newTestHost(t)
	state := newFooState()
	_, err := h.Define(state.builder("app"))
	require.NoError(t, err)

	v, err := rt.RunString(`
		class Bar extends app.Foo {
			twice() { this.inc(); return this.inc() }
		}
		const a = new app.Foo(), b = new Bar();
		JSON.stringify([a instanceof app.Foo, b instanceof Bar, b instanceof app.Foo, b.twice(), a.count]);
	`)
	require.NoError(t, err)
	assert.Equal(t, `[true,true,true,2,0]`, v.String())
	assert.Equal(t, 2, h.Directory().Len())
	assert.Equal(t, int32(2), state.next)
}

func TestProxy_newInstance(t *testing.T) {
	rt, h := newTestHost(t)
	state := newFooState()
	p, err := h.Define(state.builder())
	require.NoError(t, err)

	obj, err := p.NewInstance()
	require.NoError(t, err)
	tag, ok := h.Directory().Tag(obj)
	require.True(t, ok)
	assert.Equal(t, "Foo", tag.ClassName)
	assert.Equal(t, int32(1), tag.InstanceID)

	require.NoError(t, rt.Set("made", obj))
	v, err := rt.RunString(`made.inc(); made.inc(); made instanceof Foo && made.count`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Export())

	_, err = p.NewInstance("fail")
	assert.ErrorContains(t, err, "construct Foo failed: nope")
	assert.Equal(t, 1, h.Directory().Len())
}

func TestEvents_orderAndRemoval(t *testing.T) {
	rt, h := newTestHost(t)
	_, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		const f = new Foo();
		const log = [];
		function L1(v) { log.push('L1:' + v) }
		function L2(v) { log.push('L2:' + v) }
		f.addEventListener('changed', L1);
		f.addEventListener('changed', L2);
		f.dispatchEvent('changed', 1);
		f.removeEventListener('changed', L1);
		f.dispatchEvent('changed', 2);
		f.removeEventListener('changed', L1);
		log.join(',');
	`)
	require.NoError(t, err)
	assert.Equal(t, "L1:1,L2:1,L2:2", v.String())
}

func TestEvents_hostDispatch(t *testing.T) {
	rt, h := newTestHost(t)
	p, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		var seen = [];
		var f = new Foo();
		f.addEventListener('changed', function (v) { 'use strict'; seen.push([this === null, v]) });
		f;
	`)
	require.NoError(t, err)

	id, ok := h.Directory().InstanceID(v.ToObject(rt))
	require.True(t, ok)
	assert.Equal(t, 1, p.ListenerCount(id, "changed"))

	require.NoError(t, p.Dispatch(id, "changed", "from host"))
	require.NoError(t, p.Dispatch(id+100, "changed", "nobody"))

	seen, err := rt.RunString(`JSON.stringify(seen)`)
	require.NoError(t, err)
	assert.Equal(t, `[[true,"from host"]]`, seen.String())
}

func TestEvents_listenerFailureAborts(t *testing.T) {
	rt, h := newTestHost(t)
	p, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		var ran = false;
		var f = new Foo();
		f.addEventListener('changed', function () { throw new Error('listener broke') });
		f.addEventListener('changed', function () { ran = true });
		f;
	`)
	require.NoError(t, err)
	id, ok := h.Directory().InstanceID(v.ToObject(rt))
	require.True(t, ok)

	err = p.Dispatch(id, "changed", nil)
	assert.ErrorIs(t, err, ErrListenerFailed)
	assert.ErrorContains(t, err, "listener broke")
	assert.False(t, rt.Get("ran").ToBoolean())

	// script-side dispatch rethrows the listener's exception
	caught, err := rt.RunString(`
		(function () {
			try { f.dispatchEvent('changed') } catch (e) { return e.message }
		})()
	`)
	require.NoError(t, err)
	assert.Equal(t, "listener broke", caught.String())
}

func TestEvents_undeclaredIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(
		stumpy.WithWriter(&buf),
		stumpy.WithTimeField(``),
	)).Logger()

	rt, h := newTestHost(t, WithLogger(logger))
	p, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`var f = new Foo(); f.addEventListener('nope', function () {}); f`)
	require.NoError(t, err)
	id, _ := h.Directory().InstanceID(v.ToObject(rt))

	assert.Equal(t, 0, p.ListenerCount(id, "nope"))
	assert.Contains(t, buf.String(), `"msg":"ignoring listener for undeclared event"`)

	_, err = rt.RunString(`f.addEventListener('changed', 42)`)
	assert.ErrorContains(t, err, ErrNotCallable.Error())
}

func TestEvents_static(t *testing.T) {
	rt, h := newTestHost(t)
	total := int64(10)
	p, err := h.Define(NewProxyBuilder([]string{"app"}, "Clock").
		StaticProperty("total", func(rt *goja.Runtime) (goja.Value, error) {
			return rt.ToValue(total), nil
		}, func(rt *goja.Runtime, value goja.Value) error {
			total = value.ToInteger()
			return nil
		}).
		StaticNativeMethod("echo", func(call goja.FunctionCall) goja.Value {
			return call.Argument(0)
		}).
		StaticEvent("tick"))
	require.NoError(t, err)

	v, err := rt.RunString(`
		var ticks = [];
		app.Clock.addEventListener('tick', function (n) { ticks.push(n) });
		app.Clock.total = app.Clock.total + 5;
		JSON.stringify([app.Clock.name, app.Clock.total, app.Clock.echo('hi')]);
	`)
	require.NoError(t, err)
	assert.Equal(t, `["Clock",15,"hi"]`, v.String())
	assert.Equal(t, int64(15), total)

	require.NoError(t, p.DispatchStatic("tick", 1))
	_, err = rt.RunString(`app.Clock.dispatchEvent('tick', 2)`)
	require.NoError(t, err)
	assert.Equal(t, 2, p.StaticListenerCount("tick"))
	v, err = rt.RunString(`ticks.join(',')`)
	require.NoError(t, err)
	assert.Equal(t, "1,2", v.String())
}

func TestDirectory_finalize(t *testing.T) {
	rt, h := newTestHost(t)
	state := newFooState()
	p, err := h.Define(state.builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		var calls = 0;
		var f = new Foo();
		f.addEventListener('changed', function () { calls++ });
		f;
	`)
	require.NoError(t, err)
	obj := v.ToObject(rt)

	tag, ok := h.Directory().Tag(obj)
	require.True(t, ok)
	assert.Equal(t, "Foo", tag.ClassName)
	got, ok := p.Instance(tag.InstanceID)
	require.True(t, ok)
	assert.True(t, got.SameAs(obj))
	assert.Equal(t, 1, h.Directory().Len())

	h.Directory().Finalize(tag.ObjectID)
	assert.Equal(t, []int32{tag.InstanceID}, state.finalized)
	assert.Equal(t, 0, p.ListenerCount(tag.InstanceID, "changed"))
	assert.Equal(t, 0, h.Directory().Len())

	require.NoError(t, p.Dispatch(tag.InstanceID, "changed", nil))
	assert.Equal(t, int64(0), rt.Get("calls").ToInteger())

	h.Directory().Finalize(tag.ObjectID)
	assert.False(t, h.Directory().FinalizeInstance(tag.InstanceID))
	assert.Len(t, state.finalized, 1)

	_, ok = h.Directory().Tag(obj)
	assert.False(t, ok)
	_, ok = p.Instance(tag.InstanceID)
	assert.False(t, ok)
}

func TestDirectory_finalizeDropsListenersOfReplacedDefinitions(t *testing.T) {
	rt, h := newTestHost(t)
	first, err := h.Define(newFooState().builder())
	require.NoError(t, err)

	v, err := rt.RunString(`
		var f = new Foo();
		f.addEventListener('changed', function () {});
		f;
	`)
	require.NoError(t, err)
	tag, ok := h.Directory().Tag(v.ToObject(rt))
	require.True(t, ok)

	second, err := h.Define(newFooState().builder())
	require.NoError(t, err)
	_, err = rt.RunString(`f.addEventListener('changed', function () {})`)
	require.NoError(t, err)

	third, err := h.Define(newFooState().builder())
	require.NoError(t, err)
	_, err = rt.RunString(`f.addEventListener('changed', function () {})`)
	require.NoError(t, err)

	for _, p := range []*Proxy{first, second, third} {
		require.Equal(t, 1, p.ListenerCount(tag.InstanceID, "changed"))
	}

	h.Directory().Finalize(tag.ObjectID)
	for i, p := range []*Proxy{first, second, third} {
		assert.Equal(t, 0, p.ListenerCount(tag.InstanceID, "changed"), "definition %d", i+1)
	}
}

func TestDirectory_finalizeAfterCollection(t *testing.T) {
	pending := make(chan func(), 1024)
	rt, h := newTestHost(t, WithFinalizeNotifier(func(fn func()) error {
		pending <- fn
		return nil
	}))
	state := newFooState()
	_, err := h.Define(state.builder())
	require.NoError(t, err)

	_, err = rt.RunString(`(function () { for (let i = 0; i < 100; i++) new Foo() })()`)
	require.NoError(t, err)
	require.Equal(t, 100, h.Directory().Len())

	require.Eventually(t, func() bool {
		runtime.GC()
		for {
			select {
			case fn := <-pending:
				fn()
				continue
			default:
			}
			break
		}
		return len(state.finalized) > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 100-len(state.finalized), h.Directory().Len())
}

func TestRegistry_namespacesAreDisjoint(t *testing.T) {
	rt, h := newTestHost(t)
	var next int32
	for _, name := range []string{"A", "B"} {
		_, err := h.Define(NewProxyBuilder([]string{"ns"}, name).
			Constructor(func(rt *goja.Runtime, args []goja.Value) (int32, error) {
				next++
				return next, nil
			}).
			Property("kind", func(rt *goja.Runtime, id int32) (goja.Value, error) {
				return rt.ToValue(name), nil
			}, nil))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"ns.A", "ns.B"}, h.Registry().Names())
	v, err := rt.RunString(`JSON.stringify([new ns.A().kind, new ns.B().kind, ns.A !== ns.B])`)
	require.NoError(t, err)
	assert.Equal(t, `["A","B",true]`, v.String())
}

func TestRegistry_rebuildLastWriteWins(t *testing.T) {
	rt, h := newTestHost(t)

	define := func(version int) *Proxy {
		p, err := h.Define(NewProxyBuilder(nil, "Svc").
			Constructor(func(rt *goja.Runtime, args []goja.Value) (int32, error) {
				return int32(version), nil
			}).
			Method("version", func(rt *goja.Runtime, id int32, args []goja.Value) (goja.Value, error) {
				return rt.ToValue(fmt.Sprintf("v%d/%d", version, id)), nil
			}))
		require.NoError(t, err)
		return p
	}

	first := define(1)
	v, err := rt.RunString(`var old = new Svc(); old.version()`)
	require.NoError(t, err)
	assert.Equal(t, "v1/1", v.String())

	second := define(2)
	assert.NotSame(t, first, second)
	current, ok := h.Registry().Lookup("Svc")
	require.True(t, ok)
	assert.Same(t, second, current)
	assert.Equal(t, 1, h.Registry().Len())

	v, err = rt.RunString(`old.version() + ' ' + new Svc().version()`)
	require.NoError(t, err)
	assert.Equal(t, "v2/1 v2/2", v.String())
}

func TestBuild_definitionErrors(t *testing.T) {
	noop := func(rt *goja.Runtime, id int32, args []goja.Value) (goja.Value, error) { return nil, nil }

	for _, tc := range [...]struct {
		name    string
		builder *ProxyBuilder
	}{
		{"empty class name", NewProxyBuilder(nil, "")},
		{"dotted class name", NewProxyBuilder(nil, "a.b")},
		{"empty namespace segment", NewProxyBuilder([]string{"ok", ""}, "X")},
		{"duplicate member", NewProxyBuilder(nil, "X").Method("m", noop).Method("m", noop)},
		{"property and method clash", NewProxyBuilder(nil, "X").
			Property("m", func(rt *goja.Runtime, id int32) (goja.Value, error) { return nil, nil }, nil).
			Method("m", noop)},
		{"shadows event management", NewProxyBuilder(nil, "X").Method(addEventListenerName, noop)},
		{"nil getter", NewProxyBuilder(nil, "X").Property("p", nil, nil)},
		{"nil method", NewProxyBuilder(nil, "X").Method("m", nil)},
		{"constructor twice", NewProxyBuilder(nil, "X").
			Constructor(func(*goja.Runtime, []goja.Value) (int32, error) { return 0, nil }).
			Constructor(func(*goja.Runtime, []goja.Value) (int32, error) { return 0, nil })},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rt, h := newTestHost(t)
			_, err := h.Define(tc.builder)
			assert.ErrorIs(t, err, ErrDefinition)
			assert.Nil(t, rt.Get("X"))
			assert.Equal(t, 0, h.Registry().Len())
		})
	}

	t.Run("static and instance names are separate", func(t *testing.T) {
		_, h := newTestHost(t)
		_, err := h.Define(NewProxyBuilder(nil, "X").
			Method("m", noop).
			StaticMethod("m", func(rt *goja.Runtime, args []goja.Value) (goja.Value, error) { return nil, nil }))
		assert.NoError(t, err)
	})
}

func TestBuild_consumed(t *testing.T) {
	_, h := newTestHost(t)
	b := newFooState().builder()
	_, err := h.Define(b)
	require.NoError(t, err)
	_, err = h.Define(b)
	assert.ErrorIs(t, err, ErrBuilderConsumed)
}

func TestBuild_namespaceNotObject(t *testing.T) {
	rt, h := newTestHost(t)
	require.NoError(t, rt.Set("taken", 5))
	_, err := h.Define(newFooState().builder("taken"))
	assert.ErrorIs(t, err, ErrDefinition)
}

func TestHost_confinement(t *testing.T) {
	_, h := newTestHost(t, WithConfinement(func() bool { return false }))
	assert.PanicsWithValue(t, ErrWrongGoroutine, func() {
		_, _ = h.Define(newFooState().builder())
	})
}

func TestMemberName(t *testing.T) {
	assert.Equal(t, "x", memberName("get x"))
	assert.Equal(t, "x", memberName("set x"))
	assert.Equal(t, "inc", memberName("inc"))
}
