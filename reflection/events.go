package reflection

import (
	"fmt"
	"slices"

	"github.com/dop251/goja"
)

// listenerScope selects either the class listener table or the table of one
// instance.
type listenerScope struct {
	id     int32
	static bool
}

var staticScope = listenerScope{static: true}

func instanceScope(id int32) listenerScope {
	return listenerScope{id: id}
}

func (p *Proxy) declared(s listenerScope, event string) bool {
	var ok bool
	if s.static {
		_, ok = p.staticEvents[event]
	} else {
		_, ok = p.events[event]
	}
	return ok
}

func (p *Proxy) addListener(s listenerScope, event string, fn goja.Value) error {
	if !p.declared(s, event) {
		p.host.logger.Warning().
			Str("class", p.canonical).
			Str("event", event).
			Bool("static", s.static).
			Log("ignoring listener for undeclared event")
		return nil
	}
	if _, ok := goja.AssertFunction(fn); !ok {
		return fmt.Errorf("%w: %s %q", ErrNotCallable, p.canonical, event)
	}
	if !s.static {
		p.host.directory.holdsListeners(s.id, p)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s.static {
		p.staticListeners[event] = append(p.staticListeners[event], fn)
		return nil
	}
	byEvent := p.listeners[s.id]
	if byEvent == nil {
		byEvent = make(map[string][]goja.Value)
		p.listeners[s.id] = byEvent
	}
	byEvent[event] = append(byEvent[event], fn)
	return nil
}

func (p *Proxy) removeListener(s listenerScope, event string, fn goja.Value) {
	if fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var list []goja.Value
	if s.static {
		list = p.staticListeners[event]
	} else {
		list = p.listeners[s.id][event]
	}

	i := slices.IndexFunc(list, func(v goja.Value) bool { return v.SameAs(fn) })
	if i < 0 {
		return
	}
	// new backing array, snapshots taken by in-flight dispatches stay intact
	list = slices.Delete(slices.Clone(list), i, i+1)

	switch {
	case s.static && len(list) == 0:
		delete(p.staticListeners, event)
	case s.static:
		p.staticListeners[event] = list
	case len(list) == 0:
		delete(p.listeners[s.id], event)
		if len(p.listeners[s.id]) == 0 {
			delete(p.listeners, s.id)
		}
	default:
		p.listeners[s.id][event] = list
	}
}

// snapshot copies the current listeners, so listeners may add or remove
// listeners while being dispatched to.
func (p *Proxy) snapshot(s listenerScope, event string) []goja.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.static {
		return slices.Clone(p.staticListeners[event])
	}
	return slices.Clone(p.listeners[s.id][event])
}

func (p *Proxy) dispatch(s listenerScope, event string, value goja.Value) error {
	listeners := p.snapshot(s, event)

	if b := p.host.logger.Trace(); b.Enabled() {
		b.Str("class", p.canonical).
			Str("event", event).
			Int("listeners", len(listeners)).
			Log("dispatching event")
	}

	for _, listener := range listeners {
		fn, _ := goja.AssertFunction(listener)
		if _, err := fn(goja.Null(), value); err != nil {
			return fmt.Errorf("%w: %s %q: %w", ErrListenerFailed, p.canonical, event, err)
		}
	}
	return nil
}

// dropListeners removes the listener table of a finalized instance.
func (p *Proxy) dropListeners(id int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.listeners, id)
}
