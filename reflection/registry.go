package reflection

import (
	"slices"
)

// Registry maps canonical class names to their proxies. The last proxy
// published under a name wins.
//
// Confined to the goroutine owning the host's runtime.
type Registry struct {
	proxies map[string]*Proxy
}

func newRegistry() *Registry {
	return &Registry{proxies: make(map[string]*Proxy)}
}

// Lookup returns the proxy currently published under the canonical name.
func (r *Registry) Lookup(canonicalName string) (*Proxy, bool) {
	p, ok := r.proxies[canonicalName]
	return p, ok
}

// Names returns the published canonical names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.proxies))
	for name := range r.proxies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of published classes.
func (r *Registry) Len() int {
	return len(r.proxies)
}

// publish stores p, returning the proxy it replaced, if any.
func (r *Registry) publish(p *Proxy) *Proxy {
	old := r.proxies[p.canonical]
	r.proxies[p.canonical] = p
	return old
}
