package reflection

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// Host binds the registry, directory and trampolines to one runtime.
type Host struct {
	runtime   *goja.Runtime
	logger    *logiface.Logger[logiface.Event]
	notify    func(func()) error
	confined  func() bool
	registry  *Registry
	directory *Directory
	defines   uint64
}

// NewHost creates a Host for runtime.
//
// NewHost panics if runtime is nil, as this is a programming error. It
// returns an error if option validation fails.
func NewHost(runtime *goja.Runtime, opts ...Option) (*Host, error) {
	if runtime == nil {
		panic("reflection: runtime must not be nil")
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("reflection: %w", err)
	}

	h := &Host{
		runtime:  runtime,
		logger:   cfg.logger,
		notify:   cfg.notify,
		confined: cfg.confined,
		registry: newRegistry(),
	}
	h.directory = newDirectory(h)
	return h, nil
}

// Runtime returns the [goja.Runtime] this host is bound to.
func (h *Host) Runtime() *goja.Runtime {
	return h.runtime
}

// Registry returns the class registry.
func (h *Host) Registry() *Registry {
	return h.registry
}

// Directory returns the instance directory.
func (h *Host) Directory() *Directory {
	return h.directory
}

// DefineCount returns how many instance members have been bound lazily so far.
func (h *Host) DefineCount() uint64 {
	h.mustBeConfined()
	return h.defines
}

// Define builds b into the global scope.
func (h *Host) Define(b *ProxyBuilder) (*Proxy, error) {
	return b.Build(h, h.runtime.GlobalObject())
}

func (h *Host) mustBeConfined() {
	if h.confined != nil && !h.confined() {
		panic(ErrWrongGoroutine)
	}
}

// throw raises err as a catchable script error. It must only be called from
// within a native function invoked by the runtime.
func (h *Host) throw(err error) {
	panic(h.runtime.NewGoError(err))
}
