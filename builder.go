package esbridge

import (
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// Builder is the fluent counterpart of [New]. It builds at most one
// [Runtime].
type Builder struct {
	opts  []Option
	mu    sync.Mutex
	built bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) with(opt Option) *Builder {
	b.mu.Lock()
	b.opts = append(b.opts, opt)
	b.mu.Unlock()
	return b
}

// WithGCInterval see [WithGCInterval].
func (b *Builder) WithGCInterval(interval time.Duration) *Builder {
	return b.with(WithGCInterval(interval))
}

// WithModuleLoader see [WithModuleLoader].
func (b *Builder) WithModuleLoader(loader ModuleLoader) *Builder {
	return b.with(WithModuleLoader(loader))
}

// WithModuleCacheSize see [WithModuleCacheSize].
func (b *Builder) WithModuleCacheSize(size int) *Builder {
	return b.with(WithModuleCacheSize(size))
}

// WithLogger see [WithLogger].
func (b *Builder) WithLogger(logger *logiface.Logger[logiface.Event]) *Builder {
	return b.with(WithLogger(logger))
}

// WithMetrics see [WithMetrics].
func (b *Builder) WithMetrics(registerer prometheus.Registerer) *Builder {
	return b.with(WithMetrics(registerer))
}

// WithName see [WithName].
func (b *Builder) WithName(name string) *Builder {
	return b.with(WithName(name))
}

// Build creates the runtime. Calling it again fails with [ErrBuilderReused].
func (b *Builder) Build() (*Runtime, error) {
	b.mu.Lock()
	if b.built {
		b.mu.Unlock()
		return nil, ErrBuilderReused
	}
	b.built = true
	opts := b.opts
	b.opts = nil
	b.mu.Unlock()

	return New(opts...)
}
