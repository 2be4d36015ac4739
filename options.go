package esbridge

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultModuleCacheSize = 50

// runtimeOptions holds configuration for [New].
type runtimeOptions struct {
	logger          *logiface.Logger[logiface.Event]
	registerer      prometheus.Registerer
	loader          ModuleLoader
	name            string
	gcInterval      time.Duration
	moduleCacheSize int
}

// Option configures a [Runtime].
type Option interface {
	applyOption(*runtimeOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*runtimeOptions) error
}

func (o *optionFunc) applyOption(opts *runtimeOptions) error {
	return o.fn(opts)
}

// WithLogger sets the structured logger used by the runtime, its queue, the
// reflection host and the script console. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics registers the task queue metrics with the given registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return &optionFunc{fn: func(opts *runtimeOptions) error {
		opts.registerer = registerer
		return nil
	}}
}

// WithModuleLoader sets the source of modules resolved by require and by
// transformed import statements.
func WithModuleLoader(loader ModuleLoader) Option {
	return &optionFunc{fn: func(opts *runtimeOptions) error {
		opts.loader = loader
		return nil
	}}
}

// WithGCInterval enables periodic cleanup: every interval, the script
// cleanup hooks run and a garbage collection is forced. Zero disables it.
func WithGCInterval(interval time.Duration) Option {
	return &optionFunc{fn: func(opts *runtimeOptions) error {
		if interval < 0 {
			return errors.New("gc interval must not be negative")
		}
		opts.gcInterval = interval
		return nil
	}}
}

// WithModuleCacheSize bounds the number of transformed module sources kept.
// Zero disables the cache.
func WithModuleCacheSize(size int) Option {
	return &optionFunc{fn: func(opts *runtimeOptions) error {
		if size < 0 {
			return errors.New("module cache size must not be negative")
		}
		opts.moduleCacheSize = size
		return nil
	}}
}

// WithName labels the runtime in logs and metrics.
func WithName(name string) Option {
	return &optionFunc{fn: func(opts *runtimeOptions) error {
		if name == "" {
			return errors.New("name must not be empty")
		}
		opts.name = name
		return nil
	}}
}

func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		name:            "esbridge",
		moduleCacheSize: defaultModuleCacheSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
