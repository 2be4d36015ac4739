package reflection

import (
	"github.com/joeycumines/logiface"
)

// hostOptions holds configuration for a [Host].
type hostOptions struct {
	logger   *logiface.Logger[logiface.Event]
	notify   func(func()) error
	confined func() bool
}

// Option configures a [Host].
type Option interface {
	applyOption(*hostOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*hostOptions) error
}

func (o *optionFunc) applyOption(opts *hostOptions) error {
	return o.fn(opts)
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *hostOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithFinalizeNotifier enables garbage-collection driven finalization of
// instances. The garbage collector reports unreachable instances from its own
// goroutine, and notify must deliver the given function to the goroutine that
// owns the runtime, e.g. via [taskqueue.Queue.Submit].
//
// Without a notifier instances are only finalized via [Directory.Finalize].
func WithFinalizeNotifier(notify func(func()) error) Option {
	return &optionFunc{fn: func(opts *hostOptions) error {
		opts.notify = notify
		return nil
	}}
}

// WithConfinement sets the check used to enforce that the host is only used
// from the goroutine owning the runtime, e.g. [taskqueue.Queue.IsWorker].
func WithConfinement(confined func() bool) Option {
	return &optionFunc{fn: func(opts *hostOptions) error {
		opts.confined = confined
		return nil
	}}
}

func resolveOptions(opts []Option) (*hostOptions, error) {
	cfg := &hostOptions{}
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
