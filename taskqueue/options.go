// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskqueue

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// defaultErrorRateLimits bound how often dropped task failures are logged,
// per category.
var defaultErrorRateLimits = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// queueOptions holds configuration options for Queue creation.
type queueOptions struct {
	logger          *logiface.Logger[logiface.Event]
	registerer      prometheus.Registerer
	errorRateLimits map[time.Duration]int
	name            string
}

// Option configures a [Queue] instance.
type Option interface {
	applyOption(*queueOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*queueOptions) error
}

func (o *optionFunc) applyOption(opts *queueOptions) error {
	return o.fn(opts)
}

// WithLogger sets the structured logger used by the queue. A nil logger
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *queueOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithName labels the queue in log output and metrics.
func WithName(name string) Option {
	return &optionFunc{fn: func(opts *queueOptions) error {
		if name == "" {
			return errors.New("name must not be empty")
		}
		opts.name = name
		return nil
	}}
}

// WithMetrics registers the queue's collectors with the given registerer.
// Metrics are disabled by default.
func WithMetrics(registerer prometheus.Registerer) Option {
	return &optionFunc{fn: func(opts *queueOptions) error {
		opts.registerer = registerer
		return nil
	}}
}

// WithErrorRateLimits overrides the per-category rate limits applied to
// logging of failed fire-and-forget tasks. A nil or empty map disables rate
// limiting.
func WithErrorRateLimits(rates map[time.Duration]int) Option {
	return &optionFunc{fn: func(opts *queueOptions) error {
		opts.errorRateLimits = rates
		return nil
	}}
}

// resolveOptions applies Option instances to a default queueOptions.
func resolveOptions(opts []Option) (*queueOptions, error) {
	cfg := &queueOptions{
		name:            "default",
		errorRateLimits: defaultErrorRateLimits,
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
