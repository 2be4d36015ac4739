package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-esbridge"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const closeTimeout = 10 * time.Second

// rootOptions holds the global flags, merged over the config file.
type rootOptions struct {
	config     Config
	configFile string
	cacheSize  int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "esbridge",
		Short:         "Run JavaScript and TypeScript on an embedded engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.config.ModuleDir, "module-dir", "", "directory modules are loaded from")
	flags.DurationVar(&opts.config.GCInterval, "gc-interval", 0, "interval of forced cleanup, zero disables it")
	flags.IntVar(&opts.cacheSize, "module-cache-size", 0, "number of transformed modules kept")
	flags.StringVar(&opts.config.Log.Level, "log-level", "", "log level (trace|debug|info|warning|error)")
	flags.StringVar(&opts.config.Log.File, "log-file", "", "log to a rotated file instead of stderr")
	flags.StringVar(&opts.config.Metrics, "metrics", "", "serve prometheus metrics on this address")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEvalCommand(opts))

	return cmd
}

// resolve loads the config file, then applies the flags that were set.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	if o.configFile == "" {
		if cmd.Flags().Changed("module-cache-size") {
			o.config.ModuleCacheSize = &o.cacheSize
		}
		return nil
	}

	file, err := loadConfig(o.configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("module-dir") {
		file.ModuleDir = o.config.ModuleDir
	}
	if flags.Changed("gc-interval") {
		file.GCInterval = o.config.GCInterval
	}
	if flags.Changed("module-cache-size") {
		file.ModuleCacheSize = &o.cacheSize
	}
	if flags.Changed("log-level") {
		file.Log.Level = o.config.Log.Level
	}
	if flags.Changed("log-file") {
		file.Log.File = o.config.Log.File
	}
	if flags.Changed("metrics") {
		file.Metrics = o.config.Metrics
	}
	o.config = *file

	return nil
}

// app is a runtime started from the resolved options.
type app struct {
	runtime   *esbridge.Runtime
	logger    *logiface.Logger[logiface.Event]
	registry  *prometheus.Registry
	logCloser io.Closer
	config    Config
}

func (o *rootOptions) start(stderr io.Writer) (*app, error) {
	cfg := o.config

	logger, logCloser, err := cfg.Log.newLogger(stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:    logger,
		logCloser: logCloser,
		config:    cfg,
	}

	b := esbridge.NewBuilder().
		WithLogger(logger).
		WithGCInterval(cfg.GCInterval)
	if cfg.ModuleDir != "" {
		if _, err := os.Stat(cfg.ModuleDir); err != nil {
			_ = logCloser.Close()
			return nil, err
		}
		b = b.WithModuleLoader(esbridge.DirModuleLoader(cfg.ModuleDir))
	}
	if cfg.ModuleCacheSize != nil {
		b = b.WithModuleCacheSize(*cfg.ModuleCacheSize)
	}
	if cfg.Metrics != "" {
		a.registry = prometheus.NewRegistry()
		b = b.WithMetrics(a.registry)
	}

	if a.runtime, err = b.Build(); err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	if err := registerBuiltins(a.runtime); err != nil {
		_ = a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return errors.Join(a.runtime.Close(ctx), a.logCloser.Close())
}
