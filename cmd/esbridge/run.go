package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeycumines/go-esbridge"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	*rootOptions
	wait bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Run script files in order on one runtime",
		Long: `Run script files in order on one runtime, printing the result of the last
one.

Files named *.ts, *.mts, *.cts, *.tsx or *.mjs are loaded as modules, and
resolvable by their path via require. Other files are evaluated as scripts.

Example:
  esbridge run --module-dir ./lib setup.js main.ts
  esbridge run --config esbridge.yaml --wait server.js`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.wait, "wait", false, "keep the runtime alive until interrupted")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, files []string) (err error) {
	a, err := o.start(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()

	g, ctx := errgroup.WithContext(cmd.Context())
	finished := make(chan struct{})

	g.Go(func() error {
		defer close(finished)
		v, err := runFiles(ctx, a.runtime, files)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), v); err != nil {
			return err
		}
		if o.wait {
			a.logger.Info().Log("waiting for interrupt")
			<-ctx.Done()
		}
		return nil
	})

	if a.registry != nil {
		g.Go(func() error {
			return serveMetrics(ctx, finished, a.config.Metrics, a.registry, a.logger)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && cmd.Context().Err() != nil {
		// interrupted
		return nil
	}
	return err
}

var moduleExtensions = map[string]bool{
	".ts":  true,
	".mts": true,
	".cts": true,
	".tsx": true,
	".mjs": true,
}

// runFiles evaluates files in order, returning the exported completion value
// of the last one, which is nil for modules.
func runFiles(ctx context.Context, r *esbridge.Runtime, files []string) (any, error) {
	var last any
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		name := filepath.ToSlash(file)
		if moduleExtensions[strings.ToLower(filepath.Ext(file))] {
			last, err = nil, r.LoadModule(string(src), name)
		} else {
			last, err = r.Eval(string(src), name)
		}
		if err != nil {
			return nil, err
		}
	}
	return last, nil
}

// printResult writes strings as is and anything else as JSON. Undefined and
// null results print nothing.
func printResult(w io.Writer, v any) error {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		_, err = fmt.Fprintln(w, v)
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// serveMetrics serves the registry until ctx is done or the scripts finished.
func serveMetrics(ctx context.Context, finished <-chan struct{}, addr string, registry *prometheus.Registry, logger *logiface.Logger[logiface.Event]) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	logger.Debug().
		Str("addr", addr).
		Log("serving metrics")

	select {
	case err := <-errc:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
	case <-finished:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
