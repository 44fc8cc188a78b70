package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yuku/connpool"
	"github.com/yuku/connpool/internal"
	"github.com/yuku/connpool/internal/failure"
	"github.com/yuku/connpool/internal/logging"
	"github.com/yuku/connpool/metrics"
	"github.com/yuku/connpool/pgxsession"
)

type checkOptions struct {
	configPath string
	workers    int
	iterations int
	query      string
}

func newCheckCommand() *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Exercise a pool against PostgreSQL",
		Long: `Open a pool from the configuration file and run concurrent
acquire/prepare/exec/release cycles against it, then print the pool stats.

Example:
  connpool check --config pool.yaml --workers 16 --iterations 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCheck(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().IntVar(&opts.workers, "workers", 8, "Number of concurrent workers")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 100, "Cycles run by each worker")
	cmd.Flags().StringVar(&opts.query, "query", "SELECT 1", "Statement prepared and executed in every cycle")
	return cmd
}

func runCheck(ctx context.Context, opts checkOptions, out io.Writer) error {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	connector, err := connectorFor(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	conf, err := cfg.PoolConfig()
	if err != nil {
		return err
	}
	if conf.Name == "" {
		conf.Name = "check"
	}
	reg := prometheus.NewRegistry()
	conf.Connector = connector
	conf.Logger = logger
	conf.Listener = metrics.New(reg).ForPool(conf.Name)

	p, err := connpool.New(ctx, conf)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("pool closed with errors", failureFields(err)...)
		}
	}()

	if cfg.Eviction.Enabled {
		n := pgxsession.NewEvictionNotifier(connector.Config(), cfg.Eviction.Channel, logger)
		if err := n.Register(p); err != nil {
			return err
		}
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := n.Listen(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("eviction listener stopped", zap.Error(err))
			}
		}()
	}

	if addr := cfg.Metrics.Address; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		logger.Info("serving metrics", zap.String("address", addr))
	}

	start := time.Now()
	cycles, err := runWorkers(ctx, p, opts.workers, opts.iterations, opts.query)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("check failed", failureFields(err)...)
		return err
	}

	st := p.Stats()
	fmt.Fprintf(out, "pool %s: %d cycles in %s\n", st.Name, cycles, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  live=%d idle=%d core=%d max=%d\n", st.Live, st.Idle, st.Core, st.Max)
	return nil
}

// failureFields describes err by the error that caused it. Errors merged in
// while tearing a session down are attached separately.
func failureFields(err error) []zap.Field {
	cause := failure.Primary(err)
	fields := []zap.Field{zap.Error(cause)}
	if code, ok := failure.SQLState(cause); ok {
		fields = append(fields, zap.String("sqlstate", code))
	}
	if errs := multierr.Errors(err); len(errs) > 1 {
		fields = append(fields, zap.Errors("teardown_errors", errs[1:]))
	}
	return fields
}

func connectorFor(url string) (*pgxsession.Connector, error) {
	if url == "" {
		url = internal.ConnString()
	}
	return pgxsession.ParseConnector(url)
}

// runWorkers runs iterations acquire/prepare/query/release cycles on each of
// workers goroutines and returns the number of completed cycles.
func runWorkers(ctx context.Context, p *connpool.Pool, workers, iterations int, query string) (int64, error) {
	if workers < 1 || iterations < 1 {
		return 0, fmt.Errorf("workers and iterations must be positive: got %d and %d", workers, iterations)
	}

	var cycles atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for range iterations {
				if err := cycle(ctx, p, query); err != nil {
					return err
				}
				cycles.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return cycles.Load(), err
}

func cycle(ctx context.Context, p *connpool.Pool, query string) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	defer c.Close()

	st, err := c.Prepare(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare %q: %w", query, err)
	}
	rows, err := st.Query(ctx)
	if err != nil {
		return fmt.Errorf("failed to run %q: %w", query, err)
	}
	for rows.Next() {
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return c.Release(ctx)
}
