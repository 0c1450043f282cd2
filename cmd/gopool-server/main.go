// Command gopool-server serves a static response on every TCP connection,
// handling connections on a fixed pool of workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/gopool/internal/config"
	"github.com/jzx17/gopool/internal/logger"
	"github.com/jzx17/gopool/internal/metrics"
	"github.com/jzx17/gopool/internal/server"
	"github.com/jzx17/gopool/pkg/worker"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile  string
		printConfig bool
	)

	cmd := &cobra.Command{
		Use:           "gopool-server",
		Short:         "Serve a static response on a fixed pool of workers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
				return err
			}

			if printConfig {
				out, err := cfg.YAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}

			restore, err := logger.Setup(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
				return err
			}
			defer restore()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				zap.S().Errorw("server exited with error", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "Print the effective configuration and exit")
	if err := config.RegisterFlags(cmd.Flags()); err != nil {
		panic(err)
	}

	return cmd
}

// run wires the pool, handler and server and blocks until ctx is done.
// Shutdown order: stop accepting, then drain the pool.
func run(ctx context.Context, cfg *config.Configuration) error {
	log := zap.S().Named("main")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	pool, err := worker.NewFixedWorkerPool(&worker.FixedWorkerPoolConfig{
		PoolSize:     cfg.Pool.Size,
		LockOSThread: cfg.Pool.LockOSThread,
		Observer:     m.Pool,
	})
	if err != nil {
		return err
	}
	draining := false
	defer func() {
		// the drain below is bounded; only early returns wait for the workers here
		if !draining {
			pool.Shutdown()
		}
	}()

	handler := server.NewConnectionHandler(server.NewLoader(cfg.Content.ResponseResource), server.HandlerConfig{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderLines: cfg.Server.MaxHeaderLines,
		Recorder:       m.Server,
	})

	srv, err := server.NewServer(&server.ServerConfig{
		Address:  cfg.ListenAddress(),
		Recorder: m.Server,
	}, pool, handler)
	if err != nil {
		return err
	}

	log.Infow("starting gopool-server",
		"version", version,
		"address", srv.Addr().String(),
		"pool_size", cfg.Pool.Size,
		"resource", cfg.Content.ResponseResource,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.Infow("metrics endpoint listening", "address", cfg.Metrics.Address)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("shutting down")

	_ = srv.Close()

	draining = true
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := pool.ShutdownContext(shutdownCtx); serr != nil {
		log.Warnw("worker pool did not drain in time", "error", serr, "pending", pool.QueueLength())
	}

	return err
}
