package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/ratekit/internal/config"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/metrics"
	"github.com/SmitUplenchwar2687/ratekit/internal/recorder"
	"github.com/SmitUplenchwar2687/ratekit/internal/server"
	"github.com/SmitUplenchwar2687/ratekit/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func newServerCmd(g *globalOptions) *cobra.Command {
	var (
		addr       string
		recordFile string
		noMetrics  bool
		lf         limiterFlags
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve admission checks over HTTP",
		Long: `Starts an HTTP server that keeps one limiter per key.

Endpoints:
  GET /                     Server info and current time
  GET /health               Health check
  GET /api/check            Check one unit for the client IP
  GET /api/check/{key}?n=N  Check N units (default 1) for a key
  GET /metrics              Prometheus metrics
  WS  /ws                   Live stream of decisions`,
		Example: `  ratekit server
  ratekit server --addr :9090 --algorithm sliding_window_log --size 100 --interval 1m
  ratekit server --algorithm leaky_bucket --size 20 --rate 5 --interval 1s
  ratekit server --config ratekit.yaml --record traffic.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if noMetrics {
				cfg.Metrics.Enabled = false
			}
			lf.apply(cmd, &cfg.Limiter)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, recordFile, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&recordFile, "record", "", "record traffic to a JSON file (exported on shutdown)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "disable the Prometheus endpoint")
	lf.register(cmd)

	return cmd
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, cfg config.Config, recordFile string, logger *slog.Logger) error {
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(nil)
	}

	store, err := storage.NewMemoryStore(
		instrumentedFactory(cfg.Limiter, collector, logger),
		storage.WithIdleTTL(cfg.Store.IdleTTL, cfg.Store.CleanupInterval),
		storage.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	opts := server.Options{
		Store:       store,
		Algorithm:   cfg.Limiter.Algorithm,
		Hub:         server.NewHub(logger),
		Metrics:     collector,
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger,
	}
	if recordFile != "" {
		opts.Recorder = recorder.New(nil)
	}

	srv, err := server.New(cfg.Server.Addr, opts)
	if err != nil {
		store.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		store.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	if opts.Recorder != nil {
		logger.Info("exporting recorded traffic", "records", opts.Recorder.Len(), "file", recordFile)
		err = errors.Join(err, opts.Recorder.ExportFile(recordFile))
	}
	return err
}

// instrumentedFactory builds each key's limiter from cfg, wrapped for
// metrics when a collector is given. Metrics are labelled by algorithm,
// not by key.
func instrumentedFactory(cfg limiter.Config, collector *metrics.Collector, logger *slog.Logger) storage.Factory {
	base := storage.ConfigFactory(cfg, limiter.WithLogger(logger))
	if collector == nil {
		return base
	}
	return func(key string) (limiter.Limiter, error) {
		lim, err := base(key)
		if err != nil {
			return nil, err
		}
		return collector.Instrument(string(cfg.Algorithm), lim), nil
	}
}
