package commands

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/archipelago/mapperd/internal/logger"
	"github.com/archipelago/mapperd/internal/metrics"
	"github.com/archipelago/mapperd/pkg/backingstore"
	"github.com/archipelago/mapperd/pkg/backingstore/memory"
	"github.com/archipelago/mapperd/pkg/backingstore/s3"
	"github.com/archipelago/mapperd/pkg/config"
	"github.com/archipelago/mapperd/pkg/copyup"
	"github.com/archipelago/mapperd/pkg/dispatcher"
	"github.com/archipelago/mapperd/pkg/mapcache"
	"github.com/archipelago/mapperd/pkg/request"
)

// bpFlag and tFlag are the daemon's original getopt-style arguments:
// -bp <port> (backing-store port number) and -t 1 (thread count, only 1
// accepted). pflag reserves single-dash syntax for single-character
// shorthands, so "bp" is only reachable as --bp here; "t" keeps its
// original single-dash form via the shorthand below.
var (
	bpFlag int
	tFlag  int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mapperd daemon",
	Long: `Start mapperd's dispatcher loop against the configured backing store.

Examples:
  # Start with the default configuration
  mapperd start

  # Start with a custom configuration file
  mapperd start --config /etc/mapperd/config.yaml

  # Override a setting via environment variable
  MAPPERD_LOGGING_LEVEL=DEBUG mapperd start

  # Legacy invocation-script flags are still accepted
  mapperd start --bp 4001 -t 1`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&bpFlag, "bp", 0, "Backing-store port number (legacy flag; the backing store is now addressed via --config, kept for invocation-script compatibility)")
	startCmd.Flags().IntVarP(&tFlag, "threads", "t", 1, "Thread count; only 1 is accepted, mapperd's dispatcher is single-threaded cooperative")
}

func runStart(cmd *cobra.Command, args []string) error {
	if tFlag != 1 {
		return fmt.Errorf("-t %d: mapperd's dispatcher is single-threaded cooperative, only 1 is accepted", tFlag)
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	if bpFlag != 0 {
		logger.Info("legacy -bp flag accepted, no longer binds a distinct backing-store port", "bp", bpFlag)
	}

	store, err := buildBackingStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build backing store: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	port := request.NewPort(store, cfg.Dispatcher.MaxInFlight)
	d := dispatcher.New(mapcache.New(), port, copyup.New(), m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Run(gctx)
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr)
	}

	logger.Info("mapperd started", "backing_store", cfg.BackingStore.Kind)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", logger.Err(err))
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error("mapperd stopped with error", logger.Err(err))
	}

	logger.Info("mapperd stopped")
	return nil
}

// buildBackingStore constructs the backingstore.Store cfg.BackingStore
// selects.
func buildBackingStore(ctx context.Context, cfg *config.Config) (backingstore.Store, error) {
	switch cfg.BackingStore.Kind {
	case "memory":
		return memory.New(), nil
	case "s3":
		s3Cfg := s3.Config{
			Bucket:         cfg.BackingStore.S3.Bucket,
			Region:         cfg.BackingStore.S3.Region,
			Endpoint:       cfg.BackingStore.S3.Endpoint,
			KeyPrefix:      cfg.BackingStore.S3.KeyPrefix,
			ForcePathStyle: cfg.BackingStore.S3.ForcePathStyle,
		}

		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		store, err := s3.NewFromConfig(loadCtx, s3Cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unrecognized backing store kind %q", cfg.BackingStore.Kind)
	}
}
