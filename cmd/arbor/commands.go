package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TFMV/arbor/cmd/arbor/config"
	"github.com/TFMV/arbor/pkg/infrastructure/metrics"
	"github.com/TFMV/arbor/pkg/infrastructure/migrations"
	"github.com/TFMV/arbor/pkg/infrastructure/objectstore"
	"github.com/TFMV/arbor/pkg/infrastructure/pool"
	"github.com/TFMV/arbor/pkg/repositories"
	"github.com/TFMV/arbor/pkg/repositories/postgres"
	"github.com/TFMV/arbor/pkg/services"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics metrics.Collector
	stop    func()
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogging(cfg.LogLevel)
	logger.Debug().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting arbor")

	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewNoOpCollector(), stop: func() {}}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.NewPrometheusCollector(reg)
		server := metrics.NewMetricsServer(cfg.Metrics.Address, reg)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start metrics server")
			}
		}()
		a.stop = func() {
			if err := server.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping metrics server")
			}
		}
	}
	return a, nil
}

func (a *app) serviceLogger() services.Logger {
	return &serviceLoggerAdapter{logger: a.logger}
}

func (a *app) poolConfig(dsn string) pool.Config {
	return pool.Config{
		DSN:                    dsn,
		ConnectionTimeout:      a.cfg.Pool.ConnectionTimeout,
		HealthCheckPeriod:      a.cfg.Pool.HealthCheckPeriod,
		EnableSlowQueryLogging: a.cfg.Pool.LogQueries,
		SlowQueryThreshold:     a.cfg.Pool.SlowQueryThreshold,
	}
}

func (a *app) openBackend(identity string) (repositories.PlantRepository, error) {
	dsn, err := a.cfg.DSN(identity)
	if err != nil {
		return nil, err
	}
	opts := postgres.Options{
		AtomicBatches: a.cfg.Backends.AtomicBatches,
		Metrics:       a.metrics,
	}
	return postgres.Open(identity, a.poolConfig(dsn), opts, a.logger)
}

func (a *app) openBackends(ids []string) ([]repositories.PlantRepository, error) {
	out := make([]repositories.PlantRepository, 0, len(ids))
	for _, id := range ids {
		be, err := a.openBackend(id)
		if err != nil {
			a.closeBackends(out)
			return nil, err
		}
		out = append(out, be)
	}
	return out, nil
}

func (a *app) closeBackends(backends []repositories.PlantRepository) {
	for _, be := range backends {
		if err := be.Close(); err != nil {
			a.logger.Warn().Err(err).Str("backend", be.Identity()).Msg("Failed to close backend")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.stop()

	action := "up"
	if len(args) == 1 {
		action = args[0]
	}

	for _, id := range a.cfg.Migrate.Backends {
		dsn, err := a.cfg.DSN(id)
		if err != nil {
			return err
		}
		m, err := migrations.NewMigrator(id, dsn, a.logger.With().Str("backend", id).Logger())
		if err != nil {
			return err
		}

		switch action {
		case "up":
			err = m.Up()
		case "down":
			err = m.Down()
		case "version":
		default:
			return fmt.Errorf("unknown migrate action: %s", action)
		}
		if err != nil {
			return fmt.Errorf("migrate %s %s: %w", action, id, err)
		}

		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		a.logger.Info().Str("backend", id).Uint("version", v).Bool("dirty", dirty).Msg("Schema version")
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\tdirty=%t\n", id, v, dirty)
	}
	return nil
}

func runFill(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.stop()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	ids := a.cfg.Fill.Backends
	factory := func(ctx context.Context) ([]repositories.PlantRepository, error) {
		return a.openBackends(ids)
	}

	filler, err := services.NewFiller(services.FillConfig{
		BatchSize: a.cfg.Fill.BatchSize,
		Workers:   a.cfg.Fill.Workers,
		Seed:      a.cfg.Fill.Seed,
	}, factory, a.serviceLogger(), a.metrics)
	if err != nil {
		return err
	}

	stats, err := filler.Fill(ctx, a.cfg.Fill.PlantCount)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "inserted %d plants in %d batches into %v (%s)\n",
		stats.Plants, stats.Batches, ids, stats.Duration)
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.stop()

	query := a.cfg.Analyze.Query
	if len(args) == 1 {
		query = args[0]
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	backends, err := a.openBackends(a.cfg.Analyze.Backends)
	if err != nil {
		return err
	}
	defer a.closeBackends(backends)

	var analyzer services.PlanAnalyzer
	analyzer, err = services.NewAnalyzer(a.serviceLogger(), a.metrics, backends...)
	if err != nil {
		return err
	}
	a.logger.Debug().Strs("backends", analyzer.Backends()).Msg("Comparing plans")

	summaries, err := analyzer.Compare(ctx, query, a.cfg.Analyze.Iterations)
	if err != nil {
		return err
	}
	return services.WriteSummaries(cmd.OutOrStdout(), a.cfg.Analyze.Format, summaries)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.stop()

	if err := a.cfg.ValidateSync(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	backend, err := a.openBackend(a.cfg.Sync.Backend)
	if err != nil {
		return err
	}
	defer a.closeBackends([]repositories.PlantRepository{backend})

	files, ok := backend.(repositories.FileRepository)
	if !ok {
		return fmt.Errorf("backend %s cannot list files", backend.Identity())
	}

	store, err := objectstore.New(objectstore.Config{
		Endpoint:  a.cfg.Sync.Endpoint,
		AccessKey: a.cfg.Sync.AccessKey,
		SecretKey: a.cfg.Sync.SecretKey,
		Secure:    a.cfg.Sync.Secure,
	}, a.logger)
	if err != nil {
		return err
	}

	reconciler, err := services.NewReconciler(services.SyncConfig{
		Buckets:      a.cfg.Sync.Buckets,
		FSRoot:       a.cfg.Sync.FSRoot,
		MinFreeSpace: a.cfg.Sync.MinFreeSpace,
	}, files, store, a.serviceLogger(), a.metrics)
	if err != nil {
		return err
	}

	stats, err := reconciler.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "downloaded=%d uploaded=%d skipped=%d missing=%d failed=%d\n",
		stats.Downloaded, stats.Uploaded, stats.Skipped, stats.Missing, stats.Failed)
	return nil
}
