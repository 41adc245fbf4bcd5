// Package main provides the entry point for the arbor plant storage tool.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TFMV/arbor/cmd/arbor/config"
	"github.com/TFMV/arbor/pkg/repositories"
	"github.com/TFMV/arbor/pkg/services"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Plant storage backends and query plan comparison",
	Long: `Arbor stores the plant catalogue in two PostgreSQL layouts, a JSON document
column and an entity-attribute-value schema, and compares how the same query
performs against both.

Example:
  arbor migrate up --json-dsn postgres://localhost/plants_json --eav-dsn postgres://localhost/plants_eav
  arbor fill --plant-count 10000 --batch-size 500 --workers 4
  arbor analyze "height_m > 10 AND soil_type = 'loam'" --iterations 5 --format csv`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Apply or roll back the backend schemas",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Insert generated plants into every backend",
	Args:  cobra.NoArgs,
	RunE:  runFill,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [query]",
	Short: "Compare query plans across backends",
	Long: `Run EXPLAIN ANALYZE for the same query on every backend and report planning
time, execution time and returned rows.

The query is applied to the uniform projection p: an empty query selects every
plant, a query starting with SELECT must read from p, and anything else is used
as the WHERE clause.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile plant photos between buckets and the local filesystem",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("json-dsn", "", "PostgreSQL URL of the JSON document backend")
	flags.String("eav-dsn", "", "PostgreSQL URL of the EAV backend")
	flags.Bool("atomic-batches", true, "run every insert call in one transaction")
	flags.Duration("connection-timeout", 10*time.Second, "connection timeout")
	flags.Duration("health-check-period", 0, "background health check period (0 disables)")
	flags.Bool("log-queries", false, "log every statement")
	flags.Duration("slow-query-threshold", time.Second, "statements slower than this are logged as slow")
	flags.Bool("metrics", false, "enable Prometheus metrics")
	flags.String("metrics-address", ":9090", "metrics server address")
	bindFlags(flags, map[string]string{
		"config":               "config",
		"log-level":            "log_level",
		"json-dsn":             "backends.json.dsn",
		"eav-dsn":              "backends.eav.dsn",
		"atomic-batches":       "backends.atomic_batches",
		"connection-timeout":   "pool.connection_timeout",
		"health-check-period":  "pool.health_check_period",
		"log-queries":          "pool.log_queries",
		"slow-query-threshold": "pool.slow_query_threshold",
		"metrics":              "metrics.enabled",
		"metrics-address":      "metrics.address",
	})

	migrateCmd.Flags().StringSlice("backends", repositories.Backends, "backends to migrate")
	bindFlags(migrateCmd.Flags(), map[string]string{"backends": "migrate.backends"})

	fillCmd.Flags().Int("plant-count", 1000, "number of plants to insert")
	fillCmd.Flags().Int("batch-size", 100, "plants per batch")
	fillCmd.Flags().Int("workers", 1, "batches filled concurrently")
	fillCmd.Flags().Int64("seed", 0, "random seed (0 uses the clock)")
	fillCmd.Flags().StringSlice("backends", repositories.Backends, "backends to fill")
	bindFlags(fillCmd.Flags(), map[string]string{
		"plant-count": "fill.plant_count",
		"batch-size":  "fill.batch_size",
		"workers":     "fill.workers",
		"seed":        "fill.seed",
		"backends":    "fill.backends",
	})

	analyzeCmd.Flags().Int("iterations", 1, "runs per backend")
	analyzeCmd.Flags().String("format", services.FormatMarkdown, "report format (markdown, json, csv)")
	analyzeCmd.Flags().StringSlice("backends", repositories.Backends, "backends to compare")
	bindFlags(analyzeCmd.Flags(), map[string]string{
		"iterations": "analyze.iterations",
		"format":     "analyze.format",
		"backends":   "analyze.backends",
	})

	syncCmd.Flags().String("endpoint", "", "MinIO endpoint (host:port)")
	syncCmd.Flags().String("access-key", "", "MinIO access key")
	syncCmd.Flags().String("secret-key", "", "MinIO secret key")
	syncCmd.Flags().Bool("secure", false, "use HTTPS for MinIO")
	syncCmd.Flags().StringSlice("buckets", nil, "buckets to reconcile, in lookup order")
	syncCmd.Flags().String("fs-root", "", "local photo root; files live under <fs-root>/<bucket>/<url>")
	syncCmd.Flags().Uint64("min-free-space", services.DefaultMinFreeSpace, "bytes to keep free when downloading")
	syncCmd.Flags().String("backend", repositories.BackendJSON, "backend whose file table is reconciled")
	bindFlags(syncCmd.Flags(), map[string]string{
		"endpoint":       "sync.endpoint",
		"access-key":     "sync.access_key",
		"secret-key":     "sync.secret_key",
		"secure":         "sync.secure",
		"buckets":        "sync.buckets",
		"fs-root":        "sync.fs_root",
		"min-free-space": "sync.min_free_space",
		"backend":        "sync.backend",
	})

	viper.SetEnvPrefix("ARBOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(migrateCmd, fillCmd, analyzeCmd, syncCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arbor\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bindFlags binds each flag to its config key.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Errorf("failed to bind flag %s: %w", name, err))
		}
	}
}

func loadConfig() (*config.Config, error) {
	// Load config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &config.Config{
		LogLevel: viper.GetString("log_level"),
		Backends: config.BackendsConfig{
			JSON:          config.BackendConfig{DSN: viper.GetString("backends.json.dsn")},
			EAV:           config.BackendConfig{DSN: viper.GetString("backends.eav.dsn")},
			AtomicBatches: viper.GetBool("backends.atomic_batches"),
		},
		Pool: config.PoolConfig{
			ConnectionTimeout:  viper.GetDuration("pool.connection_timeout"),
			HealthCheckPeriod:  viper.GetDuration("pool.health_check_period"),
			LogQueries:         viper.GetBool("pool.log_queries"),
			SlowQueryThreshold: viper.GetDuration("pool.slow_query_threshold"),
		},
		Migrate: config.MigrateConfig{
			Backends: viper.GetStringSlice("migrate.backends"),
		},
		Fill: config.FillConfig{
			BatchSize:  viper.GetInt("fill.batch_size"),
			PlantCount: viper.GetInt("fill.plant_count"),
			Workers:    viper.GetInt("fill.workers"),
			Seed:       viper.GetInt64("fill.seed"),
			Backends:   viper.GetStringSlice("fill.backends"),
		},
		Analyze: config.AnalyzeConfig{
			Query:      viper.GetString("analyze.query"),
			Iterations: viper.GetInt("analyze.iterations"),
			Format:     viper.GetString("analyze.format"),
			Backends:   viper.GetStringSlice("analyze.backends"),
		},
		Sync: config.SyncConfig{
			Endpoint:     viper.GetString("sync.endpoint"),
			AccessKey:    viper.GetString("sync.access_key"),
			SecretKey:    viper.GetString("sync.secret_key"),
			Secure:       viper.GetBool("sync.secure"),
			Buckets:      viper.GetStringSlice("sync.buckets"),
			FSRoot:       viper.GetString("sync.fs_root"),
			MinFreeSpace: viper.GetUint64("sync.min_free_space"),
			Backend:      viper.GetString("sync.backend"),
		},
		Metrics: config.MetricsConfig{
			Enabled: viper.GetBool("metrics.enabled"),
			Address: viper.GetString("metrics.address"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			if i := strings.LastIndexByte(file, '/'); i >= 0 {
				short = file[i+1:]
			}
			return fmt.Sprintf("%s:%d", short, line)
		}
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	// Reports go to stdout; logs stay on stderr.
	logger := zerolog.New(os.Stderr).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "arbor")

	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}

	return logger.Logger()
}
