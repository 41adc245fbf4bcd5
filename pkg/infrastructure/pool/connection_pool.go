// Package pool owns the PostgreSQL connection behind a backend instance.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/arbor/pkg/errors"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// Config represents pool configuration.
type Config struct {
	DSN                    string        `json:"dsn"`
	ConnectionTimeout      time.Duration `json:"connection_timeout"`
	HealthCheckPeriod      time.Duration `json:"health_check_period"`
	EnableSlowQueryLogging bool          `json:"enable_slow_query_logging"`
	SlowQueryThreshold     time.Duration `json:"slow_query_threshold"`
}

// ConnectionPool hands out the single connection a backend owns.
type ConnectionPool interface {
	// Get returns the database handle after verifying it is alive.
	Get(ctx context.Context) (*sql.DB, error)
	// Stats returns pool statistics.
	Stats() PoolStats
	// HealthCheck pings the database and runs a trivial query.
	HealthCheck(ctx context.Context) error
	// QueryLogger returns the statement logger of this pool.
	QueryLogger() *QueryLogger
	// Close closes the connection.
	Close() error
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	OpenConnections   int           `json:"open_connections"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	LastHealthCheck   time.Time     `json:"last_health_check"`
	HealthCheckStatus string        `json:"health_check_status"`
}

type connectionPool struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger

	closed atomic.Bool

	lastHealthCheck atomic.Int64
	healthStatus    atomic.Value

	ctx    context.Context
	cancel context.CancelFunc

	waitCount    atomic.Int64
	waitDuration atomic.Int64

	queryLogger *QueryLogger
}

// QueryLogger logs statements and flags slow ones.
type QueryLogger struct {
	logger    zerolog.Logger
	threshold time.Duration
	enabled   bool
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger zerolog.Logger, threshold time.Duration, enabled bool) *QueryLogger {
	return &QueryLogger{
		logger:    logger,
		threshold: threshold,
		enabled:   enabled,
	}
}

// LogQuery logs statement execution details.
func (ql *QueryLogger) LogQuery(query string, duration time.Duration, err error) {
	if ql == nil || !ql.enabled {
		return
	}

	logEvent := ql.logger.Debug()
	if duration > ql.threshold {
		logEvent = ql.logger.Warn().Bool("slow_query", true)
	}

	logEvent.
		Dur("duration", duration).
		Str("query", TruncateQuery(query)).
		Bool("success", err == nil).
		Msg("Query executed")

	if err != nil {
		ql.logger.Error().
			Err(err).
			Str("query", TruncateQuery(query)).
			Msg("Query execution failed")
	}
}

// New opens the connection described by cfg. The handle is capped at one open
// connection so every statement of a backend instance runs on the same
// session. Reachability failures are reported as ConnectionError.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	if cfg.DSN == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidArgument, "dsn is required")
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 1 * time.Second
	}

	logger.Info().
		Str("dsn", maskDSN(cfg.DSN)).
		Dur("connection_timeout", cfg.ConnectionTimeout).
		Dur("health_check_period", cfg.HealthCheckPeriod).
		Msg("Opening PostgreSQL connection")

	db, err := sql.Open(DriverName, cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInvalidArgument, "failed to open database")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	ctx, cancel := context.WithCancel(context.Background())

	p := &connectionPool{
		db:          db,
		config:      cfg,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		queryLogger: NewQueryLogger(logger, cfg.SlowQueryThreshold, cfg.EnableSlowQueryLogging),
	}
	p.healthStatus.Store("unknown")

	connCtx, connCancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer connCancel()

	if err := p.HealthCheck(connCtx); err != nil {
		db.Close()
		cancel()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "initial health check failed")
	}

	if cfg.HealthCheckPeriod > 0 {
		go p.healthCheckRoutine(ctx)
	}

	return p, nil
}

// Get returns the database handle.
func (p *connectionPool) Get(ctx context.Context) (*sql.DB, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeConnectionFailed, "connection pool is closed")
	}

	start := time.Now()
	p.waitCount.Add(1)
	defer func() {
		p.waitDuration.Add(int64(time.Since(start)))
	}()

	if err := p.db.PingContext(ctx); err != nil {
		p.logger.Error().Err(err).Msg("Database ping failed")
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "database connection failed")
	}

	return p.db, nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	dbStats := p.db.Stats()

	return PoolStats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         p.waitCount.Load(),
		WaitDuration:      time.Duration(p.waitDuration.Load()),
		LastHealthCheck:   time.Unix(p.lastHealthCheck.Load(), 0),
		HealthCheckStatus: p.getHealthStatus(),
	}
}

// QueryLogger returns the statement logger.
func (p *connectionPool) QueryLogger() *QueryLogger {
	return p.queryLogger
}

// HealthCheck performs a health check on the connection.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeConnectionFailed, "connection pool is closed")
	}

	if err := p.db.PingContext(ctx); err != nil {
		p.updateHealthStatus("unhealthy", err.Error())
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check ping failed")
	}

	var result int
	err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil || result != 1 {
		p.updateHealthStatus("unhealthy", "query test failed")
		if err == nil {
			err = errors.New("unexpected SELECT 1 result")
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check query failed")
	}

	p.updateHealthStatus("healthy", "")
	return nil
}

// Close closes the connection. Closing twice is a no-op.
func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.logger.Info().Msg("Closing PostgreSQL connection")
	p.cancel()

	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

func (p *connectionPool) healthCheckRoutine(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.HealthCheck(probeCtx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("Periodic health check failed")
			}
			cancel()
		}
	}
}

func (p *connectionPool) updateHealthStatus(status, detail string) {
	p.lastHealthCheck.Store(time.Now().Unix())
	p.healthStatus.Store(status)

	if status == "unhealthy" && detail != "" {
		p.logger.Warn().
			Str("status", status).
			Str("detail", detail).
			Msg("Connection health status changed")
	}
}

func (p *connectionPool) getHealthStatus() string {
	if v := p.healthStatus.Load(); v != nil {
		return v.(string)
	}
	return "unknown"
}

// maskDSN hides passwords and sensitive parameters but keeps enough of the
// string to be recognisable in logs.
//
//   - URL DSNs        → redact user password and sensitive query params
//   - key=value DSNs  → redact password=...
//   - anything else   → keep first/last 3 runes, mask the middle
func maskDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err == nil && looksLikeURL(u) {
		if ui := u.User; ui != nil {
			user := ui.Username()
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(user, "*****")
			} else {
				u.User = url.User(user)
			}
		}

		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	if strings.Contains(dsn, "=") {
		fields := strings.Fields(dsn)
		for i, f := range fields {
			k, _, ok := strings.Cut(f, "=")
			if ok && isSensitiveKey(k) {
				fields[i] = k + "=*****"
			}
		}
		return strings.Join(fields, " ")
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func looksLikeURL(u *url.URL) bool {
	return u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != ""
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "pass"),
		strings.Contains(key, "token"),
		strings.Contains(key, "secret"),
		strings.HasSuffix(key, "key"):
		return true
	default:
		return false
	}
}

// TruncateQuery shortens long statements for logging without splitting a
// multi-byte character.
func TruncateQuery(query string) string {
	const maxLen = 100
	if len(query) <= maxLen {
		return query
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(query[cut]) {
		cut--
	}
	return query[:cut] + "..."
}
