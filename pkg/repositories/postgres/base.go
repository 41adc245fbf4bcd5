// Package postgres provides the PostgreSQL plant repositories: a document
// schema keeping the specification in one JSONB column and an
// entity-attribute-value schema keeping one row per attribute.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/metrics"
	"github.com/TFMV/arbor/pkg/infrastructure/pool"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Options tune a repository.
type Options struct {
	// AtomicBatches wraps every Insert/InsertMany call in one transaction.
	// When false, statements commit one at a time and a failure leaves the
	// statements before it committed.
	AtomicBatches bool
	// Metrics receives insert counters and durations. Nil disables metrics.
	Metrics metrics.Collector
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{AtomicBatches: true}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// base holds what both schemas share: the connection, the file table and
// the projection plumbing.
type base struct {
	identity   string
	projection string
	pool       pool.ConnectionPool
	opts       Options
	logger     zerolog.Logger
}

func newBase(identity, projection string, p pool.ConnectionPool, opts Options, logger zerolog.Logger) base {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoOpCollector()
	}
	return base{
		identity:   identity,
		projection: projection,
		pool:       p,
		opts:       opts,
		logger:     logger.With().Str("backend", identity).Logger(),
	}
}

// Identity returns the backend tag.
func (b *base) Identity() string { return b.identity }

// UniformProjection returns the projection preamble.
func (b *base) UniformProjection() string { return b.projection }

// Close releases the connection.
func (b *base) Close() error { return b.pool.Close() }

// write runs fn against the connection, inside one transaction when
// AtomicBatches is set.
func (b *base) write(ctx context.Context, fn func(q execer) error) error {
	db, err := b.pool.Get(ctx)
	if err != nil {
		return err
	}
	if !b.opts.AtomicBatches {
		return fn(db)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapDB(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.logger.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapDB(err, "failed to commit transaction")
	}
	return nil
}

// read runs fn inside a read-only transaction that is always rolled back.
func (b *base) read(ctx context.Context, fn func(q execer) error) error {
	db, err := b.pool.Get(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return errors.WrapDB(err, "failed to begin read-only transaction")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			b.logger.Error().Err(err).Msg("Failed to rollback read-only transaction")
		}
	}()
	return fn(tx)
}

// exec runs one built statement.
func (b *base) exec(ctx context.Context, q execer, stmt sq.Sqlizer, what string) error {
	query, args, err := stmt.ToSql()
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to build %s statement", what)
	}

	b.logger.Debug().
		Str("statement", pool.TruncateQuery(query)).
		Int("args_count", len(args)).
		Msg("Executing statement")

	start := time.Now()
	_, err = q.ExecContext(ctx, query, args...)
	b.pool.QueryLogger().LogQuery(query, time.Since(start), err)
	if err != nil {
		return errors.WrapDB(err, fmt.Sprintf("failed to insert %s rows", what))
	}
	return nil
}

// insert validates the batch, builds every statement with build and runs
// them in order. Nothing is written when validation or building fails.
func (b *base) insert(ctx context.Context, op string, plants []*models.Plant, build func([]*models.Plant) ([]statement, error)) error {
	if len(plants) == 0 {
		return errors.New(errors.CodeInvalidArgument, "batch must contain at least one plant").
			WithDetail("backend", b.identity)
	}
	if err := models.ValidateAll(plants); err != nil {
		return err
	}

	timer := b.opts.Metrics.StartTimer(metrics.MetricInsertDuration, "backend", b.identity, "op", op)
	defer timer.Stop()

	stmts, err := build(plants)
	if err != nil {
		b.opts.Metrics.IncrementCounter(metrics.MetricInsertErrors, "backend", b.identity, "code", errors.GetCode(err))
		return err
	}

	b.logger.Debug().
		Str("op", op).
		Int("batch_size", len(plants)).
		Int("statements", len(stmts)).
		Bool("atomic", b.opts.AtomicBatches).
		Msg("Inserting plants")

	err = b.write(ctx, func(q execer) error {
		for _, s := range stmts {
			if err := b.exec(ctx, q, s.builder, s.what); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.opts.Metrics.IncrementCounter(metrics.MetricInsertErrors, "backend", b.identity, "code", errors.GetCode(err))
		b.logger.Error().Err(err).Str("op", op).Int("batch_size", len(plants)).Msg("Insert failed")
		return err
	}

	b.opts.Metrics.AddCounter(metrics.MetricInsertTotal, float64(len(plants)), "backend", b.identity)
	b.opts.Metrics.RecordHistogram(metrics.MetricBatchSize, float64(len(plants)), "backend", b.identity)
	return nil
}

// statement is one built insert and the table it targets.
type statement struct {
	what    string
	builder sq.InsertBuilder
}

// fileInsert builds the multi-row file statement, one row per plant in order.
func fileInsert(plants []*models.Plant) sq.InsertBuilder {
	ins := psql.Insert("file").Columns("id", "name", "url")
	for _, p := range plants {
		f := p.MainPhoto()
		ins = ins.Values(f.ID, f.Name, f.URL)
	}
	return ins
}

// ComposeQuery applies a fragment to a projection preamble, which must be a
// WITH clause defining p. An empty fragment selects every row. A fragment
// opening with WITH has its CTEs appended to the preamble's list; one opening
// with SELECT, TABLE, VALUES or a parenthesised SELECT is the main query.
// Anything else is used as a predicate over p.
func ComposeQuery(projection, fragment string) string {
	fragment = strings.TrimSpace(fragment)
	fragment = strings.TrimSuffix(fragment, ";")
	switch kw, rest := leadingKeyword(fragment); {
	case fragment == "":
		return projection + " SELECT * FROM p"
	case kw == "WITH":
		return projection + ", " + strings.TrimSpace(rest)
	case kw == "SELECT", kw == "TABLE", kw == "VALUES":
		return projection + " " + fragment
	case strings.HasPrefix(fragment, "("):
		if inner, _ := leadingKeyword(strings.TrimLeft(fragment, "( \t\r\n\f")); inner == "SELECT" {
			return projection + " " + fragment
		}
		fallthrough
	default:
		return projection + " SELECT * FROM p WHERE " + fragment
	}
}

// leadingKeyword returns the upper-cased leading word of s and what follows
// it. A word is a run of ASCII letters, digits and underscores.
func leadingKeyword(s string) (string, string) {
	i := 0
	for i < len(s) && isWordByte(s[i]) {
		i++
	}
	return strings.ToUpper(s[:i]), s[i:]
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// AnalyzeQuery runs EXPLAIN ANALYZE over the composed query and returns the
// plan lines.
func (b *base) AnalyzeQuery(ctx context.Context, fragment string) ([]string, error) {
	query := "EXPLAIN ANALYZE " + ComposeQuery(b.projection, fragment)

	b.logger.Debug().Str("fragment", fragment).Msg("Analyzing query")

	var lines []string
	err := b.read(ctx, func(q execer) error {
		start := time.Now()
		rows, err := q.QueryContext(ctx, query)
		b.pool.QueryLogger().LogQuery(query, time.Since(start), err)
		if err != nil {
			return errors.WrapDB(err, "failed to analyze query")
		}
		defer rows.Close()

		for rows.Next() {
			var line string
			if err := rows.Scan(&line); err != nil {
				return errors.Wrap(err, errors.CodeQueryFailed, "failed to scan plan line")
			}
			lines = append(lines, line)
		}
		return errors.WrapDB(rows.Err(), "failed to read plan")
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Select reads plants through the composed query. The query must return the
// projection columns.
func (b *base) Select(ctx context.Context, fragment string) ([]models.PlantRow, error) {
	query := ComposeQuery(b.projection, fragment)

	b.logger.Debug().Str("fragment", fragment).Msg("Selecting plants")

	var out []models.PlantRow
	err := b.read(ctx, func(q execer) error {
		start := time.Now()
		rows, err := q.QueryContext(ctx, query)
		b.pool.QueryLogger().LogQuery(query, time.Since(start), err)
		if err != nil {
			return errors.WrapDB(err, "failed to select plants")
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return errors.WrapDB(err, "failed to read columns")
		}
		if len(cols) != len(models.ProjectionColumns) {
			return errors.Newf(errors.CodeInvalidArgument, "query returns %d columns, want the %d projection columns", len(cols), len(models.ProjectionColumns))
		}

		for rows.Next() {
			row, err := scanPlantRow(rows)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return errors.WrapDB(rows.Err(), "failed to read plants")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Files returns every stored file reference.
func (b *base) Files(ctx context.Context) ([]models.File, error) {
	query, args, err := psql.Select("id", "name", "url").From("file").OrderBy("name").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build file query")
	}

	var out []models.File
	err = b.read(ctx, func(q execer) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.WrapDB(err, "failed to list files")
		}
		defer rows.Close()
		for rows.Next() {
			var f models.File
			if err := rows.Scan(&f.ID, &f.Name, &f.URL); err != nil {
				return errors.Wrap(err, errors.CodeQueryFailed, "failed to scan file")
			}
			out = append(out, f)
		}
		return errors.WrapDB(rows.Err(), "failed to read files")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanPlantRow(rows *sql.Rows) (models.PlantRow, error) {
	var (
		r               models.PlantRow
		id              uuid.UUID
		category        string
		height          sql.NullFloat64
		diameter        sql.NullFloat64
		acidity         sql.NullInt64
		moisture        sql.NullString
		light           sql.NullString
		soil            sql.NullString
		hardiness       sql.NullInt64
		floweringPeriod sql.NullString
	)
	err := rows.Scan(
		&id, &r.Name, &r.LatinName, &r.Description, &category, &r.MainPhotoURL,
		&height, &diameter, &acidity, &moisture, &light, &soil, &hardiness, &floweringPeriod,
	)
	if err != nil {
		return r, errors.Wrap(err, errors.CodeQueryFailed, "failed to scan plant row")
	}

	r.ID = id
	r.Category = models.Category(category)
	if height.Valid {
		r.HeightM = &height.Float64
	}
	if diameter.Valid {
		r.DiameterM = &diameter.Float64
	}
	if acidity.Valid {
		r.SoilAcidity = &acidity.Int64
	}
	if moisture.Valid {
		r.SoilMoisture = &moisture.String
	}
	if light.Valid {
		r.LightRelation = &light.String
	}
	if soil.Valid {
		r.SoilType = &soil.String
	}
	if hardiness.Valid {
		r.WinterHardiness = &hardiness.Int64
	}
	if floweringPeriod.Valid {
		r.FloweringPeriod = &floweringPeriod.String
	}
	return r, nil
}

// slotFor returns the value column and projection cast of an attribute type.
func slotFor(t models.AttributeType) (column, cast string) {
	switch t {
	case models.AttributeTypeFloat:
		return "float_value", "float8"
	case models.AttributeTypeNumber:
		return "number_value", "bigint"
	default:
		return "text_value", ""
	}
}

var (
	_ repositories.PlantRepository = (*DocumentRepository)(nil)
	_ repositories.PlantRepository = (*EAVRepository)(nil)
	_ repositories.FileRepository  = (*DocumentRepository)(nil)
	_ repositories.FileRepository  = (*EAVRepository)(nil)
)
