package services

import (
	"context"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/metrics"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

var _ PlanAnalyzer = (*Analyzer)(nil)

// Analyzer runs a query fragment against every registered backend and
// reduces the plan text to comparable metrics.
type Analyzer struct {
	backends []repositories.PlantRepository
	logger   Logger
	metrics  MetricsCollector
}

// NewAnalyzer creates an analyzer over backends. A nil backend or a repeated
// identity is an InvalidArgument error.
func NewAnalyzer(logger Logger, collector MetricsCollector, backends ...repositories.PlantRepository) (*Analyzer, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	if collector == nil {
		collector = nopMetrics{}
	}
	a := &Analyzer{logger: logger, metrics: collector}
	for _, b := range backends {
		if err := a.AddBackend(b); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddBackend registers one more backend.
func (a *Analyzer) AddBackend(b repositories.PlantRepository) error {
	if b == nil {
		return errors.New(errors.CodeInvalidArgument, "backend is nil")
	}
	for _, existing := range a.backends {
		if existing.Identity() == b.Identity() {
			return errors.Newf(errors.CodeInvalidArgument, "backend %q is already registered", b.Identity())
		}
	}
	a.backends = append(a.backends, b)
	return nil
}

// Backends returns the registered identities in registration order.
func (a *Analyzer) Backends() []string {
	ids := make([]string, 0, len(a.backends))
	for _, b := range a.backends {
		ids = append(ids, b.Identity())
	}
	return ids
}

// Analyze returns one report per backend identity. The first failing backend
// aborts the call. Fragments that would write are rejected before any backend
// sees them.
func (a *Analyzer) Analyze(ctx context.Context, fragment string) (map[string]*models.PlanReport, error) {
	if err := ValidateFragment(fragment); err != nil {
		return nil, err
	}
	reports := make(map[string]*models.PlanReport, len(a.backends))
	for _, b := range a.backends {
		id := b.Identity()
		a.logger.Debug("Analyzing query", "backend", id, "fragment", fragment)

		lines, err := b.AnalyzeQuery(ctx, fragment)
		if err != nil {
			a.metrics.IncrementCounter(metrics.MetricAnalyzeErrors, "backend", id)
			a.logger.Error("Plan request failed", "backend", id, "error", err)
			return nil, err
		}
		report, err := ParsePlan(id, lines)
		if err != nil {
			a.metrics.IncrementCounter(metrics.MetricAnalyzeErrors, "backend", id)
			a.logger.Error("Plan parsing failed", "backend", id, "error", err)
			return nil, err
		}

		a.metrics.IncrementCounter(metrics.MetricAnalyzeTotal, "backend", id)
		a.metrics.RecordHistogram(metrics.MetricPlanningTime, report.PlanningTimeMs, "backend", id)
		a.metrics.RecordHistogram(metrics.MetricExecutionTime, report.ExecutionTimeMs, "backend", id)
		a.metrics.RecordHistogram(metrics.MetricPlanRows, float64(report.RowCount), "backend", id)

		a.logger.Info("Query analyzed",
			"backend", id,
			"planning_ms", report.PlanningTimeMs,
			"execution_ms", report.ExecutionTimeMs,
			"rows", report.RowCount)
		reports[id] = report
	}
	return reports, nil
}

// Compare repeats Analyze and summarises the runs per backend.
func (a *Analyzer) Compare(ctx context.Context, fragment string, iterations int) (map[string]models.PlanSummary, error) {
	if iterations < 1 {
		return nil, errors.Newf(errors.CodeInvalidArgument, "iterations must be at least 1, got %d", iterations)
	}

	runs := make(map[string][]*models.PlanReport, len(a.backends))
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reports, err := a.Analyze(ctx, fragment)
		if err != nil {
			return nil, err
		}
		for id, r := range reports {
			runs[id] = append(runs[id], r)
		}
	}

	out := make(map[string]models.PlanSummary, len(runs))
	for id, reports := range runs {
		out[id] = models.Summarize(id, reports)
	}
	return out, nil
}
