// Package services contains the plan analyzer, the batch fill driver and the
// file reconciliation service built on the plant repositories.
package services

import (
	"context"

	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

// PlanAnalyzer compares query plans across backends.
type PlanAnalyzer interface {
	Analyze(ctx context.Context, fragment string) (map[string]*models.PlanReport, error)
	Compare(ctx context.Context, fragment string, iterations int) (map[string]models.PlanSummary, error)
	Backends() []string
}

// BackendFactory opens a fresh set of backends for one fill worker. The
// worker closes them when it is done.
type BackendFactory func(ctx context.Context) ([]repositories.PlantRepository, error)

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	AddCounter(name string, delta float64, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{}) {}

type nopMetrics struct{}

func (nopMetrics) IncrementCounter(string, ...string) {}
func (nopMetrics) AddCounter(string, float64, ...string) {}
func (nopMetrics) RecordHistogram(string, float64, ...string) {}
func (nopMetrics) RecordGauge(string, float64, ...string) {}
