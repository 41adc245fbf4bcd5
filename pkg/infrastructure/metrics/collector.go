// Package metrics provides metrics collection for the storage backends, the
// filler and the plan analyzer.
package metrics

import (
	"time"
)

// Metric names.
const (
	MetricInsertTotal        = "plants_inserted_total"
	MetricInsertErrors       = "insert_errors_total"
	MetricInsertDuration     = "insert_duration_seconds"
	MetricBatchSize          = "insert_batch_size"
	MetricAnalyzeTotal       = "analyze_total"
	MetricAnalyzeErrors      = "analyze_errors_total"
	MetricPlanningTime       = "plan_planning_time_ms"
	MetricExecutionTime      = "plan_execution_time_ms"
	MetricPlanRows           = "plan_rows"
	MetricFillBatchesRunning = "fill_batches_running"
	MetricSyncObjects        = "sync_objects_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// AddCounter adds delta to a counter metric.
	AddCounter(name string, delta float64, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer whose Stop records into the named histogram.
	StartTimer(name string, labels ...string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

func (n *NoOpCollector) AddCounter(name string, delta float64, labels ...string) {}

func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures.
func (n *NoOpCollector) StartTimer(name string, labels ...string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

// Stop returns the elapsed time in seconds.
func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
