package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()

	assert.NotPanics(t, func() {
		collector.IncrementCounter(MetricInsertTotal, "backend", "json")
		collector.AddCounter(MetricInsertTotal, 10, "backend", "json")
		collector.RecordHistogram(MetricPlanningTime, 1.234, "backend", "eav")
		collector.RecordGauge(MetricFillBatchesRunning, 2)
	})
}

func TestNoOpCollector_StartTimer(t *testing.T) {
	collector := NewNoOpCollector()
	timer := collector.StartTimer(MetricInsertDuration, "backend", "eav")

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, 0.0, "Timer duration should be greater than 0")
	assert.Less(t, duration, 1.0, "Timer duration should be less than 1 second")
}
