package services

import (
	"context"
	"io"
	"sync"

	"github.com/TFMV/arbor/pkg/infrastructure/objectstore"
	"github.com/TFMV/arbor/pkg/models"
)

// mockBackend implements repositories.PlantRepository
type mockBackend struct {
	identity       string
	insertFunc     func(ctx context.Context, plant *models.Plant) error
	insertManyFunc func(ctx context.Context, plants []*models.Plant) error
	analyzeFunc    func(ctx context.Context, fragment string) ([]string, error)
	selectFunc     func(ctx context.Context, fragment string) ([]models.PlantRow, error)

	mu     sync.Mutex
	closed int
}

func (m *mockBackend) Identity() string { return m.identity }

func (m *mockBackend) UniformProjection() string { return "WITH p AS (SELECT 1)" }

func (m *mockBackend) Insert(ctx context.Context, plant *models.Plant) error {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, plant)
	}
	return nil
}

func (m *mockBackend) InsertMany(ctx context.Context, plants []*models.Plant) error {
	if m.insertManyFunc != nil {
		return m.insertManyFunc(ctx, plants)
	}
	return nil
}

func (m *mockBackend) AnalyzeQuery(ctx context.Context, fragment string) ([]string, error) {
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, fragment)
	}
	return nil, nil
}

func (m *mockBackend) Select(ctx context.Context, fragment string) ([]models.PlantRow, error) {
	if m.selectFunc != nil {
		return m.selectFunc(ctx, fragment)
	}
	return nil, nil
}

func (m *mockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// mockFileSource implements repositories.FileRepository
type mockFileSource struct {
	filesFunc func(ctx context.Context) ([]models.File, error)
}

func (m *mockFileSource) Files(ctx context.Context) ([]models.File, error) {
	return m.filesFunc(ctx)
}

// mockObjectStore implements ObjectStore
type mockObjectStore struct {
	statFunc func(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error)
	getFunc  func(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	putFunc  func(ctx context.Context, bucket, key string, r io.Reader, size int64) error
}

func (m *mockObjectStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	return m.statFunc(ctx, bucket, key)
}

func (m *mockObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return m.getFunc(ctx, bucket, key)
}

func (m *mockObjectStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	return m.putFunc(ctx, bucket, key, r, size)
}

// mockLogger implements Logger
type mockLogger struct {
	debugFunc func(msg string, keysAndValues ...interface{})
	infoFunc  func(msg string, keysAndValues ...interface{})
	warnFunc  func(msg string, keysAndValues ...interface{})
	errorFunc func(msg string, keysAndValues ...interface{})
}

func (m *mockLogger) Debug(msg string, keysAndValues ...interface{}) {
	if m.debugFunc != nil {
		m.debugFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	if m.infoFunc != nil {
		m.infoFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Warn(msg string, keysAndValues ...interface{}) {
	if m.warnFunc != nil {
		m.warnFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	if m.errorFunc != nil {
		m.errorFunc(msg, keysAndValues...)
	}
}

// mockMetricsCollector implements MetricsCollector and counts calls by name.
type mockMetricsCollector struct {
	mu       sync.Mutex
	counters map[string]int
	observed map[string][]float64
	gauges   map[string][]float64
}

func newMockMetricsCollector() *mockMetricsCollector {
	return &mockMetricsCollector{
		counters: map[string]int{},
		observed: map[string][]float64{},
		gauges:   map[string][]float64{},
	}
}

func (m *mockMetricsCollector) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

func (m *mockMetricsCollector) AddCounter(name string, delta float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += int(delta)
}

func (m *mockMetricsCollector) RecordHistogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[name] = append(m.observed[name], value)
}

func (m *mockMetricsCollector) RecordGauge(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = append(m.gauges[name], value)
}

func (m *mockMetricsCollector) counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
