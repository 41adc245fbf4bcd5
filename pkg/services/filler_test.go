package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/metrics"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		batchSize int
		expected  []Batch
	}{
		{"exact", 6, 3, []Batch{{0, 3}, {3, 6}}},
		{"leftover", 7, 3, []Batch{{0, 3}, {3, 6}, {6, 7}}},
		{"single small batch", 2, 10, []Batch{{0, 2}}},
		{"batch of one", 3, 1, []Batch{{0, 1}, {1, 2}, {2, 3}}},
		{"nothing", 0, 5, []Batch{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := Partition(tt.total, tt.batchSize)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, batches)

			sum := 0
			for _, b := range batches {
				sum += b.Size()
			}
			assert.Equal(t, tt.total, sum)
		})
	}

	_, err := Partition(10, 0)
	assert.True(t, errors.IsInvalidArgument(err))
	_, err = Partition(-1, 5)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestNewFiller(t *testing.T) {
	factory := func(ctx context.Context) ([]repositories.PlantRepository, error) { return nil, nil }

	_, err := NewFiller(FillConfig{BatchSize: 10}, nil, nil, nil)
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = NewFiller(FillConfig{BatchSize: 0}, factory, nil, nil)
	assert.True(t, errors.IsInvalidArgument(err))

	f, err := NewFiller(FillConfig{BatchSize: 10}, factory, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.config.Workers)
}

// recordingBackends hands out fresh mock backends and remembers every plant
// they were given.
type recordingBackends struct {
	mu       sync.Mutex
	opened   []*mockBackend
	plants   map[string][]uuid.UUID
	names    map[string][]string
	single   atomic.Int64
	multi    atomic.Int64
	failWith error
}

func newRecordingBackends() *recordingBackends {
	return &recordingBackends{plants: map[string][]uuid.UUID{}, names: map[string][]string{}}
}

func (r *recordingBackends) factory(ctx context.Context) ([]repositories.PlantRepository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []repositories.PlantRepository
	for _, id := range repositories.Backends {
		id := id
		b := &mockBackend{
			identity: id,
			insertFunc: func(ctx context.Context, p *models.Plant) error {
				r.single.Add(1)
				return r.record(id, p)
			},
			insertManyFunc: func(ctx context.Context, ps []*models.Plant) error {
				r.multi.Add(1)
				return r.record(id, ps...)
			},
		}
		r.opened = append(r.opened, b)
		out = append(out, b)
	}
	return out, nil
}

func (r *recordingBackends) record(id string, ps ...*models.Plant) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range ps {
		r.plants[id] = append(r.plants[id], p.ID)
		r.names[id] = append(r.names[id], p.Name+"|"+p.Description)
	}
	return nil
}

func TestFiller_Fill(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecordingBackends()
	collector := newMockMetricsCollector()
	f, err := NewFiller(FillConfig{BatchSize: 4, Workers: 3, Seed: 11}, rec.factory, &mockLogger{}, collector)
	require.NoError(t, err)

	stats, err := f.Fill(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 10, stats.Plants)

	for _, id := range repositories.Backends {
		assert.Len(t, rec.plants[id], 10, id)
	}
	assert.ElementsMatch(t, rec.plants[repositories.BackendJSON], rec.plants[repositories.BackendEAV])

	seen := map[uuid.UUID]struct{}{}
	for _, id := range rec.plants[repositories.BackendJSON] {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 10)

	// one factory call per batch, every backend closed
	require.Len(t, rec.opened, 3*len(repositories.Backends))
	for _, b := range rec.opened {
		assert.Equal(t, 1, b.closed)
	}
	assert.NotEmpty(t, collector.gauges[metrics.MetricFillBatchesRunning])
}

func TestFiller_BatchOfOneUsesInsert(t *testing.T) {
	rec := newRecordingBackends()
	f, err := NewFiller(FillConfig{BatchSize: 2, Seed: 5}, rec.factory, nil, nil)
	require.NoError(t, err)

	_, err = f.Fill(context.Background(), 3)
	require.NoError(t, err)

	// batch [0,2) goes through InsertMany, the leftover [2,3) through Insert
	assert.Equal(t, int64(len(repositories.Backends)), rec.multi.Load())
	assert.Equal(t, int64(len(repositories.Backends)), rec.single.Load())
	assert.Len(t, rec.plants[repositories.BackendEAV], 3)
}

func TestFiller_SeedIsReproducible(t *testing.T) {
	run := func(seed int64) *recordingBackends {
		rec := newRecordingBackends()
		f, err := NewFiller(FillConfig{BatchSize: 5, Workers: 1, Seed: seed}, rec.factory, nil, nil)
		require.NoError(t, err)
		_, err = f.Fill(context.Background(), 10)
		require.NoError(t, err)
		return rec
	}
	a, b := run(77), run(77)
	assert.Equal(t, a.names[repositories.BackendJSON], b.names[repositories.BackendJSON])
	assert.NotEqual(t, a.plants[repositories.BackendJSON], b.plants[repositories.BackendJSON])
}

func TestFiller_SeededRunsShareNoIDs(t *testing.T) {
	seen := map[uuid.UUID]int64{}
	for _, seed := range []int64{42, 43, 42} {
		rec := newRecordingBackends()
		f, err := NewFiller(FillConfig{BatchSize: 2, Workers: 2, Seed: seed}, rec.factory, nil, nil)
		require.NoError(t, err)
		_, err = f.Fill(context.Background(), 10)
		require.NoError(t, err)

		for _, id := range rec.plants[repositories.BackendJSON] {
			prev, dup := seen[id]
			require.False(t, dup, "id %s from seed %d reused by seed %d", id, prev, seed)
			seen[id] = seed
		}
	}
	assert.Len(t, seen, 30)
}

func TestFiller_FirstErrorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := newRecordingBackends()
	rec.failWith = errors.New(errors.CodeQueryFailed, "duplicate key")
	f, err := NewFiller(FillConfig{BatchSize: 2, Workers: 2, Seed: 3}, rec.factory, nil, nil)
	require.NoError(t, err)

	stats, err := f.Fill(context.Background(), 20)
	require.Error(t, err)
	assert.Equal(t, errors.CodeQueryFailed, errors.GetCode(err))
	assert.Zero(t, stats.Plants)
	for _, b := range rec.opened {
		assert.Equal(t, 1, b.closed)
	}
}

func TestFiller_FactoryError(t *testing.T) {
	factory := func(ctx context.Context) ([]repositories.PlantRepository, error) {
		return nil, errors.New(errors.CodeConnectionFailed, "connection refused")
	}
	f, err := NewFiller(FillConfig{BatchSize: 5}, factory, nil, nil)
	require.NoError(t, err)

	_, err = f.Fill(context.Background(), 5)
	assert.True(t, errors.IsConnection(err))
}
