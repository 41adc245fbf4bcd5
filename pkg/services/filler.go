package services

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/generator"
	"github.com/TFMV/arbor/pkg/infrastructure/metrics"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

// Batch is the half-open range [From, To) of a fill run.
type Batch struct {
	From int
	To   int
}

// Size returns the number of plants in the batch.
func (b Batch) Size() int { return b.To - b.From }

// Partition splits total into batches of batchSize, the last one holding the
// leftover.
func Partition(total, batchSize int) ([]Batch, error) {
	if batchSize <= 0 {
		return nil, errors.Newf(errors.CodeInvalidArgument, "batch size must be positive, got %d", batchSize)
	}
	if total < 0 {
		return nil, errors.Newf(errors.CodeInvalidArgument, "plant count must not be negative, got %d", total)
	}
	batches := make([]Batch, 0, total/batchSize+1)
	for from := 0; from < total; from += batchSize {
		to := from + batchSize
		if to > total {
			to = total
		}
		batches = append(batches, Batch{From: from, To: to})
	}
	return batches, nil
}

// FillConfig configures a Filler.
type FillConfig struct {
	BatchSize int
	Workers   int
	// Seed makes runs reproducible; batch i uses Seed+i. Zero takes the base
	// seed from the clock.
	Seed int64
}

// FillStats summarises a completed fill.
type FillStats struct {
	Batches  int
	Plants   int
	Duration time.Duration
}

// Filler generates plants and writes them to every backend a factory opens.
// Workers share nothing: each batch opens its own backends.
type Filler struct {
	config  FillConfig
	factory BackendFactory
	logger  Logger
	metrics MetricsCollector

	running atomic.Int64
}

// NewFiller creates a fill driver.
func NewFiller(config FillConfig, factory BackendFactory, logger Logger, collector MetricsCollector) (*Filler, error) {
	if factory == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "backend factory is required")
	}
	if config.BatchSize <= 0 {
		return nil, errors.Newf(errors.CodeInvalidArgument, "batch size must be positive, got %d", config.BatchSize)
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if collector == nil {
		collector = nopMetrics{}
	}
	return &Filler{config: config, factory: factory, logger: logger, metrics: collector}, nil
}

// Fill inserts total plants. The first failing batch cancels the others and
// its error is returned.
func (f *Filler) Fill(ctx context.Context, total int) (FillStats, error) {
	start := time.Now()
	batches, err := Partition(total, f.config.BatchSize)
	if err != nil {
		return FillStats{}, err
	}

	f.logger.Info("Filling plants",
		"plant_count", total,
		"batch_size", f.config.BatchSize,
		"batches", len(batches),
		"workers", f.config.Workers)

	seed := f.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Workers)

	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := f.fillBatch(gctx, seed+int64(i), b); err != nil {
				return err
			}
			done.Add(int64(b.Size()))
			return nil
		})
	}

	err = g.Wait()
	stats := FillStats{Batches: len(batches), Plants: int(done.Load()), Duration: time.Since(start)}
	if err != nil {
		f.logger.Error("Fill failed", "plants_written", stats.Plants, "error", err)
		return stats, err
	}

	f.logger.Info("Filling complete", "plants", stats.Plants, "duration", stats.Duration)
	return stats, nil
}

func (f *Filler) fillBatch(ctx context.Context, seed int64, b Batch) error {
	f.metrics.RecordGauge(metrics.MetricFillBatchesRunning, float64(f.running.Add(1)))
	defer func() {
		f.metrics.RecordGauge(metrics.MetricFillBatchesRunning, float64(f.running.Add(-1)))
	}()

	backends, err := f.factory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, be := range backends {
			if cerr := be.Close(); cerr != nil {
				f.logger.Warn("Failed to close backend", "backend", be.Identity(), "error", cerr)
			}
		}
	}()

	plants := generator.New(seed).Plants(b.Size())

	for _, be := range backends {
		if err := insertBatch(ctx, be, plants); err != nil {
			return err
		}
	}

	f.logger.Debug("Filled batch", "from", b.From, "to", b.To, "backends", len(backends))
	return nil
}

func insertBatch(ctx context.Context, be repositories.PlantRepository, plants []*models.Plant) error {
	if len(plants) == 1 {
		return be.Insert(ctx, plants[0])
	}
	return be.InsertMany(ctx, plants)
}
