// Package repositories defines the storage contract shared by the physical
// plant schemas.
package repositories

import (
	"context"

	"github.com/TFMV/arbor/pkg/models"
)

// Backend identities.
const (
	BackendJSON = "json"
	BackendEAV  = "eav"
)

// Backends lists every known backend identity.
var Backends = []string{BackendJSON, BackendEAV}

// PlantRepository is implemented by every physical schema strategy.
type PlantRepository interface {
	// Identity returns the stable backend tag.
	Identity() string
	// UniformProjection returns the query preamble exposing
	// models.ProjectionColumns as the relation p.
	UniformProjection() string
	// Insert persists one plant and its main photo file reference.
	Insert(ctx context.Context, plant *models.Plant) error
	// InsertMany persists a non-empty batch in input order.
	InsertMany(ctx context.Context, plants []*models.Plant) error
	// AnalyzeQuery runs EXPLAIN ANALYZE over the projection plus fragment and
	// returns the plan text lines.
	AnalyzeQuery(ctx context.Context, fragment string) ([]string, error)
	// Select reads plants through the projection plus fragment.
	Select(ctx context.Context, fragment string) ([]models.PlantRow, error)
	// Close releases the backend connection.
	Close() error
}

// FileRepository lists stored file references.
type FileRepository interface {
	// Files returns every row of the file table.
	Files(ctx context.Context) ([]models.File, error)
}
