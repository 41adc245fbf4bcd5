package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/pool"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

// DocumentRepository stores the specification as one JSONB document per
// plant row.
type DocumentRepository struct {
	base
}

// NewDocumentRepository creates the document backend on p.
func NewDocumentRepository(p pool.ConnectionPool, opts Options, logger zerolog.Logger) *DocumentRepository {
	return &DocumentRepository{
		base: newBase(repositories.BackendJSON, documentProjection(), p, opts, logger),
	}
}

// Insert persists one plant with one file statement and one plant statement.
func (r *DocumentRepository) Insert(ctx context.Context, plant *models.Plant) error {
	return r.insert(ctx, "insert", []*models.Plant{plant}, buildDocumentInserts)
}

// InsertMany persists the batch with one multi-row statement per table.
func (r *DocumentRepository) InsertMany(ctx context.Context, plants []*models.Plant) error {
	return r.insert(ctx, "insert_many", plants, buildDocumentInserts)
}

func buildDocumentInserts(plants []*models.Plant) ([]statement, error) {
	ins := psql.Insert("plant").
		Columns("id", "name", "latin_name", "description", "category", "main_photo_id", "specification")
	for _, p := range plants {
		doc, err := json.Marshal(p.Specification)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode specification").
				WithDetail("plant_id", p.ID.String())
		}
		ins = ins.Values(p.ID, p.Name, p.LatinName, p.Description, string(p.Category), p.MainPhotoID, string(doc))
	}
	return []statement{
		{what: "file", builder: fileInsert(plants)},
		{what: "plant", builder: ins},
	}, nil
}

// documentProjection extracts every specification key from the document with
// the cast matching its declared type.
func documentProjection() string {
	cols := []string{
		"p.id",
		"p.name",
		"p.latin_name",
		"p.description",
		"p.category",
		"f.url AS main_photo_url",
	}
	for _, name := range models.ProjectionColumns[6:] {
		_, cast := slotFor(models.DefaultAttributeTypes[name])
		expr := fmt.Sprintf("p.specification->>'%s'", name)
		if cast != "" {
			expr = fmt.Sprintf("(%s)::%s", expr, cast)
		}
		cols = append(cols, fmt.Sprintf("%s AS %s", expr, name))
	}
	return "WITH p AS (SELECT " + strings.Join(cols, ", ") +
		" FROM plant p JOIN file f ON p.main_photo_id = f.id)"
}
