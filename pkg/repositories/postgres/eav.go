package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/pool"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
)

// EAVRepository stores the specification as typed attribute rows against the
// attribute catalog.
type EAVRepository struct {
	base
}

// NewEAVRepository creates the entity-attribute-value backend on p.
func NewEAVRepository(p pool.ConnectionPool, opts Options, logger zerolog.Logger) *EAVRepository {
	return &EAVRepository{
		base: newBase(repositories.BackendEAV, eavProjection(), p, opts, logger),
	}
}

// Insert persists one plant. Every specification key must be cataloged and
// its value must match the declared type.
func (r *EAVRepository) Insert(ctx context.Context, plant *models.Plant) error {
	return r.insertEAV(ctx, "insert", []*models.Plant{plant})
}

// InsertMany persists the batch: one file statement, one plant statement and
// one attribute value statement per specification key in the batch.
func (r *EAVRepository) InsertMany(ctx context.Context, plants []*models.Plant) error {
	return r.insertEAV(ctx, "insert_many", plants)
}

func (r *EAVRepository) insertEAV(ctx context.Context, op string, plants []*models.Plant) error {
	return r.insert(ctx, op, plants, func(plants []*models.Plant) ([]statement, error) {
		catalog, err := r.Catalog(ctx, attributeKeys(plants))
		if err != nil {
			return nil, err
		}
		return buildEAVInserts(plants, catalog)
	})
}

// Catalog resolves the catalog entries of names with one query. Names without
// an entry are absent from the result.
func (r *EAVRepository) Catalog(ctx context.Context, names []string) (models.AttributeCatalog, error) {
	catalog := make(models.AttributeCatalog, len(names))
	if len(names) == 0 {
		return catalog, nil
	}

	query, args, err := psql.Select("id", "name", "data_type").
		From("attribute").
		Where(sq.Eq{"name": names}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build catalog query")
	}

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	r.pool.QueryLogger().LogQuery(query, time.Since(start), err)
	if err != nil {
		return nil, errors.WrapDB(err, "failed to read attribute catalog")
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Attribute
		var dataType string
		if err := rows.Scan(&a.ID, &a.Name, &dataType); err != nil {
			return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to scan attribute")
		}
		a.DataType = models.AttributeType(dataType)
		catalog[a.Name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDB(err, "failed to read attribute catalog")
	}

	r.logger.Debug().Int("requested", len(names)).Int("resolved", len(catalog)).Msg("Resolved attribute catalog")
	return catalog, nil
}

// attributeKeys returns the union of specification keys in order of first
// appearance.
func attributeKeys(plants []*models.Plant) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, p := range plants {
		for _, a := range p.Specification.Attributes() {
			if _, ok := seen[a.Name]; ok {
				continue
			}
			seen[a.Name] = struct{}{}
			keys = append(keys, a.Name)
		}
	}
	return keys
}

func buildEAVInserts(plants []*models.Plant, catalog models.AttributeCatalog) ([]statement, error) {
	entities := psql.Insert("plant").
		Columns("id", "name", "latin_name", "description", "category_name", "main_photo_id")
	for _, p := range plants {
		entities = entities.Values(p.ID, p.Name, p.LatinName, p.Description, string(p.Category), p.MainPhotoID)
	}

	stmts := []statement{
		{what: "file", builder: fileInsert(plants)},
		{what: "plant", builder: entities},
	}

	type keyRows struct {
		builder sq.InsertBuilder
		rows    int
	}
	keys := attributeKeys(plants)
	byKey := make(map[string]*keyRows, len(keys))

	for _, p := range plants {
		for _, av := range p.Specification.Attributes() {
			attr, ok := catalog.Lookup(av.Name)
			if !ok {
				return nil, errors.Newf(errors.CodeUnknownAttribute, "attribute %q is not in the catalog", av.Name).
					WithDetail("attribute", av.Name).
					WithDetail("plant_id", p.ID.String())
			}
			floatV, numberV, textV, err := bindValue(attr, av.Value)
			if err != nil {
				return nil, err.WithDetail("plant_id", p.ID.String())
			}

			kr, ok := byKey[av.Name]
			if !ok {
				kr = &keyRows{builder: psql.Insert("plant_attribute_value").
					Columns("plant_id", "attribute_id", "float_value", "number_value", "text_value")}
				byKey[av.Name] = kr
			}
			kr.builder = kr.builder.Values(p.ID, attr.ID, floatV, numberV, textV)
			kr.rows++
		}
	}

	for _, k := range keys {
		if kr := byKey[k]; kr != nil && kr.rows > 0 {
			stmts = append(stmts, statement{what: "attribute value " + k, builder: kr.builder})
		}
	}
	return stmts, nil
}

// bindValue places value in the slot matching the declared type. The other
// two slots are nil.
func bindValue(attr models.Attribute, value interface{}) (floatV, numberV, textV interface{}, err *errors.Error) {
	mismatch := func() *errors.Error {
		return errors.Newf(errors.CodeTypeMismatch, "attribute %q is declared %s but got %T", attr.Name, attr.DataType, value).
			WithDetail("attribute", attr.Name).
			WithDetail("declared_type", string(attr.DataType))
	}

	switch attr.DataType {
	case models.AttributeTypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil, nil, nil
		case float32:
			return float64(v), nil, nil, nil
		}
		return nil, nil, nil, mismatch()
	case models.AttributeTypeNumber:
		switch v := value.(type) {
		case int64:
			return nil, v, nil, nil
		case int:
			return nil, int64(v), nil, nil
		case int32:
			return nil, int64(v), nil, nil
		}
		return nil, nil, nil, mismatch()
	case models.AttributeTypeSelect, models.AttributeTypeString:
		if v, ok := value.(string); ok {
			return nil, nil, v, nil
		}
		return nil, nil, nil, mismatch()
	default:
		return nil, nil, nil, errors.Newf(errors.CodeTypeMismatch, "attribute %q has unsupported data type %q", attr.Name, attr.DataType).
			WithDetail("attribute", attr.Name)
	}
}

// eavProjection pivots attribute rows into the projection columns with one
// conditional aggregate per attribute, grouped by plant.
func eavProjection() string {
	cols := []string{
		"p.id",
		"p.name",
		"p.latin_name",
		"p.description",
		"p.category_name AS category",
		"f.url AS main_photo_url",
	}
	for _, name := range models.ProjectionColumns[6:] {
		slot, _ := slotFor(models.DefaultAttributeTypes[name])
		cols = append(cols, fmt.Sprintf("MAX(CASE WHEN a.name = '%s' THEN pav.%s END) AS %s", name, slot, name))
	}
	return "WITH p AS (SELECT " + strings.Join(cols, ", ") +
		" FROM plant p" +
		" JOIN file f ON p.main_photo_id = f.id" +
		" LEFT JOIN plant_attribute_value pav ON pav.plant_id = p.id" +
		" LEFT JOIN attribute a ON a.id = pav.attribute_id" +
		" GROUP BY p.id, p.name, p.latin_name, p.description, p.category_name, f.url)"
}
