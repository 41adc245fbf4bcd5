package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/pool"
	"github.com/TFMV/arbor/pkg/models"
	"github.com/TFMV/arbor/pkg/repositories"
	"github.com/TFMV/arbor/pkg/services"
)

func testSpec() models.BaseSpecification {
	return models.BaseSpecification{
		HeightM:         4.5,
		DiameterM:       1.25,
		SoilAcidity:     55,
		SoilMoisture:    models.SoilMoistureLow,
		LightRelation:   models.LightRelationLight,
		SoilType:        models.SoilTypeMedium,
		WinterHardiness: 7,
	}
}

func coniferous() *models.Plant {
	return &models.Plant{
		ID:            uuid.New(),
		Name:          "scots pine",
		LatinName:     "Pinus sylvestris",
		Description:   "Evergreen",
		Category:      models.CategoryConiferous,
		MainPhotoID:   uuid.New(),
		Specification: models.ConiferousSpecification{BaseSpecification: testSpec()},
	}
}

func deciduous() *models.Plant {
	return &models.Plant{
		ID:          uuid.New(),
		Name:        "silver birch",
		LatinName:   "Betula pendula",
		Description: "Deciduous",
		Category:    models.CategoryDeciduous,
		MainPhotoID: uuid.New(),
		Specification: models.DeciduousSpecification{
			BaseSpecification: testSpec(),
			FloweringPeriod:   "april",
		},
	}
}

func defaultCatalog() models.AttributeCatalog {
	c := models.AttributeCatalog{}
	var id int64
	for _, name := range models.ProjectionColumns[6:] {
		id++
		c[name] = models.Attribute{ID: id, Name: name, DataType: models.DefaultAttributeTypes[name]}
	}
	return c
}

func toSQL(t *testing.T, s statement) (string, []interface{}) {
	t.Helper()
	query, args, err := s.builder.ToSql()
	require.NoError(t, err)
	return query, args
}

func TestComposeQuery(t *testing.T) {
	const proj = "WITH p AS (SELECT 1)"

	tests := []struct {
		name     string
		fragment string
		want     string
	}{
		{name: "empty", fragment: "", want: proj + " SELECT * FROM p"},
		{name: "whitespace", fragment: "  \n", want: proj + " SELECT * FROM p"},
		{name: "predicate", fragment: "category = 'coniferous'", want: proj + " SELECT * FROM p WHERE category = 'coniferous'"},
		{name: "trailing semicolon", fragment: "height_m > 10;", want: proj + " SELECT * FROM p WHERE height_m > 10"},
		{name: "full select", fragment: "SELECT count(*) FROM p", want: proj + " SELECT count(*) FROM p"},
		{name: "lower case select", fragment: "select * from p limit 5", want: proj + " select * from p limit 5"},
		{name: "selectivity column is a predicate", fragment: "selectivity > 1", want: proj + " SELECT * FROM p WHERE selectivity > 1"},
		{name: "select after crlf", fragment: "SELECT\r\n* FROM p", want: proj + " SELECT\r\n* FROM p"},
		{name: "select star", fragment: "SELECT*FROM p", want: proj + " SELECT*FROM p"},
		{name: "cte joins the projection", fragment: "WITH big AS (SELECT * FROM p) SELECT * FROM big", want: proj + ", big AS (SELECT * FROM p) SELECT * FROM big"},
		{name: "table", fragment: "TABLE p", want: proj + " TABLE p"},
		{name: "values", fragment: "values (1)", want: proj + " values (1)"},
		{name: "parenthesised select", fragment: "( SELECT name FROM p)", want: proj + " ( SELECT name FROM p)"},
		{name: "parenthesised predicate", fragment: "(height_m > 1)", want: proj + " SELECT * FROM p WHERE (height_m > 1)"},
		{name: "with prefixed column", fragment: "with_x > 1", want: proj + " SELECT * FROM p WHERE with_x > 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComposeQuery(proj, tt.fragment))
		})
	}
}

// Every fragment the analyzer accepts must compose into a single statement
// that reads from the projection.
func TestComposeQueryAcceptsValidatedReads(t *testing.T) {
	const proj = "WITH p AS (SELECT 1)"

	tests := []struct {
		fragment string
		want     string
	}{
		{"", proj + " SELECT * FROM p"},
		{"category = 'coniferous'", proj + " SELECT * FROM p WHERE category = 'coniferous'"},
		{"SELECT count(*) FROM p;", proj + " SELECT count(*) FROM p"},
		{"SELECT\r\n* FROM p", proj + " SELECT\r\n* FROM p"},
		{"WITH c AS (SELECT * FROM p) SELECT * FROM c", proj + ", c AS (SELECT * FROM p) SELECT * FROM c"},
		{"with\tc AS (SELECT 1) SELECT * FROM c", proj + ", c AS (SELECT 1) SELECT * FROM c"},
		{"TABLE p", proj + " TABLE p"},
		{"VALUES (1)", proj + " VALUES (1)"},
		{"(SELECT name FROM p)", proj + " (SELECT name FROM p)"},
		{"((SELECT name FROM p))", proj + " ((SELECT name FROM p))"},
	}

	for _, tt := range tests {
		t.Run(tt.fragment, func(t *testing.T) {
			require.NoError(t, services.ValidateFragment(tt.fragment))
			composed := ComposeQuery(proj, tt.fragment)
			assert.Equal(t, tt.want, composed)
			assert.Equal(t, 1, strings.Count(strings.ToUpper(composed), "WITH "), composed)
		})
	}
}

func TestBuildDocumentInserts(t *testing.T) {
	plants := []*models.Plant{coniferous(), deciduous()}

	stmts, err := buildDocumentInserts(plants)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	fileSQL, fileArgs := toSQL(t, stmts[0])
	assert.True(t, strings.HasPrefix(fileSQL, "INSERT INTO file"))
	assert.Len(t, fileArgs, 6)
	assert.Contains(t, fileSQL, "$6")
	assert.Equal(t, plants[0].MainPhotoID, fileArgs[0])
	assert.Equal(t, strings.ReplaceAll(plants[0].MainPhotoID.String(), "-", "")+".jpg", fileArgs[2])

	plantSQL, plantArgs := toSQL(t, stmts[1])
	assert.True(t, strings.HasPrefix(plantSQL, "INSERT INTO plant"))
	assert.Contains(t, plantSQL, "specification")
	require.Len(t, plantArgs, 14)
	assert.Equal(t, plants[0].ID, plantArgs[0])
	assert.Equal(t, plants[1].ID, plantArgs[7])

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(plantArgs[13].(string)), &doc))
	assert.Equal(t, "april", doc[models.AttrFloweringPeriod])

	doc = map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(plantArgs[6].(string)), &doc))
	assert.NotContains(t, doc, models.AttrFloweringPeriod)
}

func TestBuildEAVInserts(t *testing.T) {
	t.Run("sparse per key statements", func(t *testing.T) {
		plants := []*models.Plant{coniferous(), deciduous(), coniferous()}

		stmts, err := buildEAVInserts(plants, defaultCatalog())
		require.NoError(t, err)
		// file, plant, seven shared keys, flowering period
		require.Len(t, stmts, 10)

		_, plantArgs := toSQL(t, stmts[1])
		assert.Len(t, plantArgs, 18)

		for _, s := range stmts[2:9] {
			_, args := toSQL(t, s)
			assert.Len(t, args, 15, s.what)
		}

		last := stmts[9]
		assert.Equal(t, "attribute value "+models.AttrFloweringPeriod, last.what)
		query, args := toSQL(t, last)
		assert.True(t, strings.HasPrefix(query, "INSERT INTO plant_attribute_value"))
		require.Len(t, args, 5, "only the deciduous plant has a flowering period row")
		assert.Equal(t, plants[1].ID, args[0])
		assert.Nil(t, args[2])
		assert.Nil(t, args[3])
		assert.Equal(t, "april", args[4])
	})

	t.Run("value slots follow declared type", func(t *testing.T) {
		p := coniferous()
		stmts, err := buildEAVInserts([]*models.Plant{p}, defaultCatalog())
		require.NoError(t, err)

		slots := map[string][]interface{}{}
		for _, s := range stmts[2:] {
			_, args := toSQL(t, s)
			slots[strings.TrimPrefix(s.what, "attribute value ")] = args[2:]
		}
		assert.Equal(t, []interface{}{4.5, nil, nil}, slots[models.AttrHeightM])
		assert.Equal(t, []interface{}{nil, int64(55), nil}, slots[models.AttrSoilAcidity])
		assert.Equal(t, []interface{}{nil, nil, "low"}, slots[models.AttrSoilMoisture])
	})

	t.Run("unknown attribute", func(t *testing.T) {
		catalog := defaultCatalog()
		delete(catalog, models.AttrFloweringPeriod)

		_, err := buildEAVInserts([]*models.Plant{coniferous(), deciduous()}, catalog)
		require.Error(t, err)
		assert.True(t, errors.IsUnknownAttribute(err), "got %v", err)
	})

	t.Run("string value for float attribute", func(t *testing.T) {
		catalog := defaultCatalog()
		a := catalog[models.AttrSoilMoisture]
		a.DataType = models.AttributeTypeFloat
		catalog[models.AttrSoilMoisture] = a

		_, err := buildEAVInserts([]*models.Plant{coniferous()}, catalog)
		require.Error(t, err)
		assert.True(t, errors.IsTypeMismatch(err), "got %v", err)
	})
}

func TestAttributeKeys(t *testing.T) {
	keys := attributeKeys([]*models.Plant{coniferous(), deciduous(), deciduous()})
	assert.Equal(t, models.AttributeNames(models.CategoryDeciduous), keys)
}

func TestBindValue(t *testing.T) {
	attr := func(dt models.AttributeType) models.Attribute {
		return models.Attribute{ID: 1, Name: "x", DataType: dt}
	}

	tests := []struct {
		name     string
		dataType models.AttributeType
		value    interface{}
		want     [3]interface{}
		mismatch bool
	}{
		{name: "float", dataType: models.AttributeTypeFloat, value: 1.5, want: [3]interface{}{1.5, nil, nil}},
		{name: "float32", dataType: models.AttributeTypeFloat, value: float32(2), want: [3]interface{}{2.0, nil, nil}},
		{name: "int for float", dataType: models.AttributeTypeFloat, value: int64(1), mismatch: true},
		{name: "string for float", dataType: models.AttributeTypeFloat, value: "1.5", mismatch: true},
		{name: "number", dataType: models.AttributeTypeNumber, value: int64(7), want: [3]interface{}{nil, int64(7), nil}},
		{name: "int", dataType: models.AttributeTypeNumber, value: 7, want: [3]interface{}{nil, int64(7), nil}},
		{name: "float for number", dataType: models.AttributeTypeNumber, value: 7.0, mismatch: true},
		{name: "select", dataType: models.AttributeTypeSelect, value: "dry", want: [3]interface{}{nil, nil, "dry"}},
		{name: "string", dataType: models.AttributeTypeString, value: "text", want: [3]interface{}{nil, nil, "text"}},
		{name: "number for select", dataType: models.AttributeTypeSelect, value: int64(1), mismatch: true},
		{name: "unsupported type", dataType: "blob", value: "x", mismatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, n, s, err := bindValue(attr(tt.dataType), tt.value)
			if tt.mismatch {
				require.NotNil(t, err)
				assert.True(t, errors.IsTypeMismatch(err))
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.want, [3]interface{}{f, n, s})
		})
	}
}

func TestProjections(t *testing.T) {
	doc := documentProjection()
	assert.True(t, strings.HasPrefix(doc, "WITH p AS (SELECT "))
	assert.Contains(t, doc, "(p.specification->>'height_m')::float8 AS height_m")
	assert.Contains(t, doc, "(p.specification->>'soil_acidity')::bigint AS soil_acidity")
	assert.Contains(t, doc, "p.specification->>'flowering_period' AS flowering_period")
	assert.Contains(t, doc, "JOIN file f ON p.main_photo_id = f.id")

	eav := eavProjection()
	assert.Contains(t, eav, "p.category_name AS category")
	assert.Contains(t, eav, "MAX(CASE WHEN a.name = 'height_m' THEN pav.float_value END) AS height_m")
	assert.Contains(t, eav, "MAX(CASE WHEN a.name = 'winter_hardiness' THEN pav.number_value END) AS winter_hardiness")
	assert.Contains(t, eav, "MAX(CASE WHEN a.name = 'soil_type' THEN pav.text_value END) AS soil_type")
	assert.Contains(t, eav, "GROUP BY p.id")

	for _, col := range models.ProjectionColumns[6:] {
		assert.Contains(t, doc, " AS "+col)
		assert.Contains(t, eav, " AS "+col)
	}
}

func TestInsertRejectsBeforeTouchingStorage(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	ctx := context.Background()

	var nilPool pool.ConnectionPool
	backends := []repositories.PlantRepository{
		NewDocumentRepository(nilPool, DefaultOptions(), logger),
		NewEAVRepository(nilPool, DefaultOptions(), logger),
	}

	for _, b := range backends {
		t.Run(b.Identity(), func(t *testing.T) {
			err := b.InsertMany(ctx, nil)
			assert.True(t, errors.IsInvalidArgument(err), "got %v", err)

			err = b.InsertMany(ctx, []*models.Plant{})
			assert.True(t, errors.IsInvalidArgument(err), "got %v", err)

			bad := coniferous()
			bad.Category = models.CategoryDeciduous
			assert.True(t, errors.IsValidation(b.Insert(ctx, bad)))
			assert.True(t, errors.IsValidation(b.Insert(ctx, nil)))
			assert.True(t, errors.IsValidation(b.InsertMany(ctx, []*models.Plant{coniferous(), nil})))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("columnar", pool.Config{DSN: "postgres://localhost/db"}, DefaultOptions(), zerolog.Nop())
	assert.True(t, errors.IsInvalidArgument(err))
}
