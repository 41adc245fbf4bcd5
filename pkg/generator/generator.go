// Package generator produces random, structurally valid plants for filling
// the backends.
package generator

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TFMV/arbor/pkg/models"
)

var (
	firstWords = []string{
		"silver", "golden", "dwarf", "weeping", "blue", "red", "mountain", "river",
		"swamp", "black", "white", "giant", "creeping", "sweet", "bitter", "northern",
	}
	secondWords = []string{
		"pine", "spruce", "fir", "larch", "cedar", "juniper", "yew", "hemlock",
		"birch", "maple", "oak", "ash", "willow", "linden", "alder", "rowan",
	}
	descriptionWords = []string{
		"hardy", "ornamental", "tree", "shrub", "with", "dense", "crown", "and",
		"fragrant", "bark", "leaves", "needles", "suited", "for", "parks", "gardens",
		"tolerates", "frost", "drought", "shade", "grows", "slowly", "quickly", "native",
	}
)

// Generator builds plants from its own random source. The seed drives plant
// content only; identifiers always come from uuid.New so separate runs never
// collide. A Generator is not safe for concurrent use; give every worker its own.
type Generator struct {
	rng *rand.Rand
}

// New creates a generator. A zero seed uses the current time.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Plant returns a random plant with a random category.
func (g *Generator) Plant() *models.Plant {
	category := models.Categories[g.rng.Intn(len(models.Categories))]
	return g.PlantOf(category)
}

// PlantOf returns a random plant of the given category.
func (g *Generator) PlantOf(category models.Category) *models.Plant {
	name := pick(g.rng, firstWords) + " " + pick(g.rng, secondWords)
	return &models.Plant{
		ID:            uuid.New(),
		Name:          name,
		LatinName:     strings.ReplaceAll(name, " ", "") + "us",
		Description:   g.sentence(12),
		Category:      category,
		MainPhotoID:   uuid.New(),
		Specification: g.Specification(category),
	}
}

// Plants returns n random plants.
func (g *Generator) Plants(n int) []*models.Plant {
	out := make([]*models.Plant, n)
	for i := range out {
		out[i] = g.Plant()
	}
	return out
}

// Specification returns a random specification of the given category.
func (g *Generator) Specification(category models.Category) models.Specification {
	base := models.BaseSpecification{
		HeightM:         g.metres(),
		DiameterM:       g.metres(),
		SoilAcidity:     models.MinSoilAcidity + g.rng.Intn(models.MaxSoilAcidity-models.MinSoilAcidity+1),
		SoilMoisture:    pick(g.rng, models.SoilMoistures),
		LightRelation:   pick(g.rng, models.LightRelations),
		SoilType:        pick(g.rng, models.SoilTypes),
		WinterHardiness: models.MinWinterHardiness + g.rng.Intn(models.MaxWinterHardiness-models.MinWinterHardiness+1),
	}
	switch category {
	case models.CategoryDeciduous:
		return models.DeciduousSpecification{
			BaseSpecification: base,
			FloweringPeriod:   pick(g.rng, models.FloweringPeriods),
		}
	default:
		return models.ConiferousSpecification{BaseSpecification: base}
	}
}

// metres returns a value in [0, 100) rounded to centimetres.
func (g *Generator) metres() float64 {
	return math.Round(g.rng.Float64()*100*100) / 100
}

func (g *Generator) sentence(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = pick(g.rng, descriptionWords)
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

func pick[T any](rng *rand.Rand, from []T) T {
	return from[rng.Intn(len(from))]
}
