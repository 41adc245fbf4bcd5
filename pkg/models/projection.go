package models

import (
	"github.com/google/uuid"

	pkgerrors "github.com/TFMV/arbor/pkg/errors"
)

// ProjectionColumns is the flat column set every backend's uniform projection
// exposes, in order.
var ProjectionColumns = []string{
	"id", "name", "latin_name", "description", "category", "main_photo_url",
	AttrHeightM, AttrDiameterM, AttrSoilAcidity, AttrSoilMoisture,
	AttrLightRelation, AttrSoilType, AttrWinterHardiness, AttrFloweringPeriod,
}

// PlantRow is one row read through a uniform projection. Specification
// columns are nil when the backend holds no value for them.
type PlantRow struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	LatinName       string    `json:"latin_name"`
	Description     string    `json:"description"`
	Category        Category  `json:"category"`
	MainPhotoURL    string    `json:"main_photo_url"`
	HeightM         *float64  `json:"height_m,omitempty"`
	DiameterM       *float64  `json:"diameter_m,omitempty"`
	SoilAcidity     *int64    `json:"soil_acidity,omitempty"`
	SoilMoisture    *string   `json:"soil_moisture,omitempty"`
	LightRelation   *string   `json:"light_relation,omitempty"`
	SoilType        *string   `json:"soil_type,omitempty"`
	WinterHardiness *int64    `json:"winter_hardiness,omitempty"`
	FloweringPeriod *string   `json:"flowering_period,omitempty"`
}

// Specification rebuilds the tagged specification from the flat columns.
func (r *PlantRow) Specification() (Specification, error) {
	var missing []string
	need := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	need(AttrHeightM, r.HeightM != nil)
	need(AttrDiameterM, r.DiameterM != nil)
	need(AttrSoilAcidity, r.SoilAcidity != nil)
	need(AttrSoilMoisture, r.SoilMoisture != nil)
	need(AttrLightRelation, r.LightRelation != nil)
	need(AttrSoilType, r.SoilType != nil)
	need(AttrWinterHardiness, r.WinterHardiness != nil)

	switch r.Category {
	case CategoryConiferous:
	case CategoryDeciduous:
		need(AttrFloweringPeriod, r.FloweringPeriod != nil)
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown category %q", r.Category).
			WithDetail("plant_id", r.ID.String())
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "projection row lacks specification attributes").
			WithDetail("plant_id", r.ID.String()).
			WithDetail("missing", missing)
	}

	base := BaseSpecification{
		HeightM:         *r.HeightM,
		DiameterM:       *r.DiameterM,
		SoilAcidity:     int(*r.SoilAcidity),
		SoilMoisture:    SoilMoisture(*r.SoilMoisture),
		LightRelation:   LightRelation(*r.LightRelation),
		SoilType:        SoilType(*r.SoilType),
		WinterHardiness: int(*r.WinterHardiness),
	}
	if r.Category == CategoryDeciduous {
		return DeciduousSpecification{BaseSpecification: base, FloweringPeriod: FloweringPeriod(*r.FloweringPeriod)}, nil
	}
	return ConiferousSpecification{BaseSpecification: base}, nil
}
