// Package models provides the plant entity, its category-keyed specification,
// the attribute catalog types and the query plan reports.
package models

import (
	"fmt"
	"math"
)

// Category selects the specification variant of a plant.
type Category string

const (
	CategoryConiferous Category = "coniferous"
	CategoryDeciduous  Category = "deciduous"
)

// Categories lists every known category.
var Categories = []Category{CategoryConiferous, CategoryDeciduous}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryConiferous, CategoryDeciduous:
		return true
	}
	return false
}

// SoilMoisture is the preferred soil moisture.
type SoilMoisture string

const (
	SoilMoistureDry    SoilMoisture = "dry"
	SoilMoistureLow    SoilMoisture = "low"
	SoilMoistureMedium SoilMoisture = "medium"
	SoilMoistureHigh   SoilMoisture = "high"
)

var SoilMoistures = []SoilMoisture{SoilMoistureDry, SoilMoistureLow, SoilMoistureMedium, SoilMoistureHigh}

// LightRelation is the preferred light exposure.
type LightRelation string

const (
	LightRelationLight      LightRelation = "light"
	LightRelationHalfShadow LightRelation = "halfshadow"
	LightRelationShadow     LightRelation = "shadow"
)

var LightRelations = []LightRelation{LightRelationLight, LightRelationHalfShadow, LightRelationShadow}

// SoilType is the preferred soil weight.
type SoilType string

const (
	SoilTypeLight  SoilType = "light"
	SoilTypeMedium SoilType = "medium"
	SoilTypeHeavy  SoilType = "heavy"
)

var SoilTypes = []SoilType{SoilTypeLight, SoilTypeMedium, SoilTypeHeavy}

// FloweringPeriod is a season or a month.
type FloweringPeriod string

var FloweringPeriods = []FloweringPeriod{
	"spring", "summer", "autumn", "winter",
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// Specification attribute names. They double as the document keys and the
// attribute catalog names.
const (
	AttrHeightM         = "height_m"
	AttrDiameterM       = "diameter_m"
	AttrSoilAcidity     = "soil_acidity"
	AttrSoilMoisture    = "soil_moisture"
	AttrLightRelation   = "light_relation"
	AttrSoilType        = "soil_type"
	AttrWinterHardiness = "winter_hardiness"
	AttrFloweringPeriod = "flowering_period"
)

// Attribute bounds.
const (
	MinSoilAcidity     = 0
	MaxSoilAcidity     = 100
	MinWinterHardiness = 1
	MaxWinterHardiness = 11
)

// AttributeValue is one specification entry. Value is float64, int64 or string.
type AttributeValue struct {
	Name  string
	Value interface{}
}

// Specification is the category-keyed botanical specification. The only
// implementations are ConiferousSpecification and DeciduousSpecification.
type Specification interface {
	// Category returns the category this variant belongs to.
	Category() Category
	// Attributes returns the entries in a stable order.
	Attributes() []AttributeValue
	// Validate checks value ranges and enum membership.
	Validate() error

	sealed()
}

// BaseSpecification holds the attributes shared by every category.
type BaseSpecification struct {
	HeightM         float64       `json:"height_m"`
	DiameterM       float64       `json:"diameter_m"`
	SoilAcidity     int           `json:"soil_acidity"`
	SoilMoisture    SoilMoisture  `json:"soil_moisture"`
	LightRelation   LightRelation `json:"light_relation"`
	SoilType        SoilType      `json:"soil_type"`
	WinterHardiness int           `json:"winter_hardiness"`
}

func (b BaseSpecification) attributes() []AttributeValue {
	return []AttributeValue{
		{Name: AttrHeightM, Value: b.HeightM},
		{Name: AttrDiameterM, Value: b.DiameterM},
		{Name: AttrSoilAcidity, Value: int64(b.SoilAcidity)},
		{Name: AttrSoilMoisture, Value: string(b.SoilMoisture)},
		{Name: AttrLightRelation, Value: string(b.LightRelation)},
		{Name: AttrSoilType, Value: string(b.SoilType)},
		{Name: AttrWinterHardiness, Value: int64(b.WinterHardiness)},
	}
}

func (b BaseSpecification) validate() error {
	if !nonNegative(b.HeightM) {
		return fmt.Errorf("%s must be a non-negative number, got %v", AttrHeightM, b.HeightM)
	}
	if !nonNegative(b.DiameterM) {
		return fmt.Errorf("%s must be a non-negative number, got %v", AttrDiameterM, b.DiameterM)
	}
	if b.SoilAcidity < MinSoilAcidity || b.SoilAcidity > MaxSoilAcidity {
		return fmt.Errorf("%s must be within [%d, %d], got %d", AttrSoilAcidity, MinSoilAcidity, MaxSoilAcidity, b.SoilAcidity)
	}
	if !oneOf(b.SoilMoisture, SoilMoistures) {
		return fmt.Errorf("unknown %s %q", AttrSoilMoisture, b.SoilMoisture)
	}
	if !oneOf(b.LightRelation, LightRelations) {
		return fmt.Errorf("unknown %s %q", AttrLightRelation, b.LightRelation)
	}
	if !oneOf(b.SoilType, SoilTypes) {
		return fmt.Errorf("unknown %s %q", AttrSoilType, b.SoilType)
	}
	if b.WinterHardiness < MinWinterHardiness || b.WinterHardiness > MaxWinterHardiness {
		return fmt.Errorf("%s must be within [%d, %d], got %d", AttrWinterHardiness, MinWinterHardiness, MaxWinterHardiness, b.WinterHardiness)
	}
	return nil
}

// ConiferousSpecification carries no flowering period.
type ConiferousSpecification struct {
	BaseSpecification
}

func (ConiferousSpecification) Category() Category { return CategoryConiferous }

func (s ConiferousSpecification) Attributes() []AttributeValue { return s.attributes() }

func (s ConiferousSpecification) Validate() error { return s.validate() }

func (ConiferousSpecification) sealed() {}

// DeciduousSpecification adds the flowering period.
type DeciduousSpecification struct {
	BaseSpecification
	FloweringPeriod FloweringPeriod `json:"flowering_period"`
}

func (DeciduousSpecification) Category() Category { return CategoryDeciduous }

func (s DeciduousSpecification) Attributes() []AttributeValue {
	return append(s.attributes(), AttributeValue{Name: AttrFloweringPeriod, Value: string(s.FloweringPeriod)})
}

func (s DeciduousSpecification) Validate() error {
	if err := s.validate(); err != nil {
		return err
	}
	if !oneOf(s.FloweringPeriod, FloweringPeriods) {
		return fmt.Errorf("unknown %s %q", AttrFloweringPeriod, s.FloweringPeriod)
	}
	return nil
}

func (DeciduousSpecification) sealed() {}

// AttributeNames returns the attribute names a category's specification sets.
func AttributeNames(c Category) []string {
	names := []string{
		AttrHeightM, AttrDiameterM, AttrSoilAcidity, AttrSoilMoisture,
		AttrLightRelation, AttrSoilType, AttrWinterHardiness,
	}
	switch c {
	case CategoryDeciduous:
		return append(names, AttrFloweringPeriod)
	case CategoryConiferous:
		return names
	default:
		return nil
	}
}

func nonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func oneOf[T comparable](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
