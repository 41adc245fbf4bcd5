package models

// AttributeType is the declared data type of a catalog attribute.
type AttributeType string

const (
	AttributeTypeFloat  AttributeType = "float"
	AttributeTypeNumber AttributeType = "number"
	AttributeTypeSelect AttributeType = "select"
	AttributeTypeString AttributeType = "string"
)

// Attribute is one attribute catalog entry.
type Attribute struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	DataType AttributeType `json:"data_type"`
}

// AttributeCatalog maps attribute names to catalog entries.
type AttributeCatalog map[string]Attribute

// Lookup returns the catalog entry for name.
func (c AttributeCatalog) Lookup(name string) (Attribute, bool) {
	a, ok := c[name]
	return a, ok
}

// DefaultAttributeTypes is the declared type of every specification attribute
// as seeded by the EAV schema.
var DefaultAttributeTypes = map[string]AttributeType{
	AttrHeightM:         AttributeTypeFloat,
	AttrDiameterM:       AttributeTypeFloat,
	AttrSoilAcidity:     AttributeTypeNumber,
	AttrSoilMoisture:    AttributeTypeSelect,
	AttrLightRelation:   AttributeTypeSelect,
	AttrSoilType:        AttributeTypeSelect,
	AttrWinterHardiness: AttributeTypeNumber,
	AttrFloweringPeriod: AttributeTypeSelect,
}
