package apptype

// DataType is the declared type of an entity property.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeInteger DataType = "integer"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeEmail   DataType = "email"
)

// Valid reports whether d is one of the supported data types.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeInteger, DataTypeNumber, DataTypeBoolean, DataTypeDate, DataTypeEmail:
		return true
	}
	return false
}

// PropertyDef describes one field of an entity type's property schema.
type PropertyDef struct {
	Name        string   `json:"name" yaml:"name"`
	DataType    DataType `json:"data_type" yaml:"type"`
	Required    bool     `json:"required" yaml:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// EntityType is a named collection of canonical entities sharing a schema.
// SeededOnly types are populated administratively and never grow from
// construction sessions.
type EntityType struct {
	ID          string        `json:"type_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	SeededOnly  bool          `json:"seeded_only"`
	Properties  []PropertyDef `json:"properties"`
}

// Required returns the required property definitions in schema order.
func (t EntityType) Required() []PropertyDef {
	var out []PropertyDef
	for _, p := range t.Properties {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// Property looks up a property definition by name.
func (t EntityType) Property(name string) (PropertyDef, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// RelationshipType is one permitted directed edge shape.
type RelationshipType struct {
	SourceTypeID string `json:"source_type_id"`
	TargetTypeID string `json:"target_type_id"`
	SourceType   string `json:"source_type"`
	TargetType   string `json:"target_type"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
}
