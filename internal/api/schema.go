package api

// Schema is the remote entity-schema descriptor used to validate profiles
// before any data I/O: every known entity, its declared fields and the
// association edges between entities.
type Schema map[string]EntitySchema

// EntitySchema describes one entity type.
type EntitySchema struct {
	Entity     string              `json:"entity"`
	Properties map[string]Property `json:"properties"`
}

// Property describes one declared field. Type "association" points at
// another entity through the Entity field.
type Property struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity,omitempty"`
	Flags  map[string]any `json:"flags,omitempty"`
}

// IsAssociation reports whether the property is an association edge.
func (p Property) IsAssociation() bool { return p.Type == "association" }

// Required reports whether the server flags the field as required.
func (p Property) Required() bool {
	_, ok := p.Flags["required"]
	return ok
}
