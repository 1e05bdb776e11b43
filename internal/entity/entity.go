package entity

import (
	"slices"
	"time"
)

// Entity is a schemaless bag of named properties owned by one tenant.
//
// Entities are treated as immutable snapshots: mutation helpers return a
// copy, and the store assigns Version on persist. Version increases
// strictly with every persisted property change, including status-only
// transitions written by the orchestrator.
type Entity struct {
	TenantID  string
	ID        string
	Type      string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	// Properties maps property name to its variant. Names are unique;
	// map iteration order is not semantically meaningful - use
	// PropertyNames for deterministic traversal.
	Properties map[string]Property
}

// New creates an entity with no properties.
func New(tenantID, id, typ string) *Entity {
	return &Entity{
		TenantID:   tenantID,
		ID:         id,
		Type:       typ,
		Properties: map[string]Property{},
	}
}

// WithProperty returns a copy of the entity with one property replaced.
// The receiver is not modified.
func (e *Entity) WithProperty(name string, p Property) *Entity {
	clone := *e
	clone.Properties = make(map[string]Property, len(e.Properties)+1)
	for k, v := range e.Properties {
		clone.Properties[k] = v
	}
	clone.Properties[name] = p
	return &clone
}

// WithProperties returns a copy with a whole replacement property map.
func (e *Entity) WithProperties(props map[string]Property) *Entity {
	clone := *e
	clone.Properties = props
	return &clone
}

// PropertyNames returns all property names in lexical order.
func (e *Entity) PropertyNames() []string {
	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ComputedNames returns the names of all computed properties in lexical
// order. Deterministic traversal keeps evaluation order reproducible.
func (e *Entity) ComputedNames() []string {
	var names []string
	for name, p := range e.Properties {
		if _, ok := p.(Computed); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Computed returns the named property if it exists and is computed.
func (e *Entity) Computed(name string) (Computed, bool) {
	p, ok := e.Properties[name]
	if !ok {
		return Computed{}, false
	}
	c, ok := p.(Computed)
	return c, ok
}
