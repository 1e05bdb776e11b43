// Package schema compiles CUE entity-type declarations into typed
// property templates. Types are advisory: the store accepts any property
// bag, but a compiled type lets bad expressions fail at validation time
// and provides NewEntity instantiation with pending computed properties.
package schema

import (
	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/expr"
	"github.com/roach88/facet/internal/value"
)

// PropertyDecl is one declared property of an entity type.
type PropertyDecl struct {
	Name   string
	Source entity.Source
	Kind   value.Kind // zero when unspecified
	Unit   string     // number/measured properties only

	// Computed properties.
	Expression string
	Refs       expr.StaticRefs // collected once at compile time

	// Literal properties.
	Default value.Value // nil when no default is declared

	// Inherited properties.
	SourceEntity   string
	SourceProperty string
}

// EntityType is a compiled entity type: a name and its property
// declarations in source order.
type EntityType struct {
	Name       string
	Properties []PropertyDecl
}

// Property returns the named declaration.
func (t EntityType) Property(name string) (PropertyDecl, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDecl{}, false
}

// ComputedNames returns the declared computed property names in source
// order.
func (t EntityType) ComputedNames() []string {
	var names []string
	for _, p := range t.Properties {
		if p.Source == entity.SourceComputed {
			names = append(names, p.Name)
		}
	}
	return names
}

// NewEntity instantiates an entity of this type: computed declarations
// become pending computed properties, literal declarations with a
// default become literals, inherited declarations become inherited
// links. Measured declarations and defaultless literals start absent -
// there is no observation or value to materialize yet.
func (t EntityType) NewEntity(tenantID, id string) *entity.Entity {
	e := entity.New(tenantID, id, t.Name)
	for _, p := range t.Properties {
		switch p.Source {
		case entity.SourceComputed:
			e.Properties[p.Name] = entity.NewComputed(p.Expression)
		case entity.SourceLiteral:
			if p.Default != nil {
				e.Properties[p.Name] = entity.Literal{Value: p.Default}
			}
		case entity.SourceInherited:
			e.Properties[p.Name] = entity.Inherited{
				SourceEntity:   p.SourceEntity,
				SourceProperty: p.SourceProperty,
			}
		}
	}
	return e
}
