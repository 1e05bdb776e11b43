package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/facet/internal/value"
)

// propertyDoc is the persisted JSON shape of a Property, discriminated
// by the "source" field. This is the sub-document the store patches
// per property.
type propertyDoc struct {
	Source Source `json:"source"`

	// literal / inherited override / measured value / computed cache
	Value json.RawMessage `json:"value,omitempty"`

	// inherited
	SourceEntity   string          `json:"source_entity,omitempty"`
	SourceProperty string          `json:"source_property,omitempty"`
	Override       json.RawMessage `json:"override,omitempty"`

	// measured
	Uncertainty *float64 `json:"uncertainty,omitempty"`
	MeasuredAt  string   `json:"measured_at,omitempty"`

	// computed
	Expression       string            `json:"expression,omitempty"`
	Dependencies     []Dep             `json:"dependencies,omitempty"`
	Status           ComputationStatus `json:"computation_status,omitempty"`
	CachedValue      json.RawMessage   `json:"cached_value,omitempty"`
	CachedAt         string            `json:"cached_at,omitempty"`
	ComputationError string            `json:"computation_error,omitempty"`
}

// MarshalProperty serializes a property to its tagged JSON sub-document.
// All computation states, including error and circular, round-trip exactly.
func MarshalProperty(p Property) ([]byte, error) {
	switch prop := p.(type) {
	case Literal:
		raw, err := value.MarshalValue(prop.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal literal: %w", err)
		}
		return json.Marshal(propertyDoc{Source: SourceLiteral, Value: raw})

	case Inherited:
		doc := propertyDoc{
			Source:         SourceInherited,
			SourceEntity:   prop.SourceEntity,
			SourceProperty: prop.SourceProperty,
		}
		if prop.Override != nil {
			raw, err := value.MarshalValue(prop.Override)
			if err != nil {
				return nil, fmt.Errorf("marshal inherited override: %w", err)
			}
			doc.Override = raw
		}
		return json.Marshal(doc)

	case Measured:
		raw, err := value.MarshalValue(prop.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal measured: %w", err)
		}
		u := prop.Uncertainty
		return json.Marshal(propertyDoc{
			Source:      SourceMeasured,
			Value:       raw,
			Uncertainty: &u,
			MeasuredAt:  prop.MeasuredAt.UTC().Format(time.RFC3339Nano),
		})

	case Computed:
		if err := prop.Validate(); err != nil {
			return nil, fmt.Errorf("marshal computed: %w", err)
		}
		doc := propertyDoc{
			Source:           SourceComputed,
			Expression:       prop.Expression,
			Dependencies:     prop.Dependencies,
			Status:           prop.Status,
			ComputationError: prop.ComputationError,
		}
		if prop.CachedValue != nil {
			raw, err := value.MarshalValue(prop.CachedValue)
			if err != nil {
				return nil, fmt.Errorf("marshal cached value: %w", err)
			}
			doc.CachedValue = raw
		}
		if prop.CachedAt != nil {
			doc.CachedAt = prop.CachedAt.UTC().Format(time.RFC3339Nano)
		}
		return json.Marshal(doc)

	default:
		return nil, fmt.Errorf("marshal property: unknown variant %T", p)
	}
}

// UnmarshalProperty decodes a property sub-document. Documents violating
// the computed-state invariants are rejected, not repaired.
func UnmarshalProperty(data []byte) (Property, error) {
	var doc propertyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal property: %w", err)
	}

	switch doc.Source {
	case SourceLiteral:
		v, err := value.UnmarshalValue(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("unmarshal literal: %w", err)
		}
		return Literal{Value: v}, nil

	case SourceInherited:
		if doc.SourceEntity == "" || doc.SourceProperty == "" {
			return nil, fmt.Errorf("unmarshal inherited: missing source entity/property")
		}
		prop := Inherited{
			SourceEntity:   doc.SourceEntity,
			SourceProperty: doc.SourceProperty,
		}
		if len(doc.Override) > 0 {
			v, err := value.UnmarshalValue(doc.Override)
			if err != nil {
				return nil, fmt.Errorf("unmarshal inherited override: %w", err)
			}
			prop.Override = v
		}
		return prop, nil

	case SourceMeasured:
		v, err := value.UnmarshalValue(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("unmarshal measured: %w", err)
		}
		num, ok := v.(value.Number)
		if !ok {
			return nil, fmt.Errorf("unmarshal measured: value is %s, want number", v.Kind())
		}
		prop := Measured{Value: num}
		if doc.Uncertainty != nil {
			prop.Uncertainty = *doc.Uncertainty
		}
		if doc.MeasuredAt != "" {
			at, err := time.Parse(time.RFC3339Nano, doc.MeasuredAt)
			if err != nil {
				return nil, fmt.Errorf("unmarshal measured_at: %w", err)
			}
			prop.MeasuredAt = at
		}
		return prop, nil

	case SourceComputed:
		prop := Computed{
			Expression:       doc.Expression,
			Dependencies:     doc.Dependencies,
			Status:           doc.Status,
			ComputationError: doc.ComputationError,
		}
		if prop.Status == "" {
			prop.Status = StatusPending
		}
		if len(doc.CachedValue) > 0 {
			v, err := value.UnmarshalValue(doc.CachedValue)
			if err != nil {
				return nil, fmt.Errorf("unmarshal cached value: %w", err)
			}
			prop.CachedValue = v
		}
		if doc.CachedAt != "" {
			at, err := time.Parse(time.RFC3339Nano, doc.CachedAt)
			if err != nil {
				return nil, fmt.Errorf("unmarshal cached_at: %w", err)
			}
			prop.CachedAt = &at
		}
		if err := prop.Validate(); err != nil {
			return nil, fmt.Errorf("unmarshal computed: %w", err)
		}
		return prop, nil

	default:
		return nil, fmt.Errorf("unmarshal property: unknown source %q", doc.Source)
	}
}

// entityDoc is the full-entity JSON shape used by the CLI and fixtures.
type entityDoc struct {
	TenantID   string                     `json:"tenant_id"`
	ID         string                     `json:"id"`
	Type       string                     `json:"type"`
	Version    int64                      `json:"version"`
	CreatedAt  string                     `json:"created_at,omitempty"`
	UpdatedAt  string                     `json:"updated_at,omitempty"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// MarshalEntity serializes a whole entity, properties included.
func MarshalEntity(e *Entity) ([]byte, error) {
	doc := entityDoc{
		TenantID:   e.TenantID,
		ID:         e.ID,
		Type:       e.Type,
		Version:    e.Version,
		Properties: make(map[string]json.RawMessage, len(e.Properties)),
	}
	if !e.CreatedAt.IsZero() {
		doc.CreatedAt = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !e.UpdatedAt.IsZero() {
		doc.UpdatedAt = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	for name, p := range e.Properties {
		raw, err := MarshalProperty(p)
		if err != nil {
			return nil, fmt.Errorf("marshal property %q: %w", name, err)
		}
		doc.Properties[name] = raw
	}
	return json.Marshal(doc)
}

// UnmarshalEntity decodes a whole entity document.
func UnmarshalEntity(data []byte) (*Entity, error) {
	var doc entityDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}

	e := &Entity{
		TenantID:   doc.TenantID,
		ID:         doc.ID,
		Type:       doc.Type,
		Version:    doc.Version,
		Properties: make(map[string]Property, len(doc.Properties)),
	}
	if doc.CreatedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, doc.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("unmarshal created_at: %w", err)
		}
		e.CreatedAt = at
	}
	if doc.UpdatedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, doc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("unmarshal updated_at: %w", err)
		}
		e.UpdatedAt = at
	}
	for name, raw := range doc.Properties {
		p, err := UnmarshalProperty(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal property %q: %w", name, err)
		}
		e.Properties[name] = p
	}
	return e, nil
}
