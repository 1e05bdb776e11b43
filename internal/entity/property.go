package entity

import (
	"fmt"
	"time"

	"github.com/roach88/facet/internal/value"
)

// Source identifies the variant of a Property.
type Source string

const (
	SourceLiteral   Source = "literal"
	SourceInherited Source = "inherited"
	SourceMeasured  Source = "measured"
	SourceComputed  Source = "computed"
)

// ComputationStatus is the lifecycle state of a computed property.
//
// Transitions:
//
//	pending -> valid | error | circular
//	valid | error | circular -> stale (dependency mutation)
//	stale -> valid | error | circular (recomputation)
//
// pending and stale are never terminal; valid, error, and circular are
// stable until a dependency changes.
type ComputationStatus string

const (
	StatusPending  ComputationStatus = "pending"
	StatusValid    ComputationStatus = "valid"
	StatusError    ComputationStatus = "error"
	StatusCircular ComputationStatus = "circular"
	StatusStale    ComputationStatus = "stale"
)

// ValidStatuses defines the allowed computation status strings.
var ValidStatuses = map[ComputationStatus]bool{
	StatusPending:  true,
	StatusValid:    true,
	StatusError:    true,
	StatusCircular: true,
	StatusStale:    true,
}

// Terminal reports whether the status is stable until invalidated.
func (s ComputationStatus) Terminal() bool {
	return s == StatusValid || s == StatusError || s == StatusCircular
}

// Property is a sealed sum over the four property variants.
// Only Literal, Inherited, Measured, and Computed implement it.
// Every consumer type-switches exhaustively; a new variant is a
// compile-time review point at each switch.
type Property interface {
	property() // Sealed
	Source() Source
}

// Literal is an inline stored value.
type Literal struct {
	Value value.Value
}

func (Literal) property()      {}
func (Literal) Source() Source { return SourceLiteral }

// Inherited points at a property on another entity, optionally shadowed
// by a local override.
type Inherited struct {
	SourceEntity   string
	SourceProperty string
	Override       value.Value // nil when not overridden
}

func (Inherited) property()      {}
func (Inherited) Source() Source { return SourceInherited }

// Measured is a numeric observation with uncertainty and a timestamp.
type Measured struct {
	Value       value.Number
	Uncertainty float64
	MeasuredAt  time.Time
}

func (Measured) property()      {}
func (Measured) Source() Source { return SourceMeasured }

// Dep identifies one dependency of a computed property: a property on a
// specific entity. Keying by entity AND property means a cycle spanning two
// entities (A.x -> B.y -> A.x) is detected exactly like a same-entity cycle.
type Dep struct {
	EntityID string `json:"entity_id"`
	Property string `json:"property"`
}

func (d Dep) String() string {
	return d.EntityID + "." + d.Property
}

// Computed is a property whose value derives from an expression.
//
// Computed values are immutable: every recompute produces a new Computed
// rather than mutating fields in place, so concurrent readers of an older
// entity snapshot never observe a half-written transition.
//
// INVARIANTS:
//   - CachedValue/CachedAt are set only when Status == valid
//   - ComputationError is set only when Status is error or circular
//   - Dependencies reflect exactly the accesses of the most recent
//     evaluation (successful or failed), once populated
type Computed struct {
	Expression       string
	Dependencies     []Dep
	Status           ComputationStatus
	CachedValue      value.Value
	CachedAt         *time.Time
	ComputationError string
}

func (Computed) property()      {}
func (Computed) Source() Source { return SourceComputed }

// NewComputed creates a computed property that has never been evaluated.
func NewComputed(expression string) Computed {
	return Computed{
		Expression: expression,
		Status:     StatusPending,
	}
}

// WithValid returns a copy carrying a fresh cached value.
func (c Computed) WithValid(v value.Value, at time.Time, deps []Dep) Computed {
	return Computed{
		Expression:   c.Expression,
		Dependencies: copyDeps(deps),
		Status:       StatusValid,
		CachedValue:  v,
		CachedAt:     &at,
	}
}

// WithError returns a copy in error state. The cached value is dropped:
// a failed expression has no current value.
func (c Computed) WithError(msg string, deps []Dep) Computed {
	return Computed{
		Expression:       c.Expression,
		Dependencies:     copyDeps(deps),
		Status:           StatusError,
		ComputationError: msg,
	}
}

// WithCircular returns a copy marked as a cycle participant.
// Every member of one cycle carries the same message.
func (c Computed) WithCircular(msg string, deps []Dep) Computed {
	return Computed{
		Expression:       c.Expression,
		Dependencies:     copyDeps(deps),
		Status:           StatusCircular,
		ComputationError: msg,
	}
}

// WithStale returns a copy flagged for recomputation. Dependencies are
// kept - they still describe the most recent evaluation - but the cached
// value is no longer trustworthy and is dropped along with the error.
func (c Computed) WithStale() Computed {
	return Computed{
		Expression:   c.Expression,
		Dependencies: copyDeps(c.Dependencies),
		Status:       StatusStale,
	}
}

// Validate checks the status/field invariants. Used on decode so a
// hand-edited or corrupted document cannot smuggle in an inconsistent state.
func (c Computed) Validate() error {
	if !ValidStatuses[c.Status] {
		return fmt.Errorf("computed property: unknown status %q", c.Status)
	}
	if c.Status != StatusValid && (c.CachedValue != nil || c.CachedAt != nil) {
		return fmt.Errorf("computed property: cached value present with status %q", c.Status)
	}
	if c.Status == StatusValid && c.CachedValue == nil {
		return fmt.Errorf("computed property: status valid without cached value")
	}
	if c.ComputationError != "" && c.Status != StatusError && c.Status != StatusCircular {
		return fmt.Errorf("computed property: error message present with status %q", c.Status)
	}
	if (c.Status == StatusError || c.Status == StatusCircular) && c.ComputationError == "" {
		return fmt.Errorf("computed property: status %q without error message", c.Status)
	}
	return nil
}

func copyDeps(deps []Dep) []Dep {
	if deps == nil {
		return nil
	}
	out := make([]Dep, len(deps))
	copy(out, deps)
	return out
}
