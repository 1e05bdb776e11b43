package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/value"
)

// Scenario is a declarative end-to-end test: fixture entities, a
// sequence of mutation steps, and expectations over the final computed
// values and statuses.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixture is the initial entity population.
	Fixture Fixture `yaml:"fixture"`

	// Steps are applied in order after the initial computation pass.
	Steps []Step `yaml:"steps,omitempty"`

	// Expect validates final property states.
	Expect []Expectation `yaml:"expect"`
}

// Fixture is the initial store population for one tenant.
type Fixture struct {
	Tenant        string          `yaml:"tenant"`
	Entities      []FixtureEntity `yaml:"entities"`
	Relationships []Relationship  `yaml:"relationships,omitempty"`
}

// FixtureEntity declares one entity and its starting properties.
type FixtureEntity struct {
	ID         string                  `yaml:"id"`
	Type       string                  `yaml:"type"`
	Properties map[string]PropertyNode `yaml:"properties"`
}

// Relationship declares an ordered collection membership.
type Relationship struct {
	From string   `yaml:"from"`
	Type string   `yaml:"type"`
	To   []string `yaml:"to"`
}

// Step is one mutation applied mid-scenario. Exactly one field is set.
type Step struct {
	// Set replaces one property through the orchestrator, so staleness
	// propagates to dependents.
	Set *SetStep `yaml:"set,omitempty"`

	// Relate appends members to a relationship collection.
	Relate *Relationship `yaml:"relate,omitempty"`

	// Drain recomputes every pending and stale property of the tenant.
	Drain bool `yaml:"drain,omitempty"`

	// Compute recomputes all computed properties of one entity.
	Compute *ComputeStep `yaml:"compute,omitempty"`
}

// SetStep replaces one property on one entity.
type SetStep struct {
	Entity       string `yaml:"entity"`
	Property     string `yaml:"property"`
	PropertyNode `yaml:",inline"`
}

// ComputeStep targets one entity for recomputation.
type ComputeStep struct {
	Entity string `yaml:"entity"`
}

// Expectation asserts on one property's final state. Status, value, and
// error_contains are each optional; whatever is present is checked.
type Expectation struct {
	Entity        string `yaml:"entity"`
	Property      string `yaml:"property"`
	Status        string `yaml:"status,omitempty"`
	ValueNode     `yaml:",inline"`
	ErrorContains string `yaml:"error_contains,omitempty"`
}

// ValueNode is the YAML spelling of a domain value: exactly one of the
// kind keys is set. Numbers may carry a unit.
type ValueNode struct {
	Text      *string  `yaml:"text,omitempty"`
	Number    *float64 `yaml:"number,omitempty"`
	Unit      string   `yaml:"unit,omitempty"`
	Boolean   *bool    `yaml:"boolean,omitempty"`
	Datetime  *string  `yaml:"datetime,omitempty"`
	Reference *string  `yaml:"reference,omitempty"`
}

// IsZero reports whether no kind key is set.
func (n ValueNode) IsZero() bool {
	return n.Text == nil && n.Number == nil && n.Boolean == nil &&
		n.Datetime == nil && n.Reference == nil
}

// Value materializes the node. Errors if zero or ambiguous.
func (n ValueNode) Value() (value.Value, error) {
	var out value.Value
	set := 0
	if n.Text != nil {
		out = value.Text(*n.Text)
		set++
	}
	if n.Number != nil {
		out = value.NumUnit(*n.Number, n.Unit)
		set++
	}
	if n.Boolean != nil {
		out = value.Boolean(*n.Boolean)
		set++
	}
	if n.Datetime != nil {
		out = value.Datetime(*n.Datetime)
		set++
	}
	if n.Reference != nil {
		out = value.Reference(*n.Reference)
		set++
	}
	switch set {
	case 0:
		return nil, fmt.Errorf("value: one of text, number, boolean, datetime, reference is required")
	case 1:
		return out, nil
	default:
		return nil, fmt.Errorf("value: multiple kinds set")
	}
}

// PropertyNode is the YAML spelling of a property declaration.
type PropertyNode struct {
	// Source defaults to literal when a value key is present.
	Source    string `yaml:"source,omitempty"`
	ValueNode `yaml:",inline"`

	// measured
	Uncertainty float64 `yaml:"uncertainty,omitempty"`
	MeasuredAt  string  `yaml:"measured_at,omitempty"`

	// inherited
	From     string `yaml:"from,omitempty"`
	Property string `yaml:"property,omitempty"`

	// computed
	Expression string `yaml:"expression,omitempty"`
}

// Build materializes the declared property variant.
func (n PropertyNode) Build() (entity.Property, error) {
	src := entity.Source(n.Source)
	if n.Source == "" {
		src = entity.SourceLiteral
	}

	switch src {
	case entity.SourceLiteral:
		v, err := n.ValueNode.Value()
		if err != nil {
			return nil, err
		}
		return entity.Literal{Value: v}, nil

	case entity.SourceMeasured:
		if n.Number == nil {
			return nil, fmt.Errorf("measured property requires a number")
		}
		m := entity.Measured{
			Value:       value.NumUnit(*n.Number, n.Unit),
			Uncertainty: n.Uncertainty,
		}
		if n.MeasuredAt != "" {
			at, err := time.Parse(time.RFC3339, n.MeasuredAt)
			if err != nil {
				return nil, fmt.Errorf("measured_at: %w", err)
			}
			m.MeasuredAt = at
		}
		return m, nil

	case entity.SourceInherited:
		if n.From == "" || n.Property == "" {
			return nil, fmt.Errorf("inherited property requires from and property")
		}
		p := entity.Inherited{SourceEntity: n.From, SourceProperty: n.Property}
		if !n.ValueNode.IsZero() {
			override, err := n.ValueNode.Value()
			if err != nil {
				return nil, err
			}
			p.Override = override
		}
		return p, nil

	case entity.SourceComputed:
		if n.Expression == "" {
			return nil, fmt.Errorf("computed property requires an expression")
		}
		return entity.NewComputed(n.Expression), nil

	default:
		return nil, fmt.Errorf("unknown property source %q", n.Source)
	}
}

// Entity materializes a fixture entity.
func (f FixtureEntity) Entity(tenantID string) (*entity.Entity, error) {
	e := entity.New(tenantID, f.ID, f.Type)
	for name, node := range f.Properties {
		p, err := node.Build()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		e.Properties[name] = p
	}
	return e, nil
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadFixture reads and parses a standalone fixture YAML file, the
// format `facet load` consumes.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fixture Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if err := validateFixture(&fixture); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &fixture, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if err := validateFixture(&s.Fixture); err != nil {
		return err
	}
	for i, step := range s.Steps {
		set := 0
		if step.Set != nil {
			set++
			if step.Set.Entity == "" || step.Set.Property == "" {
				return fmt.Errorf("steps[%d].set: entity and property are required", i)
			}
		}
		if step.Relate != nil {
			set++
		}
		if step.Drain {
			set++
		}
		if step.Compute != nil {
			set++
			if step.Compute.Entity == "" {
				return fmt.Errorf("steps[%d].compute: entity is required", i)
			}
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of set, relate, drain, compute is required", i)
		}
	}
	if len(s.Expect) == 0 {
		return fmt.Errorf("expect list is required and must be non-empty")
	}
	for i, exp := range s.Expect {
		if exp.Entity == "" || exp.Property == "" {
			return fmt.Errorf("expect[%d]: entity and property are required", i)
		}
		if exp.Status == "" && exp.ValueNode.IsZero() && exp.ErrorContains == "" {
			return fmt.Errorf("expect[%d]: at least one of status, a value, or error_contains is required", i)
		}
		if exp.Status != "" && !entity.ValidStatuses[entity.ComputationStatus(exp.Status)] {
			return fmt.Errorf("expect[%d]: unknown status %q", i, exp.Status)
		}
	}
	return nil
}

func validateFixture(f *Fixture) error {
	if f.Tenant == "" {
		return fmt.Errorf("fixture tenant is required")
	}
	if len(f.Entities) == 0 {
		return fmt.Errorf("fixture requires at least one entity")
	}
	seen := map[string]bool{}
	for i, fe := range f.Entities {
		if fe.ID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if seen[fe.ID] {
			return fmt.Errorf("entities[%d]: duplicate id %q", i, fe.ID)
		}
		seen[fe.ID] = true
	}
	for i, rel := range f.Relationships {
		if rel.From == "" || rel.Type == "" || len(rel.To) == 0 {
			return fmt.Errorf("relationships[%d]: from, type, and to are required", i)
		}
	}
	return nil
}
