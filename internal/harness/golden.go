package harness

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/value"
)

// Snapshot is the golden-file shape of a finished scenario: every
// fixture entity's final properties, values rendered through
// value.Format for readable diffs.
type Snapshot struct {
	Scenario string           `json:"scenario"`
	Entities []EntitySnapshot `json:"entities"`
}

// EntitySnapshot is one entity's final state.
type EntitySnapshot struct {
	ID         string                      `json:"id"`
	Type       string                      `json:"type"`
	Properties map[string]PropertySnapshot `json:"properties"`
}

// PropertySnapshot is one property's final state. Only the fields the
// variant carries are emitted.
type PropertySnapshot struct {
	Source       string   `json:"source"`
	Value        string   `json:"value,omitempty"`
	Status       string   `json:"status,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// RunWithGolden executes a scenario and compares the final entity states
// against testdata/golden/<scenario.Name>.golden.
//
// Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	data, err := json.MarshalIndent(snapshot(scenario.Name, result), "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}

func snapshot(name string, result *Result) Snapshot {
	snap := Snapshot{Scenario: name}

	ids := make([]string, 0, len(result.Entities))
	for id := range result.Entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		e := result.Entities[id]
		es := EntitySnapshot{
			ID:         e.ID,
			Type:       e.Type,
			Properties: map[string]PropertySnapshot{},
		}
		for name, p := range e.Properties {
			es.Properties[name] = snapshotProperty(p)
		}
		snap.Entities = append(snap.Entities, es)
	}
	return snap
}

func snapshotProperty(p entity.Property) PropertySnapshot {
	ps := PropertySnapshot{Source: string(p.Source())}
	switch prop := p.(type) {
	case entity.Literal:
		ps.Value = value.Format(prop.Value)
	case entity.Measured:
		ps.Value = value.Format(prop.Value)
	case entity.Inherited:
		if prop.Override != nil {
			ps.Value = value.Format(prop.Override)
		}
	case entity.Computed:
		ps.Status = string(prop.Status)
		if prop.CachedValue != nil {
			ps.Value = value.Format(prop.CachedValue)
		}
		for _, d := range prop.Dependencies {
			ps.Dependencies = append(ps.Dependencies, d.String())
		}
		ps.Error = prop.ComputationError
	}
	return ps
}
