// Package harness runs declarative YAML scenarios against a real store
// and orchestrator: load fixture entities, apply mutation steps, then
// check computed values and statuses. Golden-file snapshots of the final
// entity states guard against regressions in the whole pipeline.
package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/facet/internal/engine"
	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/store"
	"github.com/roach88/facet/internal/testutil"
	"github.com/roach88/facet/internal/value"
)

// scenarioEpoch anchors every scenario's clock so cached-at timestamps
// are identical across runs and machines.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Result is the outcome of one scenario run.
type Result struct {
	Pass       bool
	Errors     []string
	Recomputed int // total recomputations across drains

	// Entities holds the final state of every fixture entity, keyed by ID.
	Entities map[string]*entity.Entity
}

// AddError records a failed expectation.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario in a fresh in-memory database.
//
// Flow: load fixtures, drain the initial pending backlog, apply the
// steps in order, then evaluate expectations against the final store
// state. Each scenario advances a deterministic clock by one second per
// step so recomputed timestamps are stable.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock(scenarioEpoch)

	st, err := store.Open(":memory:", store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	orch := engine.New(st, engine.WithNow(clock.Now))
	ctx := context.Background()
	tenant := scenario.Fixture.Tenant

	if err := loadFixture(ctx, st, &scenario.Fixture); err != nil {
		return nil, fmt.Errorf("load fixture: %w", err)
	}

	result := &Result{Pass: true, Entities: map[string]*entity.Entity{}}

	// Initial computation pass over the pending fixtures.
	n, err := orch.RecalculateStale(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("initial computation: %w", err)
	}
	result.Recomputed += n

	for i, step := range scenario.Steps {
		clock.Advance(time.Second)
		if err := applyStep(ctx, st, orch, tenant, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if err := evaluateExpectations(ctx, st, scenario, result); err != nil {
		return nil, err
	}

	for _, fe := range scenario.Fixture.Entities {
		e, err := st.GetEntity(ctx, tenant, fe.ID)
		if err != nil {
			return nil, fmt.Errorf("final state of %s: %w", fe.ID, err)
		}
		result.Entities[fe.ID] = e
	}
	return result, nil
}

func loadFixture(ctx context.Context, st *store.Store, f *Fixture) error {
	for _, fe := range f.Entities {
		e, err := fe.Entity(f.Tenant)
		if err != nil {
			return fmt.Errorf("entity %s: %w", fe.ID, err)
		}
		if _, err := st.PutEntity(ctx, e, 0); err != nil {
			return fmt.Errorf("put %s: %w", fe.ID, err)
		}
	}
	for _, rel := range f.Relationships {
		if err := st.Relate(ctx, f.Tenant, rel.From, rel.Type, rel.To...); err != nil {
			return fmt.Errorf("relate %s/%s: %w", rel.From, rel.Type, err)
		}
	}
	return nil
}

func applyStep(ctx context.Context, st *store.Store, orch *engine.Orchestrator, tenant string, step Step, result *Result) error {
	switch {
	case step.Set != nil:
		p, err := step.Set.Build()
		if err != nil {
			return fmt.Errorf("set %s.%s: %w", step.Set.Entity, step.Set.Property, err)
		}
		e, err := st.GetEntity(ctx, tenant, step.Set.Entity)
		if err != nil {
			return fmt.Errorf("set %s: %w", step.Set.Entity, err)
		}
		rev, err := st.LockRev(ctx, tenant, step.Set.Entity)
		if err != nil {
			return err
		}
		if _, _, err := orch.UpdateEntity(ctx, e.WithProperty(step.Set.Property, p), rev); err != nil {
			return fmt.Errorf("update %s: %w", step.Set.Entity, err)
		}
		return nil

	case step.Relate != nil:
		return st.Relate(ctx, tenant, step.Relate.From, step.Relate.Type, step.Relate.To...)

	case step.Drain:
		n, err := orch.RecalculateStale(ctx, tenant)
		if err != nil {
			return err
		}
		result.Recomputed += n
		return nil

	case step.Compute != nil:
		_, results, err := orch.ComputeEntity(ctx, tenant, step.Compute.Entity, engine.ComputeOptions{})
		if err != nil {
			return err
		}
		result.Recomputed += len(results)
		return nil

	default:
		return fmt.Errorf("empty step")
	}
}

func evaluateExpectations(ctx context.Context, st *store.Store, scenario *Scenario, result *Result) error {
	tenant := scenario.Fixture.Tenant
	for _, exp := range scenario.Expect {
		e, err := st.GetEntity(ctx, tenant, exp.Entity)
		if err != nil {
			result.AddError("%s.%s: entity not found", exp.Entity, exp.Property)
			continue
		}
		p, ok := e.Properties[exp.Property]
		if !ok {
			result.AddError("%s.%s: property not found", exp.Entity, exp.Property)
			continue
		}
		checkExpectation(exp, p, result)
	}
	return nil
}

func checkExpectation(exp Expectation, p entity.Property, result *Result) {
	target := exp.Entity + "." + exp.Property

	var (
		got      value.Value
		status   entity.ComputationStatus
		errMsg   string
		computed bool
	)
	switch prop := p.(type) {
	case entity.Literal:
		got = prop.Value
	case entity.Measured:
		got = prop.Value
	case entity.Inherited:
		got = prop.Override // nil unless overridden; sources need evaluation
	case entity.Computed:
		computed = true
		got = prop.CachedValue
		status = prop.Status
		errMsg = prop.ComputationError
	}

	if exp.Status != "" {
		if !computed {
			result.AddError("%s: status expected on a non-computed property", target)
		} else if string(status) != exp.Status {
			result.AddError("%s: status = %s, want %s", target, status, exp.Status)
		}
	}
	if !exp.ValueNode.IsZero() {
		want, err := exp.ValueNode.Value()
		if err != nil {
			result.AddError("%s: bad expectation: %v", target, err)
			return
		}
		if got == nil {
			result.AddError("%s: no value, want %s", target, value.Format(want))
		} else if !value.Equal(got, want) {
			result.AddError("%s: value = %s, want %s", target, value.Format(got), value.Format(want))
		}
	}
	if exp.ErrorContains != "" {
		if !computed {
			result.AddError("%s: error expected on a non-computed property", target)
		} else if !strings.Contains(errMsg, exp.ErrorContains) {
			result.AddError("%s: error %q does not contain %q", target, errMsg, exp.ErrorContains)
		}
	}
}
