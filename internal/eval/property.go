package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/expr"
	"github.com/roach88/facet/internal/value"
)

// ComputedPropertyResult is the outcome of evaluating one computed
// property: the post-state property, the raw evaluation result, and - for
// cycle failures - the full member list so the caller can mark the whole
// batch circular at once.
type ComputedPropertyResult struct {
	Name         string
	Property     entity.Computed
	Result       EvaluationResult
	CycleMembers []entity.Dep

	// ValueChanged is false when the recompute reproduced the property's
	// current terminal state: a value with the same fingerprint as the
	// prior cache (CachedAt is preserved, keeping recompute idempotent),
	// or the same failure it already carried. Staleness propagation keys
	// off this, so only real transitions fan out.
	ValueChanged bool
}

// EntityEvaluationResult is the outcome of evaluating every computed
// property on one entity.
type EntityEvaluationResult struct {
	Entity  *entity.Entity
	Results []ComputedPropertyResult
}

// PropertyEvaluator drives computed-property evaluation: it builds the
// context, runs the evaluator, and folds the raw result into the
// property's status machine (valid / error / circular) with the recorded
// dependency set attached.
type PropertyEvaluator struct {
	builder *ContextBuilder
	eval    *Evaluator
	now     func() time.Time
}

// PropertyEvaluatorOption configures a PropertyEvaluator.
type PropertyEvaluatorOption func(*PropertyEvaluator)

// WithNow overrides the timestamp source, for deterministic tests.
func WithNow(now func() time.Time) PropertyEvaluatorOption {
	return func(pe *PropertyEvaluator) { pe.now = now }
}

// NewPropertyEvaluator creates a property evaluator over the given source.
func NewPropertyEvaluator(src Source, opts ...PropertyEvaluatorOption) *PropertyEvaluator {
	builder := NewContextBuilder(src)
	pe := &PropertyEvaluator{
		builder: builder,
		eval:    NewEvaluator(builder),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(pe)
	}
	return pe
}

// EvaluateProperty evaluates one computed property of the entity.
//
// Evaluation failures are data, not errors: they come back inside the
// result as an error/circular property state. The error return is reserved
// for infrastructure failures (the source itself failing).
func (pe *PropertyEvaluator) EvaluateProperty(ctx context.Context, e *entity.Entity, name string) (ComputedPropertyResult, error) {
	comp, ok := e.Computed(name)
	if !ok {
		return ComputedPropertyResult{}, fmt.Errorf("entity %s has no computed property %q", e.ID, name)
	}

	ast, perr := expr.Parse(comp.Expression)
	if perr != nil {
		res := EvaluationResult{
			Err: evalErrorf(ErrCodeParse, "%v", perr),
		}
		return pe.fold(name, comp, res), nil
	}

	ec, err := pe.builder.BuildForProperty(ctx, e, ast)
	if err != nil {
		return ComputedPropertyResult{}, fmt.Errorf("build context for %s.%s: %w", e.ID, name, err)
	}

	res := pe.eval.evaluateComputedAST(ctx, ec, name, ast)
	return pe.fold(name, comp, res), nil
}

// EvaluateExpression evaluates a free-standing expression against the
// entity, without touching any stored property. Used for ad-hoc queries;
// nothing is cached and no dependency edges are persisted.
func (pe *PropertyEvaluator) EvaluateExpression(ctx context.Context, e *entity.Entity, src string) (EvaluationResult, error) {
	ast, perr := expr.Parse(src)
	if perr != nil {
		return EvaluationResult{}, perr
	}
	ec, err := pe.builder.BuildForProperty(ctx, e, ast)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("build context for %s: %w", e.ID, err)
	}
	return pe.eval.Evaluate(ctx, ast, ec), nil
}

// EvaluateOptions controls an entity-wide evaluation pass.
type EvaluateOptions struct {
	// SkipValid leaves properties already in a valid state untouched,
	// so the pass only fills in pending, stale, and failed ones.
	SkipValid bool
}

// EvaluateEntity evaluates every computed property on the entity against
// one shared context, in sorted property order for determinism, and
// returns an updated entity copy alongside the per-property results.
//
// One property failing does not stop the pass: each property lands in its
// own terminal state independently.
func (pe *PropertyEvaluator) EvaluateEntity(ctx context.Context, e *entity.Entity, opts EvaluateOptions) (EntityEvaluationResult, error) {
	ec, err := pe.builder.BuildForEntity(ctx, e, BuildOptions{PrefetchAll: true})
	if err != nil {
		return EntityEvaluationResult{}, fmt.Errorf("build context for %s: %w", e.ID, err)
	}

	names := e.ComputedNames()
	results := make([]ComputedPropertyResult, 0, len(names))
	updated := make(map[string]entity.Property, len(e.Properties))
	for k, v := range e.Properties {
		updated[k] = v
	}

	for _, name := range names {
		comp, _ := e.Computed(name)
		if opts.SkipValid && comp.Status == entity.StatusValid {
			continue
		}
		res := pe.eval.EvaluateComputed(ctx, ec, name, comp)
		folded := pe.fold(name, comp, res)
		results = append(results, folded)
		updated[name] = folded.Property
	}

	return EntityEvaluationResult{
		Entity:  e.WithProperties(updated),
		Results: results,
	}, nil
}

// fold maps a raw evaluation result onto the property status machine.
// The recorded access set becomes the stored dependency list in every
// terminal state, success or failure, so staleness propagation always
// works from what the last evaluation actually touched.
func (pe *PropertyEvaluator) fold(name string, prior entity.Computed, res EvaluationResult) ComputedPropertyResult {
	out := ComputedPropertyResult{Name: name, Result: res}

	if res.Err != nil {
		switch res.Err.Code {
		case ErrCodeCircular:
			out.CycleMembers = res.Err.Members
			out.Property = prior.WithCircular(res.Err.Message, res.Accessed)
		default:
			out.Property = prior.WithError(res.Err.Error(), res.Accessed)
		}
		// Reproducing the failure the property already carries is not a
		// change; without this, draining a stable error would re-mark its
		// dependents forever.
		out.ValueChanged = prior.Status != out.Property.Status ||
			prior.ComputationError != out.Property.ComputationError
		return out
	}

	at := pe.now()
	changed := true
	if prior.Status == entity.StatusValid && prior.CachedValue != nil && prior.CachedAt != nil {
		if sameFingerprint(prior.CachedValue, res.Value) {
			// Same value as the current cache: keep the original
			// timestamp so repeated recomputes are observationally
			// idempotent.
			at = *prior.CachedAt
			changed = false
		}
	}

	out.Property = prior.WithValid(res.Value, at, res.Accessed)
	out.ValueChanged = changed
	return out
}

func sameFingerprint(a, b value.Value) bool {
	fa, err := value.Fingerprint(a)
	if err != nil {
		return false
	}
	fb, err := value.Fingerprint(b)
	if err != nil {
		return false
	}
	return fa == fb
}
