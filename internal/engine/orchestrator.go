package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/eval"
	"github.com/roach88/facet/internal/store"
)

// DefaultEvalBudget bounds the wall-clock time of one property
// evaluation. A deep reference chain or a slow storage path surfaces as
// EVALUATION_TIMEOUT on the property instead of stalling the drain.
const DefaultEvalBudget = 5 * time.Second

// DefaultMaxRecalcSteps bounds one drain pass.
const DefaultMaxRecalcSteps = 1000

// DefaultMaxConcurrency is the background worker count. One worker keeps
// strict FIFO ordering; fan-out across entities is opt-in.
const DefaultMaxConcurrency = 1

// Orchestrator coordinates evaluation and persistence: it recomputes
// properties, writes their terminal states and dependency edges, marks
// transitive dependents stale, and drains the backlog.
//
// Thread-safety model:
//   - EnqueueRecalc: safe from any goroutine
//   - Run: call once; it fans out to maxWorkers goroutines internally,
//     with per-entity single-flight so one entity never computes twice
//     concurrently
//   - The remaining operations serialize through SQLite's single writer
type Orchestrator struct {
	store      *store.Store
	pe         *eval.PropertyEvaluator
	queue      *workQueue
	locks      *entityLockSet
	budget     time.Duration
	maxSteps   int
	maxWorkers int
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEvalBudget sets the per-property evaluation time budget.
func WithEvalBudget(d time.Duration) Option {
	return func(o *Orchestrator) { o.budget = d }
}

// WithMaxRecalcSteps sets the per-drain recomputation quota.
func WithMaxRecalcSteps(n int) Option {
	return func(o *Orchestrator) { o.maxSteps = n }
}

// WithNow overrides the timestamp source, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMaxConcurrency sets the number of background recalculation
// workers. Values below 1 are clamped to 1.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.maxWorkers = n
	}
}

// New creates an Orchestrator over the given store.
func New(s *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      s,
		queue:      newWorkQueue(),
		locks:      newEntityLockSet(),
		budget:     DefaultEvalBudget,
		maxSteps:   DefaultMaxRecalcSteps,
		maxWorkers: DefaultMaxConcurrency,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pe = eval.NewPropertyEvaluator(&storeSource{s: s}, eval.WithNow(o.now))
	return o
}

// storeSource adapts the store's read surface to the evaluation layer.
type storeSource struct {
	s *store.Store
}

func (ss *storeSource) FetchEntity(ctx context.Context, tenantID, entityID string) (*entity.Entity, error) {
	e, err := ss.s.GetEntity(ctx, tenantID, entityID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("entity %s: %w", entityID, eval.ErrNotFound)
	}
	return e, err
}

func (ss *storeSource) FetchRelated(ctx context.Context, tenantID, entityID, relType string) ([]*entity.Entity, error) {
	return ss.s.Related(ctx, tenantID, entityID, relType)
}

// RecalculateProperty recomputes one computed property, persists its new
// state and dependency edges, and - when the value actually changed -
// marks transitive dependents stale.
func (o *Orchestrator) RecalculateProperty(ctx context.Context, tenantID string, target entity.Dep) (eval.ComputedPropertyResult, error) {
	e, err := o.store.GetEntity(ctx, tenantID, target.EntityID)
	if store.IsNotFound(err) {
		return eval.ComputedPropertyResult{}, &OpError{
			Code: ErrCodeNotFound, Message: "entity does not exist", EntityID: target.EntityID,
		}
	}
	if err != nil {
		return eval.ComputedPropertyResult{}, err
	}

	if _, ok := e.Computed(target.Property); !ok {
		if _, exists := e.Properties[target.Property]; !exists {
			return eval.ComputedPropertyResult{}, &OpError{
				Code: ErrCodeNotFound, Message: "property does not exist",
				EntityID: target.EntityID, Property: target.Property,
			}
		}
		return eval.ComputedPropertyResult{}, &OpError{
			Code: ErrCodeNotComputed, Message: "property is not computed",
			EntityID: target.EntityID, Property: target.Property,
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	res, err := o.pe.EvaluateProperty(evalCtx, e, target.Property)
	if err != nil {
		return eval.ComputedPropertyResult{}, fmt.Errorf("evaluate %s: %w", target, err)
	}

	if err := o.persist(ctx, tenantID, target, res); err != nil {
		return eval.ComputedPropertyResult{}, err
	}

	// Any real transition fans out, failures included: a source flipping
	// valid -> error must invalidate caches derived from the vanished
	// value. Reproduced outcomes (same value, same failure) do not, and
	// members of a just-marked cycle are exempt - persist already put
	// them in their terminal circular state.
	if res.ValueChanged {
		var except map[entity.Dep]bool
		if len(res.CycleMembers) > 0 {
			except = make(map[entity.Dep]bool, len(res.CycleMembers))
			for _, m := range res.CycleMembers {
				except[m] = true
			}
		}
		if _, err := o.markDependentsStale(ctx, tenantID, target, except); err != nil {
			return eval.ComputedPropertyResult{}, err
		}
	}

	slog.Debug("property recomputed",
		"tenant", tenantID,
		"property", target.String(),
		"status", string(res.Property.Status),
		"changed", res.ValueChanged,
		"duration", res.Result.Duration)

	return res, nil
}

// persist writes the evaluation outcome: the property document, its
// dependency edges, and - for cycles - the remaining members of the
// batch, which all receive the same circular state and message.
func (o *Orchestrator) persist(ctx context.Context, tenantID string, target entity.Dep, res eval.ComputedPropertyResult) error {
	if _, err := o.store.PatchProperty(ctx, tenantID, target.EntityID, target.Property, res.Property); err != nil {
		return fmt.Errorf("persist %s: %w", target, err)
	}

	if err := o.store.ReplaceDependencies(ctx, tenantID, target, res.Property.Dependencies); err != nil {
		return fmt.Errorf("persist %s deps: %w", target, err)
	}

	for _, member := range res.CycleMembers {
		if member == target {
			continue
		}
		if err := o.markCircular(ctx, tenantID, member, res.Property.ComputationError); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) markCircular(ctx context.Context, tenantID string, member entity.Dep, msg string) error {
	e, err := o.store.GetEntity(ctx, tenantID, member.EntityID)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	c, ok := e.Computed(member.Property)
	if !ok {
		return nil
	}
	if c.Status == entity.StatusCircular && c.ComputationError == msg {
		return nil
	}
	// Dependencies stay: they still describe what the member read, and
	// breaking the cycle at any edge must reach every member.
	patched := c.WithCircular(msg, c.Dependencies)
	if _, err := o.store.PatchProperty(ctx, tenantID, member.EntityID, member.Property, patched); err != nil {
		return fmt.Errorf("mark %s circular: %w", member, err)
	}
	slog.Debug("cycle member marked", "tenant", tenantID, "property", member.String())
	return nil
}

// EvaluateExpression runs a free-standing expression against one entity
// under the evaluation budget. Nothing is persisted: no cache, no
// dependency edges, no staleness. Used for ad-hoc queries.
func (o *Orchestrator) EvaluateExpression(ctx context.Context, tenantID, entityID, src string) (eval.EvaluationResult, error) {
	e, err := o.store.GetEntity(ctx, tenantID, entityID)
	if store.IsNotFound(err) {
		return eval.EvaluationResult{}, &OpError{Code: ErrCodeNotFound, Message: "entity does not exist", EntityID: entityID}
	}
	if err != nil {
		return eval.EvaluationResult{}, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()
	return o.pe.EvaluateExpression(evalCtx, e, src)
}

// ComputeOptions controls an entity-scoped recomputation pass.
type ComputeOptions struct {
	// OnlyStale leaves properties already valid untouched instead of
	// force-recomputing them.
	OnlyStale bool

	// SkipPersist evaluates without writing anything back: no cache, no
	// dependency edges, no staleness. The returned entity carries the
	// would-be states.
	SkipPersist bool
}

// ComputeEntity recomputes the computed properties of one entity, in
// lexical property order, and returns the refreshed entity.
func (o *Orchestrator) ComputeEntity(ctx context.Context, tenantID, entityID string, opts ComputeOptions) (*entity.Entity, []eval.ComputedPropertyResult, error) {
	e, err := o.store.GetEntity(ctx, tenantID, entityID)
	if store.IsNotFound(err) {
		return nil, nil, &OpError{Code: ErrCodeNotFound, Message: "entity does not exist", EntityID: entityID}
	}
	if err != nil {
		return nil, nil, err
	}

	if opts.SkipPersist {
		evalCtx, cancel := context.WithTimeout(ctx, o.budget)
		defer cancel()
		out, err := o.pe.EvaluateEntity(evalCtx, e, eval.EvaluateOptions{SkipValid: opts.OnlyStale})
		if err != nil {
			return nil, nil, err
		}
		return out.Entity, out.Results, nil
	}

	results := make([]eval.ComputedPropertyResult, 0, len(e.ComputedNames()))
	for _, name := range e.ComputedNames() {
		if opts.OnlyStale {
			if c, ok := e.Computed(name); ok && c.Status == entity.StatusValid {
				continue
			}
		}
		res, err := o.RecalculateProperty(ctx, tenantID, entity.Dep{EntityID: entityID, Property: name})
		if err != nil {
			return nil, nil, err
		}
		results = append(results, res)
	}

	refreshed, err := o.store.GetEntity(ctx, tenantID, entityID)
	if err != nil {
		return nil, nil, err
	}
	return refreshed, results, nil
}

// RecalculateProperties recomputes a named batch of computed properties
// on one entity, in argument order. The batch stops at the first
// infrastructure failure; evaluation failures land in the per-property
// results like everywhere else.
func (o *Orchestrator) RecalculateProperties(ctx context.Context, tenantID, entityID string, names ...string) ([]eval.ComputedPropertyResult, error) {
	results := make([]eval.ComputedPropertyResult, 0, len(names))
	for _, name := range names {
		res, err := o.RecalculateProperty(ctx, tenantID, entity.Dep{EntityID: entityID, Property: name})
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// DeleteEntity removes an entity and marks every surviving dependent of
// its properties stale. The dependents' source-side dependency edges
// outlive the deletion, so the walk reaches them; their next
// recomputation observes the broken reference instead of serving a
// cached value forever.
//
// Returns the properties marked stale.
func (o *Orchestrator) DeleteEntity(ctx context.Context, tenantID, entityID string) ([]entity.Dep, error) {
	e, err := o.store.GetEntity(ctx, tenantID, entityID)
	if store.IsNotFound(err) {
		return nil, &OpError{Code: ErrCodeNotFound, Message: "entity does not exist", EntityID: entityID}
	}
	if err != nil {
		return nil, err
	}

	names := e.PropertyNames()
	if err := o.store.DeleteEntity(ctx, tenantID, entityID); err != nil {
		if store.IsNotFound(err) {
			return nil, &OpError{Code: ErrCodeNotFound, Message: "entity does not exist", EntityID: entityID}
		}
		return nil, err
	}

	var marked []entity.Dep
	seen := map[entity.Dep]bool{}
	for _, name := range names {
		deps, err := o.MarkDependentsStale(ctx, tenantID, entity.Dep{EntityID: entityID, Property: name})
		if err != nil {
			return marked, err
		}
		for _, d := range deps {
			if !seen[d] {
				seen[d] = true
				marked = append(marked, d)
			}
		}
	}

	slog.Info("entity deleted",
		"tenant", tenantID,
		"entity", entityID,
		"stale", len(marked))

	return marked, nil
}

// UpdateEntity persists a whole-entity write under optimistic locking and
// synchronously marks the transitive dependents of every changed property
// stale. Recomputation itself is deferred to the drain.
//
// Returns the saved entity and the properties marked stale.
func (o *Orchestrator) UpdateEntity(ctx context.Context, e *entity.Entity, expectedRev int64) (*entity.Entity, []entity.Dep, error) {
	var before *entity.Entity
	if expectedRev > 0 {
		prev, err := o.store.GetEntity(ctx, e.TenantID, e.ID)
		if err != nil && !store.IsNotFound(err) {
			return nil, nil, err
		}
		before = prev
	}

	saved, err := o.store.PutEntity(ctx, e, expectedRev)
	if store.IsConflict(err) {
		return nil, nil, &OpError{Code: ErrCodeConflict, Message: err.Error(), EntityID: e.ID}
	}
	if err != nil {
		return nil, nil, err
	}

	changed, err := changedProperties(before, saved)
	if err != nil {
		return nil, nil, err
	}

	var marked []entity.Dep
	seen := map[entity.Dep]bool{}
	for _, name := range changed {
		deps, err := o.MarkDependentsStale(ctx, e.TenantID, entity.Dep{EntityID: e.ID, Property: name})
		if err != nil {
			return nil, nil, err
		}
		for _, d := range deps {
			if !seen[d] {
				seen[d] = true
				marked = append(marked, d)
			}
		}
	}

	slog.Info("entity updated",
		"tenant", e.TenantID,
		"entity", e.ID,
		"version", saved.Version,
		"changed", len(changed),
		"stale", len(marked))

	return saved, marked, nil
}

// changedProperties diffs two entity snapshots by their persisted
// property documents. A nil before (create) reports every property as
// changed, so dependents recorded against a previously missing entity
// are reached.
func changedProperties(before, after *entity.Entity) ([]string, error) {
	if before == nil {
		return after.PropertyNames(), nil
	}

	var changed []string
	for _, name := range after.PropertyNames() {
		p := after.Properties[name]
		prev, ok := before.Properties[name]
		if !ok {
			changed = append(changed, name)
			continue
		}
		prevDoc, err := entity.MarshalProperty(prev)
		if err != nil {
			return nil, fmt.Errorf("diff property %q: %w", name, err)
		}
		doc, err := entity.MarshalProperty(p)
		if err != nil {
			return nil, fmt.Errorf("diff property %q: %w", name, err)
		}
		if string(prevDoc) != string(doc) {
			changed = append(changed, name)
		}
	}
	for _, name := range before.PropertyNames() {
		if _, ok := after.Properties[name]; !ok {
			changed = append(changed, name)
		}
	}
	return changed, nil
}

// StaleProperties lists the current stale backlog of a tenant.
func (o *Orchestrator) StaleProperties(ctx context.Context, tenantID string) ([]entity.Dep, error) {
	return o.store.PropertiesByStatus(ctx, tenantID, entity.StatusStale, 0)
}

// RecalculateStale drains the pending and stale backlog of a tenant
// until it reaches a fixpoint, in deterministic order. Returns the number
// of properties recomputed.
//
// Recomputing a property can mark further properties stale, so the
// backlog is re-read after every pass; the step quota bounds the total.
func (o *Orchestrator) RecalculateStale(ctx context.Context, tenantID string) (int, error) {
	quota := NewQuotaEnforcer(o.maxSteps)
	count := 0

	for {
		backlog, err := o.backlog(ctx, tenantID)
		if err != nil {
			return count, err
		}
		if len(backlog) == 0 {
			return count, nil
		}

		for _, target := range backlog {
			if err := quota.Check(tenantID); err != nil {
				return count, err
			}
			_, err := o.RecalculateProperty(ctx, tenantID, target)
			if err != nil {
				// The backlog snapshot can race a concurrent delete;
				// a vanished property is not a drain failure.
				if IsNotFound(err) || IsNotComputed(err) {
					continue
				}
				return count, err
			}
			count++
		}
	}
}

func (o *Orchestrator) backlog(ctx context.Context, tenantID string) ([]entity.Dep, error) {
	pending, err := o.store.PropertiesByStatus(ctx, tenantID, entity.StatusPending, 0)
	if err != nil {
		return nil, err
	}
	stale, err := o.store.PropertiesByStatus(ctx, tenantID, entity.StatusStale, 0)
	if err != nil {
		return nil, err
	}
	return append(pending, stale...), nil
}

// EnqueueRecalc schedules a property for background recomputation.
// Thread-safe: may be called from any goroutine.
// Returns false if the orchestrator has been stopped.
func (o *Orchestrator) EnqueueRecalc(tenantID string, target entity.Dep) bool {
	return o.queue.Enqueue(task{TenantID: tenantID, Dep: target})
}

// Run starts the background recalculation pool: maxWorkers goroutines
// draining the queue, dequeueing in FIFO order. Jobs for the same entity
// are single-flight - a worker holding an entity blocks its peers on
// that entity, while jobs for other entities proceed in parallel. Blocks
// until the context is cancelled or Stop is called.
//
// Call once; the pool fans out internally.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("recalculator starting", "workers", o.maxWorkers)

	errs := make([]error, o.maxWorkers)
	var wg sync.WaitGroup
	for i := 0; i < o.maxWorkers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			errs[slot] = o.runWorker(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runWorker is one pool member's loop: drain, then wait for work or
// shutdown.
func (o *Orchestrator) runWorker(ctx context.Context) error {
	for {
		t, ok := o.queue.TryDequeue()
		if !ok {
			if o.queue.Closed() {
				slog.Info("recalculator stopping: queue closed")
				return nil
			}
			select {
			case <-ctx.Done():
				slog.Info("recalculator stopping: context cancelled")
				return ctx.Err()
			case <-o.queue.Wait():
				continue
			}
		}

		o.runTask(ctx, t)
	}
}

func (o *Orchestrator) runTask(ctx context.Context, t task) {
	lock := o.locks.acquire(t.TenantID, t.Dep.EntityID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := o.RecalculateProperty(ctx, t.TenantID, t.Dep); err != nil {
		if IsNotFound(err) || IsNotComputed(err) {
			return
		}
		slog.Error("background recomputation failed",
			"tenant", t.TenantID,
			"property", t.Dep.String(),
			"error", err)
	}
}

// Stop closes the work queue; Run returns after draining in-flight work.
func (o *Orchestrator) Stop() {
	o.queue.Close()
}
