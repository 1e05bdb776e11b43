package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/store"
)

// MarkDependentsStale walks the dependency index breadth-first from a
// changed source property and flips every reachable computed property to
// stale. Returns the marked properties in discovery order.
//
// The walk is memoized two ways: a visited set bounds it even if the
// persisted index contains a cycle, and an already-stale member stops
// recursion - its own dependents were marked when it went stale.
func (o *Orchestrator) MarkDependentsStale(ctx context.Context, tenantID string, source entity.Dep) ([]entity.Dep, error) {
	return o.markDependentsStale(ctx, tenantID, source, nil)
}

// markDependentsStale is MarkDependentsStale with an exclusion set: the
// members of a freshly marked cycle must not be flipped back to stale by
// the propagation of their own failure, or the drain would alternate the
// pair between stale and circular forever. Excluded members are still
// traversed so the walk reaches their outside dependents.
func (o *Orchestrator) markDependentsStale(ctx context.Context, tenantID string, source entity.Dep, except map[entity.Dep]bool) ([]entity.Dep, error) {
	marked := []entity.Dep{}
	visited := map[entity.Dep]bool{source: true}
	frontier := []entity.Dep{source}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		dependents, err := o.store.Dependents(ctx, tenantID, next)
		if err != nil {
			return nil, err
		}

		for _, d := range dependents {
			if visited[d] {
				continue
			}
			visited[d] = true

			if except[d] {
				frontier = append(frontier, d)
				continue
			}

			e, err := o.store.GetEntity(ctx, tenantID, d.EntityID)
			if store.IsNotFound(err) {
				continue // dangling edge, dependent was deleted
			}
			if err != nil {
				return nil, err
			}

			c, ok := e.Computed(d.Property)
			if !ok {
				continue // edge outlived the property's computed-ness
			}
			switch c.Status {
			case entity.StatusStale:
				continue
			case entity.StatusPending:
				// Never evaluated; the first evaluation will read the
				// new source value anyway.
				continue
			}

			if _, err := o.store.PatchProperty(ctx, tenantID, d.EntityID, d.Property, c.WithStale()); err != nil {
				return nil, err
			}
			marked = append(marked, d)
			frontier = append(frontier, d)
		}
	}

	if len(marked) > 0 {
		slog.Debug("staleness propagated",
			"tenant", tenantID,
			"source", source.String(),
			"marked", len(marked))
	}
	return marked, nil
}
