package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/expr"
	"github.com/roach88/facet/internal/value"
)

// ErrNotFound is returned (possibly wrapped) by a Source when the
// requested entity does not exist within the calling tenant. Cross-tenant
// lookups MUST surface as not-found, never as another tenant's entity.
var ErrNotFound = errors.New("entity not found")

// Source is the read surface the evaluation layer needs from the
// surrounding entity store. Every fetch is implicitly tenant-scoped.
type Source interface {
	FetchEntity(ctx context.Context, tenantID, entityID string) (*entity.Entity, error)
	FetchRelated(ctx context.Context, tenantID, entityID, relType string) ([]*entity.Entity, error)
}

// Context is the resolved set of entities and relationship collections one
// evaluation is permitted to read. It is built once per entity pass and
// shared across that entity's computed properties to avoid redundant
// fetches.
//
// The lookup surface is read-only. Cross-entity references that were not
// statically discoverable resolve through the fallback Source and are
// memoized, so the evaluator itself performs no direct I/O.
type Context struct {
	tenantID string
	self     *entity.Entity
	entities map[string]*entity.Entity            // prefetched + memoized by ID
	related  map[string][]*entity.Entity          // relationship type -> collection (self)
	src      Source
}

// TenantID returns the tenant this context is scoped to.
func (c *Context) TenantID() string { return c.tenantID }

// Self returns the entity under evaluation.
func (c *Context) Self() *entity.Entity { return c.self }

// Entity resolves an entity by ID, consulting prefetched entries first.
// A miss falls through to the source and is memoized. Returns ErrNotFound
// (wrapped) for nonexistent or cross-tenant targets.
func (c *Context) Entity(ctx context.Context, id string) (*entity.Entity, error) {
	if id == c.self.ID {
		return c.self, nil
	}
	if e, ok := c.entities[id]; ok {
		return e, nil
	}
	if c.src == nil {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	e, err := c.src.FetchEntity(ctx, c.tenantID, id)
	if err != nil {
		return nil, err
	}
	c.entities[id] = e
	return e, nil
}

// Related returns the relationship collection for the self entity.
// Collections are prefetched by the builder; an unprefetched type falls
// through to the source and is memoized.
func (c *Context) Related(ctx context.Context, relType string) ([]*entity.Entity, error) {
	if coll, ok := c.related[relType]; ok {
		return coll, nil
	}
	if c.src == nil {
		return nil, nil
	}
	coll, err := c.src.FetchRelated(ctx, c.tenantID, c.self.ID, relType)
	if err != nil {
		return nil, err
	}
	c.related[relType] = coll
	return coll, nil
}

// BuildOptions tunes context construction.
type BuildOptions struct {
	// PrefetchAll resolves the static reference surface of every computed
	// property on the entity, not just one. Used by whole-entity passes.
	PrefetchAll bool
}

// ContextBuilder assembles evaluation contexts. It is the only component
// that decides what gets fetched ahead of evaluation; the evaluator then
// works against the assembled, mostly-resolved surface.
type ContextBuilder struct {
	src Source
}

// NewContextBuilder creates a builder over the given source.
func NewContextBuilder(src Source) *ContextBuilder {
	return &ContextBuilder{src: src}
}

// BuildForEntity builds a context covering the static reference surface of
// all (or per options, some) computed properties on the entity.
func (b *ContextBuilder) BuildForEntity(ctx context.Context, e *entity.Entity, opts BuildOptions) (*Context, error) {
	ec := b.empty(e)

	for _, name := range e.ComputedNames() {
		comp, _ := e.Computed(name)
		ast, err := expr.Parse(comp.Expression)
		if err != nil {
			// A malformed sibling expression must not block the context
			// for the rest; the property evaluator reports it as an
			// error status on that property.
			continue
		}
		if err := b.prefetch(ctx, ec, ast); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

// BuildForProperty builds a context covering one parsed expression.
func (b *ContextBuilder) BuildForProperty(ctx context.Context, e *entity.Entity, ast expr.Node) (*Context, error) {
	ec := b.empty(e)
	if err := b.prefetch(ctx, ec, ast); err != nil {
		return nil, err
	}
	return ec, nil
}

func (b *ContextBuilder) empty(e *entity.Entity) *Context {
	return &Context{
		tenantID: e.TenantID,
		self:     e,
		entities: map[string]*entity.Entity{},
		related:  map[string][]*entity.Entity{},
		src:      b.src,
	}
}

// prefetch resolves the statically discoverable reference set of one
// expression: relationship collections, and the targets of any Reference
// values already present on the self entity when the expression contains
// cross-entity references.
//
// Prefetch failures for individual targets are deliberately NOT errors
// here: a dangling reference must surface as BROKEN_REFERENCE during
// evaluation (with access recording), not abort context assembly.
func (b *ContextBuilder) prefetch(ctx context.Context, ec *Context, ast expr.Node) error {
	refs := expr.CollectRefs(ast)

	for _, relType := range refs.Rels {
		if _, ok := ec.related[relType]; ok {
			continue
		}
		coll, err := b.src.FetchRelated(ctx, ec.tenantID, ec.self.ID, relType)
		if err != nil {
			return fmt.Errorf("prefetch relationship %q: %w", relType, err)
		}
		ec.related[relType] = coll
	}

	if refs.HasCross {
		for _, name := range refs.SelfProps {
			ref, ok := referenceValueOf(ec.self, name)
			if !ok {
				continue
			}
			id := string(ref)
			if _, ok := ec.entities[id]; ok || id == ec.self.ID {
				continue
			}
			target, err := b.src.FetchEntity(ctx, ec.tenantID, id)
			if err != nil {
				continue // dangling: evaluation reports BROKEN_REFERENCE
			}
			ec.entities[id] = target
		}
	}
	return nil
}

// referenceValueOf extracts a Reference value held directly by a property,
// without triggering evaluation. Used only as a prefetch hint.
func referenceValueOf(e *entity.Entity, name string) (value.Reference, bool) {
	p, ok := e.Properties[name]
	if !ok {
		return "", false
	}
	switch prop := p.(type) {
	case entity.Literal:
		ref, ok := prop.Value.(value.Reference)
		return ref, ok
	case entity.Inherited:
		if prop.Override != nil {
			ref, ok := prop.Override.(value.Reference)
			return ref, ok
		}
	case entity.Computed:
		if prop.Status == entity.StatusValid {
			ref, ok := prop.CachedValue.(value.Reference)
			return ref, ok
		}
	}
	return "", false
}
