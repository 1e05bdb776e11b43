package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/value"
)

func TestPutEntity_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithNow(fixedClock(now)))
	ctx := context.Background()

	e := createTestEntity("t1", "e1")
	saved, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, now, saved.CreatedAt)
	assert.Equal(t, now, saved.UpdatedAt)

	got, err := s.GetEntity(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Type)
	assert.Len(t, got.Properties, 2)
	assert.Equal(t, entity.Literal{Value: value.NumUnit(12, "kg")}, got.Properties["mass"])
}

func TestPutEntity_CreateWithNonzeroRevConflicts(t *testing.T) {
	s := createTestStore(t)

	_, err := s.PutEntity(context.Background(), createTestEntity("t1", "e1"), 3)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestPutEntity_UpdateBumpsBothCounters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntity("t1", "e1")
	_, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)

	e.Properties["name"] = entity.Literal{Value: value.Text("hammer")}
	saved, err := s.PutEntity(ctx, e, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	rev, err := s.LockRev(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
}

func TestPutEntity_StaleRevConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntity("t1", "e1")
	_, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)
	_, err = s.PutEntity(ctx, e, 1)
	require.NoError(t, err)

	// A writer holding the original revision must lose.
	_, err = s.PutEntity(ctx, e, 1)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedRev)
	assert.Equal(t, int64(2), conflict.ActualRev)
}

func TestPutEntity_ReplacesPropertySet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntity("t1", "e1")
	_, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)

	slim := entity.New("t1", "e1", "widget")
	slim.Properties["name"] = entity.Literal{Value: value.Text("anvil")}
	_, err = s.PutEntity(ctx, slim, 1)
	require.NoError(t, err)

	got, err := s.GetEntity(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Len(t, got.Properties, 1)
	_, hasMass := got.Properties["mass"]
	assert.False(t, hasMass)
}

func TestPatchProperty_BumpsVersionNotLockRev(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntity("t1", "e1")
	e.Properties["derived"] = entity.NewComputed("#mass * 2")
	_, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)

	comp, _ := e.Computed("derived")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	patched := comp.WithValid(value.NumUnit(24, "kg"), at, []entity.Dep{{EntityID: "e1", Property: "mass"}})

	version, err := s.PatchProperty(ctx, "t1", "e1", "derived", patched)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	// Optimistic lock untouched: a writer with rev 1 still wins.
	rev, err := s.LockRev(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	got, err := s.GetEntity(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	c, ok := got.Computed("derived")
	require.True(t, ok)
	assert.Equal(t, entity.StatusValid, c.Status)
	assert.Equal(t, value.NumUnit(24, "kg"), c.CachedValue)
	require.NotNil(t, c.CachedAt)
	assert.True(t, at.Equal(*c.CachedAt))
}

func TestPatchProperty_MissingEntity(t *testing.T) {
	s := createTestStore(t)

	_, err := s.PatchProperty(context.Background(), "t1", "ghost", "x",
		entity.Literal{Value: value.Num(1)})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteEntity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutEntity(ctx, createTestEntity("t1", "e1"), 0)
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntity(ctx, "t1", "e1"))

	_, err = s.GetEntity(ctx, "t1", "e1")
	assert.True(t, IsNotFound(err))

	err = s.DeleteEntity(ctx, "t1", "e1")
	assert.True(t, IsNotFound(err))
}

func TestDeleteEntity_KeepsInboundDepEdges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutEntity(ctx, createTestEntity("t1", "src"), 0)
	require.NoError(t, err)
	_, err = s.PutEntity(ctx, createTestEntity("t1", "dep"), 0)
	require.NoError(t, err)

	source := entity.Dep{EntityID: "src", Property: "mass"}
	dependent := entity.Dep{EntityID: "dep", Property: "total"}
	require.NoError(t, s.ReplaceDependencies(ctx, "t1", dependent, []entity.Dep{source}))

	// Deleting the source keeps the edge: the dependent must still be
	// reachable for staleness when the source id is reused or repaired.
	require.NoError(t, s.DeleteEntity(ctx, "t1", "src"))
	deps, err := s.Dependents(ctx, "t1", source)
	require.NoError(t, err)
	assert.Equal(t, []entity.Dep{dependent}, deps)

	// Deleting the dependent drops its own edges.
	require.NoError(t, s.DeleteEntity(ctx, "t1", "dep"))
	deps, err = s.Dependents(ctx, "t1", source)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestDeleteEntity_RemovesRelationshipRowsBothDirections(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"order1", "li1"} {
		_, err := s.PutEntity(ctx, createTestEntity("t1", id), 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Relate(ctx, "t1", "order1", "line_items", "li1"))

	// Deleting a member removes the row where it is the target, not just
	// the cascaded from_id side.
	require.NoError(t, s.DeleteEntity(ctx, "t1", "li1"))

	var count int
	require.NoError(t, s.DB().QueryRow(`
		SELECT COUNT(*) FROM relationships WHERE tenant_id = 't1'
	`).Scan(&count))
	assert.Zero(t, count)
}

func TestRelate_PreservesOrderAndDeduplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"order1", "li1", "li2", "li3"} {
		_, err := s.PutEntity(ctx, createTestEntity("t1", id), 0)
		require.NoError(t, err)
	}

	require.NoError(t, s.Relate(ctx, "t1", "order1", "line_items", "li2", "li1"))
	require.NoError(t, s.Relate(ctx, "t1", "order1", "line_items", "li1", "li3"))

	coll, err := s.Related(ctx, "t1", "order1", "line_items")
	require.NoError(t, err)

	ids := make([]string, len(coll))
	for i, e := range coll {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"li2", "li1", "li3"}, ids)
}

func TestUnrelate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"order1", "li1", "li2"} {
		_, err := s.PutEntity(ctx, createTestEntity("t1", id), 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Relate(ctx, "t1", "order1", "line_items", "li1", "li2"))
	require.NoError(t, s.Unrelate(ctx, "t1", "order1", "line_items", "li1"))

	coll, err := s.Related(ctx, "t1", "order1", "line_items")
	require.NoError(t, err)
	require.Len(t, coll, 1)
	assert.Equal(t, "li2", coll[0].ID)

	// Removing a non-member is a no-op.
	assert.NoError(t, s.Unrelate(ctx, "t1", "order1", "line_items", "ghost"))
}

func TestReplaceDependencies(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dependent := entity.Dep{EntityID: "e1", Property: "total"}
	first := []entity.Dep{
		{EntityID: "e1", Property: "a"},
		{EntityID: "e2", Property: "b"},
	}
	require.NoError(t, s.ReplaceDependencies(ctx, "t1", dependent, first))

	got, err := s.Dependencies(ctx, "t1", dependent)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// Replacement is total: old edges vanish.
	second := []entity.Dep{{EntityID: "e3", Property: "c"}}
	require.NoError(t, s.ReplaceDependencies(ctx, "t1", dependent, second))

	got, err = s.Dependencies(ctx, "t1", dependent)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	deps, err := s.Dependents(ctx, "t1", entity.Dep{EntityID: "e1", Property: "a"})
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestReplaceDependencies_DropsSelfEdge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dependent := entity.Dep{EntityID: "e1", Property: "total"}
	require.NoError(t, s.ReplaceDependencies(ctx, "t1", dependent, []entity.Dep{
		dependent,
		{EntityID: "e1", Property: "a"},
	}))

	got, err := s.Dependencies(ctx, "t1", dependent)
	require.NoError(t, err)
	assert.Equal(t, []entity.Dep{{EntityID: "e1", Property: "a"}}, got)
}
