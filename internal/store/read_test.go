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

func TestGetEntity_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetEntity(context.Background(), "t1", "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetEntity_TenantIsolation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutEntity(ctx, createTestEntity("t1", "e1"), 0)
	require.NoError(t, err)

	// Same ID, wrong tenant: indistinguishable from a true miss.
	_, err = s.GetEntity(ctx, "t2", "e1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetEntity_RoundTripsAllPropertyVariants(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := entity.New("t1", "e1", "sensor")
	e.Properties["label"] = entity.Literal{Value: value.Text("rooftop")}
	e.Properties["color"] = entity.Inherited{
		SourceEntity:   "site1",
		SourceProperty: "color",
	}
	e.Properties["temp"] = entity.Measured{
		Value:       value.NumUnit(21.5, "C"),
		Uncertainty: 0.1,
		MeasuredAt:  at,
	}
	e.Properties["doubled"] = entity.NewComputed("#temp * 2").
		WithValid(value.NumUnit(43, "C"), at, []entity.Dep{{EntityID: "e1", Property: "temp"}})
	e.Properties["broken"] = entity.NewComputed("#nope").
		WithError("BROKEN_REFERENCE: property \"nope\" does not exist on entity e1",
			[]entity.Dep{{EntityID: "e1", Property: "nope"}})

	_, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)

	got, err := s.GetEntity(ctx, "t1", "e1")
	require.NoError(t, err)
	require.Len(t, got.Properties, 5)

	measured, ok := got.Properties["temp"].(entity.Measured)
	require.True(t, ok)
	assert.Equal(t, value.NumUnit(21.5, "C"), measured.Value)
	assert.True(t, at.Equal(measured.MeasuredAt))

	valid, ok := got.Computed("doubled")
	require.True(t, ok)
	assert.Equal(t, entity.StatusValid, valid.Status)
	assert.Equal(t, value.NumUnit(43, "C"), valid.CachedValue)

	broken, ok := got.Computed("broken")
	require.True(t, ok)
	assert.Equal(t, entity.StatusError, broken.Status)
	assert.Contains(t, broken.ComputationError, "BROKEN_REFERENCE")
}

func TestListEntities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutEntity(ctx, createTestEntity("t1", "b"), 0)
	require.NoError(t, err)
	_, err = s.PutEntity(ctx, createTestEntity("t1", "a"), 0)
	require.NoError(t, err)
	order := entity.New("t1", "c", "order")
	_, err = s.PutEntity(ctx, order, 0)
	require.NoError(t, err)
	_, err = s.PutEntity(ctx, createTestEntity("t2", "z"), 0)
	require.NoError(t, err)

	ids, err := s.ListEntities(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = s.ListEntities(ctx, "t1", "widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = s.ListEntities(ctx, "t3", "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRelated_EmptyCollection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutEntity(ctx, createTestEntity("t1", "e1"), 0)
	require.NoError(t, err)

	coll, err := s.Related(ctx, "t1", "e1", "line_items")
	require.NoError(t, err)
	assert.Empty(t, coll)
}

func TestRelated_SkipsDeletedMembers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"order1", "li1", "li2"} {
		_, err := s.PutEntity(ctx, createTestEntity("t1", id), 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Relate(ctx, "t1", "order1", "line_items", "li1", "li2"))
	require.NoError(t, s.DeleteEntity(ctx, "t1", "li1"))

	coll, err := s.Related(ctx, "t1", "order1", "line_items")
	require.NoError(t, err)
	require.Len(t, coll, 1)
	assert.Equal(t, "li2", coll[0].ID)
}

func TestPropertiesByStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := entity.New("t1", "e1", "widget")
	e.Properties["base"] = entity.Literal{Value: value.Num(1)}
	e.Properties["p1"] = entity.NewComputed("#base + 1")
	e.Properties["p2"] = entity.NewComputed("#base + 2").WithStale()
	e.Properties["p3"] = entity.NewComputed("#base + 3").WithStale()
	_, err := s.PutEntity(ctx, e, 0)
	require.NoError(t, err)

	stale, err := s.PropertiesByStatus(ctx, "t1", entity.StatusStale, 0)
	require.NoError(t, err)
	assert.Equal(t, []entity.Dep{
		{EntityID: "e1", Property: "p2"},
		{EntityID: "e1", Property: "p3"},
	}, stale)

	pending, err := s.PropertiesByStatus(ctx, "t1", entity.StatusPending, 0)
	require.NoError(t, err)
	assert.Equal(t, []entity.Dep{{EntityID: "e1", Property: "p1"}}, pending)

	limited, err := s.PropertiesByStatus(ctx, "t1", entity.StatusStale, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Literal properties carry no status and never appear.
	other, err := s.PropertiesByStatus(ctx, "t2", entity.StatusStale, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}
