package eval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/value"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEvaluateProperty_Valid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	self := entity.New("t1", "e1", "widget")
	self.Properties["base"] = lit(value.Num(10))
	self.Properties["doubled"] = entity.NewComputed("#base * 2")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src, WithNow(fixedNow(now)))
	res, err := pe.EvaluateProperty(context.Background(), self, "doubled")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusValid, res.Property.Status)
	assert.Equal(t, value.Num(20), res.Property.CachedValue)
	require.NotNil(t, res.Property.CachedAt)
	assert.Equal(t, now, *res.Property.CachedAt)
	assert.Equal(t, []entity.Dep{{EntityID: "e1", Property: "base"}}, res.Property.Dependencies)
	assert.True(t, res.ValueChanged)
	require.NoError(t, res.Property.Validate())
}

func TestEvaluateProperty_ErrorState(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["zero"] = lit(value.Num(0))
	self.Properties["ratio"] = entity.NewComputed("1 / #zero")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(context.Background(), self, "ratio")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusError, res.Property.Status)
	assert.Nil(t, res.Property.CachedValue)
	assert.Nil(t, res.Property.CachedAt)
	assert.Contains(t, res.Property.ComputationError, "DIVISION_BY_ZERO")
	// The failed evaluation still records what it touched.
	assert.Equal(t, []entity.Dep{{EntityID: "e1", Property: "zero"}}, res.Property.Dependencies)
	require.NoError(t, res.Property.Validate())
}

func TestEvaluateProperty_ParseError(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["bad"] = entity.NewComputed("1 +")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(context.Background(), self, "bad")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusError, res.Property.Status)
	assert.Contains(t, res.Property.ComputationError, "PARSE_ERROR")
}

func TestEvaluateProperty_NotComputed(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["base"] = lit(value.Num(1))
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	_, err := pe.EvaluateProperty(context.Background(), self, "base")
	require.Error(t, err)

	_, err = pe.EvaluateProperty(context.Background(), self, "absent")
	require.Error(t, err)
}

func TestEvaluateProperty_FingerprintIdempotence(t *testing.T) {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	self := entity.New("t1", "e1", "widget")
	self.Properties["base"] = lit(value.Num(10))
	self.Properties["doubled"] = entity.NewComputed("#base * 2").
		WithValid(value.Num(20), first, []entity.Dep{{EntityID: "e1", Property: "base"}})
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src, WithNow(fixedNow(later)))
	res, err := pe.EvaluateProperty(context.Background(), self, "doubled")
	require.NoError(t, err)

	// Same value, same fingerprint: CachedAt does not move and the caller
	// can skip the write.
	assert.Equal(t, entity.StatusValid, res.Property.Status)
	require.NotNil(t, res.Property.CachedAt)
	assert.Equal(t, first, *res.Property.CachedAt)
	assert.False(t, res.ValueChanged)
}

func TestEvaluateProperty_ChangedValueMovesCachedAt(t *testing.T) {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	self := entity.New("t1", "e1", "widget")
	self.Properties["base"] = lit(value.Num(11))
	self.Properties["doubled"] = entity.NewComputed("#base * 2").
		WithValid(value.Num(20), first, []entity.Dep{{EntityID: "e1", Property: "base"}})
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src, WithNow(fixedNow(later)))
	res, err := pe.EvaluateProperty(context.Background(), self, "doubled")
	require.NoError(t, err)

	assert.Equal(t, value.Num(22), res.Property.CachedValue)
	require.NotNil(t, res.Property.CachedAt)
	assert.Equal(t, later, *res.Property.CachedAt)
	assert.True(t, res.ValueChanged)
}

func TestEvaluateProperty_SelfCycle(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["a"] = entity.NewComputed("#a + 1")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(context.Background(), self, "a")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusCircular, res.Property.Status)
	assert.Equal(t, []entity.Dep{{EntityID: "e1", Property: "a"}}, res.CycleMembers)
	assert.Contains(t, res.Property.ComputationError, "e1.a -> e1.a")
}

func TestEvaluateProperty_MutualCycle(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["a"] = entity.NewComputed("#b + 1")
	self.Properties["b"] = entity.NewComputed("#a + 1")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(context.Background(), self, "a")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusCircular, res.Property.Status)
	assert.Equal(t, []entity.Dep{
		{EntityID: "e1", Property: "a"},
		{EntityID: "e1", Property: "b"},
	}, res.CycleMembers)
	// Every member reports the same closed path.
	assert.Contains(t, res.Property.ComputationError, "e1.a -> e1.b -> e1.a")
}

func TestEvaluateProperty_CrossEntityCycle(t *testing.T) {
	a := entity.New("t1", "a1", "widget")
	a.Properties["other"] = lit(value.Reference("b1"))
	a.Properties["x"] = entity.NewComputed("@{#other}.y + 1")

	b := entity.New("t1", "b1", "widget")
	b.Properties["other"] = lit(value.Reference("a1"))
	b.Properties["y"] = entity.NewComputed("@{#other}.x + 1")

	src := newFakeSource(a, b)
	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(context.Background(), a, "x")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusCircular, res.Property.Status)
	assert.Equal(t, []entity.Dep{
		{EntityID: "a1", Property: "x"},
		{EntityID: "b1", Property: "y"},
	}, res.CycleMembers)
}

func TestEvaluateProperty_CycleBrokenByCache(t *testing.T) {
	// A valid cached value interrupts the walk, so a structural cycle
	// with one cached member evaluates fine.
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	self := entity.New("t1", "e1", "widget")
	self.Properties["a"] = entity.NewComputed("#b + 1")
	self.Properties["b"] = entity.NewComputed("#a + 1").
		WithValid(value.Num(7), at, []entity.Dep{{EntityID: "e1", Property: "a"}})
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(context.Background(), self, "a")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusValid, res.Property.Status)
	assert.Equal(t, value.Num(8), res.Property.CachedValue)
}

func TestEvaluateProperty_Timeout(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["v"] = entity.NewComputed("1 + 1")
	src := newFakeSource(self)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	pe := NewPropertyEvaluator(src)
	res, err := pe.EvaluateProperty(ctx, self, "v")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusError, res.Property.Status)
	assert.Contains(t, res.Property.ComputationError, "EVALUATION_TIMEOUT")
}

func TestEvaluateEntity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	self := entity.New("t1", "e1", "order")
	self.Properties["subtotal"] = lit(value.Num(40))
	self.Properties["tax"] = entity.NewComputed("#subtotal * 0.25")
	self.Properties["total"] = entity.NewComputed("#subtotal + #tax")
	self.Properties["broken"] = entity.NewComputed("#nope")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src, WithNow(fixedNow(now)))
	out, err := pe.EvaluateEntity(context.Background(), self, EvaluateOptions{})
	require.NoError(t, err)

	// Sorted property order: broken, tax, total.
	require.Len(t, out.Results, 3)
	assert.Equal(t, "broken", out.Results[0].Name)
	assert.Equal(t, entity.StatusError, out.Results[0].Property.Status)

	tax, ok := out.Entity.Computed("tax")
	require.True(t, ok)
	assert.Equal(t, value.Num(10), tax.CachedValue)

	total, ok := out.Entity.Computed("total")
	require.True(t, ok)
	assert.Equal(t, entity.StatusValid, total.Status)
	assert.Equal(t, value.Num(50), total.CachedValue)
	assert.ElementsMatch(t, []entity.Dep{
		{EntityID: "e1", Property: "subtotal"},
		{EntityID: "e1", Property: "tax"},
	}, total.Dependencies)

	// Non-computed properties survive the pass untouched.
	_, isLit := out.Entity.Properties["subtotal"].(entity.Literal)
	assert.True(t, isLit)
}

func TestEvaluateEntity_OnePropertyFailureIsIsolated(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["good"] = entity.NewComputed("2 * 3")
	self.Properties["bad"] = entity.NewComputed("1 / 0")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	out, err := pe.EvaluateEntity(context.Background(), self, EvaluateOptions{})
	require.NoError(t, err)

	good, _ := out.Entity.Computed("good")
	assert.Equal(t, entity.StatusValid, good.Status)

	bad, _ := out.Entity.Computed("bad")
	assert.Equal(t, entity.StatusError, bad.Status)
}

func TestEvaluateEntity_SkipValid(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	self := entity.New("t1", "e1", "order")
	self.Properties["subtotal"] = lit(value.Num(40))
	self.Properties["tax"] = entity.NewComputed("#subtotal * 0.25").
		WithValid(value.Num(999), at, []entity.Dep{{EntityID: "e1", Property: "subtotal"}})
	self.Properties["total"] = entity.NewComputed("#subtotal + #tax")
	src := newFakeSource(self)

	pe := NewPropertyEvaluator(src)
	out, err := pe.EvaluateEntity(context.Background(), self, EvaluateOptions{SkipValid: true})
	require.NoError(t, err)

	// Only the pending property was touched; the (wrong) cached value on
	// tax stays exactly as it was and feeds total.
	require.Len(t, out.Results, 1)
	assert.Equal(t, "total", out.Results[0].Name)

	tax, _ := out.Entity.Computed("tax")
	assert.Equal(t, value.Num(999), tax.CachedValue)
	require.NotNil(t, tax.CachedAt)
	assert.True(t, at.Equal(*tax.CachedAt))

	total, _ := out.Entity.Computed("total")
	assert.Equal(t, value.Num(1039), total.CachedValue)
}

func TestEvaluateProperty_RepeatedFailureIsNotAChange(t *testing.T) {
	self := entity.New("t1", "e1", "widget")
	self.Properties["bad"] = entity.NewComputed("1 / 0")
	src := newFakeSource(self)
	pe := NewPropertyEvaluator(src)

	first, err := pe.EvaluateProperty(context.Background(), self, "bad")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusError, first.Property.Status)
	assert.True(t, first.ValueChanged)

	// Evaluate again from the failed state: same failure, no transition.
	failed := self.WithProperty("bad", first.Property)
	second, err := pe.EvaluateProperty(context.Background(), failed, "bad")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusError, second.Property.Status)
	assert.False(t, second.ValueChanged)
}
