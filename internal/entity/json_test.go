package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/facet/internal/value"
)

func TestPropertyJSON_RoundTrip(t *testing.T) {
	cachedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		prop Property
	}{
		{"literal", Literal{Value: value.Text("hello")}},
		{"literal list", Literal{Value: value.NumberList(1, 2, 3)}},
		{"inherited", Inherited{SourceEntity: "parent-1", SourceProperty: "color"}},
		{"inherited with override", Inherited{SourceEntity: "parent-1", SourceProperty: "color", Override: value.Text("red")}},
		{"measured", Measured{Value: value.NumUnit(9.81, "m/s^2"), Uncertainty: 0.02, MeasuredAt: cachedAt}},
		{"computed pending", NewComputed("#a + #b")},
		{"computed valid", NewComputed("#a + #b").WithValid(value.Num(3), cachedAt, []Dep{{EntityID: "e1", Property: "a"}, {EntityID: "e1", Property: "b"}})},
		{"computed error", NewComputed("#a / #b").WithError("DIVISION_BY_ZERO: division by zero", []Dep{{EntityID: "e1", Property: "a"}, {EntityID: "e1", Property: "b"}})},
		{"computed circular", NewComputed("#b + 1").WithCircular("CIRCULAR_DEPENDENCY: e1.a -> e1.b -> e1.a", []Dep{{EntityID: "e1", Property: "b"}})},
		{"computed stale", NewComputed("#a").WithValid(value.Num(1), cachedAt, []Dep{{EntityID: "e1", Property: "a"}}).WithStale()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalProperty(tt.prop)
			require.NoError(t, err)

			got, err := UnmarshalProperty(data)
			require.NoError(t, err)
			assert.Equal(t, tt.prop, got)
		})
	}
}

func TestUnmarshalProperty_UnknownSource(t *testing.T) {
	_, err := UnmarshalProperty([]byte(`{"source":"telepathic"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}

func TestUnmarshalProperty_RejectsInconsistentComputed(t *testing.T) {
	// valid status without a cached value must not decode
	doc := `{"source":"computed","expression":"#a","computation_status":"valid"}`
	_, err := UnmarshalProperty([]byte(doc))
	require.Error(t, err)
}

func TestUnmarshalProperty_MeasuredRequiresNumber(t *testing.T) {
	doc := `{"source":"measured","value":{"type":"text","value":"heavy"}}`
	_, err := UnmarshalProperty([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want number")
}

func TestEntityJSON_RoundTrip(t *testing.T) {
	cachedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e := New("t1", "e1", "specimen")
	e.Version = 7
	e.CreatedAt = cachedAt
	e.UpdatedAt = cachedAt.Add(time.Hour)
	e.Properties["mass"] = Measured{Value: value.NumUnit(12.5, "kg"), Uncertainty: 0.1, MeasuredAt: cachedAt}
	e.Properties["label"] = Literal{Value: value.Text("S-001")}
	e.Properties["density"] = NewComputed("#mass / #volume").WithError("BROKEN_REFERENCE: e1.volume", []Dep{{EntityID: "e1", Property: "mass"}, {EntityID: "e1", Property: "volume"}})

	data, err := MarshalEntity(e)
	require.NoError(t, err)

	got, err := UnmarshalEntity(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}
