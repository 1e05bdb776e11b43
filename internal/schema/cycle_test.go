package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeCyclesDAG(t *testing.T) {
	types, err := compileString(t, `
		types: order: {
			properties: {
				subtotal: {source: "literal", kind: "number"}
				tax:      {source: "computed", expression: "#subtotal * 0.25"}
				total:    {source: "computed", expression: "#subtotal + #tax"}
			}
		}
	`)
	require.NoError(t, err)

	assert.Empty(t, AnalyzeCycles(types))
}

func TestAnalyzeCyclesSelfLoop(t *testing.T) {
	types, err := compileString(t, `
		types: loop: {
			properties: {
				a: {source: "computed", expression: "#a + 1"}
			}
		}
	`)
	require.NoError(t, err)

	warnings := AnalyzeCycles(types)
	require.Len(t, warnings, 1)
	assert.Equal(t, "loop", warnings[0].Type)
	assert.Equal(t, []string{"a", "a"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "a -> a")
}

func TestAnalyzeCyclesMutual(t *testing.T) {
	types, err := compileString(t, `
		types: loop: {
			properties: {
				a: {source: "computed", expression: "#b + 1"}
				b: {source: "computed", expression: "#a + 1"}
			}
		}
	`)
	require.NoError(t, err)

	warnings := AnalyzeCycles(types)
	require.Len(t, warnings, 1)

	w := warnings[0]
	assert.Len(t, w.Path, 3)
	assert.Equal(t, w.Path[0], w.Path[len(w.Path)-1])
	assert.ElementsMatch(t, []string{"a", "b"}, w.Path[:2])
}

func TestAnalyzeCyclesNonComputedRefBreaksCycle(t *testing.T) {
	// b is a literal, so a -> b is a leaf edge even though b names a.
	types, err := compileString(t, `
		types: safe: {
			properties: {
				a: {source: "computed", expression: "#b + 1"}
				b: {source: "literal", kind: "number"}
			}
		}
	`)
	require.NoError(t, err)

	assert.Empty(t, AnalyzeCycles(types))
}

func TestAnalyzeCyclesCrossEntityIgnored(t *testing.T) {
	// Cross-entity targets are unknown until evaluation; no static warning.
	types, err := compileString(t, `
		types: node: {
			properties: {
				peer: {source: "literal", kind: "reference"}
				echo: {source: "computed", expression: "@{#peer}.echo + 1"}
			}
		}
	`)
	require.NoError(t, err)

	assert.Empty(t, AnalyzeCycles(types))
}

func TestAnalyzeCyclesPerType(t *testing.T) {
	types, err := compileString(t, `
		types: {
			clean: {
				properties: {
					x: {source: "computed", expression: "1 + 1"}
				}
			}
			dirty: {
				properties: {
					a: {source: "computed", expression: "#b"}
					b: {source: "computed", expression: "#a"}
				}
			}
		}
	`)
	require.NoError(t, err)

	warnings := AnalyzeCycles(types)
	require.Len(t, warnings, 1)
	assert.Equal(t, "dirty", warnings[0].Type)
}
