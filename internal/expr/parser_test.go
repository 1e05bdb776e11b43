package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Literals(t *testing.T) {
	tests := []struct {
		src  string
		want Node
	}{
		{"42", NumberLit{Val: 42, Loc: Span{0, 2}}},
		{"3.14", NumberLit{Val: 3.14, Loc: Span{0, 4}}},
		{"1e3", NumberLit{Val: 1000, Loc: Span{0, 3}}},
		{`"hello"`, StringLit{Val: "hello", Loc: Span{0, 7}}},
		{`"a\"b"`, StringLit{Val: `a"b`, Loc: Span{0, 6}}},
		{"true", BoolLit{Val: true, Loc: Span{0, 4}}},
		{"false", BoolLit{Val: false, Loc: Span{0, 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_SelfRefs(t *testing.T) {
	got, err := Parse("#mass")
	require.NoError(t, err)
	assert.Equal(t, SelfRef{Name: "mass", Loc: Span{0, 5}}, got)

	got, err = Parse("@self.mass")
	require.NoError(t, err)
	assert.Equal(t, SelfRef{Name: "mass", Loc: Span{0, 10}}, got)
}

func TestParse_CrossRef(t *testing.T) {
	got, err := Parse("@{#parent}.mass")
	require.NoError(t, err)

	cross, ok := got.(CrossRef)
	require.True(t, ok)
	assert.Equal(t, "mass", cross.Name)
	assert.Equal(t, SelfRef{Name: "parent", Loc: Span{2, 9}}, cross.Ref)
}

func TestParse_RelRef(t *testing.T) {
	got, err := Parse(`@rel("line_items").price`)
	require.NoError(t, err)

	rel, ok := got.(RelRef)
	require.True(t, ok)
	assert.Equal(t, "line_items", rel.Rel)
	assert.Equal(t, "price", rel.Name)
}

func TestParse_Precedence(t *testing.T) {
	// 1 + 2 * 3 parses as 1 + (2 * 3)
	got, err := Parse("1 + 2 * 3")
	require.NoError(t, err)

	add, ok := got.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpAdd, add.Op)

	mul, ok := add.Y.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpMul, mul.Op)
}

func TestParse_Parens(t *testing.T) {
	// (1 + 2) * 3 parses as (1 + 2) * 3
	got, err := Parse("(1 + 2) * 3")
	require.NoError(t, err)

	mul, ok := got.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpMul, mul.Op)

	add, ok := mul.X.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpAdd, add.Op)
}

func TestParse_Comparison(t *testing.T) {
	got, err := Parse("#score >= #threshold")
	require.NoError(t, err)

	cmp, ok := got.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpGe, cmp.Op)
	assert.Equal(t, "score", cmp.X.(SelfRef).Name)
	assert.Equal(t, "threshold", cmp.Y.(SelfRef).Name)
}

func TestParse_ComparisonDoesNotChain(t *testing.T) {
	_, err := Parse("1 < 2 < 3")
	require.Error(t, err)
}

func TestParse_UnaryMinus(t *testing.T) {
	got, err := Parse("-#offset + 1")
	require.NoError(t, err)

	add, ok := got.(Binary)
	require.True(t, ok)
	neg, ok := add.X.(Unary)
	require.True(t, ok)
	assert.Equal(t, OpNeg, neg.Op)
}

func TestParse_Calls(t *testing.T) {
	got, err := Parse(`CONCAT(#first, " ", #last)`)
	require.NoError(t, err)

	call, ok := got.(Call)
	require.True(t, ok)
	assert.Equal(t, BuiltinConcat, call.Fn)
	require.Len(t, call.Args, 3)

	got, err = Parse(`IF(#score >= 60, "PASS", "FAIL")`)
	require.NoError(t, err)
	call = got.(Call)
	assert.Equal(t, BuiltinIf, call.Fn)
	require.Len(t, call.Args, 3)

	got, err = Parse("SUM(#readings)")
	require.NoError(t, err)
	call = got.(Call)
	assert.Equal(t, BuiltinSum, call.Fn)
}

func TestParse_UnknownFunction(t *testing.T) {
	_, err := Parse("MEDIAN(#readings)")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, `unknown function "MEDIAN"`)
	assert.Equal(t, Span{0, 6}, perr.Span)
}

func TestParse_ArityErrors(t *testing.T) {
	tests := []string{
		"IF(true, 1)",
		"IF(true, 1, 2, 3)",
		"CONCAT()",
		"SUM(#a, #b)",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []string{
		"",
		"1 +",
		"#",
		"# mass extra",
		"@",
		"@wat.name",
		"@{#ref.name",
		`"unterminated`,
		"1 = 2",
		"(1 + 2",
		"1 2",
		"#a ! 2",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err, "expected parse failure for %q", src)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr, "all parse failures carry a span")
		})
	}
}

func TestCollectRefs(t *testing.T) {
	n, err := Parse(`IF(#flag, #a + #a, @{#parent}.b) + SUM(@rel("items").price)`)
	require.NoError(t, err)

	refs := CollectRefs(n)
	assert.Equal(t, []string{"a", "flag", "parent"}, refs.SelfProps)
	assert.Equal(t, []string{"items"}, refs.Rels)
	assert.True(t, refs.HasCross)
}

func TestCollectRefs_NoRefs(t *testing.T) {
	n, err := Parse("1 + 2")
	require.NoError(t, err)

	refs := CollectRefs(n)
	assert.Empty(t, refs.SelfProps)
	assert.Empty(t, refs.Rels)
	assert.False(t, refs.HasCross)
}
