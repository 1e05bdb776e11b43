package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_KeyOrder(t *testing.T) {
	data, err := MarshalCanonical(NumUnit(1.5, "kg"))
	require.NoError(t, err)

	// Keys sorted by UTF-16 code units: "type" < "unit" < "value"
	assert.Equal(t, `{"type":"number","unit":"kg","value":1.5}`, string(data))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	data, err := MarshalCanonical(Text("<a> & </a>"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<a> & </a>")
	assert.NotContains(t, string(data), `\u003c`)
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "é" as precomposed U+00E9 vs decomposed e + U+0301
	precomposed := Text("café")
	decomposed := Text("cafe\u0301")

	a, err := MarshalCanonical(precomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(decomposed)
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b), "NFC must collapse equivalent forms")
}

func TestMarshalCanonical_ShortestFloat(t *testing.T) {
	data, err := MarshalCanonical(Num(10))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"number","value":10}`, string(data))
}

func TestMarshalCanonical_List(t *testing.T) {
	data, err := MarshalCanonical(NumberList(1, 2))
	require.NoError(t, err)
	assert.Equal(t,
		`{"elem":"number","items":[{"type":"number","value":1},{"type":"number","value":2}],"type":"list"}`,
		string(data))
}

func TestFingerprint_StableAcrossConstruction(t *testing.T) {
	a, err := Fingerprint(NumUnit(42, "kg"))
	require.NoError(t, err)

	// Same value decoded from JSON must fingerprint identically
	data, err := MarshalValue(NumUnit(42, "kg"))
	require.NoError(t, err)
	decoded, err := UnmarshalValue(data)
	require.NoError(t, err)

	b, err := Fingerprint(decoded)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprint_DistinguishesValues(t *testing.T) {
	a, err := Fingerprint(Num(1))
	require.NoError(t, err)
	b, err := Fingerprint(Num(2))
	require.NoError(t, err)
	c, err := Fingerprint(Text("1"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c, "same surface form, different kind must differ")
}
