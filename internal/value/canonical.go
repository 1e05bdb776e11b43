package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces a canonical JSON encoding of a value, used only
// for fingerprinting. Two structurally equal values always produce identical
// bytes, regardless of how they were built or decoded.
//
// Canonical rules (RFC 8785 style):
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Numbers use shortest round-trip formatting; NaN/Inf are errors
//
// This is NOT the persistence encoding - use MarshalValue for storage.
func MarshalCanonical(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("canonical marshal: nil value")
	}

	switch val := v.(type) {
	case Text:
		return canonicalObject(
			field{"type", rawString(string(KindText))},
			field{"value", rawString(string(val))},
		)
	case Number:
		num, err := canonicalFloat(val.Val)
		if err != nil {
			return nil, err
		}
		fields := []field{
			{"type", rawString(string(KindNumber))},
			{"value", raw(num)},
		}
		if val.Unit != "" {
			fields = append(fields, field{"unit", rawString(val.Unit)})
		}
		return canonicalObject(fields...)
	case Boolean:
		return canonicalObject(
			field{"type", rawString(string(KindBoolean))},
			field{"value", raw(strconv.AppendBool(nil, bool(val)))},
		)
	case Datetime:
		return canonicalObject(
			field{"type", rawString(string(KindDatetime))},
			field{"value", rawString(string(val))},
		)
	case Reference:
		return canonicalObject(
			field{"type", rawString(string(KindReference))},
			field{"value", rawString(string(val))},
		)
	case List:
		var items bytes.Buffer
		items.WriteByte('[')
		for i, item := range val.Items {
			if i > 0 {
				items.WriteByte(',')
			}
			data, err := MarshalCanonical(item)
			if err != nil {
				return nil, fmt.Errorf("canonical list[%d]: %w", i, err)
			}
			items.Write(data)
		}
		items.WriteByte(']')
		return canonicalObject(
			field{"type", rawString(string(KindList))},
			field{"elem", rawString(string(val.Elem))},
			field{"items", raw(items.Bytes())},
		)
	default:
		return nil, fmt.Errorf("canonical marshal: unknown variant %T", v)
	}
}

type field struct {
	key string
	enc func() ([]byte, error)
}

func raw(b []byte) func() ([]byte, error) {
	return func() ([]byte, error) { return b, nil }
}

func rawString(s string) func() ([]byte, error) {
	return func() ([]byte, error) { return canonicalString(s) }
}

// canonicalObject emits the fields as a JSON object with keys in
// UTF-16 code unit order.
func canonicalObject(fields ...field) ([]byte, error) {
	slices.SortFunc(fields, func(a, b field) int {
		return compareUTF16(a.key, b.key)
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := canonicalString(f.key)
		if err != nil {
			return nil, fmt.Errorf("canonical key %q: %w", f.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.enc()
		if err != nil {
			return nil, fmt.Errorf("canonical field %q: %w", f.key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// compareUTF16 compares strings by UTF-16 code units as RFC 8785 requires.
// Go's native string ordering is UTF-8 byte order, which differs for
// characters outside the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// canonicalFloat renders a float with shortest round-trip formatting.
// NaN and infinities never appear in evaluated values (division by zero is
// a typed failure upstream), so they are rejected here.
func canonicalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canonical marshal: non-finite number %v", f)
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// canonicalString produces a canonical JSON string: NFC normalized,
// no HTML escaping, and U+2028/U+2029 kept literal.
func canonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // < > & must NOT be escaped
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder appends a trailing newline
	result := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	// Go escapes U+2028/U+2029 for JavaScript embedding; canonical JSON
	// keeps them literal. The encoder only emits lowercase \u2028/\u2029
	// for the real characters (a literal backslash in the input is itself
	// escaped as \\), so plain replacement is unambiguous here.
	result = bytes.ReplaceAll(result, []byte(`\u2028`), []byte("\u2028"))
	result = bytes.ReplaceAll(result, []byte(`\u2029`), []byte("\u2029"))

	return result, nil
}
