package value

import (
	"fmt"
	"strconv"
)

// Kind identifies the variant of a Value.
type Kind string

const (
	KindText      Kind = "text"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindDatetime  Kind = "datetime"
	KindReference Kind = "reference"
	KindList      Kind = "list"
)

// ValidKinds defines the allowed kind strings in serialized values.
var ValidKinds = map[Kind]bool{
	KindText:      true,
	KindNumber:    true,
	KindBoolean:   true,
	KindDatetime:  true,
	KindReference: true,
	KindList:      true,
}

// Value is a sealed interface over the typed property value variants.
// Only Text, Number, Boolean, Datetime, Reference, and List implement it.
//
// Values never coerce: operators and functions that receive a variant they
// do not accept fail with a typed error rather than converting. Consumers
// must exhaustively type-switch; adding a variant is a review point for
// every switch in the codebase.
type Value interface {
	value() // Sealed - only the variants in this package implement it
	Kind() Kind
}

// Text is a UTF-8 string value.
type Text string

func (Text) value()     {}
func (Text) Kind() Kind { return KindText }

// Number is a float64 with an optional unit annotation.
// The unit is carried through arithmetic unchanged when both operands agree
// or exactly one side carries a unit; it is descriptive, not dimensional
// analysis.
type Number struct {
	Val  float64
	Unit string
}

func (Number) value()     {}
func (Number) Kind() Kind { return KindNumber }

// Boolean is a true/false value.
type Boolean bool

func (Boolean) value()     {}
func (Boolean) Kind() Kind { return KindBoolean }

// Datetime is an RFC 3339 timestamp kept in its string form.
// Keeping the wire form avoids lossy time.Time round-trips for
// sub-second precision and offset formatting.
type Datetime string

func (Datetime) value()     {}
func (Datetime) Kind() Kind { return KindDatetime }

// Reference holds the ID of another entity. Resolution happens during
// evaluation through the context; a Reference value itself is just the ID.
type Reference string

func (Reference) value()     {}
func (Reference) Kind() Kind { return KindReference }

// List is an ordered sequence of values sharing one element kind.
type List struct {
	Elem  Kind
	Items []Value
}

func (List) value()     {}
func (List) Kind() Kind { return KindList }

// Num builds a unitless Number.
func Num(f float64) Number {
	return Number{Val: f}
}

// NumUnit builds a Number with a unit annotation.
func NumUnit(f float64, unit string) Number {
	return Number{Val: f, Unit: unit}
}

// NumberList builds a List of unitless Numbers.
func NumberList(vals ...float64) List {
	items := make([]Value, len(vals))
	for i, f := range vals {
		items[i] = Num(f)
	}
	return List{Elem: KindNumber, Items: items}
}

// Equal reports structural equality of two values.
// Values of different kinds are never equal.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Text:
		return av == b.(Text)
	case Number:
		bv := b.(Number)
		return av.Val == bv.Val && av.Unit == bv.Unit
	case Boolean:
		return av == b.(Boolean)
	case Datetime:
		return av == b.(Datetime)
	case Reference:
		return av == b.(Reference)
	case List:
		bv := b.(List)
		if av.Elem != bv.Elem || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Format renders a value for human-readable output (CLI, log messages).
// Not a serialization format - use MarshalJSON for persistence.
func Format(v Value) string {
	switch val := v.(type) {
	case Text:
		return string(val)
	case Number:
		s := strconv.FormatFloat(val.Val, 'g', -1, 64)
		if val.Unit != "" {
			return s + " " + val.Unit
		}
		return s
	case Boolean:
		return strconv.FormatBool(bool(val))
	case Datetime:
		return string(val)
	case Reference:
		return "@" + string(val)
	case List:
		out := "["
		for i, item := range val.Items {
			if i > 0 {
				out += ", "
			}
			out += Format(item)
		}
		return out + "]"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}
