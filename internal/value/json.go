package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is the tagged wire form of a Value.
// Number carries an optional unit; List carries an element kind.
type envelope struct {
	Type  Kind              `json:"type"`
	Value json.RawMessage   `json:"value,omitempty"`
	Unit  string            `json:"unit,omitempty"`
	Elem  Kind              `json:"elem,omitempty"`
	Items []json.RawMessage `json:"items,omitempty"`
}

// MarshalValue serializes a value to its tagged JSON form.
// The encoding round-trips exactly through UnmarshalValue.
func MarshalValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("marshal value: nil value")
	}

	switch val := v.(type) {
	case Text:
		return marshalEnvelope(envelope{Type: KindText}, string(val))
	case Number:
		return marshalEnvelope(envelope{Type: KindNumber, Unit: val.Unit}, val.Val)
	case Boolean:
		return marshalEnvelope(envelope{Type: KindBoolean}, bool(val))
	case Datetime:
		return marshalEnvelope(envelope{Type: KindDatetime}, string(val))
	case Reference:
		return marshalEnvelope(envelope{Type: KindReference}, string(val))
	case List:
		items := make([]json.RawMessage, len(val.Items))
		for i, item := range val.Items {
			data, err := MarshalValue(item)
			if err != nil {
				return nil, fmt.Errorf("marshal list[%d]: %w", i, err)
			}
			items[i] = data
		}
		return json.Marshal(envelope{Type: KindList, Elem: val.Elem, Items: items})
	default:
		return nil, fmt.Errorf("marshal value: unknown variant %T", v)
	}
}

func marshalEnvelope(env envelope, inner any) ([]byte, error) {
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("marshal %s value: %w", env.Type, err)
	}
	env.Value = raw
	return json.Marshal(env)
}

// UnmarshalValue decodes the tagged JSON form back into a Value.
// An unknown type tag or a payload of the wrong shape is an error,
// never a silent fallback.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}

	switch env.Type {
	case KindText:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("unmarshal text value: %w", err)
		}
		return Text(s), nil

	case KindNumber:
		var f float64
		if err := json.Unmarshal(env.Value, &f); err != nil {
			return nil, fmt.Errorf("unmarshal number value: %w", err)
		}
		return Number{Val: f, Unit: env.Unit}, nil

	case KindBoolean:
		var b bool
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return nil, fmt.Errorf("unmarshal boolean value: %w", err)
		}
		return Boolean(b), nil

	case KindDatetime:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("unmarshal datetime value: %w", err)
		}
		return Datetime(s), nil

	case KindReference:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("unmarshal reference value: %w", err)
		}
		return Reference(s), nil

	case KindList:
		if !ValidKinds[env.Elem] {
			return nil, fmt.Errorf("unmarshal list value: invalid element kind %q", env.Elem)
		}
		items := make([]Value, len(env.Items))
		for i, raw := range env.Items {
			item, err := UnmarshalValue(raw)
			if err != nil {
				return nil, fmt.Errorf("unmarshal list[%d]: %w", i, err)
			}
			items[i] = item
		}
		return List{Elem: env.Elem, Items: items}, nil

	default:
		return nil, fmt.Errorf("unmarshal value: unknown type tag %q", env.Type)
	}
}
