package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface representing attribute values.
// Only Null, String, Int, Bool, Array, and Object implement this.
// There is no float variant: snapshots must be byte-stable.
type Value interface {
	irValue()
}

// Null represents an explicit null attribute value.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
type String string

func (String) irValue() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) irValue() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) irValue() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object represents a map of string keys to values.
// Record attributes are Objects. Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// Clone returns a shallow copy of the object. Nested arrays and objects are
// shared; attribute values are treated as immutable once stored.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for astral characters.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
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
	}
	return 0
}

// Equal reports whether two values are structurally equal.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts a decoded Go value (from YAML or encoding/json) into a
// Value. Whole-number floats are accepted as Int because YAML and JSON
// decoders produce float64 for plain numbers; fractional floats are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(val), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("floats are forbidden in attribute values: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are forbidden in attribute values: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ObjectFromMap converts a decoded map into an Object.
// A nil map yields an empty Object.
func ObjectFromMap(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, v := range m {
		conv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		obj[k] = conv
	}
	return obj, nil
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for snapshots.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := MarshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes JSON into a Value, rejecting floats.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}
