package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
// This is the serialization used for snapshots, golden files, stored
// attributes and digests.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. No floats (returns error)
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return marshalCanonicalString(string(val))
	case string:
		return marshalCanonicalString(val)
	case Int:
		return []byte(fmt.Sprintf("%d", int64(val))), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case Bool:
		return marshalBool(bool(val)), nil
	case bool:
		return marshalBool(val), nil
	case Array:
		items := make([]any, len(val))
		for i, elem := range val {
			items[i] = elem
		}
		return marshalCanonicalArray(items)
	case []any:
		return marshalCanonicalArray(val)
	case []string:
		items := make([]any, len(val))
		for i, elem := range val {
			items[i] = elem
		}
		return marshalCanonicalArray(items)
	case Object:
		m := make(map[string]any, len(val))
		for k, elem := range val {
			m[k] = elem
		}
		return marshalCanonicalObject(m)
	case map[string]any:
		return marshalCanonicalObject(val)
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func marshalBool(b bool) []byte {
	if b {
		return []byte("true")
	}
	return []byte("false")
}

// marshalCanonicalString encodes s with NFC normalization and without HTML
// escaping. Only control characters, backslash and quote are escaped.
func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes that
// encoding/json emits back to literal characters, as RFC 8785 requires.
// An escape preceded by an odd run of backslashes is literal text and is kept.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') {
			run := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				run++
			}
			if run%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func marshalCanonicalArray(items []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(m map[string]any) ([]byte, error) {
	keys := make(Object, len(m))
	for k := range m {
		keys[k] = nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalCanonical(m[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
