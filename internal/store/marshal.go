package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// marshalAttributes converts attributes to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalAttributes(attrs ir.Object) (string, error) {
	if attrs == nil {
		attrs = ir.Object{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes parses stored JSON TEXT to an Object.
// Uses ir.Object.UnmarshalJSON which keeps large integers exact.
func unmarshalAttributes(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return obj, nil
}
