package ir

import (
	"cmp"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key identifies a record by (type, id).
//
// Relationship state stores Keys, never record pointers, so partner records
// can be unloaded without dangling references. Keys are comparable and are
// used directly as map keys.
type Key struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewKey builds a Key with both parts NFC-normalized.
func NewKey(typ, id string) Key {
	return Key{Type: norm.NFC.String(typ), ID: norm.NFC.String(id)}
}

// String renders the key as "type:id".
func (k Key) String() string {
	return k.Type + ":" + k.ID
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Type == "" && k.ID == ""
}

// ParseKey parses a "type:id" reference. The id may itself contain colons.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return Key{}, fmt.Errorf("invalid record key %q: want type:id", s)
	}
	return NewKey(typ, id), nil
}

// CompareKeys orders keys by type then id. This is the fixed global order used
// wherever iteration over records must be deterministic.
func CompareKeys(a, b Key) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// KeyStrings renders keys as "type:id" strings, preserving order.
func KeyStrings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
