package identity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/tandem/internal/ir"
)

// ErrNotFound is returned when a key has no record in the map.
var ErrNotFound = errors.New("record not found")

// IDGenerator produces temporary ids for locally created records.
type IDGenerator interface {
	Generate() string
}

// Map is the identity map.
type Map struct {
	records map[ir.Key]*Record
	ids     IDGenerator
}

// NewMap creates an empty identity map drawing temporary ids from ids.
func NewMap(ids IDGenerator) *Map {
	return &Map{
		records: make(map[ir.Key]*Record),
		ids:     ids,
	}
}

// GetOrCreate returns the unique record for (typ, id), creating an empty,
// unmaterialized record on first reference. created reports whether it was
// new.
func (m *Map) GetOrCreate(typ, id string) (rec *Record, created bool) {
	key := ir.NewKey(typ, id)
	if rec, ok := m.records[key]; ok {
		return rec, false
	}
	rec = newRecord(key)
	m.records[key] = rec
	return rec, true
}

// RegisterLocal allocates a materialized record with a fresh temporary id.
// Generated ids that collide with an existing record are skipped.
func (m *Map) RegisterLocal(typ string) *Record {
	for {
		key := ir.NewKey(typ, m.ids.Generate())
		if _, taken := m.records[key]; taken {
			continue
		}
		rec := newRecord(key)
		rec.isNew = true
		rec.materialized = true
		m.records[key] = rec
		return rec
	}
}

// Lookup returns the record for (typ, id).
func (m *Map) Lookup(typ, id string) (*Record, error) {
	return m.LookupKey(ir.NewKey(typ, id))
}

// LookupKey returns the record for key.
func (m *Map) LookupKey(key ir.Key) (*Record, error) {
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec, nil
}

// Contains reports whether rec is the live record for its key. A record
// handle held after Unload is no longer contained.
func (m *Map) Contains(rec *Record) bool {
	if rec == nil {
		return false
	}
	return m.records[rec.key] == rec
}

// Holder names one relationship state that lost a member during Unload.
type Holder struct {
	Key   ir.Key
	Field string
}

// Unload removes the record for key from the map and from every
// relationship state that names it. Partners simply lose the member; nothing
// is propagated. It returns the states that changed, in key order.
func (m *Map) Unload(key ir.Key, seq int64) ([]Holder, error) {
	if _, ok := m.records[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.records, key)

	var touched []Holder
	for _, rec := range m.Records() {
		for _, field := range rec.FieldNames() {
			s := rec.states[field]
			if s.Has(key) || s.IsCanonical(key) {
				s.RetractCanonical(key, seq)
				touched = append(touched, Holder{Key: rec.key, Field: field})
			}
		}
	}
	return touched, nil
}

// Records returns all records ordered by key.
func (m *Map) Records() []*Record {
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *Record) int { return ir.CompareKeys(a.key, b.key) })
	return out
}

// Len returns the number of records in the map.
func (m *Map) Len() int {
	return len(m.records)
}
