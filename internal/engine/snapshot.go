package engine

import (
	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
)

// Snapshot is a deterministic view of the whole identity map, ordered by
// key, suitable for canonical JSON encoding and golden comparison.
type Snapshot struct {
	Version string           `json:"version"`
	Records []RecordSnapshot `json:"records"`
}

// RecordSnapshot captures one record.
type RecordSnapshot struct {
	Key          string          `json:"key"`
	Attributes   ir.Object       `json:"attributes"`
	New          bool            `json:"new"`
	Materialized bool            `json:"materialized"`
	Deleted      bool            `json:"deleted"`
	Fields       []FieldSnapshot `json:"fields"`
}

// FieldSnapshot captures one relationship state.
type FieldSnapshot struct {
	Name      string   `json:"name"`
	Canonical []string `json:"canonical"`
	Effective []string `json:"effective"`
	Additions []string `json:"additions"`
	Removals  []string `json:"removals"`
	Loaded    bool     `json:"loaded"`
}

// Snapshot captures every record and every relationship state that exists.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Version: ir.SnapshotVersion, Records: []RecordSnapshot{}}
	for _, rec := range e.ids.Records() {
		snap.Records = append(snap.Records, snapshotRecord(rec))
	}
	return snap
}

func snapshotRecord(rec *identity.Record) RecordSnapshot {
	rs := RecordSnapshot{
		Key:          rec.Key().String(),
		Attributes:   rec.Attributes(),
		New:          rec.IsNew(),
		Materialized: rec.IsMaterialized(),
		Deleted:      rec.IsDeleted(),
		Fields:       []FieldSnapshot{},
	}
	for _, name := range rec.FieldNames() {
		st, _ := rec.PeekState(name)
		rs.Fields = append(rs.Fields, FieldSnapshot{
			Name:      name,
			Canonical: ir.KeyStrings(st.Canonical()),
			Effective: ir.KeyStrings(st.Effective()),
			Additions: ir.KeyStrings(st.Additions()),
			Removals:  ir.KeyStrings(st.Removals()),
			Loaded:    st.Loaded(),
		})
	}
	return rs
}

// Canonical converts the snapshot to the plain map/slice form accepted by
// ir.MarshalCanonical.
func (s Snapshot) Canonical() map[string]any {
	records := make([]any, 0, len(s.Records))
	for _, r := range s.Records {
		fields := make([]any, 0, len(r.Fields))
		for _, f := range r.Fields {
			fields = append(fields, map[string]any{
				"name":      f.Name,
				"canonical": f.Canonical,
				"effective": f.Effective,
				"additions": f.Additions,
				"removals":  f.Removals,
				"loaded":    f.Loaded,
			})
		}
		records = append(records, map[string]any{
			"key":          r.Key,
			"attributes":   r.Attributes,
			"new":          r.New,
			"materialized": r.Materialized,
			"deleted":      r.Deleted,
			"fields":       fields,
		})
	}
	return map[string]any{
		"version": s.Version,
		"records": records,
	}
}
