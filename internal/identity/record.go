package identity

import (
	"sort"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/relstate"
)

// Link is one relationship membership remembered by a deleted record, so
// that rolling the deletion back can restore it on the partner's side.
type Link struct {
	Field  string
	Member ir.Key
	// Canonical is true when the partner held this record canonically.
	Canonical bool
	// Removed is true when the partner held it canonically with a pending
	// local removal.
	Removed bool
}

// Record is a single entity in the identity map.
type Record struct {
	key ir.Key

	canonAttrs ir.Object
	localAttrs ir.Object

	states map[string]*relstate.State

	isNew        bool
	materialized bool
	deleted      bool
	deletedLinks []Link
}

func newRecord(key ir.Key) *Record {
	return &Record{
		key:        key,
		canonAttrs: ir.Object{},
		localAttrs: ir.Object{},
		states:     make(map[string]*relstate.State),
	}
}

// Key returns the record's (type, id).
func (r *Record) Key() ir.Key { return r.key }

// Type returns the record's model type.
func (r *Record) Type() string { return r.key.Type }

// ID returns the record's id. Locally created records carry a temporary id.
func (r *Record) ID() string { return r.key.ID }

// IsNew reports whether the record was created locally and has no canonical
// identity.
func (r *Record) IsNew() bool { return r.isNew }

// IsMaterialized reports whether the record's data is present, either from
// ingestion or local creation. A record only referenced as a relationship
// member is not materialized.
func (r *Record) IsMaterialized() bool { return r.materialized }

// IsDeleted reports whether the record is deleted but not yet unloaded.
func (r *Record) IsDeleted() bool { return r.deleted }

// Attributes returns the current attribute values: canonical values
// overlaid with local changes.
func (r *Record) Attributes() ir.Object {
	out := r.canonAttrs.Clone()
	for k, v := range r.localAttrs {
		out[k] = v
	}
	return out
}

// Attribute returns one current attribute value.
func (r *Record) Attribute(name string) (ir.Value, bool) {
	if v, ok := r.localAttrs[name]; ok {
		return v, true
	}
	v, ok := r.canonAttrs[name]
	return v, ok
}

// ChangedAttributes returns the names of locally changed attributes, sorted.
func (r *Record) ChangedAttributes() []string {
	names := make([]string, 0, len(r.localAttrs))
	for k := range r.localAttrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MergeAttributes applies canonical attribute values. Local changes to the
// same attributes stay on top until rolled back.
func (r *Record) MergeAttributes(attrs ir.Object) {
	for k, v := range attrs {
		r.canonAttrs[k] = v
	}
	r.materialized = true
}

// SetAttribute records a local attribute change.
func (r *Record) SetAttribute(name string, v ir.Value) {
	r.localAttrs[name] = v
}

// RollbackAttributes discards local attribute changes and returns their
// names, sorted.
func (r *Record) RollbackAttributes() []string {
	names := r.ChangedAttributes()
	clear(r.localAttrs)
	return names
}

// State returns the relationship state for field, creating an empty one on
// first use. Field names are validated by the caller against the schema.
func (r *Record) State(field string) *relstate.State {
	s, ok := r.states[field]
	if !ok {
		s = relstate.New()
		r.states[field] = s
	}
	return s
}

// PeekState returns the state for field without creating it.
func (r *Record) PeekState(field string) (*relstate.State, bool) {
	s, ok := r.states[field]
	return s, ok
}

// FieldNames returns the names of fields that have state, sorted.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.states))
	for k := range r.states {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsDirty reports whether any attribute or relationship has local edits.
func (r *Record) IsDirty() bool {
	if len(r.localAttrs) > 0 {
		return true
	}
	for _, s := range r.states {
		if s.IsDirty() {
			return true
		}
	}
	return false
}

// MarkDeleted flags the record deleted and remembers the links the deletion
// removed from partners.
func (r *Record) MarkDeleted(links []Link) {
	r.deleted = true
	r.deletedLinks = links
}

// Undelete clears the deleted flag and returns the remembered links.
func (r *Record) Undelete() []Link {
	links := r.deletedLinks
	r.deleted = false
	r.deletedLinks = nil
	return links
}

// DeletedLinks returns the links remembered at deletion time.
func (r *Record) DeletedLinks() []Link {
	return append([]Link(nil), r.deletedLinks...)
}
