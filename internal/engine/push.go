package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/relstate"
	"github.com/roach88/tandem/internal/schema"
)

// push applies one canonical payload. Caller holds e.mu.
func (e *Engine) push(typ string, p ir.Payload) (*identity.Record, error) {
	fields, err := e.preparePush(typ, p)
	if err != nil {
		return nil, err
	}

	rec, _ := e.ids.GetOrCreate(typ, p.ID)
	rec.MergeAttributes(p.Attributes)

	for _, f := range fields {
		members := make([]ir.Key, 0, len(p.Relationships[f.Name]))
		for _, id := range p.Relationships[f.Name] {
			member, _ := e.ids.GetOrCreate(f.Target, id)
			members = append(members, member.Key())
		}
		e.mergeCanonical(rec, f, members)
	}

	e.metrics.Push(typ)
	e.logger.Debug("push",
		"record", rec.Key().String(),
		"fields", len(fields),
		"seq", e.clock.Current(),
	)
	return rec, nil
}

// preparePush validates p against typ's model without changing anything and
// returns the relationship fields it carries, sorted by name.
func (e *Engine) preparePush(typ string, p ir.Payload) ([]*schema.Field, error) {
	model, err := e.model(typ)
	if err != nil {
		return nil, err
	}
	key := ir.NewKey(typ, p.ID)
	if err := p.Validate(); err != nil {
		return nil, &Error{Code: CodeInvalidPayload, Message: "invalid payload", Key: key, Err: err}
	}
	if err := checkAttributes(model, key, p.Attributes); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(p.Relationships))
	for name := range p.Relationships {
		names = append(names, name)
	}
	slices.Sort(names)

	fields := make([]*schema.Field, 0, len(names))
	for _, name := range names {
		f := model.Field(name)
		if f == nil {
			return nil, newError(CodeUnknownField, key, name, "model %q has no relationship %q", typ, name)
		}
		if f.Cardinality == schema.One && countDistinct(p.Relationships[name]) > 1 {
			return nil, newError(CodeCardinality, key, name,
				"cardinality-one field given %d members", countDistinct(p.Relationships[name]))
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// mergeCanonical replaces rec's canonical members of f and mirrors the
// effect onto the inverse side.
func (e *Engine) mergeCanonical(rec *identity.Record, f *schema.Field, members []ir.Key) {
	seq := e.clock.Next()
	inv := e.registry.InverseOf(f)
	if inv != nil && !rec.IsDeleted() {
		e.forgetDroppedLinks(rec, inv, members, seq, seq)
		members = e.deferDeletedMembers(rec, inv, members, seq)
	}
	d := rec.State(f.Name).MergeCanonical(members, relstate.OriginPush, seq)
	e.applyDelta(rec, f, inv, d, seq)
}

// applyDelta mirrors a canonical delta of rec's field f onto inv. A deleted
// record's partners do not see it, so its delta only updates the links
// restored by rollback.
func (e *Engine) applyDelta(rec *identity.Record, f, inv *schema.Field, d relstate.Delta, seq int64) {
	if inv == nil {
		return
	}
	if rec.IsDeleted() {
		e.rememberDelta(rec, f, d)
		return
	}

	for _, k := range d.Dropped {
		partner, ok := e.live(k)
		if !ok {
			continue
		}
		partner.State(inv.Name).RetractCanonical(rec.Key(), seq)
		if partner.IsDeleted() {
			forgetLink(partner, inv.Name, rec.Key())
		}
		e.metrics.Propagation(metrics.KindCanonicalRemove)
	}
	for _, k := range d.Added {
		e.assertOnPartner(rec, inv, k, seq, metrics.KindCanonicalAdd)
	}
	for _, k := range d.Restored {
		e.assertOnPartner(rec, inv, k, seq, metrics.KindCanonicalRestore)
	}

	if f.Cardinality == schema.One && rec.State(f.Name).Len() > 1 {
		e.discardLocal(rec, f, inv)
	}

	if !d.Empty() {
		e.logger.Debug("canonical delta mirrored",
			"record", rec.Key().String(),
			"field", f.Name,
			"added", len(d.Added),
			"dropped", len(d.Dropped),
			"restored", len(d.Restored),
		)
	}
}

// assertOnPartner makes owner a canonical member of the partner's inverse
// field, clearing any local removal of it there.
func (e *Engine) assertOnPartner(owner *identity.Record, inv *schema.Field, k ir.Key, seq int64, kind string) {
	partner, ok := e.live(k)
	if !ok {
		return
	}
	st := partner.State(inv.Name)
	if inv.Cardinality == schema.One {
		e.displaceCanonical(partner, inv, owner.Key(), seq)
	}
	st.AssertCanonical(owner.Key(), seq, true)
	if inv.Cardinality == schema.One && st.Len() > 1 {
		e.discardLocal(partner, inv, e.registry.InverseOf(inv))
	}
	e.metrics.Propagation(kind)
}

// displaceCanonical retracts every canonical member of rec's one-field f
// other than keep, on both sides.
func (e *Engine) displaceCanonical(rec *identity.Record, f *schema.Field, keep ir.Key, seq int64) {
	st := rec.State(f.Name)
	back := e.registry.InverseOf(f)
	for _, k := range st.Canonical() {
		if k == keep {
			continue
		}
		st.RetractCanonical(k, seq)
		e.metrics.Propagation(metrics.KindCanonicalRemove)
		if back == nil {
			continue
		}
		if other, ok := e.live(k); ok {
			other.State(back.Name).RetractCanonical(rec.Key(), seq)
		}
	}
}

// deferDeletedMembers filters deleted records out of members. Each one
// keeps the canonical link in its own state and in the links its rollback
// restores, so the owner starts seeing it again only if the deletion is
// rolled back.
func (e *Engine) deferDeletedMembers(owner *identity.Record, inv *schema.Field, members []ir.Key, seq int64) []ir.Key {
	out := members[:0:0]
	for _, k := range members {
		partner, ok := e.live(k)
		if !ok || !partner.IsDeleted() {
			out = append(out, k)
			continue
		}
		partner.State(inv.Name).AssertCanonical(owner.Key(), seq, true)
		rememberLink(partner, identity.Link{Field: inv.Name, Member: owner.Key(), Canonical: true})
	}
	return out
}

// forgetDroppedLinks retracts owner from every deleted record that
// remembers a canonical link to it through inv but is missing from members,
// so that rolling the deletion back cannot restore a link the server has
// dropped. Links stamped after since are kept.
func (e *Engine) forgetDroppedLinks(owner *identity.Record, inv *schema.Field, members []ir.Key, since, seq int64) {
	for _, partner := range e.ids.Records() {
		if !partner.IsDeleted() || partner.Type() != inv.Owner || slices.Contains(members, partner.Key()) {
			continue
		}
		if !remembersCanonical(partner, inv.Name, owner.Key()) {
			continue
		}
		st := partner.State(inv.Name)
		if st.Stamp(owner.Key()) > since {
			continue
		}
		forgetLink(partner, inv.Name, owner.Key())
		st.RetractCanonical(owner.Key(), seq)
		e.metrics.Propagation(metrics.KindCanonicalRemove)
		e.logger.Debug("dropped link forgotten by deleted record",
			"record", partner.Key().String(),
			"field", inv.Name,
			"member", owner.Key().String(),
		)
	}
}

func remembersCanonical(rec *identity.Record, field string, member ir.Key) bool {
	return slices.ContainsFunc(rec.DeletedLinks(), func(l identity.Link) bool {
		return l.Field == field && l.Member == member && l.Canonical
	})
}

// rememberDelta folds a canonical delta on a deleted record into the links
// its rollback will restore.
func (e *Engine) rememberDelta(rec *identity.Record, f *schema.Field, d relstate.Delta) {
	for _, k := range d.Dropped {
		forgetLink(rec, f.Name, k)
	}
	for _, k := range append(d.Added, d.Restored...) {
		rememberLink(rec, identity.Link{Field: f.Name, Member: k, Canonical: true})
	}
}

func rememberLink(rec *identity.Record, link identity.Link) {
	links := rec.DeletedLinks()
	for i, l := range links {
		if l.Field == link.Field && l.Member == link.Member {
			links[i] = link
			rec.MarkDeleted(links)
			return
		}
	}
	rec.MarkDeleted(append(links, link))
}

func forgetLink(rec *identity.Record, field string, member ir.Key) {
	links := slices.DeleteFunc(rec.DeletedLinks(), func(l identity.Link) bool {
		return l.Field == field && l.Member == member
	})
	rec.MarkDeleted(links)
}

// checkAttributes validates attribute names and value types against the
// model's declared attributes. A model without declared attributes accepts
// anything. Null is accepted for every declared attribute.
func checkAttributes(model *schema.Model, key ir.Key, attrs ir.Object) error {
	if len(model.Attributes) == 0 {
		return nil
	}
	for _, name := range attrs.SortedKeys() {
		want, ok := model.Attributes[name]
		if !ok {
			return newError(CodeUnknownField, key, name, "model %q has no attribute %q", model.Name, name)
		}
		if !valueHasType(attrs[name], want) {
			return newError(CodeTypeMismatch, key, name,
				"attribute %q wants %s, got %s", name, want, valueTypeName(attrs[name]))
		}
	}
	return nil
}

func valueHasType(v ir.Value, want string) bool {
	if _, null := v.(ir.Null); null || want == "any" {
		return true
	}
	return valueTypeName(v) == want
}

func valueTypeName(v ir.Value) string {
	switch v.(type) {
	case ir.Null:
		return "null"
	case ir.String:
		return "string"
	case ir.Int:
		return "int"
	case ir.Bool:
		return "bool"
	case ir.Array:
		return "array"
	case ir.Object:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func countDistinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
