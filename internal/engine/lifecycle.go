package engine

import (
	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/relstate"
)

// DeleteRecord marks rec deleted. Every record rec is related to loses rec
// from its inverse field, as a canonical removal so
// that no rollback on the partner brings it back. rec's own state is left
// as it was: it still reports its relationships until it is unloaded, and
// rolling the deletion back restores the partners' side.
//
// Deleting a deleted record is a no-op.
func (e *Engine) DeleteRecord(rec *identity.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLive(rec); err != nil {
		return err
	}
	if rec.IsDeleted() {
		return nil
	}

	fields, err := e.registry.Fields(rec.Type())
	if err != nil {
		return &Error{Code: CodeUnknownType, Message: "unknown model type", Key: rec.Key(), Err: err}
	}

	seq := e.clock.Next()
	var links []identity.Link
	for _, f := range fields {
		inv := e.registry.InverseOf(f)
		st, ok := rec.PeekState(f.Name)
		if inv == nil || !ok {
			continue
		}
		for _, k := range allMembers(st) {
			partner, ok := e.live(k)
			if !ok {
				continue
			}
			ps := partner.State(inv.Name)
			if !ps.Has(rec.Key()) && !ps.IsCanonical(rec.Key()) {
				continue
			}
			links = append(links, identity.Link{
				Field:     f.Name,
				Member:    k,
				Canonical: ps.IsCanonical(rec.Key()),
				Removed:   ps.IsCanonical(rec.Key()) && !ps.Has(rec.Key()),
			})
			ps.RetractCanonical(rec.Key(), seq)
			e.metrics.Propagation(metrics.KindCanonicalRemove)
		}
	}
	rec.MarkDeleted(links)

	e.metrics.Deletion()
	e.logger.Info("record deleted",
		"record", rec.Key().String(),
		"partners", len(links),
		"seq", seq,
	)
	return nil
}

// RollbackAttributes reverts rec to its canonical state.
//
// A deleted record is undeleted and reappears in every partner it was
// removed from. Otherwise local relationship edits are discarded on both
// sides. Local attribute changes are discarded in both cases.
//
// A locally created record has no canonical state to return to: rollback
// destroys it. It is withdrawn from every partner and unloaded, and its
// handle stops working.
func (e *Engine) RollbackAttributes(rec *identity.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLive(rec); err != nil {
		return err
	}

	if rec.IsNew() {
		touched, err := e.ids.Unload(rec.Key(), e.clock.Next())
		if err != nil {
			return &Error{Code: CodeNotFound, Message: "rollback failed", Key: rec.Key(), Err: err}
		}
		e.metrics.Rollback(metrics.RollbackDestroy)
		e.logger.Info("created record destroyed by rollback",
			"record", rec.Key().String(),
			"partners", len(touched),
		)
		return nil
	}

	if rec.IsDeleted() {
		e.undelete(rec)
	} else {
		e.rollbackEdits(rec)
	}
	rec.RollbackAttributes()
	return nil
}

// undelete restores the partner side of every link removed by deletion.
// Partners deleted in the meantime are handled as if their deletion came
// after: rec stops seeing them and they remember rec instead.
func (e *Engine) undelete(rec *identity.Record) {
	seq := e.clock.Next()
	links := rec.Undelete()
	for _, l := range links {
		f, err := e.registry.Field(rec.Type(), l.Field)
		if err != nil {
			continue
		}
		inv := e.registry.InverseOf(f)
		partner, ok := e.live(l.Member)
		if inv == nil || !ok || partner.IsDeleted() {
			continue
		}
		restoreLink(partner.State(inv.Name), rec.Key(), l, seq)
		e.metrics.Propagation(metrics.KindCanonicalAdd)
	}

	for _, name := range rec.FieldNames() {
		f, err := e.registry.Field(rec.Type(), name)
		if err != nil {
			continue
		}
		inv := e.registry.InverseOf(f)
		if inv == nil {
			continue
		}
		st, _ := rec.PeekState(name)
		for _, k := range allMembers(st) {
			partner, ok := e.live(k)
			if !ok || !partner.IsDeleted() {
				continue
			}
			link := identity.Link{
				Field:     inv.Name,
				Member:    rec.Key(),
				Canonical: st.IsCanonical(k),
				Removed:   st.IsCanonical(k) && !st.Has(k),
			}
			st.RetractCanonical(k, seq)
			restoreLink(partner.State(inv.Name), rec.Key(), link, seq)
			rememberLink(partner, link)
		}
	}

	e.metrics.Rollback(metrics.RollbackUndelete)
	e.logger.Info("deletion rolled back",
		"record", rec.Key().String(),
		"partners", len(links),
	)
}

func (e *Engine) rollbackEdits(rec *identity.Record) {
	n := 0
	for _, name := range rec.FieldNames() {
		st, _ := rec.PeekState(name)
		if !st.IsDirty() {
			continue
		}
		f, err := e.registry.Field(rec.Type(), name)
		if err != nil {
			continue
		}
		e.discardLocal(rec, f, e.registry.InverseOf(f))
		n++
	}
	e.metrics.Rollback(metrics.RollbackEdits)
	e.logger.Info("local edits rolled back",
		"record", rec.Key().String(),
		"fields", n,
		"attributes", len(rec.ChangedAttributes()),
	)
}

// restoreLink puts member back into st in the form recorded by link.
func restoreLink(st *relstate.State, member ir.Key, link identity.Link, seq int64) {
	if !link.Canonical {
		st.AddLocal(member)
		return
	}
	st.AssertCanonical(member, seq, true)
	if link.Removed {
		st.RemoveLocal(member)
	}
}

// allMembers returns every key st holds in any form: canonical members,
// including locally removed ones, then local additions.
func allMembers(st *relstate.State) []ir.Key {
	return append(st.Canonical(), st.Additions()...)
}
