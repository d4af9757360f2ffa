package engine

import (
	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
	"github.com/roach88/tandem/internal/schema"
)

// Local edits are mirrored as local edits so that rolling back either side
// reverts both. Each mirror is applied exactly once and never propagates
// back toward its origin.

// link adds k to rec's field f locally and mirrors the addition onto inv.
// A cardinality-one field on either side drops its current member first.
func (e *Engine) link(rec *identity.Record, f, inv *schema.Field, k ir.Key) {
	st := rec.State(f.Name)
	if f.Cardinality == schema.One {
		for _, cur := range st.Effective() {
			if cur != k {
				e.unlink(rec, f, inv, cur)
			}
		}
	}
	if !st.AddLocal(k) {
		return
	}
	e.metrics.Propagation(metrics.KindLocalAdd)
	if inv == nil {
		return
	}
	partner, ok := e.live(k)
	if !ok {
		return
	}

	ps := partner.State(inv.Name)
	if inv.Cardinality == schema.One {
		for _, cur := range ps.Effective() {
			if cur != rec.Key() {
				e.unlink(partner, inv, f, cur)
			}
		}
	}
	ps.AddLocal(rec.Key())
	e.logger.Debug("local add mirrored",
		"record", rec.Key().String(),
		"field", f.Name,
		"member", k.String(),
	)
}

// unlink removes k from rec's field f locally and mirrors the removal.
func (e *Engine) unlink(rec *identity.Record, f, inv *schema.Field, k ir.Key) {
	if !rec.State(f.Name).RemoveLocal(k) {
		return
	}
	e.metrics.Propagation(metrics.KindLocalRemove)
	if inv == nil {
		return
	}
	if partner, ok := e.live(k); ok {
		partner.State(inv.Name).RemoveLocal(rec.Key())
	}
	e.logger.Debug("local remove mirrored",
		"record", rec.Key().String(),
		"field", f.Name,
		"member", k.String(),
	)
}

// discardLocal rolls back rec's local edits on f and reverses them on the
// partners: a discarded addition is removed there, a discarded removal is
// added back.
func (e *Engine) discardLocal(rec *identity.Record, f, inv *schema.Field) {
	adds, removals := rec.State(f.Name).Rollback()
	if inv == nil {
		return
	}
	for _, k := range adds {
		if partner, ok := e.live(k); ok {
			partner.State(inv.Name).RemoveLocal(rec.Key())
			e.metrics.Propagation(metrics.KindLocalRemove)
		}
	}
	for _, k := range removals {
		if partner, ok := e.live(k); ok {
			partner.State(inv.Name).AddLocal(rec.Key())
			e.metrics.Propagation(metrics.KindLocalAdd)
		}
	}
}
