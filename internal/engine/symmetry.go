package engine

import (
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// Violation is one membership without its mirror on the inverse side.
type Violation struct {
	Record ir.Key `json:"record"`
	Field  string `json:"field"`
	Member ir.Key `json:"member"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s.%s -> %s: %s", v.Record, v.Field, v.Member, v.Reason)
}

// CheckSymmetry walks every inverse pair and reports each effective
// membership whose partner does not list the owner back. Deleted records
// are skipped on both ends: their partners drop them while they keep their
// own state. An empty result means every pair agrees.
func (e *Engine) CheckSymmetry() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Violation
	for _, rec := range e.ids.Records() {
		if rec.IsDeleted() {
			continue
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
			for _, k := range st.Effective() {
				partner, ok := e.live(k)
				if !ok {
					out = append(out, Violation{rec.Key(), name, k, "member has no record"})
					continue
				}
				if partner.IsDeleted() {
					out = append(out, Violation{rec.Key(), name, k, "member is deleted"})
					continue
				}
				ps, ok := partner.PeekState(inv.Name)
				if !ok || !ps.Has(rec.Key()) {
					out = append(out, Violation{rec.Key(), name, k, "missing from " + inv.String()})
				}
			}
		}
	}
	return out
}
