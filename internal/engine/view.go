package engine

import (
	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/schema"
)

// View presents the effective membership of one relationship field of one
// record. Add and Remove edit membership locally and return only after the
// inverse side has been updated.
type View interface {
	// Record returns the owning record.
	Record() *identity.Record

	// Field returns the relationship descriptor.
	Field() *schema.Field

	// Keys returns the effective member keys in order, without resolving
	// or fetching anything. It returns nil once the owner is unloaded.
	Keys() []ir.Key

	// Len returns the number of effective members.
	Len() int

	// Add makes member an effective member.
	Add(member *identity.Record) error

	// Remove drops member from the effective members.
	Remove(member *identity.Record) error
}

// Relationship returns the view for rec's field: a *SyncCollection or an
// *AsyncCollection depending on the field's async flag.
func (e *Engine) Relationship(rec *identity.Record, field string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLive(rec); err != nil {
		return nil, err
	}
	f, err := e.field(rec, field)
	if err != nil {
		return nil, err
	}
	base := collection{e: e, rec: rec, field: f}
	if f.Async {
		return &AsyncCollection{collection: base}, nil
	}
	return &SyncCollection{collection: base}, nil
}

// Sync returns the view for a sync field.
func (e *Engine) Sync(rec *identity.Record, field string) (*SyncCollection, error) {
	v, err := e.Relationship(rec, field)
	if err != nil {
		return nil, err
	}
	sc, ok := v.(*SyncCollection)
	if !ok {
		return nil, newError(CodeTypeMismatch, rec.Key(), field, "field is async")
	}
	return sc, nil
}

// Async returns the view for an async field.
func (e *Engine) Async(rec *identity.Record, field string) (*AsyncCollection, error) {
	v, err := e.Relationship(rec, field)
	if err != nil {
		return nil, err
	}
	ac, ok := v.(*AsyncCollection)
	if !ok {
		return nil, newError(CodeTypeMismatch, rec.Key(), field, "field is not async")
	}
	return ac, nil
}

// collection is the part shared by both view kinds.
type collection struct {
	e     *Engine
	rec   *identity.Record
	field *schema.Field
}

func (c *collection) Record() *identity.Record { return c.rec }

func (c *collection) Field() *schema.Field { return c.field }

func (c *collection) Keys() []ir.Key {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return c.keys()
}

func (c *collection) Len() int {
	return len(c.Keys())
}

// keys reads effective membership. Caller holds e.mu.
func (c *collection) keys() []ir.Key {
	if !c.e.ids.Contains(c.rec) {
		return nil
	}
	st, ok := c.rec.PeekState(c.field.Name)
	if !ok {
		return []ir.Key{}
	}
	return st.Effective()
}

func (c *collection) Add(member *identity.Record) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()

	if err := c.checkEdit(member); err != nil {
		return err
	}
	c.e.link(c.rec, c.field, c.e.registry.InverseOf(c.field), member.Key())
	return nil
}

func (c *collection) Remove(member *identity.Record) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()

	if err := c.checkEdit(member); err != nil {
		return err
	}
	c.e.unlink(c.rec, c.field, c.e.registry.InverseOf(c.field), member.Key())
	return nil
}

// checkEdit validates a local edit before any state changes.
func (c *collection) checkEdit(member *identity.Record) error {
	e := c.e
	if err := e.checkLive(c.rec); err != nil {
		return err
	}
	if member == nil {
		return newError(CodeNotFound, c.rec.Key(), c.field.Name, "member is nil")
	}
	if member.Type() != c.field.Target {
		return newError(CodeTypeMismatch, c.rec.Key(), c.field.Name,
			"%s holds %q records, got %s", c.field, c.field.Target, member.Key())
	}
	if !e.ids.Contains(member) {
		return &Error{
			Code:    CodeNotFound,
			Message: "member is not in the identity map",
			Key:     c.rec.Key(),
			Field:   c.field.Name,
			Err:     unloadedError(member.Key()),
		}
	}
	if c.rec.IsDeleted() {
		return newError(CodeDeleted, c.rec.Key(), c.field.Name, "cannot edit relationships of a deleted record")
	}
	if member.IsDeleted() {
		return newError(CodeDeleted, c.rec.Key(), c.field.Name, "member %s is deleted", member.Key())
	}
	return nil
}

// SyncCollection is the view of a sync field. Members are assumed to be
// fully present locally; access never fetches.
type SyncCollection struct {
	collection
}

// Members resolves every effective member to its record. It fails with
// NOT_FOUND if any member has no materialized record.
func (c *SyncCollection) Members() ([]*identity.Record, error) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()

	if err := c.e.checkLive(c.rec); err != nil {
		return nil, err
	}
	keys := c.keys()
	out := make([]*identity.Record, 0, len(keys))
	for _, k := range keys {
		member, ok := c.e.live(k)
		if !ok || !member.IsMaterialized() {
			return nil, &Error{
				Code:    CodeNotFound,
				Message: "sync relationship member " + k.String() + " is not loaded",
				Key:     c.rec.Key(),
				Field:   c.field.Name,
			}
		}
		out = append(out, member)
	}
	return out, nil
}
