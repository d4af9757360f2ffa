package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tandem/internal/ir"
)

func TestRecordAttributesOverlay(t *testing.T) {
	r := newRecord(ir.NewKey("user", "1"))
	r.MergeAttributes(ir.Object{"name": ir.String("Stanley"), "age": ir.Int(40)})
	assert.True(t, r.IsMaterialized())

	r.SetAttribute("name", ir.String("Ada"))
	assert.True(t, r.IsDirty())
	v, ok := r.Attribute("name")
	assert.True(t, ok)
	assert.Equal(t, ir.String("Ada"), v)

	// A canonical update does not clobber the local change.
	r.MergeAttributes(ir.Object{"name": ir.String("Lord Byron")})
	assert.Equal(t, ir.String("Ada"), r.Attributes()["name"])

	assert.Equal(t, []string{"name"}, r.RollbackAttributes())
	assert.Equal(t, ir.Object{"name": ir.String("Lord Byron"), "age": ir.Int(40)}, r.Attributes())
	assert.False(t, r.IsDirty())
}

func TestRecordAttributeMissing(t *testing.T) {
	r := newRecord(ir.NewKey("user", "1"))
	_, ok := r.Attribute("name")
	assert.False(t, ok)
}

func TestRecordStateLazy(t *testing.T) {
	r := newRecord(ir.NewKey("user", "1"))
	_, ok := r.PeekState("topics")
	assert.False(t, ok)

	s := r.State("topics")
	assert.Same(t, s, r.State("topics"))
	assert.Equal(t, []string{"topics"}, r.FieldNames())

	s.AddLocal(ir.NewKey("topic", "2"))
	assert.True(t, r.IsDirty())
}

func TestRecordDeletion(t *testing.T) {
	r := newRecord(ir.NewKey("topic", "2"))
	links := []Link{{Field: "users", Member: ir.NewKey("user", "1"), Canonical: true}}

	r.MarkDeleted(links)
	assert.True(t, r.IsDeleted())
	assert.Equal(t, links, r.DeletedLinks())

	assert.Equal(t, links, r.Undelete())
	assert.False(t, r.IsDeleted())
	assert.Empty(t, r.DeletedLinks())
}
