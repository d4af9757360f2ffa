package identity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/relstate"
)

type counterIDs struct{ n int }

func (c *counterIDs) Generate() string {
	c.n++
	return fmt.Sprintf("tmp-%d", c.n)
}

type repeatIDs struct {
	ids []string
	i   int
}

func (r *repeatIDs) Generate() string {
	id := r.ids[r.i]
	r.i++
	return id
}

func TestGetOrCreateDeduplicates(t *testing.T) {
	m := NewMap(&counterIDs{})

	a, created := m.GetOrCreate("user", "1")
	assert.True(t, created)
	assert.False(t, a.IsMaterialized())

	b, created := m.GetOrCreate("user", "1")
	assert.False(t, created)
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Len())
}

func TestRegisterLocal(t *testing.T) {
	m := NewMap(&counterIDs{})

	rec := m.RegisterLocal("user")
	assert.Equal(t, "tmp-1", rec.ID())
	assert.Equal(t, "user", rec.Type())
	assert.True(t, rec.IsNew())
	assert.True(t, rec.IsMaterialized())
	assert.False(t, rec.IsDeleted())

	got, err := m.Lookup("user", "tmp-1")
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestRegisterLocalSkipsTakenIDs(t *testing.T) {
	m := NewMap(&repeatIDs{ids: []string{"x", "x", "y"}})
	m.GetOrCreate("user", "x")

	rec := m.RegisterLocal("user")
	assert.Equal(t, "y", rec.ID())
}

func TestLookupNotFound(t *testing.T) {
	m := NewMap(&counterIDs{})
	_, err := m.Lookup("user", "404")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "user:404")
}

func TestUnloadRemovesFromPartners(t *testing.T) {
	m := NewMap(&counterIDs{})
	account, _ := m.GetOrCreate("account", "2")
	u1, _ := m.GetOrCreate("user", "1")
	u2, _ := m.GetOrCreate("user", "2")

	account.State("users").MergeCanonical([]ir.Key{u1.Key(), u2.Key()}, relstate.OriginPush, 1)
	u1.State("accounts").AssertCanonical(account.Key(), 1, true)
	u2.State("accounts").AddLocal(account.Key())

	touched, err := m.Unload(account.Key(), 2)
	require.NoError(t, err)
	assert.Equal(t, []Holder{
		{Key: u1.Key(), Field: "accounts"},
		{Key: u2.Key(), Field: "accounts"},
	}, touched)

	assert.Empty(t, u1.State("accounts").Effective())
	assert.Empty(t, u2.State("accounts").Effective())
	assert.False(t, m.Contains(account))
	assert.True(t, m.Contains(u1))

	_, err = m.Unload(account.Key(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordsOrdered(t *testing.T) {
	m := NewMap(&counterIDs{})
	m.GetOrCreate("user", "2")
	m.GetOrCreate("account", "1")
	m.GetOrCreate("user", "1")

	var got []string
	for _, r := range m.Records() {
		got = append(got, r.Key().String())
	}
	assert.Equal(t, []string{"account:1", "user:1", "user:2"}, got)
}

func TestContainsNil(t *testing.T) {
	m := NewMap(&counterIDs{})
	assert.False(t, m.Contains(nil))
}
