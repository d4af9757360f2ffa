package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/ir"
)

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all ids exhausted", func() { g.Generate() })
}

func TestCreateRecordUsesGenerator(t *testing.T) {
	e := newTestEngine(t, nil, WithIDGenerator(NewFixedGenerator("local-a")))
	rec, err := e.CreateRecord("account", ir.Object{"name": ir.String("ops")})
	require.NoError(t, err)
	assert.Equal(t, "account:local-a", rec.Key().String())
}
