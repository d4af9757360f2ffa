package ir

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyNormalizes(t *testing.T) {
	a := NewKey("user", "caf\u00e9")
	b := NewKey("user", "cafe\u0301")
	assert.Equal(t, a, b)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("user:1")
	require.NoError(t, err)
	assert.Equal(t, Key{Type: "user", ID: "1"}, k)
	assert.Equal(t, "user:1", k.String())

	k, err = ParseKey("topic:a:b")
	require.NoError(t, err)
	assert.Equal(t, "a:b", k.ID)
}

func TestParseKeyInvalid(t *testing.T) {
	for _, s := range []string{"", "user", ":1", "user:"} {
		_, err := ParseKey(s)
		assert.Error(t, err, s)
	}
}

func TestCompareKeys(t *testing.T) {
	keys := []Key{
		{Type: "user", ID: "2"},
		{Type: "account", ID: "9"},
		{Type: "user", ID: "1"},
	}
	slices.SortFunc(keys, CompareKeys)
	assert.Equal(t, []string{"account:9", "user:1", "user:2"}, KeyStrings(keys))
}

func TestPayloadValidate(t *testing.T) {
	assert.Error(t, Payload{}.Validate())
	assert.Error(t, Payload{ID: "1", Relationships: map[string][]string{"users": {""}}}.Validate())

	p := Payload{ID: "1", Relationships: map[string][]string{"users": {}}}
	require.NoError(t, p.Validate())
	assert.True(t, p.HasRelationship("users"))
	assert.False(t, p.HasRelationship("topics"))
}
