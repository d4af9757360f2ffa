package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"zebra":  String("z"),
		"apple":  String("a"),
		"banana": String("b"),
	}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestObjectSortedKeysUTF16Order(t *testing.T) {
	// U+FB01 sorts before U+1F600 in UTF-8 but after it in UTF-16,
	// because the emoji encodes as a 0xD83D surrogate pair.
	obj := Object{
		"\U0001F600": Int(1),
		"\uFB01":     Int(2),
	}
	assert.Equal(t, []string{"\U0001F600", "\uFB01"}, obj.SortedKeys())
}

func TestObjectClone(t *testing.T) {
	obj := Object{"name": String("Stanley")}
	clone := obj.Clone()
	clone["name"] = String("Ada")

	assert.Equal(t, String("Stanley"), obj["name"])
	assert.Equal(t, String("Ada"), clone["name"])
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{"nil", nil, Null{}},
		{"string", "x", String("x")},
		{"bool", true, Bool(true)},
		{"int", 7, Int(7)},
		{"whole float", float64(3), Int(3)},
		{"nested", map[string]any{"a": []any{1, "b"}}, Object{"a": Array{Int(1), String("b")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestFromAnyRejectsFractionalFloat(t *testing.T) {
	_, err := FromAny(3.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = FromAny(map[string]any{"x": []any{1.25}})
	require.Error(t, err)
}

func TestObjectFromMapNil(t *testing.T) {
	obj, err := ObjectFromMap(nil)
	require.NoError(t, err)
	assert.NotNil(t, obj)
	assert.Empty(t, obj)
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{
		"name":  String("Stanley"),
		"age":   Int(40),
		"admin": Bool(false),
		"tags":  Array{String("a")},
		"extra": Null{},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"admin":false,"age":40,"extra":null,"name":"Stanley","tags":["a"]}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}

func TestUnmarshalValueRejectsFloats(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"price": 1.5}`))
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Int(1), Int(1)))
	assert.False(t, Equal(Int(1), String("1")))
	assert.False(t, Equal(Array{Int(1)}, Array{Int(1), Int(2)}))
	assert.True(t, Equal(Object{"a": Null{}}, Object{"a": Null{}}))
	assert.False(t, Equal(Object{"a": Int(1)}, Object{"b": Int(1)}))
}
