package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocument_Merge(t *testing.T) {
	doc := Document{
		"field": "value",
		"nested": map[string]any{
			"a": 1.0,
			"b": "x",
		},
	}

	changed := doc.Merge(Document{"field": "value"})
	assert.False(t, changed)

	changed = doc.Merge(Document{"nested": map[string]any{"b": "y", "c": true}})
	assert.True(t, changed)
	assert.Equal(t, map[string]any{"a": 1.0, "b": "y", "c": true}, doc["nested"])
	assert.Equal(t, "value", doc["field"])

	changed = doc.Merge(Document{"nested": "flat"})
	assert.True(t, changed)
	assert.Equal(t, "flat", doc["nested"])
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{"list": []any{map[string]any{"k": "v"}}}
	clone := doc.Clone()
	clone["list"].([]any)[0].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", doc["list"].([]any)[0].(map[string]any)["k"])
	assert.Nil(t, Document(nil).Clone())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", int64(2), 2.0, true},
		{"different numbers", 2.0, 3.0, false},
		{"strings", "a", "a", true},
		{"nested maps", map[string]any{"x": []any{1.0}}, Document{"x": []any{int64(1)}}, true},
		{"map size", map[string]any{"x": 1.0}, map[string]any{}, false},
		{"slice vs scalar", []any{1.0}, 1.0, false},
		{"nil", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestDocument_Lookup(t *testing.T) {
	doc := Document{"user": map[string]any{"name": "ann", "age": 3.0}, "flat": "x"}

	v, ok := doc.Lookup("user.name")
	assert.True(t, ok)
	assert.Equal(t, "ann", v)

	v, ok = doc.Lookup("flat")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = doc.Lookup("flat.deeper")
	assert.False(t, ok)
	_, ok = doc.Lookup("missing")
	assert.False(t, ok)
}
