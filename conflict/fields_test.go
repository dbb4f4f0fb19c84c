package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangedFields(t *testing.T) {
	type note struct {
		ID    string   `json:"id"`
		Title string   `json:"title"`
		Body  string   `json:"body"`
		Tags  []string `json:"tags,omitempty"`
	}

	local := note{ID: "1", Title: "draft", Body: "same", Tags: []string{"a"}}
	server := map[string]any{
		"id":       "1",
		"title":    "final",
		"body":     "same",
		"tags":     []any{"a", "b"},
		"serverAt": "2026-01-01T00:00:00Z",
	}

	fields, err := ChangedFields(local, server)
	require.NoError(t, err)
	assert.Equal(t, []string{"tags", "title"}, fields, "server-only fields are ignored")
}

func TestChangedFields_NoDifference(t *testing.T) {
	fields, err := ChangedFields(map[string]any{"a": 1}, map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestChangedFields_NotAnObject(t *testing.T) {
	_, err := ChangedFields([]int{1}, map[string]any{})
	assert.Error(t, err)
}

func TestTopLevelField(t *testing.T) {
	assert.Equal(t, "title", topLevelField("/title"))
	assert.Equal(t, "tags", topLevelField("/tags/0"))
	assert.Equal(t, "a/b", topLevelField("/a~1b/c"))
	assert.Equal(t, "", topLevelField(""))
}

func TestFieldMapCopiesMaps(t *testing.T) {
	in := map[string]any{"a": 1}
	out, err := FieldMap(in)
	require.NoError(t, err)
	out["a"] = 2
	assert.Equal(t, 1, in["a"])
}
