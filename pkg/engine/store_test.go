package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/agricare/pkg/sdk"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("IST", 19800))
	c := NewClock(func() time.Time { return frozen })

	first := c.Now()
	second := c.Now()
	assert.Equal(t, time.UTC, first.Location())
	assert.True(t, second.After(first))
	assert.Equal(t, time.Nanosecond, second.Sub(first))
}

func TestClock_WallClockStepsBack(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return now })

	first := c.Now()
	now = now.Add(-time.Hour)
	assert.True(t, c.Now().After(first))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("cropEntries", "abc-123"))
	for _, tc := range []struct{ col, id string }{
		{"", "x"},
		{"crop entries", "x"},
		{"a/b", "x"},
		{"a:b", "x"},
		{"cropEntries", ""},
		{"cropEntries", "has space"},
		{"cropEntries", "a/b"},
	} {
		assert.ErrorIs(t, ValidateKey(tc.col, tc.id), ErrInvalidArgument, "%q %q", tc.col, tc.id)
	}
}

func TestPrepare(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 5, time.UTC)
	in := map[string]any{
		"id":        "dropped",
		"createdAt": sdk.ServerTimestamp(),
		"landArea":  3,
		"tags":      []string{"a"},
		"nested":    map[string]any{"k": "v"},
	}

	out := Prepare(in, now)
	assert.NotContains(t, out, "id")
	assert.Equal(t, "2024-05-01T12:00:00.000000005Z", out["createdAt"])
	assert.Equal(t, float64(3), out["landArea"])
	assert.Equal(t, []any{"a"}, out["tags"])

	// The input is left untouched.
	assert.Equal(t, "dropped", in["id"])
	out["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", in["nested"].(map[string]any)["k"])
}

func TestMergeAndClone(t *testing.T) {
	base := map[string]any{"a": 1.0, "b": "x"}
	merged := Merge(base, map[string]any{"b": "y", "c": true})
	assert.Equal(t, map[string]any{"a": 1.0, "b": "y", "c": true}, merged)
	assert.Equal(t, "x", base["b"])

	data := map[string]any{"list": []any{map[string]any{"k": 1.0}}}
	clone := CloneData(data)
	clone["list"].([]any)[0].(map[string]any)["k"] = 2.0
	assert.Equal(t, 1.0, data["list"].([]any)[0].(map[string]any)["k"])
	require.Nil(t, CloneData(nil))
}
