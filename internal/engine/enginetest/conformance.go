// Package enginetest holds the behaviour every DocumentStore backend must share.
package enginetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Factory returns an empty store; the harness closes it.
type Factory func(t *testing.T) sdk.DocumentStore

// Run exercises open against the DocumentStore contract.
func Run(t *testing.T, open Factory) {
	t.Run("InsertGetRoundTrip", func(t *testing.T) { insertGet(t, open(t)) })
	t.Run("InsertAtReplaces", func(t *testing.T) { insertAtReplaces(t, open(t)) })
	t.Run("MergeIsShallow", func(t *testing.T) { mergeIsShallow(t, open(t)) })
	t.Run("MergeMissingIsNotFound", func(t *testing.T) { mergeMissing(t, open(t)) })
	t.Run("RemoveIsIdempotent", func(t *testing.T) { removeIdempotent(t, open(t)) })
	t.Run("ListFilters", func(t *testing.T) { listFilters(t, open(t)) })
	t.Run("ServerTimestamps", func(t *testing.T) { serverTimestamps(t, open(t)) })
	t.Run("Collections", func(t *testing.T) { collections(t, open(t)) })
	t.Run("EmptiedCollectionsAreDropped", func(t *testing.T) { emptiedCollections(t, open(t)) })
	t.Run("InvalidKeys", func(t *testing.T) { invalidKeys(t, open(t)) })
}

func insertGet(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	id, err := db.Insert(ctx, "cropEntries", map[string]any{
		"id":       "client-supplied",
		"cropType": "Rice",
		"landArea": 2.5,
		"tags":     []string{"kharif"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.NotEqual(t, "client-supplied", id)

	doc, err := db.Get(ctx, "cropEntries", id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, map[string]any{
		"cropType": "Rice",
		"landArea": 2.5,
		"tags":     []any{"kharif"},
	}, doc.Data)

	_, err = db.Get(ctx, "cropEntries", "missing")
	assert.ErrorIs(t, err, sdk.ErrNotFound)
}

func insertAtReplaces(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertAt(ctx, "test_items", "t1", map[string]any{"name": "a", "extra": true}))
	require.NoError(t, db.InsertAt(ctx, "test_items", "t1", map[string]any{"name": "b"}))

	doc, err := db.Get(ctx, "test_items", "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "b"}, doc.Data)
}

func mergeIsShallow(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertAt(ctx, "users", "u1", map[string]any{
		"email":   "a@b.c",
		"address": map[string]any{"city": "Pune", "pin": "411001"},
	}))
	require.NoError(t, db.Merge(ctx, "users", "u1", map[string]any{
		"displayName": "Asha",
		"address":     map[string]any{"city": "Nashik"},
	}))

	doc, err := db.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", doc.Data["email"])
	assert.Equal(t, "Asha", doc.Data["displayName"])
	assert.Equal(t, map[string]any{"city": "Nashik"}, doc.Data["address"])
}

func mergeMissing(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	err := db.Merge(context.Background(), "users", "ghost", map[string]any{"a": 1})
	assert.ErrorIs(t, err, sdk.ErrNotFound)

	_, err = db.Get(context.Background(), "users", "ghost")
	assert.ErrorIs(t, err, sdk.ErrNotFound)
}

func removeIdempotent(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertAt(ctx, "c", "1", map[string]any{"a": 1}))
	require.NoError(t, db.Remove(ctx, "c", "1"))
	require.NoError(t, db.Remove(ctx, "c", "1"))

	_, err := db.Get(ctx, "c", "1")
	assert.ErrorIs(t, err, sdk.ErrNotFound)
}

func listFilters(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	seed := map[string]map[string]any{
		"a": {"userId": "u1", "landArea": 1, "status": "planned"},
		"b": {"userId": "u1", "landArea": 5, "status": "growing"},
		"c": {"userId": "u2", "landArea": 3, "status": "growing"},
		"d": {"landArea": 9},
	}
	for id, data := range seed {
		require.NoError(t, db.InsertAt(ctx, "cropEntries", id, data))
	}

	ids := func(filters ...sdk.Filter) []string {
		docs, err := db.List(ctx, "cropEntries", filters...)
		require.NoError(t, err)
		out := make([]string, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.ID)
		}
		sort.Strings(out)
		return out
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids())
	assert.Equal(t, []string{"a", "b"}, ids(sdk.Where("userId", sdk.OpEq, "u1")))
	assert.Equal(t, []string{"b"}, ids(sdk.Where("userId", sdk.OpEq, "u1"), sdk.Where("landArea", sdk.OpGt, 2)))
	assert.Equal(t, []string{"b", "c"}, ids(sdk.Where("status", sdk.OpIn, []string{"growing", "harvested"})))
	// Documents without the field never match, not even "!=".
	assert.Equal(t, []string{"c"}, ids(sdk.Where("userId", sdk.OpNe, "u1")))
	assert.Empty(t, ids(sdk.Where("userId", sdk.OpEq, "nobody")))

	empty, err := db.List(ctx, "neverWritten")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = db.List(ctx, "cropEntries", sdk.Where("userId", "contains", "u"))
	assert.ErrorIs(t, err, sdk.ErrInvalidArgument)
}

func serverTimestamps(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.InsertAt(ctx, "activityLogs", "a1", map[string]any{"timestamp": sdk.ServerTimestamp()}))
	require.NoError(t, db.Merge(ctx, "activityLogs", "a1", map[string]any{"updatedAt": sdk.ServerTimestamp()}))

	doc, err := db.Get(ctx, "activityLogs", "a1")
	require.NoError(t, err)

	created, err := time.Parse(sdk.TimeLayout, doc.Data["timestamp"].(string))
	require.NoError(t, err)
	updated, err := time.Parse(sdk.TimeLayout, doc.Data["updatedAt"].(string))
	require.NoError(t, err)
	assert.True(t, created.After(before))
	assert.True(t, updated.After(created))
}

func collections(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertAt(ctx, "users", "u1", map[string]any{}))
	require.NoError(t, db.InsertAt(ctx, "cropEntries", "c1", map[string]any{}))

	cols, err := db.Collections(ctx)
	require.NoError(t, err)
	sort.Strings(cols)
	assert.Equal(t, []string{"cropEntries", "users"}, cols)
}

func emptiedCollections(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertAt(ctx, "users", "u1", map[string]any{}))
	require.NoError(t, db.InsertAt(ctx, "test_items", "t1", map[string]any{}))
	require.NoError(t, db.InsertAt(ctx, "test_items", "t2", map[string]any{}))

	require.NoError(t, db.Remove(ctx, "test_items", "t1"))
	cols, err := db.Collections(ctx)
	require.NoError(t, err)
	sort.Strings(cols)
	assert.Equal(t, []string{"test_items", "users"}, cols)

	require.NoError(t, db.Remove(ctx, "test_items", "t2"))
	cols, err = db.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, cols)

	require.NoError(t, db.InsertAt(ctx, "test_items", "t3", map[string]any{}))
	cols, err = db.Collections(ctx)
	require.NoError(t, err)
	sort.Strings(cols)
	assert.Equal(t, []string{"test_items", "users"}, cols)
}

func invalidKeys(t *testing.T, db sdk.DocumentStore) {
	defer db.Close()
	ctx := context.Background()

	_, err := db.Insert(ctx, "", map[string]any{})
	assert.ErrorIs(t, err, sdk.ErrInvalidArgument)
	assert.ErrorIs(t, db.InsertAt(ctx, "c", "", map[string]any{}), sdk.ErrInvalidArgument)
	assert.ErrorIs(t, db.Merge(ctx, "c", "a b", map[string]any{}), sdk.ErrInvalidArgument)
	assert.ErrorIs(t, db.Remove(ctx, "", "x"), sdk.ErrInvalidArgument)
	_, err = db.Get(ctx, "c", "")
	assert.ErrorIs(t, err, sdk.ErrInvalidArgument)
}
