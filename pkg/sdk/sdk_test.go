package sdk_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/agricare/internal/engine"
	"github.com/celerix-dev/agricare/internal/engine/enginetest"
	"github.com/celerix-dev/agricare/internal/server"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

type crop struct {
	ID       string  `json:"id"`
	CropType string  `json:"cropType"`
	LandArea float64 `json:"landArea"`
}

// mockReader implements DocReader for testing the generic helpers.
type mockReader struct {
	mock.Mock
}

func (m *mockReader) List(ctx context.Context, collection string, filters ...sdk.Filter) ([]sdk.Document, error) {
	args := m.Called(ctx, collection, filters)
	return args.Get(0).([]sdk.Document), args.Error(1)
}

func (m *mockReader) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	args := m.Called(ctx, collection, id)
	return args.Get(0).(sdk.Document), args.Error(1)
}

func TestGetAs_JSONConversion(t *testing.T) {
	r := new(mockReader)
	// JSON unmarshals numbers as float64
	r.On("Get", mock.Anything, "cropEntries", "c1").Return(sdk.Document{
		ID:   "c1",
		Data: map[string]any{"cropType": "Rice", "landArea": float64(2.5)},
	}, nil)

	got, err := sdk.GetAs[crop](context.Background(), r, "cropEntries", "c1")
	require.NoError(t, err)
	assert.Equal(t, crop{ID: "c1", CropType: "Rice", LandArea: 2.5}, got)
	r.AssertExpectations(t)
}

func TestGetAs_PropagatesNotFound(t *testing.T) {
	r := new(mockReader)
	r.On("Get", mock.Anything, "cropEntries", "nope").Return(sdk.Document{}, sdk.ErrNotFound)

	_, err := sdk.GetAs[crop](context.Background(), r, "cropEntries", "nope")
	assert.ErrorIs(t, err, sdk.ErrNotFound)
}

func TestListAs(t *testing.T) {
	r := new(mockReader)
	r.On("List", mock.Anything, "cropEntries", mock.Anything).Return([]sdk.Document{
		{ID: "a", Data: map[string]any{"cropType": "Rice"}},
		{ID: "b", Data: map[string]any{"cropType": "Wheat", "id": "ignored"}},
	}, nil)

	got, err := sdk.ListAs[crop](context.Background(), r, "cropEntries")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestEncode(t *testing.T) {
	out, err := sdk.Encode(struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
		Stamp any    `json:"stamp"`
	}{"x", 3, sdk.ServerTimestamp()})
	require.NoError(t, err)
	assert.Equal(t, "x", out["name"])
	assert.Equal(t, float64(3), out["count"])
	assert.True(t, sdk.IsServerTimestamp(out["stamp"]))

	m := map[string]any{"k": "v"}
	same, err := sdk.Encode(m)
	require.NoError(t, err)
	assert.Equal(t, m, same)
}

func TestIsServerTimestamp(t *testing.T) {
	ts := sdk.ServerTimestamp()
	assert.True(t, sdk.IsServerTimestamp(ts))
	assert.True(t, sdk.IsServerTimestamp(&ts))
	assert.True(t, sdk.IsServerTimestamp(map[string]any{"$transform": "serverTimestamp"}))
	assert.False(t, sdk.IsServerTimestamp(map[string]any{"$transform": "serverTimestamp", "x": 1}))
	assert.False(t, sdk.IsServerTimestamp("serverTimestamp"))
	assert.False(t, sdk.IsServerTimestamp(nil))
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, sdk.Where("userId", sdk.OpEq, "u1").Validate())
	assert.NoError(t, sdk.Where("status", sdk.OpIn, []string{"planned", "growing"}).Validate())
	assert.ErrorIs(t, sdk.Where("", sdk.OpEq, 1).Validate(), sdk.ErrInvalidArgument)
	assert.ErrorIs(t, sdk.Where("a", "~", 1).Validate(), sdk.ErrInvalidArgument)
	assert.ErrorIs(t, sdk.Where("a", sdk.OpIn, "not-a-list").Validate(), sdk.ErrInvalidArgument)
}

func TestFilter_Match(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	doc := map[string]any{
		"userId":   "u1",
		"landArea": float64(3),
		"status":   "growing",
		"created":  early.Format(sdk.TimeLayout),
	}

	cases := []struct {
		name string
		f    sdk.Filter
		want bool
	}{
		{"eq string", sdk.Where("userId", sdk.OpEq, "u1"), true},
		{"eq int vs float", sdk.Where("landArea", sdk.OpEq, 3), true},
		{"ne", sdk.Where("userId", sdk.OpNe, "u2"), true},
		{"lt", sdk.Where("landArea", sdk.OpLt, 4), true},
		{"gte", sdk.Where("landArea", sdk.OpGte, 3), true},
		{"gt false", sdk.Where("landArea", sdk.OpGt, 3), false},
		{"in", sdk.Where("status", sdk.OpIn, []string{"planned", "growing"}), true},
		{"in miss", sdk.Where("status", sdk.OpIn, []string{"harvested"}), false},
		{"time lt", sdk.Where("created", sdk.OpLt, late), true},
		{"missing field eq", sdk.Where("nope", sdk.OpEq, nil), false},
		{"missing field ne", sdk.Where("nope", sdk.OpNe, "x"), false},
		{"mixed types", sdk.Where("landArea", sdk.OpLt, "z"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Match(doc))
		})
	}

	assert.True(t, sdk.MatchAll(doc, nil))
	assert.False(t, sdk.MatchAll(doc, []sdk.Filter{
		sdk.Where("userId", sdk.OpEq, "u1"),
		sdk.Where("status", sdk.OpEq, "planned"),
	}))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, sdk.CodeNotFound, sdk.ErrorCode(fmt.Errorf("wrapped: %w", sdk.ErrNotFound)))
	assert.Equal(t, sdk.CodeInvalid, sdk.ErrorCode(sdk.ErrInvalidArgument))
	assert.Equal(t, sdk.CodeUnavailable, sdk.ErrorCode(sdk.ErrUnavailable))
	assert.Equal(t, sdk.CodeInternal, sdk.ErrorCode(fmt.Errorf("boom")))
}

func startDaemon(t *testing.T) string {
	t.Helper()
	router := server.NewRouter(engine.NewMemStore(nil, nil))
	go router.Listen("0")
	require.Eventually(t, func() bool { return router.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { router.Stop() })
	return fmt.Sprintf("127.0.0.1:%d", router.Addr().(*net.TCPAddr).Port)
}

func TestClient_Integration(t *testing.T) {
	ctx := context.Background()
	client, err := sdk.Connect(startDaemon(t), sdk.WithPlainTCP())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(ctx))

	id, err := client.Insert(ctx, "cropEntries", map[string]any{
		"cropType":  "Rice",
		"landArea":  2,
		"createdAt": sdk.ServerTimestamp(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := sdk.GetAs[crop](ctx, client, "cropEntries", id)
	require.NoError(t, err)
	assert.Equal(t, crop{ID: id, CropType: "Rice", LandArea: 2}, got)

	doc, err := client.Get(ctx, "cropEntries", id)
	require.NoError(t, err)
	stamp, ok := doc.Data["createdAt"].(string)
	require.True(t, ok, "server timestamp should be resolved to a string")
	_, err = time.Parse(sdk.TimeLayout, stamp)
	assert.NoError(t, err)

	require.NoError(t, client.Merge(ctx, "cropEntries", id, map[string]any{"status": "growing"}))
	docs, err := client.List(ctx, "cropEntries", sdk.Where("status", sdk.OpEq, "growing"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Rice", docs[0].Data["cropType"])

	require.NoError(t, client.InsertAt(ctx, "test_items", "t1", map[string]any{"name": "probe"}))
	cols, err := client.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cropEntries", "test_items"}, cols)

	require.NoError(t, client.Remove(ctx, "cropEntries", id))
	_, err = client.Get(ctx, "cropEntries", id)
	assert.ErrorIs(t, err, sdk.ErrNotFound)
	var perr *sdk.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, sdk.CodeNotFound, perr.Code)

	err = client.Merge(ctx, "cropEntries", id, map[string]any{"x": 1})
	assert.ErrorIs(t, err, sdk.ErrNotFound)

	_, err = client.List(ctx, "cropEntries", sdk.Where("x", "~", 1))
	assert.ErrorIs(t, err, sdk.ErrInvalidArgument)
}

func TestClient_ConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = sdk.Connect(addr, sdk.WithPlainTCP())
	assert.ErrorIs(t, err, sdk.ErrUnavailable)
}

func TestClient_RetriesAndFailsWhenDaemonGoesAway(t *testing.T) {
	router := server.NewRouter(engine.NewMemStore(nil, nil))
	go router.Listen("0")
	require.Eventually(t, func() bool { return router.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	addr := fmt.Sprintf("127.0.0.1:%d", router.Addr().(*net.TCPAddr).Port)

	client, err := sdk.Connect(addr, sdk.WithPlainTCP())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()))

	require.NoError(t, router.Stop())

	err = client.Ping(context.Background())
	assert.ErrorIs(t, err, sdk.ErrUnavailable)
}

func TestClient_HonoursCancelledContext(t *testing.T) {
	client, err := sdk.Connect(startDaemon(t), sdk.WithPlainTCP())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Collections(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Conformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) sdk.DocumentStore {
		client, err := sdk.Connect(startDaemon(t), sdk.WithPlainTCP())
		require.NoError(t, err)
		return client
	})
}

// startDroppingProxy forwards lines to upstream but hangs up instead of
// relaying the reply to the first write command it sees.
func startDroppingProxy(t *testing.T, upstream string) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	var dropped atomic.Bool
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				up, err := net.Dial("tcp", upstream)
				if err != nil {
					return
				}
				defer up.Close()

				in, out := bufio.NewReader(conn), bufio.NewReader(up)
				for {
					line, err := in.ReadString('\n')
					if err != nil {
						return
					}
					if _, err := fmt.Fprint(up, line); err != nil {
						return
					}
					reply, err := out.ReadString('\n')
					if err != nil {
						return
					}
					if strings.HasPrefix(line, "INSERT") && dropped.CompareAndSwap(false, true) {
						return
					}
					if _, err := fmt.Fprint(conn, reply); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return l.Addr().String()
}

func TestClient_InsertRetryAfterLostReplyStoresOnce(t *testing.T) {
	ctx := context.Background()
	store := engine.NewMemStore(nil, nil)
	router := server.NewRouter(store)
	go router.Listen("0")
	require.Eventually(t, func() bool { return router.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { router.Stop() })
	upstream := fmt.Sprintf("127.0.0.1:%d", router.Addr().(*net.TCPAddr).Port)

	client, err := sdk.Connect(startDroppingProxy(t, upstream), sdk.WithPlainTCP())
	require.NoError(t, err)
	defer client.Close()

	id, err := client.Insert(ctx, "cropEntries", map[string]any{"cropType": "Rice"})
	require.NoError(t, err)

	docs, err := store.List(ctx, "cropEntries")
	require.NoError(t, err)
	require.Len(t, docs, 1, "a retried insert must not store a second document")
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "Rice", docs[0].Data["cropType"])
}
