package records_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	memengine "github.com/celerix-dev/agricare/internal/engine"
	"github.com/celerix-dev/agricare/internal/engine/sqlite"
	"github.com/celerix-dev/agricare/internal/metrics"
	"github.com/celerix-dev/agricare/internal/records"
	"github.com/celerix-dev/agricare/pkg/engine"
	"github.com/celerix-dev/agricare/pkg/schema"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// recordingHook collects every mutation it is notified of.
type recordingHook struct {
	mu        sync.Mutex
	mutations []records.Mutation
}

func (h *recordingHook) AfterMutation(_ context.Context, m records.Mutation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mutations = append(h.mutations, m)
	return nil
}

func (h *recordingHook) all() []records.Mutation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]records.Mutation(nil), h.mutations...)
}

// RecordStoreSuite runs the record store contract against one engine.
type RecordStoreSuite struct {
	suite.Suite
	open  func(t *testing.T, clock *engine.Clock) sdk.DocumentStore
	db    sdk.DocumentStore
	hook  *recordingHook
	items *records.Store[schema.TestItem]
	crops *records.Store[schema.CropEntry]
}

func TestRecordStore_Memory(t *testing.T) {
	suite.Run(t, &RecordStoreSuite{
		open: func(_ *testing.T, clock *engine.Clock) sdk.DocumentStore {
			return memengine.NewMemStore(nil, nil, memengine.WithClock(clock))
		},
	})
}

func TestRecordStore_MemoryPersisted(t *testing.T) {
	suite.Run(t, &RecordStoreSuite{
		open: func(t *testing.T, clock *engine.Clock) sdk.DocumentStore {
			store, err := memengine.OpenDir(t.TempDir(), memengine.WithClock(clock))
			if err != nil {
				t.Fatalf("open store: %v", err)
			}
			return store
		},
	})
}

func TestRecordStore_SQLite(t *testing.T) {
	suite.Run(t, &RecordStoreSuite{
		open: func(t *testing.T, clock *engine.Clock) sdk.DocumentStore {
			store, err := sqlite.New(filepath.Join(t.TempDir(), "records.db"), sqlite.WithClock(clock))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return store
		},
	})
}

func (s *RecordStoreSuite) SetupTest() {
	s.openWithClock(engine.NewClock(nil))
}

func (s *RecordStoreSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
	s.db = nil
}

func (s *RecordStoreSuite) openWithClock(clock *engine.Clock) {
	if s.db != nil {
		_ = s.db.Close()
	}
	s.db = s.open(s.T(), clock)
	s.hook = &recordingHook{}
	s.items = records.TestItems(s.db, records.WithHook(s.hook))
	s.crops = records.CropEntries(s.db, records.WithHook(s.hook))
}

func (s *RecordStoreSuite) TestCreate() {
	ctx := context.Background()

	s.Run("returns payload with generated id", func() {
		created, err := s.items.Create(ctx, schema.TestItem{Name: "seed drill", Description: "rented"}, "")
		s.Require().NoError(err)
		s.NotEmpty(created.ID)
		s.Equal("seed drill", created.Name)
		s.Nil(created.CreatedAt, "timestamps resolve server side")
	})

	s.Run("stored record carries payload and timestamps", func() {
		created, err := s.items.Create(ctx, schema.TestItem{Name: "tractor", Description: "blue", CreatedBy: "u1"}, "")
		s.Require().NoError(err)

		got, found, err := s.items.GetByID(ctx, created.ID)
		s.Require().NoError(err)
		s.Require().True(found)
		s.Equal(created.ID, got.ID)
		s.Equal("tractor", got.Name)
		s.Equal("blue", got.Description)
		s.Equal("u1", got.CreatedBy)
		s.Require().NotNil(got.CreatedAt)
		s.Require().NotNil(got.UpdatedAt)
		s.False(got.UpdatedAt.Before(*got.CreatedAt))
	})

	s.Run("payload id is ignored", func() {
		payload := schema.TestItem{Name: "plough"}
		payload.ID = "chosen-by-caller"
		created, err := s.items.Create(ctx, payload, "")
		s.Require().NoError(err)
		s.NotEqual("chosen-by-caller", created.ID)
	})

	s.Run("crop entry without acting user", func() {
		created, err := s.crops.Create(ctx, schema.CropEntry{CropType: "Rice", LandArea: 5}, "")
		s.Require().NoError(err)
		s.NotEmpty(created.ID)
		s.Equal("Rice", created.CropType)

		all, err := s.crops.List(ctx)
		s.Require().NoError(err)
		ids := make([]string, 0, len(all))
		for _, c := range all {
			ids = append(ids, c.ID)
		}
		s.Contains(ids, created.ID)
	})
}

func (s *RecordStoreSuite) TestCreateWithID() {
	ctx := context.Background()

	first, err := s.items.CreateWithID(ctx, "fixed", schema.TestItem{Name: "v1", Description: "old"}, "")
	s.Require().NoError(err)
	s.Equal("fixed", first.ID)

	_, err = s.items.CreateWithID(ctx, "fixed", schema.TestItem{Name: "v2"}, "")
	s.Require().NoError(err)

	got, found, err := s.items.GetByID(ctx, "fixed")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal("v2", got.Name)
	s.Empty(got.Description, "upsert replaces the whole record")

	_, err = s.items.CreateWithID(ctx, "", schema.TestItem{Name: "x"}, "")
	s.Require().ErrorIs(err, records.ErrInvalidArgument)
}

func (s *RecordStoreSuite) TestUpdate() {
	ctx := context.Background()

	s.Run("changes only the patched field and advances updatedAt", func() {
		created, err := s.items.Create(ctx, schema.TestItem{Name: "hoe", Description: "steel", CreatedBy: "u1"}, "")
		s.Require().NoError(err)
		before, _, err := s.items.GetByID(ctx, created.ID)
		s.Require().NoError(err)

		updated, err := s.items.Update(ctx, created.ID, records.Patch{"description": "iron"}, "")
		s.Require().NoError(err)
		s.Equal("iron", updated.Description)

		after, found, err := s.items.GetByID(ctx, created.ID)
		s.Require().NoError(err)
		s.Require().True(found)
		s.Equal("iron", after.Description)
		s.Equal("hoe", after.Name)
		s.Equal("u1", after.CreatedBy)
		s.True(after.CreatedAt.Equal(*before.CreatedAt))
		s.True(after.UpdatedAt.After(*before.UpdatedAt))
	})

	s.Run("id and createdAt cannot be patched", func() {
		created, err := s.items.Create(ctx, schema.TestItem{Name: "rake"}, "")
		s.Require().NoError(err)
		before, _, err := s.items.GetByID(ctx, created.ID)
		s.Require().NoError(err)

		updated, err := s.items.Update(ctx, created.ID, records.Patch{
			"id":        "other",
			"createdAt": "1999-01-01T00:00:00.000000000Z",
			"name":      "rake 2",
		}, "")
		s.Require().NoError(err)
		s.Equal(created.ID, updated.ID)
		s.Equal("rake 2", updated.Name)
		s.True(updated.CreatedAt.Equal(*before.CreatedAt))
	})

	s.Run("missing record is not found", func() {
		_, err := s.items.Update(ctx, "does-not-exist", records.Patch{"name": "ghost"}, "u1")
		s.Require().ErrorIs(err, records.ErrNotFound)

		_, found, err := s.items.GetByID(ctx, "does-not-exist")
		s.Require().NoError(err)
		s.False(found, "update must not create the record")
	})
}

func (s *RecordStoreSuite) TestUpdateAdvancesWithFrozenClock() {
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.openWithClock(engine.NewClock(func() time.Time { return frozen }))
	ctx := context.Background()

	created, err := s.items.Create(ctx, schema.TestItem{Name: "sickle"}, "")
	s.Require().NoError(err)
	before, _, err := s.items.GetByID(ctx, created.ID)
	s.Require().NoError(err)

	after, err := s.items.Update(ctx, created.ID, records.Patch{"name": "scythe"}, "")
	s.Require().NoError(err)
	s.True(after.UpdatedAt.After(*before.UpdatedAt))
}

func (s *RecordStoreSuite) TestDelete() {
	ctx := context.Background()

	created, err := s.items.Create(ctx, schema.TestItem{Name: "shovel"}, "")
	s.Require().NoError(err)

	s.Require().NoError(s.items.Delete(ctx, created.ID, ""))
	_, found, err := s.items.GetByID(ctx, created.ID)
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.items.Delete(ctx, created.ID, ""), "second delete is a no-op")
}

func (s *RecordStoreSuite) TestList() {
	ctx := context.Background()

	for _, c := range []schema.CropEntry{
		{CropType: "Rice", LandArea: 5, Meta: schema.Meta{UserID: "u1"}},
		{CropType: "Wheat", LandArea: 2, Meta: schema.Meta{UserID: "u1"}},
		{CropType: "Rice", LandArea: 8, Meta: schema.Meta{UserID: "u2"}},
		{CropType: "Cotton", LandArea: 3},
	} {
		_, err := s.crops.Create(ctx, c, "")
		s.Require().NoError(err)
	}

	s.Run("no filters returns everything", func() {
		all, err := s.crops.List(ctx)
		s.Require().NoError(err)
		s.Len(all, 4)
	})

	s.Run("equality filter", func() {
		rice, err := s.crops.List(ctx, sdk.Where("cropType", sdk.OpEq, "Rice"))
		s.Require().NoError(err)
		s.Len(rice, 2)
		for _, c := range rice {
			s.Equal("Rice", c.CropType)
		}
	})

	s.Run("range and owner filters combine", func() {
		got, err := s.crops.List(ctx, records.OwnedBy("u1"), sdk.Where("landArea", sdk.OpGte, 3))
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal("Rice", got[0].CropType)
	})

	s.Run("missing field never matches", func() {
		got, err := s.crops.List(ctx, sdk.Where("userId", sdk.OpNe, "u1"))
		s.Require().NoError(err)
		s.Len(got, 1)
	})

	s.Run("in filter", func() {
		got, err := s.crops.List(ctx, sdk.Where("cropType", sdk.OpIn, []string{"Wheat", "Cotton"}))
		s.Require().NoError(err)
		s.Len(got, 2)
	})

	s.Run("invalid filter is rejected", func() {
		_, err := s.crops.List(ctx, sdk.Where("cropType", sdk.Op("~="), "Rice"))
		s.Require().ErrorIs(err, records.ErrInvalidArgument)
	})
}

func (s *RecordStoreSuite) TestHookNotifications() {
	ctx := context.Background()

	s.Run("acting user gets exactly one notification per write", func() {
		created, err := s.items.Create(ctx, schema.TestItem{Name: "sprayer"}, "u1")
		s.Require().NoError(err)
		_, err = s.items.Update(ctx, created.ID, records.Patch{"name": "sprayer 2"}, "u1")
		s.Require().NoError(err)
		s.Require().NoError(s.items.Delete(ctx, created.ID, "u1"))

		s.Equal([]records.Mutation{
			{Kind: records.KindCreate, Collection: schema.TestItems, EntityID: created.ID, ActingUserID: "u1"},
			{Kind: records.KindUpdate, Collection: schema.TestItems, EntityID: created.ID, ActingUserID: "u1"},
			{Kind: records.KindDelete, Collection: schema.TestItems, EntityID: created.ID, ActingUserID: "u1"},
		}, s.hook.all())
	})

	s.Run("no acting user, no notification", func() {
		s.hook = &recordingHook{}
		s.items = records.TestItems(s.db, records.WithHook(s.hook))

		created, err := s.items.Create(ctx, schema.TestItem{Name: "harrow"}, "")
		s.Require().NoError(err)
		_, err = s.items.Update(ctx, created.ID, records.Patch{"name": "harrow 2"}, "")
		s.Require().NoError(err)
		s.Require().NoError(s.items.Delete(ctx, created.ID, ""))

		s.Empty(s.hook.all())
	})

	s.Run("failed write does not notify", func() {
		s.hook = &recordingHook{}
		s.items = records.TestItems(s.db, records.WithHook(s.hook))

		_, err := s.items.Update(ctx, "missing", records.Patch{"name": "x"}, "u1")
		s.Require().Error(err)
		s.Empty(s.hook.all())
	})
}

// mockHook lets tests script hook failures.
type mockHook struct {
	mock.Mock
}

func (m *mockHook) AfterMutation(ctx context.Context, mu records.Mutation) error {
	args := m.Called(ctx, mu)
	return args.Error(0)
}

func TestCreate_HookFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	db := memengine.NewMemStore(nil, nil)
	m := metrics.Nop()

	hook := new(mockHook)
	hook.On("AfterMutation", mock.Anything, mock.MatchedBy(func(mu records.Mutation) bool {
		return mu.Kind == records.KindCreate && mu.ActingUserID == "u1"
	})).Return(errors.New("audit backend down")).Once()

	items := records.TestItems(db, records.WithHook(hook), records.WithMetrics(m))

	created, err := items.Create(ctx, schema.TestItem{Name: "trailer"}, "u1")
	if err != nil {
		t.Fatalf("create should succeed when the hook fails: %v", err)
	}

	got, found, err := items.GetByID(ctx, created.ID)
	if err != nil || !found {
		t.Fatalf("record should be retrievable: found=%v err=%v", found, err)
	}
	if got.Name != "trailer" {
		t.Errorf("expected trailer, got %q", got.Name)
	}
	if v := testutil.ToFloat64(m.AuditFailures); v != 1 {
		t.Errorf("expected one audit failure counted, got %v", v)
	}
	hook.AssertExpectations(t)
}

// mockDB is a DocumentStore whose every call is scripted.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) List(ctx context.Context, collection string, filters ...sdk.Filter) ([]sdk.Document, error) {
	args := m.Called(ctx, collection, filters)
	docs, _ := args.Get(0).([]sdk.Document)
	return docs, args.Error(1)
}

func (m *mockDB) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	args := m.Called(ctx, collection, id)
	doc, _ := args.Get(0).(sdk.Document)
	return doc, args.Error(1)
}

func (m *mockDB) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	args := m.Called(ctx, collection, data)
	return args.String(0), args.Error(1)
}

func (m *mockDB) InsertAt(ctx context.Context, collection, id string, data map[string]any) error {
	return m.Called(ctx, collection, id, data).Error(0)
}

func (m *mockDB) Merge(ctx context.Context, collection, id string, partial map[string]any) error {
	return m.Called(ctx, collection, id, partial).Error(0)
}

func (m *mockDB) Remove(ctx context.Context, collection, id string) error {
	return m.Called(ctx, collection, id).Error(0)
}

func (m *mockDB) Collections(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

func (m *mockDB) Close() error { return nil }

func TestStoreUnavailableSurfacesUnchanged(t *testing.T) {
	ctx := context.Background()
	down := errors.Join(sdk.ErrUnavailable, errors.New("dial tcp: connection refused"))

	db := new(mockDB)
	db.On("List", mock.Anything, schema.TestItems, mock.Anything).Return(nil, down).Once()
	db.On("Get", mock.Anything, schema.TestItems, "x").Return(nil, down).Once()
	db.On("Insert", mock.Anything, schema.TestItems, mock.Anything).Return("", down).Once()
	db.On("Remove", mock.Anything, schema.TestItems, "x").Return(down).Once()

	hook := new(mockHook)
	items := records.TestItems(db, records.WithHook(hook))

	_, err := items.List(ctx)
	if !errors.Is(err, records.ErrStoreUnavailable) {
		t.Errorf("List: expected ErrStoreUnavailable, got %v", err)
	}
	_, _, err = items.GetByID(ctx, "x")
	if !errors.Is(err, records.ErrStoreUnavailable) {
		t.Errorf("GetByID: expected ErrStoreUnavailable, got %v", err)
	}
	_, err = items.Create(ctx, schema.TestItem{Name: "x"}, "u1")
	if !errors.Is(err, records.ErrStoreUnavailable) {
		t.Errorf("Create: expected ErrStoreUnavailable, got %v", err)
	}
	if err := items.Delete(ctx, "x", "u1"); !errors.Is(err, records.ErrStoreUnavailable) {
		t.Errorf("Delete: expected ErrStoreUnavailable, got %v", err)
	}

	db.AssertExpectations(t)
	hook.AssertNotCalled(t, "AfterMutation", mock.Anything, mock.Anything)
}

func TestCreate_WritesServerTimestamps(t *testing.T) {
	db := new(mockDB)
	db.On("Insert", mock.Anything, schema.TestItems, mock.MatchedBy(func(data map[string]any) bool {
		_, hasID := data["id"]
		return !hasID &&
			sdk.IsServerTimestamp(data["createdAt"]) &&
			sdk.IsServerTimestamp(data["updatedAt"]) &&
			data["name"] == "bucket"
	})).Return("generated", nil).Once()

	items := records.TestItems(db)
	payload := schema.TestItem{Name: "bucket"}
	payload.ID = "ignored"

	created, err := items.Create(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "generated" {
		t.Errorf("expected generated id, got %q", created.ID)
	}
	db.AssertExpectations(t)
}
