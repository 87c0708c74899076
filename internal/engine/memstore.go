package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/pkg/engine"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// MemStore is the embedded, thread-safe document engine.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [collection][id]data
	data      map[string]map[string]map[string]any
	persister *Persistence
	clock     *engine.Clock
	logger    *zap.SugaredLogger
	seq       uint64
	wg        sync.WaitGroup
}

// Option configures a MemStore.
type Option func(*MemStore)

// WithClock replaces the server clock, mostly for tests.
func WithClock(c *engine.Clock) Option {
	return func(m *MemStore) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger handed to the persister.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *MemStore) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and an optional persister.
func NewMemStore(initialData map[string]map[string]map[string]any, p *Persistence, opts ...Option) *MemStore {
	if initialData == nil {
		initialData = make(map[string]map[string]map[string]any)
	}
	m := &MemStore{
		data:      initialData,
		persister: p,
		clock:     engine.NewClock(nil),
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close flushes pending persistence.
func (m *MemStore) Close() error {
	m.Wait()
	return nil
}

// --- Interface Implementation ---

func (m *MemStore) List(_ context.Context, collection string, filters ...sdk.Filter) ([]sdk.Document, error) {
	if err := engine.ValidateCollection(collection); err != nil {
		return nil, err
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]sdk.Document, 0, len(m.data[collection]))
	for id, data := range m.data[collection] {
		if !sdk.MatchAll(data, filters) {
			continue
		}
		docs = append(docs, sdk.Document{ID: id, Data: engine.CloneData(data)})
	}
	return docs, nil
}

func (m *MemStore) Get(_ context.Context, collection, id string) (sdk.Document, error) {
	if err := engine.ValidateKey(collection, id); err != nil {
		return sdk.Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[collection][id]
	if !ok {
		return sdk.Document{}, engine.ErrNotFound
	}
	return sdk.Document{ID: id, Data: engine.CloneData(data)}, nil
}

func (m *MemStore) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := m.InsertAt(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MemStore) InsertAt(_ context.Context, collection, id string, data map[string]any) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[collection] == nil {
		m.data[collection] = make(map[string]map[string]any)
	}
	// Stamped under the lock so writes to one id keep clock order.
	m.data[collection][id] = engine.Prepare(data, m.clock.Now())
	m.persistLocked(collection)
	return nil
}

func (m *MemStore) Merge(_ context.Context, collection, id string, partial map[string]any) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.data[collection][id]
	if !ok {
		return engine.ErrNotFound
	}
	m.data[collection][id] = engine.Merge(current, engine.Prepare(partial, m.clock.Now()))
	m.persistLocked(collection)
	return nil
}

func (m *MemStore) Remove(_ context.Context, collection, id string) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[collection][id]; !ok {
		return nil
	}
	delete(m.data[collection], id)
	if len(m.data[collection]) == 0 {
		delete(m.data, collection)
	}
	m.persistLocked(collection)
	return nil
}

func (m *MemStore) Collections(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.data))
	for name := range m.data {
		list = append(list, name)
	}
	sort.Strings(list)
	return list, nil
}

// Snapshot returns a deep copy of every collection.
func (m *MemStore) Snapshot() map[string]map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]map[string]any, len(m.data))
	for name := range m.data {
		out[name] = m.copyCollection(name)
	}
	return out
}

// persistLocked schedules a background save of one collection.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) persistLocked(collection string) {
	if m.persister == nil {
		return
	}
	m.seq++
	seq := m.seq
	snapshot := m.copyCollection(collection)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.persister.SaveCollection(collection, seq, snapshot)
	}()
}

// copyCollection creates a deep copy of a collection's documents.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyCollection(collection string) map[string]map[string]any {
	original := m.data[collection]
	out := make(map[string]map[string]any, len(original))
	for id, data := range original {
		out[id] = engine.CloneData(data)
	}
	return out
}
