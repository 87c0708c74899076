// Package records provides typed access to one collection of the document
// store. Every write is stamped with server timestamps, and writes made on
// behalf of a user are reported to an optional Hook once they have succeeded.
package records

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/internal/metrics"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Field names managed by the store.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldUserID    = "userId"
)

// Patch is a partial update applied with Update.
type Patch map[string]any

// Store is a typed accessor bound to a single collection.
// T is the record shape; its "id" JSON field receives the document id.
type Store[T any] struct {
	db         sdk.DocumentStore
	collection string
	hook       Hook
	stamped    []string
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
}

type options struct {
	hook    Hook
	stamped []string
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*options)

// WithHook sets the hook notified after successful writes.
func WithHook(h Hook) Option {
	return func(o *options) { o.hook = h }
}

// WithStampedFields names extra fields set to the server time on every write,
// alongside updatedAt.
func WithStampedFields(fields ...string) Option {
	return func(o *options) { o.stamped = append(o.stamped, fields...) }
}

// WithLogger sets the logger used for hook failures.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the collectors operations are counted in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New binds a Store to collection.
func New[T any](db sdk.DocumentStore, collection string, opts ...Option) *Store[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop()
	}
	return &Store[T]{
		db:         db,
		collection: collection,
		hook:       o.hook,
		stamped:    o.stamped,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Collection returns the collection name the store is bound to.
func (s *Store[T]) Collection() string {
	return s.collection
}

// List returns every record matching all filters, in no particular order.
func (s *Store[T]) List(ctx context.Context, filters ...sdk.Filter) ([]T, error) {
	docs, err := s.db.List(ctx, s.collection, filters...)
	s.metrics.ObserveRecord(s.collection, "list", err)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := sdk.Decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.collection, doc.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetByID returns the record with id. A missing record is reported through the
// boolean, not as an error.
func (s *Store[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if id == "" {
		return zero, false, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	doc, err := s.db.Get(ctx, s.collection, id)
	if errors.Is(err, sdk.ErrNotFound) {
		s.metrics.ObserveRecord(s.collection, "get", nil)
		return zero, false, nil
	}
	s.metrics.ObserveRecord(s.collection, "get", err)
	if err != nil {
		return zero, false, err
	}

	rec, err := sdk.Decode[T](doc)
	if err != nil {
		return zero, false, fmt.Errorf("decode %s/%s: %w", s.collection, id, err)
	}
	return rec, true, nil
}

// Create stores payload under a generated id. The returned record is the
// payload plus its id; server timestamps are not read back.
func (s *Store[T]) Create(ctx context.Context, payload T, actingUserID string) (T, error) {
	var zero T
	data, err := s.encode(payload)
	if err != nil {
		return zero, err
	}

	id, err := s.db.Insert(ctx, s.collection, s.stampCreate(data))
	s.metrics.ObserveRecord(s.collection, "create", err)
	if err != nil {
		return zero, err
	}

	s.notify(ctx, Mutation{Kind: KindCreate, Collection: s.collection, EntityID: id, ActingUserID: actingUserID})
	return s.decode(id, data)
}

// CreateWithID stores payload under id, replacing any record already there.
func (s *Store[T]) CreateWithID(ctx context.Context, id string, payload T, actingUserID string) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	data, err := s.encode(payload)
	if err != nil {
		return zero, err
	}

	err = s.db.InsertAt(ctx, s.collection, id, s.stampCreate(data))
	s.metrics.ObserveRecord(s.collection, "create", err)
	if err != nil {
		return zero, err
	}

	s.notify(ctx, Mutation{Kind: KindCreateWithID, Collection: s.collection, EntityID: id, ActingUserID: actingUserID})
	return s.decode(id, data)
}

// Update merges patch into the record with id and returns the stored result.
// The identifier and creation time cannot be changed; a missing record is
// ErrNotFound.
func (s *Store[T]) Update(ctx context.Context, id string, patch Patch, actingUserID string) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	write := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		write[k] = v
	}
	write[FieldUpdatedAt] = sdk.ServerTimestamp()
	for _, f := range s.stamped {
		write[f] = sdk.ServerTimestamp()
	}

	err := s.db.Merge(ctx, s.collection, id, write)
	s.metrics.ObserveRecord(s.collection, "update", err)
	if err != nil {
		return zero, err
	}

	s.notify(ctx, Mutation{Kind: KindUpdate, Collection: s.collection, EntityID: id, ActingUserID: actingUserID})

	doc, err := s.db.Get(ctx, s.collection, id)
	if err != nil {
		return zero, err
	}
	return sdk.Decode[T](doc)
}

// Delete removes the record with id. Deleting a missing record succeeds.
func (s *Store[T]) Delete(ctx context.Context, id string, actingUserID string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	err := s.db.Remove(ctx, s.collection, id)
	s.metrics.ObserveRecord(s.collection, "delete", err)
	if err != nil {
		return err
	}

	s.notify(ctx, Mutation{Kind: KindDelete, Collection: s.collection, EntityID: id, ActingUserID: actingUserID})
	return nil
}

// notify runs the hook for writes made on behalf of a user.
func (s *Store[T]) notify(ctx context.Context, m Mutation) {
	if s.hook == nil || m.ActingUserID == "" {
		return
	}
	if err := s.hook.AfterMutation(ctx, m); err != nil {
		s.metrics.IncrementAuditFailures()
		s.logger.Warnw("mutation hook failed",
			"collection", m.Collection,
			"kind", m.Kind,
			"entityId", m.EntityID,
			"userId", m.ActingUserID,
			"error", err,
		)
	}
}

// encode flattens payload into a fresh map without its id.
func (s *Store[T]) encode(payload T) (map[string]any, error) {
	encoded, err := sdk.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s record: %v", ErrInvalidArgument, s.collection, err)
	}
	data := make(map[string]any, len(encoded))
	for k, v := range encoded {
		if k == FieldID {
			continue
		}
		data[k] = v
	}
	return data, nil
}

func (s *Store[T]) decode(id string, data map[string]any) (T, error) {
	return sdk.Decode[T](sdk.Document{ID: id, Data: data})
}

// stampCreate returns data with the system timestamps set to the server time.
func (s *Store[T]) stampCreate(data map[string]any) map[string]any {
	write := make(map[string]any, len(data)+2+len(s.stamped))
	for k, v := range data {
		write[k] = v
	}
	write[FieldCreatedAt] = sdk.ServerTimestamp()
	write[FieldUpdatedAt] = sdk.ServerTimestamp()
	for _, f := range s.stamped {
		write[f] = sdk.ServerTimestamp()
	}
	return write
}
