// Package postgres stores documents as JSONB rows in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/celerix-dev/agricare/pkg/engine"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL,
    PRIMARY KEY (collection, id)
)`

// Store is a PostgreSQL-backed document store.
type Store struct {
	pool  *pgxpool.Pool
	clock *engine.Clock
	owned bool
}

var _ sdk.DocumentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for server timestamps.
func WithClock(c *engine.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPool reuses an existing pool. The store will not close it.
func WithPool(pool *pgxpool.Pool) Option {
	return func(s *Store) {
		if pool != nil {
			s.pool = pool
		}
	}
}

// New connects to dsn and creates the documents table when missing.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{clock: engine.NewClock(nil)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.pool == nil {
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("%w: postgres dsn is required", engine.ErrUnavailable)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: open postgres pool: %w", engine.ErrUnavailable, err)
		}
		s.pool = pool
		s.owned = true
	}

	if err := s.pool.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: postgres ping failed: %w", engine.ErrUnavailable, err)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: initialize schema: %w", engine.ErrUnavailable, err)
	}
	return s, nil
}

func (s *Store) List(ctx context.Context, collection string, filters ...sdk.Filter) ([]sdk.Document, error) {
	if err := engine.ValidateCollection(collection); err != nil {
		return nil, err
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	rows, err := s.pool.Query(ctx, `SELECT id, data FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	docs := make([]sdk.Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, unavailable("scan document", err)
		}
		data, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if !sdk.MatchAll(data, filters) {
			continue
		}
		docs = append(docs, sdk.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate documents", err)
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	if err := engine.ValidateKey(collection, id); err != nil {
		return sdk.Document{}, err
	}
	data, err := load(ctx, s.pool, collection, id, false)
	if err != nil {
		return sdk.Document{}, err
	}
	return sdk.Document{ID: id, Data: data}, nil
}

func (s *Store) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.InsertAt(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) InsertAt(ctx context.Context, collection, id string, data map[string]any) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(engine.Prepare(data, s.clock.Now()))
	if err != nil {
		return fmt.Errorf("%w: encode document: %w", engine.ErrInvalidArgument, err)
	}
	query := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = EXCLUDED.data
	`
	if _, err := s.pool.Exec(ctx, query, collection, id, string(raw)); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin merge", err)
	}
	defer tx.Rollback(ctx)

	current, err := load(ctx, tx, collection, id, true)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(engine.Merge(current, engine.Prepare(partial, s.clock.Now())))
	if err != nil {
		return fmt.Errorf("%w: encode document: %w", engine.ErrInvalidArgument, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET data = $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, string(raw)); err != nil {
		return unavailable("merge", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit merge", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, unavailable("list collections", err)
	}
	list, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("scan collections", err)
	}
	return list, nil
}

func (s *Store) Close() error {
	if s.owned && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func load(ctx context.Context, q querier, collection, id string, forUpdate bool) (map[string]any, error) {
	query := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRow(ctx, query, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decode(raw)
}

func decode(raw []byte) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %w", engine.ErrUnavailable, op, err)
}
