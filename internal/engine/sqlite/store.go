// Package sqlite stores documents in a single SQLite table, one JSON body per row.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/celerix-dev/agricare/pkg/engine"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	clock       *engine.Clock
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

var _ sdk.DocumentStore = (*Store)(nil)

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func WithClock(c *engine.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", engine.ErrUnavailable)
	}

	s := &Store{
		clock:       engine.NewClock(nil),
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %w", engine.ErrUnavailable, err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("%w: set busy_timeout: %w", engine.ErrUnavailable, err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("%w: enable wal: %w", engine.ErrUnavailable, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: initialize schema: %w", engine.ErrUnavailable, err)
	}
	return nil
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

	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	docs := make([]sdk.Document, 0)
	for rows.Next() {
		var id, raw string
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
	data, err := s.load(ctx, s.db, collection, id)
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data`,
		collection, id, string(raw))
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin merge", err)
	}
	defer tx.Rollback()

	current, err := s.load(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(engine.Merge(current, engine.Prepare(partial, s.clock.Now())))
	if err != nil {
		return fmt.Errorf("%w: encode document: %w", engine.ErrInvalidArgument, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = ? WHERE collection = ? AND id = ?`,
		string(raw), collection, id); err != nil {
		return unavailable("merge", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit merge", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, unavailable("list collections", err)
	}
	defer rows.Close()

	list := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("scan collection", err)
		}
		list = append(list, name)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate collections", err)
	}
	return list, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q queryer, collection, id string) (map[string]any, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decode(raw)
}

func decode(raw string) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %w", engine.ErrUnavailable, op, err)
}
