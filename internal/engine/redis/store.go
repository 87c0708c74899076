// Package redis stores each collection as a Redis hash of id to JSON body.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/celerix-dev/agricare/pkg/engine"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

const (
	defaultPrefix   = "agricare"
	maxMergeRetries = 5
)

type Store struct {
	client *goredis.Client
	clock  *engine.Clock
	prefix string
	addr   string
	db     int
	pass   string
	owned  bool
}

var _ sdk.DocumentStore = (*Store)(nil)

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.pass = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithClient reuses an existing client. The store will not close it.
func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
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

// New connects to addr, or uses the client given by WithClient, and pings it.
func New(addr string, opts ...Option) (*Store, error) {
	s := &Store{
		clock:  engine.NewClock(nil),
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		if strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("%w: redis addr is required", engine.ErrUnavailable)
		}
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.pass,
			DB:       s.db,
		})
		s.owned = true
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		if s.owned {
			_ = s.client.Close()
		}
		return nil, fmt.Errorf("%w: redis ping failed: %w", engine.ErrUnavailable, err)
	}
	return s, nil
}

// NewFromURL parses a redis:// URL and connects.
func NewFromURL(url string, opts ...Option) (*Store, error) {
	parsed, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", engine.ErrUnavailable, err)
	}
	opts = append([]Option{WithPassword(parsed.Password), WithDB(parsed.DB)}, opts...)
	return New(parsed.Addr, opts...)
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

	entries, err := s.client.HGetAll(ctx, s.collectionKey(collection)).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}

	docs := make([]sdk.Document, 0, len(entries))
	for id, raw := range entries {
		data, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if !sdk.MatchAll(data, filters) {
			continue
		}
		docs = append(docs, sdk.Document{ID: id, Data: data})
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	if err := engine.ValidateKey(collection, id); err != nil {
		return sdk.Document{}, err
	}
	raw, err := s.client.HGet(ctx, s.collectionKey(collection), id).Result()
	if errors.Is(err, goredis.Nil) {
		return sdk.Document{}, engine.ErrNotFound
	}
	if err != nil {
		return sdk.Document{}, unavailable("get", err)
	}
	data, err := decode(raw)
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

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.collectionKey(collection), id, string(raw))
	pipe.SAdd(ctx, s.collectionsKey(), collection)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Merge reads, merges and writes back under WATCH so a concurrent write to the
// same collection hash aborts and retries the merge instead of being lost.
func (s *Store) Merge(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}
	key := s.collectionKey(collection)

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.HGet(ctx, key, id).Result()
		if errors.Is(err, goredis.Nil) {
			return engine.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		merged, err := json.Marshal(engine.Merge(current, engine.Prepare(partial, s.clock.Now())))
		if err != nil {
			return fmt.Errorf("%w: encode document: %w", engine.ErrInvalidArgument, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, id, string(merged))
			return nil
		})
		return err
	}

	for i := 0; i < maxMergeRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrInvalidArgument):
			return err
		default:
			return unavailable("merge", err)
		}
	}
	return unavailable("merge", goredis.TxFailedErr)
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	if err := engine.ValidateKey(collection, id); err != nil {
		return err
	}
	keys := []string{s.collectionKey(collection), s.collectionsKey()}
	if err := removeScript.Run(ctx, s.client, keys, id, collection).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return unavailable("remove", err)
	}
	return nil
}

// removeScript deletes one field and drops the collection name once its hash
// is empty, atomically with respect to concurrent inserts.
var removeScript = goredis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
if redis.call('HLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 1
`)

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	list, err := s.client.SMembers(ctx, s.collectionsKey()).Result()
	if err != nil {
		return nil, unavailable("list collections", err)
	}
	sort.Strings(list)
	return list, nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Client returns the underlying redis client so other components can share
// the connection pool.
func (s *Store) Client() *goredis.Client {
	return s.client
}

func (s *Store) collectionKey(collection string) string {
	return fmt.Sprintf("%s:col:%s", s.prefix, collection)
}

func (s *Store) collectionsKey() string {
	return s.prefix + ":collections"
}

func decode(raw string) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", engine.ErrUnavailable, op, err)
}
