// Package storage picks the document store the daemon runs on.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/internal/config"
	"github.com/celerix-dev/agricare/internal/engine"
	"github.com/celerix-dev/agricare/internal/engine/postgres"
	"github.com/celerix-dev/agricare/internal/engine/redis"
	"github.com/celerix-dev/agricare/internal/engine/sqlite"
	"github.com/celerix-dev/agricare/internal/identity"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Open returns the store described by cfg. When a remote daemon address is
// configured and answers, it wins; otherwise the configured local backend is
// opened, so the caller never needs to know which one it got.
func Open(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (sdk.DocumentStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if cfg.StoreAddr != "" {
		client, err := connectRemote(ctx, cfg, logger)
		if err == nil {
			logger.Infow("using remote store", "addr", cfg.StoreAddr)
			return client, nil
		}
		logger.Warnw("remote store unreachable, falling back to local backend",
			"addr", cfg.StoreAddr, "backend", cfg.Backend, "error", err)
	}

	return OpenLocal(ctx, cfg, logger)
}

// OpenLocal opens the backend named by cfg.Backend, ignoring StoreAddr.
func OpenLocal(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (sdk.DocumentStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	switch cfg.Backend {
	case config.BackendMemory, "":
		store, err := engine.OpenDir(cfg.DataDir, engine.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%w: open data dir %s: %w", sdk.ErrUnavailable, cfg.DataDir, err)
		}
		logger.Infow("using embedded store", "dataDir", cfg.DataDir)
		return store, nil
	case config.BackendSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Infow("using sqlite store", "path", cfg.SQLitePath)
		return store, nil
	case config.BackendRedis:
		store, err := redis.NewFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Infow("using redis store")
		return store, nil
	case config.BackendPostgres:
		store, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		logger.Infow("using postgres store")
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", sdk.ErrUnavailable, cfg.Backend)
	}
}

// Revocations returns the token revocation list matching the store: redis
// backed stores share revocations between daemons, everything else keeps
// them in memory.
func Revocations(db sdk.DocumentStore) identity.RevocationList {
	if r, ok := db.(*redis.Store); ok {
		return identity.NewRedisRevocations(r.Client())
	}
	return identity.NewMemoryRevocations(nil)
}

func connectRemote(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*sdk.Client, error) {
	opts := []sdk.ClientOption{sdk.WithClientLogger(logger)}
	if cfg.DisableTLS {
		opts = append(opts, sdk.WithPlainTCP())
	}
	client, err := sdk.Connect(cfg.StoreAddr, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
