package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/storage"
)

// openBackend opens the configured progress store together with the locker
// that serializes writes to it.
func openBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (storage.Store, storage.Locker, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), storage.NewStripedLocker(cfg.LockShards), nil
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, storage.NewStripedLocker(cfg.LockShards), nil
	case "redis":
		rs, err := storage.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		locker := storage.NewRedisLocker(rs.Client(), cfg.Redis.LockTTL)
		locker.OnLost = func(key string) {
			logger.Warn("session lock expired before release", "session_id", key, "lock_ttl", cfg.Redis.LockTTL)
		}
		return rs, locker, nil
	case "postgres":
		ps, err := storage.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return ps, ps, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
