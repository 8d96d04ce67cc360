package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecgard/famledger/internal/config"
	"github.com/alecgard/famledger/internal/store"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

// openedStore is the entity store plus the probes serve exposes.
type openedStore struct {
	*store.Store
	ping     func(ctx context.Context) error
	postgres *store.PostgresBackend
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*openedStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store; data is lost on exit")
		return &openedStore{Store: store.New(store.NewMemoryBackend(), cfg.Namespace)}, nil

	case config.DriverSQLite:
		b, err := store.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite store", "path", cfg.Path)
		return &openedStore{Store: store.New(b, cfg.Namespace), ping: b.Ping}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("connected to database")
		b := store.NewPostgresBackend(pool)
		return &openedStore{Store: store.New(b, cfg.Namespace), ping: pool.Ping, postgres: b}, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("connected to redis", "addr", cfg.RedisAddr)
		return &openedStore{
			Store: store.New(store.NewRedisBackend(client), cfg.Namespace),
			ping:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
