package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBackend stores each key as a plain redis string.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a backend over client. The backend owns the client:
// Close closes it.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return v, nil
}

// PutMany applies all values in one MULTI/EXEC block.
func (b *RedisBackend) PutMany(ctx context.Context, values map[string][]byte) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range sortedKeys(values) {
			v := values[key]
			if v == nil {
				pipe.Del(ctx, key)
				continue
			}
			pipe.Set(ctx, key, v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %d keys: %w", len(values), err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
