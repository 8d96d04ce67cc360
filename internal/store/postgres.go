package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores values in the records table created by the
// migrations directory.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a backend over an open connection pool. The
// backend owns the pool: Close closes it.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := b.pool.QueryRow(ctx, `SELECT value FROM records WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return v, nil
}

// PutMany writes all values inside one database transaction.
func (b *PostgresBackend) PutMany(ctx context.Context, values map[string][]byte) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, key := range sortedKeys(values) {
		v := values[key]
		if v == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM records WHERE key = $1`, key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
			continue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO records (key, value, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			key, v, now,
		)
		if err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// PoolStats reports connection pool gauges for the metrics collector.
func (b *PostgresBackend) PoolStats() (total, idle, acquired int32) {
	st := b.pool.Stat()
	return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
