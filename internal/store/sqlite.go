package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores values in a single key/value table of a SQLite file.
type SQLiteBackend struct {
	conn *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the SQLite database at path and
// ensures the records table exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection: SQLite allows a single writer and ":memory:" databases
	// are per-connection.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	b := &SQLiteBackend{conn: conn}
	if err := b.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.conn.Exec(`CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("creating records table: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := b.conn.QueryRowContext(ctx, "SELECT value FROM records WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return v, nil
}

// PutMany writes all values inside one SQL transaction.
func (b *SQLiteBackend) PutMany(ctx context.Context, values map[string][]byte) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, key := range sortedKeys(values) {
		v := values[key]
		if v == nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE key = ?", key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, v, now,
		)
		if err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Ping checks the database file is still reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.conn.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.conn.Close()
}

// sortedKeys gives backends a deterministic write order.
func sortedKeys(values map[string][]byte) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
