// Package store is the entity store of the ledger: key-partitioned record
// collections persisted as JSON arrays on a pluggable Backend.
//
// Every read and write runs inside a View or Update closure holding the
// store's single mutex, so there is exactly one writer per process. Update
// stages every changed key and commits them with a single Backend.PutMany
// call; backends implement PutMany atomically, which makes a whole Update
// closure all-or-nothing. Concurrent access from several processes to the
// same backend is not supported: the store carries no version tokens and a
// second process can overwrite a collection between our read and write.
//
// Unparseable stored contents are treated as an empty collection and logged.
// This favours availability over integrity: the next write to that
// collection replaces the corrupted contents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alecgard/famledger/internal/apperr"
)

// Collection names a record collection.
type Collection string

const (
	Identities   Collection = "identities"
	Transactions Collection = "transactions"
	Requests     Collection = "requests"
	Messages     Collection = "messages"
)

// DefaultNamespace prefixes every key written by the store.
const DefaultNamespace = "famledger"

var errReadOnly = errors.New("write attempted in read-only transaction")

// Record is implemented by types stored in a collection that can be updated
// by id.
type Record interface {
	RecordID() string
}

// Backend is the storage medium. Get returns (nil, nil) for an absent key.
// PutMany applies all values atomically; a nil value deletes the key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutMany(ctx context.Context, values map[string][]byte) error
	Close() error
}

// Store provides serialized access to the collections kept on a Backend.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	namespace string
}

// New creates a store over backend. An empty namespace selects
// DefaultNamespace.
func New(backend Backend, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{backend: backend, namespace: namespace}
}

// Key builds a namespaced key from parts.
func (s *Store) Key(parts ...string) string {
	return s.namespace + ":" + strings.Join(parts, ":")
}

// CollectionKey returns the key a collection is stored under.
func (s *Store) CollectionKey(c Collection) string {
	return s.Key(string(c))
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// View runs fn in a read-only transaction. Backend read failures degrade to
// empty values.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.newTx(ctx, false))
}

// Update runs fn in a write transaction. When fn returns nil every staged
// write is committed in one PutMany call; when fn fails nothing is written.
// Backend failures are reported as apperr.ErrStorageUnavailable.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.newTx(ctx, true)
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}
	if err := s.backend.PutMany(ctx, tx.staged); err != nil {
		return fmt.Errorf("committing %d keys: %v: %w", len(tx.staged), err, apperr.ErrStorageUnavailable)
	}
	return nil
}

func (s *Store) newTx(ctx context.Context, writable bool) *Tx {
	return &Tx{
		ctx:      ctx,
		store:    s,
		writable: writable,
		staged:   make(map[string][]byte),
	}
}

// Tx is a view of the store inside a View or Update closure. Reads observe
// writes staged earlier in the same transaction.
type Tx struct {
	ctx      context.Context
	store    *Store
	writable bool
	staged   map[string][]byte
}

// Context returns the context the transaction was opened with.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Store returns the store the transaction belongs to.
func (tx *Tx) Store() *Store { return tx.store }

func (tx *Tx) read(key string) ([]byte, error) {
	if v, ok := tx.staged[key]; ok {
		return v, nil
	}
	v, err := tx.store.backend.Get(tx.ctx, key)
	if err != nil {
		if tx.writable {
			return nil, fmt.Errorf("reading %s: %v: %w", key, err, apperr.ErrStorageUnavailable)
		}
		slog.Warn("store read failed, serving empty value", "key", key, "error", err)
		return nil, nil
	}
	return v, nil
}

func (tx *Tx) write(key string, value []byte) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.staged[key] = value
	return nil
}

// All returns the records of collection c in insertion order.
func All[T any](tx *Tx, c Collection) ([]T, error) {
	key := tx.store.CollectionKey(c)
	data, err := tx.read(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []T{}, nil
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("corrupted collection, treating as empty", "key", key, "error", err)
		return []T{}, nil
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// Replace overwrites collection c with records.
func Replace[T any](tx *Tx, c Collection, records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", c, err)
	}
	return tx.write(tx.store.CollectionKey(c), data)
}

// Append adds rec to the end of collection c.
func Append[T any](tx *Tx, c Collection, rec T) error {
	records, err := All[T](tx, c)
	if err != nil {
		return err
	}
	return Replace(tx, c, append(records, rec))
}

// Find returns the record of collection c with the given id.
func Find[T Record](tx *Tx, c Collection, id string) (T, error) {
	var zero T
	records, err := All[T](tx, c)
	if err != nil {
		return zero, err
	}
	for _, r := range records {
		if r.RecordID() == id {
			return r, nil
		}
	}
	return zero, fmt.Errorf("%s %s: %w", c, id, apperr.ErrNotFound)
}

// UpdateRecord applies patch to the record with the given id in place and
// returns the patched record. A patch error aborts without staging anything.
func UpdateRecord[T Record](tx *Tx, c Collection, id string, patch func(*T) error) (T, error) {
	var zero T
	records, err := All[T](tx, c)
	if err != nil {
		return zero, err
	}
	for i := range records {
		if records[i].RecordID() != id {
			continue
		}
		rec := records[i]
		if err := patch(&rec); err != nil {
			return zero, err
		}
		records[i] = rec
		if err := Replace(tx, c, records); err != nil {
			return zero, err
		}
		return rec, nil
	}
	return zero, fmt.Errorf("%s %s: %w", c, id, apperr.ErrNotFound)
}

// Get reads the single value stored under key. The boolean is false when the
// key is absent or its contents are unparseable.
func Get[T any](tx *Tx, key string) (T, bool, error) {
	var v T
	data, err := tx.read(key)
	if err != nil {
		return v, false, err
	}
	if len(data) == 0 {
		return v, false, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("corrupted value, treating as absent", "key", key, "error", err)
		var zero T
		return zero, false, nil
	}
	return v, true, nil
}

// Put stages v under key.
func Put[T any](tx *Tx, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return tx.write(key, data)
}

// Delete stages the removal of key. Deleting an absent key is a no-op.
func Delete(tx *Tx, key string) error {
	return tx.write(key, nil)
}

// ReadAll is a convenience wrapper running All in its own View.
func ReadAll[T any](ctx context.Context, s *Store, c Collection) ([]T, error) {
	var out []T
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = All[T](tx, c)
		return err
	})
	return out, err
}
