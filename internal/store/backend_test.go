package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Ping(ctx))

	v, err := b.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, b.PutMany(ctx, map[string][]byte{
		"k1": []byte(`[1]`),
		"k2": []byte(`[2]`),
	}))
	v, err = b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), v)

	// Overwrite one key, delete the other.
	require.NoError(t, b.PutMany(ctx, map[string][]byte{
		"k1": []byte(`[1,3]`),
		"k2": nil,
	}))
	v, err = b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1,3]`), v)
	v, err = b.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLiteBackendThroughStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)

	s := New(b, "")
	appendNote(t, s, note{ID: "a", Text: "persisted"})
	require.NoError(t, s.Close())

	// Reopen and read back.
	b2, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	s2 := New(b2, "")
	defer s2.Close()

	got, err := ReadAll[note](context.Background(), s2, Messages)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "persisted", got[0].Text)
}

func TestRedisBackendGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	b := NewRedisBackend(client)
	ctx := context.Background()

	mock.ExpectGet("famledger:identities").SetVal(`[{"id":"a"}]`)
	mock.ExpectGet("famledger:requests").RedisNil()
	mock.ExpectGet("famledger:messages").SetErr(errors.New("connection reset"))

	v, err := b.Get(ctx, "famledger:identities")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":"a"}]`), v)

	v, err = b.Get(ctx, "famledger:requests")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = b.Get(ctx, "famledger:messages")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBackendPutManyUsesTransaction(t *testing.T) {
	client, mock := redismock.NewClientMock()
	b := NewRedisBackend(client)

	mock.ExpectTxPipeline()
	mock.ExpectSet("famledger:requests", []byte(`[]`), 0).SetVal("OK")
	mock.ExpectDel("famledger:session:local").SetVal(1)
	mock.ExpectTxPipelineExec()

	err := b.PutMany(context.Background(), map[string][]byte{
		"famledger:requests":      []byte(`[]`),
		"famledger:session:local": nil,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
