package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStore(db, "kv_store")

	rows := sqlmock.NewRows([]string{"kv_key", "kv_value"}).AddRow("queue/1", []byte("value1"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT kv_key, kv_value FROM kv_store WHERE kv_key=$1`)).
		WithArgs("queue/1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	value, err := repo.Get(context.Background(), "queue/1")
	assert.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStore(db, "kv_store")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT kv_key, kv_value FROM kv_store WHERE kv_key=$1`)).
		WithArgs("queue/404").
		WillReturnRows(sqlmock.NewRows([]string{"kv_key", "kv_value"}))
	mock.ExpectCommit()

	_, err = repo.Get(context.Background(), "queue/404")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStore(db, "kv_store")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO kv_store \(kv_key, kv_value, updated_at\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(kv_key\) DO UPDATE`).
		WithArgs("deferred/2024-01-01T00:00:10Z", []byte("retry@abc"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = repo.Put(context.Background(), "deferred/2024-01-01T00:00:10Z", []byte("retry@abc"))
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStore(db, "kv_store")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv_store WHERE kv_key=$1`)).
		WithArgs("queue/1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.Delete(context.Background(), "queue/1")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStore(db, "kv_store")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv_store WHERE kv_key=$1`)).
		WithArgs("queue/1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = repo.Delete(context.Background(), "queue/1")
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStore(db, "kv_store")

	rows := sqlmock.NewRows([]string{"kv_key", "kv_value"}).
		AddRow("queue/1", []byte("a")).
		AddRow("queue/2", []byte("b"))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT kv_key, kv_value FROM kv_store WHERE kv_key LIKE $1 ESCAPE '\' ORDER BY kv_key COLLATE "C"`)).
		WithArgs("queue/%").
		WillReturnRows(rows)
	mock.ExpectCommit()

	entries, err := repo.List(context.Background(), "queue/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Key: "queue/1", Value: []byte("a")}, entries[0])
	assert.Equal(t, Entry{Key: "queue/2", Value: []byte("b")}, entries[1])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\_b\%c\\`, escapeLike(`a_b%c\`))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "queue0", prefixEnd("queue/"))
	assert.Equal(t, "", prefixEnd(""))
	assert.Equal(t, "b", prefixEnd("a\xff"))
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s := NewSQLiteStore(db, "kv_store")
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	s := openSQLite(t)
	exerciseKVStore(t, s)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseKVStore(t, s)
	assert.Greater(t, s.Writes(), 0)
}

// exerciseKVStore checks the contract every backend must honour.
func exerciseKVStore(t *testing.T, s KVStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "queue/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "queue/b", []byte("2")))
	require.NoError(t, s.Put(ctx, "queue/a", []byte("1")))
	require.NoError(t, s.Put(ctx, "queue_x", []byte("not in prefix")))
	require.NoError(t, s.Put(ctx, "deferred/2024-01-01T00:00:00Z", []byte("retry@1")))

	value, err := s.Get(ctx, "queue/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, s.Put(ctx, "queue/a", []byte("1b")))
	value, err = s.Get(ctx, "queue/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1b"), value)

	entries, err := s.List(ctx, "queue/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "queue/a", entries[0].Key)
	assert.Equal(t, "queue/b", entries[1].Key)

	require.NoError(t, s.Delete(ctx, "queue/a"))
	require.NoError(t, s.Delete(ctx, "queue/a"))
	_, err = s.Get(ctx, "queue/a")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err = s.List(ctx, "deferred/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("retry@1"), entries[0].Value)

	entries, err = s.List(ctx, "nothing/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
