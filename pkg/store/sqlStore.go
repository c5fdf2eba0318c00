package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// sqlDialect carries the statements that differ between database/sql backends.
type sqlDialect struct {
	system    string
	createDDL string
	get       string
	put       string
	delete    string
	list      string
	listArgs  func(prefix string) []any
}

func postgresDialect(table string) sqlDialect {
	return sqlDialect{
		system: "postgresql",
		createDDL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			kv_key TEXT PRIMARY KEY,
			kv_value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL)`, table),
		get: fmt.Sprintf(`SELECT kv_key, kv_value FROM %s WHERE kv_key=$1`, table),
		put: fmt.Sprintf(`INSERT INTO %s (kv_key, kv_value, updated_at) VALUES ($1, $2, $3) `+
			`ON CONFLICT (kv_key) DO UPDATE SET kv_value=EXCLUDED.kv_value, updated_at=EXCLUDED.updated_at`, table),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE kv_key=$1`, table),
		list:   fmt.Sprintf(`SELECT kv_key, kv_value FROM %s WHERE kv_key LIKE $1 ESCAPE '\' ORDER BY kv_key COLLATE "C"`, table),
		listArgs: func(prefix string) []any {
			return []any{escapeLike(prefix) + "%"}
		},
	}
}

func sqliteDialect(table string) sqlDialect {
	return sqlDialect{
		system: "sqlite",
		createDDL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			kv_key TEXT PRIMARY KEY,
			kv_value BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL)`, table),
		get: fmt.Sprintf(`SELECT kv_key, kv_value FROM %s WHERE kv_key=?`, table),
		put: fmt.Sprintf(`INSERT INTO %s (kv_key, kv_value, updated_at) VALUES (?, ?, ?) `+
			`ON CONFLICT (kv_key) DO UPDATE SET kv_value=excluded.kv_value, updated_at=excluded.updated_at`, table),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE kv_key=?`, table),
		// BINARY collation compares bytes, so a half-open range selects the prefix.
		list: fmt.Sprintf(`SELECT kv_key, kv_value FROM %s WHERE kv_key >= ? AND (? = '' OR kv_key < ?) ORDER BY kv_key`, table),
		listArgs: func(prefix string) []any {
			end := prefixEnd(prefix)
			return []any{prefix, end, end}
		},
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SQLStore keeps entries in a single table through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewPostgresStore wraps an open lib/pq connection.
func NewPostgresStore(db *sql.DB, table string) *SQLStore {
	return &SQLStore{db: db, dialect: postgresDialect(table)}
}

// NewSQLiteStore wraps an open modernc.org/sqlite connection.
func NewSQLiteStore(db *sql.DB, table string) *SQLStore {
	return &SQLStore{db: db, dialect: sqliteDialect(table)}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (p *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := p.withTransaction(ctx, "EnsureSchema", p.dialect.createDDL, func(ctx context.Context, tx *sql.Tx) ([]Entry, error) {
		_, err := tx.ExecContext(ctx, p.dialect.createDDL)
		return nil, err
	})
	return err
}

func (p *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	entries, err := p.withTransaction(ctx, "Get", p.dialect.get, func(ctx context.Context, tx *sql.Tx) ([]Entry, error) {
		var entry Entry
		err := tx.QueryRowContext(ctx, p.dialect.get, key).Scan(&entry.Key, &entry.Value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Entry{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0].Value, nil
}

func (p *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.withTransaction(ctx, "Put", p.dialect.put, func(ctx context.Context, tx *sql.Tx) ([]Entry, error) {
		_, err := tx.ExecContext(ctx, p.dialect.put, key, value, time.Now().UTC())
		return nil, err
	})
	return err
}

func (p *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := p.withTransaction(ctx, "Delete", p.dialect.delete, func(ctx context.Context, tx *sql.Tx) ([]Entry, error) {
		_, err := tx.ExecContext(ctx, p.dialect.delete, key)
		return nil, err
	})
	return err
}

func (p *SQLStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	return p.withTransaction(ctx, "List", p.dialect.list, func(ctx context.Context, tx *sql.Tx) ([]Entry, error) {
		rows, err := tx.QueryContext(ctx, p.dialect.list, p.dialect.listArgs(prefix)...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var entries []Entry
		for rows.Next() {
			var entry Entry
			if err := rows.Scan(&entry.Key, &entry.Value); err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}

		if err := rows.Err(); err != nil {
			return nil, err
		}
		return entries, nil
	})
}

func (p *SQLStore) Close() error {
	return p.db.Close()
}

func (p *SQLStore) withTransaction(ctx context.Context, spanName, statement string, fn func(ctx context.Context, tx *sql.Tx) ([]Entry, error)) (entries []Entry, err error) {
	ctx, span := startSpan(ctx, p.dialect.system, spanName)
	defer span.End()
	startTime := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("begin %s: %w", spanName, err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = recordError(span, fmt.Errorf("commit %s: %w", spanName, cerr))
			entries = nil
		}
	}()

	entries, err = fn(ctx, tx)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("%s: %w", spanName, err))
	}

	addDBStatsToSpan(span, statement, len(entries), time.Since(startTime))
	return entries, nil
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	return err
}
