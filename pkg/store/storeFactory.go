package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/go-recovery/pkg/config"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

const defaultTable = "kv_store"

// Swappable constructors; tests replace them to avoid real connections.
var (
	sqlOpen = sql.Open

	NewSpannerStoreFactory = func(ctx context.Context, uri, table string) (KVStore, error) {
		client, err := spanner.NewClient(ctx, uri)
		if err != nil {
			return nil, err
		}
		return NewSpannerStore(client, table), nil
	}

	NewMongoStoreFactory = func(ctx context.Context, cfg config.StoreSettings) (KVStore, error) {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		return NewMongoStore(client, cfg.Database, cfg.Collection), nil
	}
)

// NewStore opens the backend selected by cfg.Type.
func NewStore(ctx context.Context, cfg config.StoreSettings) (KVStore, error) {
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultTable
	}

	switch cfg.Type {
	case "postgres":
		db, err := sqlOpen("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return ensureSchema(ctx, NewPostgresStore(db, cfg.Table))
	case "sqlite":
		db, err := sqlOpen("sqlite", sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, err
		}
		// One writer at a time; sqlite serialises anyway and this avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		return ensureSchema(ctx, NewSQLiteStore(db, cfg.Table))
	case "spanner":
		return NewSpannerStoreFactory(ctx, cfg.URI, cfg.Table)
	case "mongo":
		return NewMongoStoreFactory(ctx, cfg)
	case "redis":
		return NewRedisStore(cfg.Addr, cfg.Password, cfg.DB), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

func ensureSchema(ctx context.Context, s *SQLStore) (KVStore, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// sqliteDSN adds a busy timeout so timer processes and the coordinator can share the file.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
