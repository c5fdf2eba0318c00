package store

import (
	"context"
	"testing"

	"cloud.google.com/go/spanner"
	"cloud.google.com/go/spanner/spannertest"
	"cloud.google.com/go/spanner/spansql"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const testSpannerDB = "projects/test-project/instances/test-instance/databases/test-database"

func setupSpannerTestServer(t *testing.T) *SpannerStore {
	t.Helper()

	server, err := spannertest.NewServer("localhost:0")
	require.NoError(t, err)
	t.Cleanup(server.Close)

	ddl, err := spansql.ParseDDL("kv_store.sql",
		`CREATE TABLE kv_store (kv_key STRING(MAX) NOT NULL, kv_value BYTES(MAX) NOT NULL) PRIMARY KEY (kv_key)`)
	require.NoError(t, err)
	require.NoError(t, server.UpdateDDL(ddl))

	client, err := spanner.NewClient(context.Background(), testSpannerDB,
		option.WithEndpoint(server.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)

	s := NewSpannerStore(client, "kv_store")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSpannerStore(t *testing.T) {
	s := setupSpannerTestServer(t)
	exerciseKVStore(t, s)
}
