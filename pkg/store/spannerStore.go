package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

const spannerSystem = "spanner"

var spannerColumns = []string{"kv_key", "kv_value"}

// SpannerStore keeps entries in a Spanner table keyed by kv_key.
//
//	CREATE TABLE kv_store (kv_key STRING(MAX) NOT NULL, kv_value BYTES(MAX) NOT NULL) PRIMARY KEY (kv_key)
type SpannerStore struct {
	client *spanner.Client
	table  string
}

func NewSpannerStore(client *spanner.Client, table string) *SpannerStore {
	return &SpannerStore{client: client, table: table}
}

func (s *SpannerStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := startSpan(ctx, spannerSystem, "Get")
	defer span.End()
	startTime := time.Now()

	row, err := s.client.Single().ReadRow(ctx, s.table, spanner.Key{key}, spannerColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, recordError(span, err)
	}

	var entry Entry
	if err := row.Columns(&entry.Key, &entry.Value); err != nil {
		return nil, recordError(span, err)
	}

	addDBStatsToSpan(span, "ReadRow "+s.table, 1, time.Since(startTime))
	return entry.Value, nil
}

func (s *SpannerStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := startSpan(ctx, spannerSystem, "Put")
	defer span.End()

	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate(s.table, spannerColumns, []interface{}{key, value}),
	})
	if err != nil {
		return recordError(span, err)
	}
	return nil
}

func (s *SpannerStore) Delete(ctx context.Context, key string) error {
	ctx, span := startSpan(ctx, spannerSystem, "Delete")
	defer span.End()

	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Delete(s.table, spanner.Key{key}),
	})
	if err != nil {
		return recordError(span, err)
	}
	return nil
}

func (s *SpannerStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, span := startSpan(ctx, spannerSystem, "List")
	defer span.End()
	startTime := time.Now()

	var keys spanner.KeySet = spanner.AllKeys()
	if end := prefixEnd(prefix); end != "" {
		keys = spanner.KeyRange{
			Start: spanner.Key{prefix},
			End:   spanner.Key{end},
			Kind:  spanner.ClosedOpen,
		}
	}

	iter := s.client.Single().Read(ctx, s.table, keys, spannerColumns)
	defer iter.Stop()

	var entries []Entry
	for {
		row, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, recordError(span, err)
		}

		var entry Entry
		if err := row.Columns(&entry.Key, &entry.Value); err != nil {
			return nil, recordError(span, err)
		}
		entries = append(entries, entry)
	}

	// Reads return rows in primary key order already; sorting keeps the contract explicit.
	sortEntries(entries)
	addDBStatsToSpan(span, "Read "+s.table, len(entries), time.Since(startTime))
	return entries, nil
}

func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}
