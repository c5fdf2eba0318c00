package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSystem    = "redis"
	redisScanCount = 256
)

// RedisStore keeps entries as plain redis strings.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new store backed by Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := startSpan(ctx, redisSystem, "Get")
	defer span.End()

	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, recordError(span, err)
	}
	return value, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := startSpan(ctx, redisSystem, "Put")
	defer span.End()

	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return recordError(span, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, span := startSpan(ctx, redisSystem, "Delete")
	defer span.End()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return recordError(span, err)
	}
	return nil
}

// List scans for matching keys, drops repeats, sorts them, then fetches the values with MGET. Keys deleted
// between the scan and the fetch are skipped.
func (r *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, span := startSpan(ctx, redisSystem, "List")
	defer span.End()
	startTime := time.Now()

	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, recordError(span, err)
	}
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, recordError(span, err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		value, ok := values[i].(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: []byte(value)})
	}
	sortEntries(entries)

	addDBStatsToSpan(span, "SCAN MATCH "+prefix+"*", len(entries), time.Since(startTime))
	return entries, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// uniqueKeys drops keys SCAN returned more than once, keeping first-seen order.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
