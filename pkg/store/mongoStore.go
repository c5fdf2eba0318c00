package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoSystem = "mongodb"

// MongoStore keeps one document per key, {_id: key, value: bytes}.
type MongoStore struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoStore) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

func (m *MongoStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := startSpan(ctx, mongoSystem, "Get")
	defer span.End()
	startTime := time.Now()

	var entry Entry
	err := m.coll().FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, recordError(span, err)
	}

	addDBStatsToSpan(span, "findOne", 1, time.Since(startTime))
	return entry.Value, nil
}

func (m *MongoStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := startSpan(ctx, mongoSystem, "Put")
	defer span.End()

	update := bson.M{
		"$set": bson.M{
			"value":      value,
			"updated_at": time.Now(),
		},
	}
	_, err := m.coll().UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return recordError(span, err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, key string) error {
	ctx, span := startSpan(ctx, mongoSystem, "Delete")
	defer span.End()

	if _, err := m.coll().DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return recordError(span, err)
	}
	return nil
}

func (m *MongoStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, span := startSpan(ctx, mongoSystem, "List")
	defer span.End()
	startTime := time.Now()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.coll().Find(ctx, prefixFilter(prefix), opts)
	if err != nil {
		return nil, recordError(span, err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	for cursor.Next(ctx) {
		var entry Entry
		if err := cursor.Decode(&entry); err != nil {
			return nil, recordError(span, err)
		}
		entries = append(entries, entry)
	}

	if err := cursor.Err(); err != nil {
		return nil, recordError(span, err)
	}

	addDBStatsToSpan(span, "find", len(entries), time.Since(startTime))
	return entries, nil
}

func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}

// prefixFilter matches _id values starting with prefix. An anchored regex on _id uses the index.
func prefixFilter(prefix string) bson.M {
	if prefix == "" {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
}
