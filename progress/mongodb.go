package progress

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using one MongoDB document per pipeline.
//
// Document structure:
//
//	{
//	    "_id": "claims-0",
//	    "watermark": NumberLong(100412),
//	    "updated_at": ISODate("2024-01-15T10:30:00Z")
//	}
type MongoStore struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// MongoOption configures the MongoDB progress store
type MongoOption func(*MongoStore)

// WithMongoTTL expires progress documents ttl after their last update.
// The TTL index is created by EnsureIndexes.
func WithMongoTTL(ttl time.Duration) MongoOption {
	return func(s *MongoStore) {
		s.ttl = ttl
	}
}

type progressDoc struct {
	ID        string    `bson:"_id"`
	Watermark int64     `bson:"watermark"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB-backed progress store.
//
// Example:
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
//	store := progress.NewMongoStore(client.Database("claims").Collection("progress"))
func NewMongoStore(collection *mongo.Collection, opts ...MongoOption) *MongoStore {
	s := &MongoStore{
		collection: collection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Indexes returns the index models for the progress collection.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	var indexes []mongo.IndexModel

	if s.ttl > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(s.ttl.Seconds())).
				SetName("progress_ttl"),
		})
	}

	return indexes
}

// EnsureIndexes creates the indexes returned by Indexes.
// Call this once during application startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := s.Indexes()
	if len(indexes) == 0 {
		return nil
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Save records n as the watermark of pipeline id.
func (s *MongoStore) Save(ctx context.Context, id string, n int64) error {
	doc := progressDoc{
		ID:        id,
		Watermark: n,
		UpdatedAt: time.Now(),
	}

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// Load returns the last saved watermark of pipeline id, or 0 if none exists.
func (s *MongoStore) Load(ctx context.Context, id string) (int64, error) {
	var doc progressDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Watermark, nil
}

// Delete removes the watermark of pipeline id.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
