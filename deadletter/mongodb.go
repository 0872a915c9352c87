package deadletter

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoCollection is the collection NewMongoStore uses.
const DefaultMongoCollection = "claimwriter_dead_letter"

// mongoMessage is the document form of Message.
type mongoMessage struct {
	ID        string     `bson:"_id"`
	Pipeline  string     `bson:"pipeline_id"`
	Partition int        `bson:"partition"`
	Version   string     `bson:"version"`
	Key       string     `bson:"claim_key"`
	Sequence  int64      `bson:"sequence"`
	Payload   []byte     `bson:"payload"`
	Error     string     `bson:"error"`
	CreatedAt time.Time  `bson:"created_at"`
	RetriedAt *time.Time `bson:"retried_at,omitempty"`
}

func toDoc(m *Message) *mongoMessage {
	return &mongoMessage{
		ID:        m.ID,
		Pipeline:  m.Pipeline,
		Partition: m.Partition,
		Version:   m.Version,
		Key:       m.Key,
		Sequence:  m.Sequence,
		Payload:   m.Payload,
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
		RetriedAt: m.RetriedAt,
	}
}

func (d *mongoMessage) message() *Message {
	return &Message{
		ID:        d.ID,
		Pipeline:  d.Pipeline,
		Partition: d.Partition,
		Version:   d.Version,
		Key:       d.Key,
		Sequence:  d.Sequence,
		Payload:   d.Payload,
		Error:     d.Error,
		CreatedAt: d.CreatedAt,
		RetriedAt: d.RetriedAt,
	}
}

// MongoStore is a MongoDB-backed dead-letter store
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a store on the dead-letter collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(DefaultMongoCollection)}
}

// WithCollection sets a custom collection name
func (s *MongoStore) WithCollection(name string) *MongoStore {
	s.collection = s.collection.Database().Collection(name)
	return s
}

// Indexes returns the index models for the collection.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pipeline_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("pipeline_created"),
		},
	}
}

// EnsureIndexes creates the indexes returned by Indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, s.Indexes())
	return err
}

// Store inserts msg.
func (s *MongoStore) Store(ctx context.Context, msg *Message) error {
	if _, err := s.collection.InsertOne(ctx, toDoc(msg)); err != nil {
		return fmt.Errorf("deadletter: insert %s: %w", msg.ID, err)
	}
	return nil
}

// buildFilter creates a MongoDB filter from a Filter
func buildFilter(filter Filter) bson.M {
	f := bson.M{}

	if filter.Pipeline != "" {
		f["pipeline_id"] = filter.Pipeline
	}

	created := bson.M{}
	if !filter.StartTime.IsZero() {
		created["$gte"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		created["$lte"] = filter.EndTime
	}
	if len(created) > 0 {
		f["created_at"] = created
	}

	if filter.ExcludeRetried {
		f["retried_at"] = nil
	}
	return f
}

// List returns messages matching filter, oldest first.
func (s *MongoStore) List(ctx context.Context, filter Filter) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "sequence", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.collection.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("deadletter: find: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*Message
	for cursor.Next(ctx) {
		var doc mongoMessage
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("deadletter: decode: %w", err)
		}
		messages = append(messages, doc.message())
	}
	return messages, cursor.Err()
}

// MarkRetried marks a message as replayed
func (s *MongoStore) MarkRetried(ctx context.Context, id string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"retried_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("deadletter: update %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a message
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deadletter: delete %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
