// Package mongo provides a MongoDB BatchStore built on the official driver.
//
// Each batch is one ordered BulkWrite of ReplaceOne upserts keyed by _id, so
// writing the same claim twice leaves a single document holding the latest
// version.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rbaliyan/claimwriter"
	"github.com/rbaliyan/claimwriter/progress"
)

const (
	// DefaultPipelineID is the progress document used unless WithPipelineID is given.
	DefaultPipelineID = "default"

	// DefaultProgressCollection holds progress documents, next to the data collection.
	DefaultProgressCollection = "claimwriter_progress"
)

// ErrMissingID is returned when KeyOf yields an empty _id.
var ErrMissingID = errors.New("mongo: item has no id")

type bulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

type config struct {
	pipelineID         string
	progressCollection string
	progress           progress.Store
	logger             *slog.Logger
}

// Option configures a Store.
type Option func(*config)

// WithPipelineID sets the progress document written by PersistProgress.
func WithPipelineID(id string) Option {
	return func(c *config) {
		if id != "" {
			c.pipelineID = id
		}
	}
}

// WithProgressCollection overrides DefaultProgressCollection.
func WithProgressCollection(name string) Option {
	return func(c *config) {
		if name != "" {
			c.progressCollection = name
		}
	}
}

// WithProgressStore persists watermarks to s instead of a MongoDB collection.
func WithProgressStore(s progress.Store) Option {
	return func(c *config) {
		c.progress = s
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Store upserts items of type T into one collection.
type Store[T any] struct {
	coll     bulkWriter
	keyOf    func(T) string
	progress progress.Store
	pipeline string
	client   *mongo.Client
	logger   *slog.Logger
}

func newConfig(opts []Option) *config {
	c := &config{
		pipelineID:         DefaultPipelineID,
		progressCollection: DefaultProgressCollection,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newStore[T any](coll bulkWriter, keyOf func(T) string, c *config) *Store[T] {
	return &Store[T]{
		coll:     coll,
		keyOf:    keyOf,
		progress: c.progress,
		pipeline: c.pipelineID,
		logger:   c.logger.With("component", "claimwriter>mongo"),
	}
}

// New creates a Store writing to coll. keyOf returns the document _id.
//
// Example:
//
//	store := mongo.New(db.Collection("claims"), func(c Claim) string { return c.ID })
func New[T any](coll *mongo.Collection, keyOf func(T) string, opts ...Option) *Store[T] {
	c := newConfig(opts)
	s := newStore(coll, keyOf, c)
	if s.progress == nil {
		s.progress = progress.NewMongoStore(coll.Database().Collection(c.progressCollection))
	}
	return s
}

// Connect opens a client for uri and returns a Store on database.collection.
// The Store owns the client and disconnects it on Close.
func Connect[T any](ctx context.Context, uri, database, collection string, keyOf func(T) string, opts ...Option) (*Store[T], error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(client.Database(database).Collection(collection), keyOf, opts...)
	s.client = client
	return s, nil
}

// Factory returns a SinkFactory whose sinks share coll. The driver pools
// connections internally, so sinks do not own a client and Close is a no-op.
func Factory[T any](coll *mongo.Collection, keyOf func(T) string, t claimwriter.Transformer[T], opts ...Option) claimwriter.SinkFactory[T] {
	return func(ctx context.Context) (claimwriter.Sink[T], error) {
		return claimwriter.NewSink(t, New(coll, keyOf, opts...)), nil
	}
}

// models builds one upsert per item, in order.
func (s *Store[T]) models(items []T) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(items))
	for i, item := range items {
		id := s.keyOf(item)
		if id == "" {
			return nil, fmt.Errorf("%w: item %d", ErrMissingID, i)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(item).
			SetUpsert(true))
	}
	return models, nil
}

// WriteBatch upserts items in one ordered bulk write and returns the
// number of documents matched or inserted.
func (s *Store[T]) WriteBatch(ctx context.Context, items []T) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	models, err := s.models(items)
	if err != nil {
		return 0, err
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return 0, fmt.Errorf("bulk write: %w", err)
	}

	n := int(res.MatchedCount + res.UpsertedCount)
	s.logger.Debug("bulk write", "items", len(items), "matched", res.MatchedCount, "upserted", res.UpsertedCount)
	return n, nil
}

// PersistProgress saves n as the pipeline's watermark.
func (s *Store[T]) PersistProgress(ctx context.Context, n int64) error {
	return s.progress.Save(ctx, s.pipeline, n)
}

// LoadProgress returns the pipeline's persisted watermark, or 0.
func (s *Store[T]) LoadProgress(ctx context.Context) (int64, error) {
	return s.progress.Load(ctx, s.pipeline)
}

// Close disconnects the client if the Store opened it.
func (s *Store[T]) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Compile-time checks
var (
	_ claimwriter.BatchStore[any] = (*Store[any])(nil)
	_ bulkWriter                  = (*mongo.Collection)(nil)
)
