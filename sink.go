package claimwriter

import (
	"context"
	"sync/atomic"

	"github.com/rbaliyan/claimwriter/payload"
	"github.com/rbaliyan/claimwriter/progress"
)

// Sink is the storage capability a writer drives.
//
// Each writer owns its own Sink, created by a SinkFactory, so a Sink never
// needs to synchronize access to its store. Key must be a pure function of
// the payload and safe for concurrent use: the pool calls it from the
// submitting goroutine to route records that carry no key.
type Sink[T any] interface {
	// Key extracts the claim key from a raw payload.
	Key(payload []byte) string

	// Transform maps a payload into a storage item. ok=false skips the
	// record intentionally; an error drops it.
	Transform(ctx context.Context, version string, payload []byte) (item T, ok bool, err error)

	// WriteBatch durably writes items, all or nothing. On success the
	// count equals len(items).
	WriteBatch(ctx context.Context, items []T) (int, error)

	// PersistProgress durably records the resume watermark.
	PersistProgress(ctx context.Context, n int64) error

	// ProcessedCount returns the number of items this sink has written.
	ProcessedCount() int64

	// Close releases the sink's store handle.
	Close(ctx context.Context) error
}

// SinkFactory creates one Sink per writer, plus one for progress persistence.
type SinkFactory[T any] func(ctx context.Context) (Sink[T], error)

// Transformer is the domain half of a Sink.
type Transformer[T any] interface {
	Key(payload []byte) string
	Transform(ctx context.Context, version string, payload []byte) (T, bool, error)
}

// BatchStore is the storage half of a Sink.
type BatchStore[T any] interface {
	WriteBatch(ctx context.Context, items []T) (int, error)
	PersistProgress(ctx context.Context, n int64) error
	Close(ctx context.Context) error
}

// NewSink composes a Transformer and a BatchStore into a Sink that counts
// written items.
func NewSink[T any](t Transformer[T], s BatchStore[T]) Sink[T] {
	return &composedSink[T]{Transformer: t, store: s}
}

type composedSink[T any] struct {
	Transformer[T]
	store     BatchStore[T]
	processed atomic.Int64
}

func (s *composedSink[T]) WriteBatch(ctx context.Context, items []T) (int, error) {
	n, err := s.store.WriteBatch(ctx, items)
	if err != nil {
		return n, err
	}
	s.processed.Add(int64(n))
	return n, nil
}

func (s *composedSink[T]) PersistProgress(ctx context.Context, n int64) error {
	return s.store.PersistProgress(ctx, n)
}

func (s *composedSink[T]) ProcessedCount() int64 {
	return s.processed.Load()
}

func (s *composedSink[T]) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

// PersistTo returns a BatchStore whose PersistProgress saves the watermark
// of pipeline id into p instead of s.
func PersistTo[T any](s BatchStore[T], p progress.Store, id string) BatchStore[T] {
	return &progressStore[T]{BatchStore: s, progress: p, id: id}
}

type progressStore[T any] struct {
	BatchStore[T]
	progress progress.Store
	id       string
}

func (s *progressStore[T]) PersistProgress(ctx context.Context, n int64) error {
	return s.progress.Save(ctx, s.id, n)
}

// DecodingTransformer decodes payloads into M with a codec picked by
// protocol version, then maps M to a storage item T.
//
//	t := &claimwriter.DecodingTransformer[ClaimMessage, ClaimRow]{
//	    Codecs: payload.NewRegistry(payload.JSON{}),
//	    KeyOf:  func(m ClaimMessage) string { return m.ClaimID },
//	    Map:    toRow,
//	}
type DecodingTransformer[M, T any] struct {
	Codecs *payload.Registry
	KeyOf  func(M) string
	Map    func(version string, m M) (T, bool, error)
}

// Key decodes payload with the fallback codec and returns its key, or ""
// if it cannot be decoded.
func (d *DecodingTransformer[M, T]) Key(data []byte) string {
	var m M
	if err := d.Codecs.Decode("", data, &m); err != nil {
		return ""
	}
	return d.KeyOf(m)
}

// Transform decodes payload for version and maps it.
func (d *DecodingTransformer[M, T]) Transform(ctx context.Context, version string, data []byte) (T, bool, error) {
	var m M
	if err := d.Codecs.Decode(version, data, &m); err != nil {
		var zero T
		return zero, false, err
	}
	return d.Map(version, m)
}

// Compile-time checks
var (
	_ Sink[any]        = (*composedSink[any])(nil)
	_ Transformer[any] = (*DecodingTransformer[any, any])(nil)
)
