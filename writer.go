package claimwriter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/rbaliyan/claimwriter/deadletter"
	"github.com/rbaliyan/claimwriter/progress"
)

// Writer is the single-goroutine loop behind one partition.
//
// It pulls entries from its queue into a WriteBuffer and flushes the buffer
// to its Sink when it holds batchSize distinct keys, or as soon as the queue
// runs dry so slow partitions are never stalled. Every record of a
// successful flush is completed on the shared tracker.
//
// A failed batch write is fatal: the writer records the error, reports it
// and from then on only discards its queue until it is stopped.
type Writer[T any] struct {
	partition          int
	sink               Sink[T]
	queue              chan Entry
	buffer             *WriteBuffer[T]
	batchSize          int
	maxTransformErrors int
	tracker            *progress.Tracker
	deadLetter         deadletter.Store
	pipeline           string
	onBatch            func(BatchResult)
	onFlushed          func()
	logger             *slog.Logger
	metrics            *metrics

	stop     chan struct{}
	stopOnce sync.Once

	processed       atomic.Int64
	transformErrors int
	discarded       atomic.Int64

	mu  sync.Mutex
	err error
}

func newWriter[T any](partition int, sink Sink[T], tracker *progress.Tracker, o *options, m *metrics, onFlushed func()) *Writer[T] {
	return &Writer[T]{
		partition:          partition,
		sink:               sink,
		queue:              make(chan Entry, o.queueSize),
		buffer:             NewWriteBuffer[T](o.batchSize),
		batchSize:          o.batchSize,
		maxTransformErrors: o.maxTransformErrors,
		tracker:            tracker,
		deadLetter:         o.deadLetter,
		pipeline:           o.pipeline,
		onBatch:            o.onBatch,
		onFlushed:          onFlushed,
		logger:             o.logger.With("component", "claimwriter>writer", "partition", partition),
		metrics:            m,
		stop:               make(chan struct{}),
	}
}

// Partition returns the index of the partition this writer owns.
func (w *Writer[T]) Partition() int {
	return w.partition
}

// enqueue hands e to the writer, blocking while its queue is full.
func (w *Writer[T]) enqueue(ctx context.Context, e Entry) error {
	if err := w.Err(); err != nil {
		return fmt.Errorf("%w: partition %d: %w", ErrWriterFailed, w.partition, err)
	}
	select {
	case w.queue <- e:
		return nil
	case <-w.stop:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the writer to drain its queue, flush and exit.
func (w *Writer[T]) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Writer[T]) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Err returns the error that stopped the writer, if any.
func (w *Writer[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer[T]) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// ProcessedCount returns the number of storage items this writer has flushed.
func (w *Writer[T]) ProcessedCount() int64 {
	return w.processed.Load()
}

// RunOnce performs one step of the writer loop without blocking.
//
// It takes at most one entry from the queue, flushes when the buffer is full
// or when no entry was available, and reports whether the loop should keep
// running: false once the writer has failed, or once it is stopped and its
// queue and buffer are empty.
func (w *Writer[T]) RunOnce(ctx context.Context) bool {
	if w.Err() != nil {
		return false
	}
	select {
	case e := <-w.queue:
		return w.handle(ctx, e)
	default:
	}

	if !w.buffer.Empty() {
		if w.flush(ctx) != nil {
			return false
		}
	}
	return !w.stopping()
}

func (w *Writer[T]) handle(ctx context.Context, e Entry) bool {
	if err := w.buffer.Add(ctx, w.sink, e); err != nil {
		if w.transformFailed(ctx, e, err) != nil {
			return false
		}
	}
	if w.buffer.Len() >= w.batchSize {
		if w.flush(ctx) != nil {
			return false
		}
	}
	return true
}

// Run is the production loop. It blocks on the queue while the buffer is
// empty and returns once the writer is stopped and drained, or failed and
// stopped. A failed writer keeps discarding entries so producers blocked on
// its queue are released.
func (w *Writer[T]) Run(ctx context.Context) error {
	w.logger.Info("writer started", "batch_size", w.batchSize, "queue_size", cap(w.queue))

	for {
		if w.buffer.Empty() && w.Err() == nil {
			select {
			case e := <-w.queue:
				w.handle(ctx, e)
				continue
			case <-w.stop:
			case <-ctx.Done():
				w.Stop()
			}
		}
		if !w.RunOnce(ctx) {
			break
		}
	}

	if err := w.Err(); err != nil {
		w.discard()
		w.logger.Error("writer stopped after failure", "error", err, "discarded", w.discarded.Load())
		return err
	}

	w.logger.Info("writer stopped", "processed", w.processed.Load())
	return nil
}

func (w *Writer[T]) discard() {
	for {
		select {
		case <-w.queue:
			w.discarded.Add(1)
		case <-w.stop:
			for {
				select {
				case <-w.queue:
					w.discarded.Add(1)
				default:
					return
				}
			}
		}
	}
}

// transformFailed reports a dropped record, saves it to the dead-letter store
// if one is configured, and completes its sequence number. It returns a
// non-nil error once the transform error limit is exceeded or the record
// could not be dead-lettered.
func (w *Writer[T]) transformFailed(ctx context.Context, e Entry, err error) error {
	w.transformErrors++
	w.metrics.transformFailed(ctx, w.partition)

	if w.maxTransformErrors > 0 && w.transformErrors > w.maxTransformErrors {
		fatal := fmt.Errorf("%w (%d): %w", ErrTooManyTransformErrors, w.transformErrors, err)
		w.logger.Error("transform error limit exceeded", "sequence", e.Sequence(), "error", err)
		w.fail(fatal)
		w.onBatch(BatchResult{Partition: w.partition, Entries: []Entry{e}, Err: fatal})
		return fatal
	}

	if w.deadLetter != nil {
		if dlErr := w.deadLetter.Store(ctx, w.deadLetterMessage(e, err)); dlErr != nil {
			fatal := fmt.Errorf("%w: sequence %d: %w", ErrDeadLetter, e.Sequence(), dlErr)
			w.logger.Error("dead-letter save failed", "sequence", e.Sequence(), "error", dlErr)
			w.fail(fatal)
			w.onBatch(BatchResult{Partition: w.partition, Entries: []Entry{e}, Err: fatal})
			return fatal
		}
	}

	w.logger.Warn("dropping record", "sequence", e.Sequence(), "error", err)
	w.tracker.Complete(e.Sequence())
	w.onBatch(BatchResult{Partition: w.partition, Entries: []Entry{e}, Err: err})
	return nil
}

func (w *Writer[T]) deadLetterMessage(e Entry, err error) *deadletter.Message {
	key := e.Record.Key
	if key == "" {
		key = w.sink.Key(e.Record.Payload)
	}
	return &deadletter.Message{
		ID:        uuid.New().String(),
		Pipeline:  w.pipeline,
		Partition: w.partition,
		Version:   e.Version,
		Key:       key,
		Sequence:  e.Sequence(),
		Payload:   e.Record.Payload,
		Error:     err.Error(),
		CreatedAt: time.Now(),
	}
}

// flush writes the buffered claims as one batch.
func (w *Writer[T]) flush(ctx context.Context) error {
	claims := w.buffer.Claims()
	messages := w.buffer.Messages()

	ctx, span := w.metrics.startFlush(ctx, w.partition, len(claims), len(messages))
	defer span.End()

	written := 0
	var err error
	if len(claims) > 0 {
		written, err = w.sink.WriteBatch(ctx, claims)
	}
	w.buffer.Clear()

	if err != nil {
		werr := &WriteError{Partition: w.partition, Entries: messages, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "write batch failed")
		w.metrics.writeFailed(ctx, w.partition)
		w.logger.Error("batch write failed", "unique", len(claims), "all", len(messages), "error", err)
		w.fail(werr)
		w.onBatch(BatchResult{Partition: w.partition, Entries: messages, Written: written, Err: werr})
		return werr
	}

	for _, m := range messages {
		w.tracker.Complete(m.Sequence())
	}
	w.processed.Add(int64(written))
	w.metrics.flushed(ctx, w.partition, written)
	w.logger.Debug("flushed batch", "unique", len(claims), "all", len(messages), "processed", w.processed.Load())

	w.onBatch(BatchResult{Partition: w.partition, Entries: messages, Written: written})
	if w.onFlushed != nil {
		w.onFlushed()
	}
	return nil
}
