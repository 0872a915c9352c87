package claimwriter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/rbaliyan/claimwriter/closer"
	"github.com/rbaliyan/claimwriter/partition"
	"github.com/rbaliyan/claimwriter/progress"
)

// WriterPool owns N writers and one progress writer.
//
// Records are routed to writers by key, so all versions of a claim are
// handled by the same writer in submission order. Each writer, and the
// progress writer, runs as a task on a dedicated pond pool and holds its own
// Sink from the factory.
//
// Example:
//
//	pool, err := claimwriter.NewWriterPool(ctx, factory,
//	    claimwriter.WithMaxWriters(8),
//	    claimwriter.WithBatchSize(500),
//	)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close(ctx)
//
//	for _, rec := range records {
//	    if err := pool.Submit(ctx, "v1", rec); err != nil {
//	        return err
//	    }
//	}
//	pool.AdvanceProgress()
type WriterPool[T any] struct {
	id          string
	tracker     *progress.Tracker
	writers     []*Writer[T]
	partitioner *partition.KeyPartitioner[*Writer[T]]
	progress    *ProgressWriter[T]
	keySink     Sink[T]
	sinks       []Sink[T]
	executor    pond.Pool
	tasks       []pond.Task
	progressJob pond.Task
	logger      *slog.Logger
	cancel      context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewWriterPool creates the pool and starts its writers.
//
// factory is called once per writer plus once for the progress writer. If
// any call fails, sinks already created are closed and the error returned.
func NewWriterPool[T any](ctx context.Context, factory SinkFactory[T], opts ...Option) (*WriterPool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: sink factory is required", ErrInvalidOption)
	}
	o := newOptions(opts...)

	id := uuid.New().String()
	logger := o.logger.With("component", "claimwriter>pool", "pool", id)

	sinks := make([]Sink[T], 0, o.maxWriters+1)
	for i := 0; i <= o.maxWriters; i++ {
		sink, err := factory(ctx)
		if err != nil {
			var mc closer.MultiCloser
			for _, s := range sinks {
				mc.Register(func() error { return s.Close(ctx) })
			}
			return nil, closer.Suppress(fmt.Errorf("create sink %d: %w", i, err), mc.Finish())
		}
		sinks = append(sinks, sink)
	}

	tracker := progress.NewTracker(o.initialWatermark)
	m := newMetrics(id, o.metricsEnabled, o.tracingEnabled)
	pw := newProgressWriter(sinks[o.maxWriters], tracker, o, m)

	writers := make([]*Writer[T], o.maxWriters)
	for i := range writers {
		writers[i] = newWriter(i, sinks[i], tracker, o, m, pw.Advance)
	}
	kp, err := partition.NewKeyPartitionerWith(o.partitioner, writers)
	if err != nil {
		return nil, err
	}

	// Writers outlive the constructor's context; Close stops them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p := &WriterPool[T]{
		id:          id,
		tracker:     tracker,
		writers:     writers,
		partitioner: kp,
		progress:    pw,
		keySink:     sinks[o.maxWriters],
		sinks:       sinks,
		executor:    pond.NewPool(o.maxWriters + 1),
		logger:      logger,
		cancel:      cancel,
	}

	for _, w := range writers {
		p.tasks = append(p.tasks, p.executor.SubmitErr(func() error {
			return w.Run(runCtx)
		}))
	}
	p.progressJob = p.executor.SubmitErr(func() error {
		return pw.Run(runCtx)
	})

	logger.Info("writer pool started",
		"writers", o.maxWriters,
		"batch_size", o.batchSize,
		"queue_size", o.queueSize,
		"initial_watermark", o.initialWatermark)
	return p, nil
}

// ID returns the pool's unique identifier.
func (p *WriterPool[T]) ID() string {
	return p.id
}

// Submit registers rec's sequence number and queues it on the writer owning
// its key. It blocks while that writer's queue is full.
func (p *WriterPool[T]) Submit(ctx context.Context, version string, rec Record) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	key := keyOf(p.keySink, rec)
	if key == "" {
		return fmt.Errorf("%w: sequence %d", ErrMissingKey, rec.Sequence)
	}
	rec.Key = key
	if version == "" {
		version = rec.Version
	}

	w := p.partitioner.PartitionFor(key)
	if err := w.Err(); err != nil {
		return fmt.Errorf("%w: partition %d: %w", ErrWriterFailed, w.Partition(), err)
	}

	p.tracker.Register(rec.Sequence)
	return w.enqueue(ctx, Entry{Version: version, Record: rec})
}

// ProcessedCount returns the number of storage items flushed by all writers
// since the pool was created.
func (p *WriterPool[T]) ProcessedCount() int64 {
	var total int64
	for _, w := range p.writers {
		total += w.ProcessedCount()
	}
	return total
}

// AdvanceProgress asks the progress writer to persist the current watermark.
func (p *WriterPool[T]) AdvanceProgress() {
	p.progress.Advance()
}

// Watermark returns the current safe resume point.
func (p *WriterPool[T]) Watermark() int64 {
	return p.tracker.SafeResumePoint()
}

// Err returns the error of the first failed writer, if any.
func (p *WriterPool[T]) Err() error {
	for _, w := range p.writers {
		if err := w.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops every writer and the progress writer, waits for them to drain
// and flush, then closes all sinks.
//
// Every step runs even if an earlier one fails. The first error is returned
// with later ones attached as suppressed errors (see closer.SuppressedError).
//
// If ctx ends before the writers finish, Close returns ctx.Err() among the
// errors without waiting further and cancels in-flight writes. A sink whose
// writer is still running is never closed under it: it is closed in the
// background once that writer exits.
func (p *WriterPool[T]) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		var mc closer.MultiCloser
		mc.Register(func() error {
			for _, w := range p.writers {
				w.Stop()
			}
			return wait(ctx, p.tasks...)
		})
		for _, w := range p.writers {
			mc.Register(w.Err)
		}
		mc.Register(func() error {
			p.progress.Stop()
			return wait(ctx, p.progressJob)
		})
		mc.Register(p.progress.Err)
		mc.Register(func() error {
			// In-flight writes observe the cancellation and return.
			p.cancel()
			p.executor.Stop()
			return nil
		})
		for i, s := range p.sinks {
			task := p.progressJob
			if i < len(p.tasks) {
				task = p.tasks[i]
			}
			mc.Register(func() error {
				if !done(task) {
					p.closeAfter(context.WithoutCancel(ctx), task, i, s)
					return nil
				}
				return closeSink(ctx, i, s)
			})
		}

		p.closeErr = mc.Finish()
		p.logger.Info("writer pool closed",
			"processed", p.ProcessedCount(),
			"watermark", p.tracker.SafeResumePoint(),
			"error", p.closeErr)
	})
	return p.closeErr
}

// closeAfter closes sink i once task has exited.
func (p *WriterPool[T]) closeAfter(ctx context.Context, task pond.Task, i int, s Sink[T]) {
	p.logger.Warn("sink still in use, closing once its writer exits", "sink", i)
	go func() {
		<-task.Done()
		if err := closeSink(ctx, i, s); err != nil {
			p.logger.Error("deferred sink close failed", "sink", i, "error", err)
		}
	}()
}

func closeSink[T any](ctx context.Context, i int, s Sink[T]) error {
	if err := s.Close(ctx); err != nil {
		return fmt.Errorf("close sink %d: %w", i, err)
	}
	return nil
}

func done(t pond.Task) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// wait blocks until every task finished or ctx ends. Task results are
// read from the writers themselves, so only ctx errors are returned.
func wait(ctx context.Context, tasks ...pond.Task) error {
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for writers: %w", ctx.Err())
		}
	}
	return nil
}
