package claimwriter

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rbaliyan/claimwriter/progress"
)

// ProgressWriter persists the tracker's watermark whenever it advances.
//
// Advance requests coalesce: any number of calls between two persists cost a
// single write. A watermark equal to the last persisted one is never written
// again. Persist failures go to the error callback and do not stop the loop;
// on Stop a final persist is attempted before Run returns.
type ProgressWriter[T any] struct {
	sink     Sink[T]
	tracker  *progress.Tracker
	limiter  *rate.Limiter
	onError  func(error)
	logger   *slog.Logger
	metrics  *metrics
	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	persisted int64
	lastErr   error
}

func newProgressWriter[T any](sink Sink[T], tracker *progress.Tracker, o *options, m *metrics) *ProgressWriter[T] {
	var limiter *rate.Limiter
	if o.progressInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(o.progressInterval), 1)
	}
	return &ProgressWriter[T]{
		sink:      sink,
		tracker:   tracker,
		limiter:   limiter,
		onError:   o.onProgressError,
		logger:    o.logger.With("component", "claimwriter>progress"),
		metrics:   m,
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		persisted: o.initialWatermark,
	}
}

// Advance asks the writer to persist the current watermark. It never blocks.
func (p *ProgressWriter[T]) Advance() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stop signals the writer to persist one last time and exit.
func (p *ProgressWriter[T]) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Persisted returns the last watermark written to the sink.
func (p *ProgressWriter[T]) Persisted() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persisted
}

// Run persists on every Advance, no more often than the configured interval,
// until Stop is called or ctx ends. It returns the error of the final
// persist, if any.
func (p *ProgressWriter[T]) Run(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		select {
		case <-p.notify:
			if p.limiter != nil {
				if err := p.limiter.Wait(waitCtx); err != nil {
					return p.final(ctx)
				}
			}
			p.persist(ctx)
		case <-p.stop:
			return p.final(ctx)
		case <-ctx.Done():
			return p.final(ctx)
		}
	}
}

func (p *ProgressWriter[T]) final(ctx context.Context) error {
	err := p.persist(context.WithoutCancel(ctx))
	p.logger.Info("progress writer stopped", "watermark", p.Persisted())
	return err
}

// persist writes the current watermark if it changed since the last write.
func (p *ProgressWriter[T]) persist(ctx context.Context) error {
	n := p.tracker.SafeResumePoint()
	if n == p.Persisted() {
		return nil
	}

	err := p.sink.PersistProgress(ctx, n)

	p.mu.Lock()
	if err != nil {
		err = &ProgressError{Watermark: n, Err: err}
	} else {
		p.persisted = n
	}
	p.lastErr = err
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("persist watermark failed", "watermark", n, "error", err)
		p.onError(err)
		return err
	}
	p.metrics.watermarkPersisted(ctx, n)
	p.logger.Debug("persisted watermark", "watermark", n)
	return nil
}

// Err returns the error of the most recent persist attempt, if it failed.
func (p *ProgressWriter[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
