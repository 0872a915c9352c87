package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rbaliyan/claimwriter"
	"github.com/rbaliyan/claimwriter/bridge"
	"github.com/rbaliyan/claimwriter/closer"
	"github.com/rbaliyan/claimwriter/progress"
)

// Job defaults.
const (
	DefaultBatchSize      = 500
	DefaultBridgeCapacity = 2000
	DefaultMaxRetries     = 5
)

// ErrSourceRequired is returned by NewJob without a Source.
var ErrSourceRequired = errors.New("source: source is required")

type jobConfig struct {
	pipelineID     string
	batchSize      int
	bridgeCapacity int
	maxRetries     uint64
	backOff        func() backoff.BackOff
	sinkOpts       []claimwriter.Option
	logger         *slog.Logger
}

// JobOption configures a Job.
type JobOption func(*jobConfig)

// WithPipelineID sets the progress store key. Default is "default".
func WithPipelineID(id string) JobOption {
	return func(c *jobConfig) {
		if id != "" {
			c.pipelineID = id
		}
	}
}

// WithBatchSize sets the maximum number of records per ConcurrentSink.Write.
func WithBatchSize(n int) JobOption {
	return func(c *jobConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithBridgeCapacity sets how many records the source may run ahead of
// the writers.
func WithBridgeCapacity(n int) JobOption {
	return func(c *jobConfig) {
		if n > 0 {
			c.bridgeCapacity = n
		}
	}
}

// WithMaxRetries sets how many times a failed run is restarted.
// 0 disables retries.
func WithMaxRetries(n uint64) JobOption {
	return func(c *jobConfig) {
		c.maxRetries = n
	}
}

// WithBackOff sets the retry delay policy. fn is called once per Run.
// Default is backoff.NewExponentialBackOff.
func WithBackOff(fn func() backoff.BackOff) JobOption {
	return func(c *jobConfig) {
		if fn != nil {
			c.backOff = fn
		}
	}
}

// WithSinkOptions passes options to every run's ConcurrentSink.
// WithInitialWatermark is always set by the Job.
func WithSinkOptions(opts ...claimwriter.Option) JobOption {
	return func(c *jobConfig) {
		c.sinkOpts = append(c.sinkOpts, opts...)
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) JobOption {
	return func(c *jobConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Job streams a Source into a ConcurrentSink, resuming from and persisting
// to a progress.Store.
//
// Example:
//
//	job, err := source.NewJob(src, postgres.Factory(dsn, mapper, transformer), marks,
//	    source.WithPipelineID("claims-0"),
//	    source.WithSinkOptions(claimwriter.WithMaxWriters(8)),
//	)
//	if err != nil {
//	    return err
//	}
//	written, err := job.Run(ctx)
type Job[T any] struct {
	source   Source
	factory  claimwriter.SinkFactory[T]
	progress progress.Store
	cfg      *jobConfig
	logger   *slog.Logger
}

// NewJob creates a Job. Every sink the factory creates persists progress to
// store under the job's pipeline id, so runs resume where the last one
// stopped.
func NewJob[T any](src Source, factory claimwriter.SinkFactory[T], store progress.Store, opts ...JobOption) (*Job[T], error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if factory == nil || store == nil {
		return nil, fmt.Errorf("%w: sink factory and progress store are required", claimwriter.ErrInvalidOption)
	}

	cfg := &jobConfig{
		pipelineID:     "default",
		batchSize:      DefaultBatchSize,
		bridgeCapacity: DefaultBridgeCapacity,
		maxRetries:     DefaultMaxRetries,
		backOff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.bridgeCapacity < cfg.batchSize {
		cfg.bridgeCapacity = cfg.batchSize
	}

	return &Job[T]{
		source:   src,
		factory:  factory,
		progress: store,
		cfg:      cfg,
		logger:   cfg.logger.With("component", "claimwriter>job", "pipeline", cfg.pipelineID),
	}, nil
}

// Run streams until the source ends. Failed runs are retried from the
// persisted watermark with backoff. It returns the number of items written
// across all attempts; cancelling ctx ends the job without an error.
func (j *Job[T]) Run(ctx context.Context) (int64, error) {
	var total int64
	b := backoff.WithContext(backoff.WithMaxRetries(j.cfg.backOff(), j.cfg.maxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		n, err := j.runOnce(ctx)
		total += int64(n)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, d time.Duration) {
		j.logger.Warn("run failed, retrying", "error", err, "delay", d)
	})

	if ctx.Err() != nil {
		j.logger.Info("job cancelled", "written", total)
		return total, nil
	}
	if err != nil {
		return total, err
	}
	j.logger.Info("job finished", "written", total)
	return total, nil
}

// Close closes the source.
func (j *Job[T]) Close() error {
	return j.source.Close()
}

func isPermanent(err error) bool {
	return errors.Is(err, claimwriter.ErrInvalidOption) || errors.Is(err, claimwriter.ErrMissingKey)
}

// runOnce performs a single attempt: load the watermark, stream everything
// after it, and close the sink.
func (j *Job[T]) runOnce(ctx context.Context) (int, error) {
	from, err := j.progress.Load(ctx, j.cfg.pipelineID)
	if err != nil {
		return 0, fmt.Errorf("load watermark: %w", err)
	}

	logger := j.logger.With("run", uuid.New().String())
	sinkOpts := append(append([]claimwriter.Option{}, j.cfg.sinkOpts...),
		claimwriter.WithInitialWatermark(from),
		claimwriter.WithLogger(logger))
	sink, err := claimwriter.NewConcurrentSink(ctx, j.persistingFactory(), sinkOpts...)
	if err != nil {
		return 0, err
	}
	logger.Info("run started", "from", from+1)

	br := bridge.New[claimwriter.Record](j.cfg.bridgeCapacity)
	br.Allow(br.Capacity())

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srcDone := make(chan error, 1)
	go func() {
		defer br.Complete()
		srcDone <- j.source.Stream(streamCtx, from+1, func(rec claimwriter.Record) error {
			return br.Emit(streamCtx, rec)
		})
	}()

	writeErr := j.consume(ctx, sink, br)

	// Stop the source if the consumer gave up first.
	cancel()
	srcErr := <-srcDone
	if writeErr != nil || errors.Is(srcErr, context.Canceled) || errors.Is(srcErr, bridge.ErrCompleted) {
		srcErr = nil
	}
	if srcErr != nil {
		srcErr = fmt.Errorf("stream: %w", srcErr)
	}

	closeErr := sink.Close(context.WithoutCancel(ctx))
	written := int(sink.Pool().ProcessedCount())
	logger.Info("run stopped",
		"written", written,
		"watermark", sink.Watermark(),
		"error", writeErr)
	return written, closer.Suppress(writeErr, srcErr, closeErr)
}

// consume writes bridged records in batches of whatever is available, up
// to the batch size, granting the producer one permit per consumed record.
func (j *Job[T]) consume(ctx context.Context, sink *claimwriter.ConcurrentSink[T], br *bridge.BoundedBridge[claimwriter.Record]) error {
	version := j.source.Version()
	batch := make([]claimwriter.Record, 0, j.cfg.batchSize)

	for rec := range br.Values() {
		batch = append(batch, rec)
	fill:
		for len(batch) < j.cfg.batchSize {
			select {
			case next, ok := <-br.Values():
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		n, err := sink.Write(ctx, version, batch)
		if err != nil {
			return err
		}
		j.logger.Debug("batch submitted", "records", len(batch), "flushed", n)
		br.Allow(len(batch))
		batch = batch[:0]
	}
	return nil
}

func (j *Job[T]) persistingFactory() claimwriter.SinkFactory[T] {
	return func(ctx context.Context) (claimwriter.Sink[T], error) {
		s, err := j.factory(ctx)
		if err != nil {
			return nil, err
		}
		return &persistingSink[T]{Sink: s, store: j.progress, id: j.cfg.pipelineID}, nil
	}
}

// persistingSink redirects PersistProgress to the job's progress store.
type persistingSink[T any] struct {
	claimwriter.Sink[T]
	store progress.Store
	id    string
}

func (s *persistingSink[T]) PersistProgress(ctx context.Context, n int64) error {
	return s.store.Save(ctx, s.id, n)
}
