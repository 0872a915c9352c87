package claimwriter

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/claimwriter/deadletter"
	"github.com/rbaliyan/claimwriter/partition"
)

// Default configuration values
var (
	// DefaultMaxWriters is the number of partitions and writer goroutines.
	DefaultMaxWriters = 4

	// DefaultBatchSize is the number of distinct keys that triggers a flush.
	DefaultBatchSize = 100

	// DefaultQueueFactor sizes each writer's queue as a multiple of the batch size.
	DefaultQueueFactor = 4

	// DefaultProgressInterval is the minimum spacing between watermark persists.
	DefaultProgressInterval = 250 * time.Millisecond
)

// options holds pool configuration (unexported)
type options struct {
	maxWriters         int
	batchSize          int
	queueSize          int
	partitioner        partition.Partitioner
	initialWatermark   int64
	onBatch            func(BatchResult)
	onProgressError    func(error)
	progressInterval   time.Duration
	maxTransformErrors int
	deadLetter         deadletter.Store
	pipeline           string
	logger             *slog.Logger
	metricsEnabled     bool
	tracingEnabled     bool
}

// Option configures a WriterPool or ConcurrentSink
type Option func(*options)

// WithMaxWriters sets the number of writers. Values <= 0 are ignored.
func WithMaxWriters(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWriters = n
		}
	}
}

// WithBatchSize sets the number of distinct keys a writer buffers before it
// flushes. Values <= 0 are ignored.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithQueueSize sets the capacity of each writer's queue. Submit blocks
// while the owning writer's queue is full.
// Defaults to DefaultQueueFactor times the batch size. Values <= 0 are ignored.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithPartitioner sets the key partitioner. Default is partition.NewHashPartitioner().
// Only the default hash partitioner keeps every partition within 1% of the
// mean load; partition.ConsistentHashPartitioner trades that bound for
// stable key placement when the writer count changes.
func WithPartitioner(p partition.Partitioner) Option {
	return func(o *options) {
		if p != nil {
			o.partitioner = p
		}
	}
}

// WithInitialWatermark sets the watermark the progress tracker starts from,
// normally the value persisted by the previous run.
func WithInitialWatermark(n int64) Option {
	return func(o *options) {
		o.initialWatermark = n
	}
}

// WithOnBatch sets the callback receiving every BatchResult.
// It is called from writer goroutines and must be safe for concurrent use.
func WithOnBatch(fn func(BatchResult)) Option {
	return func(o *options) {
		if fn != nil {
			o.onBatch = fn
		}
	}
}

// WithOnProgressError sets the callback receiving watermark persist failures.
func WithOnProgressError(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onProgressError = fn
		}
	}
}

// WithProgressInterval sets the minimum time between watermark persists.
// Set to 0 to persist on every advance. Values < 0 are ignored.
func WithProgressInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.progressInterval = d
		}
	}
}

// WithMaxTransformErrors makes a writer fail once more than n records it
// handled could not be transformed. Default is 0 (unlimited).
func WithMaxTransformErrors(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxTransformErrors = n
		}
	}
}

// WithDeadLetter saves every record dropped by a failed transform to store,
// tagged with pipeline, before its sequence number is completed. A record
// that cannot be saved is not completed and fails its writer.
func WithDeadLetter(store deadletter.Store, pipeline string) Option {
	return func(o *options) {
		o.deadLetter = store
		o.pipeline = pipeline
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables or disables OpenTelemetry metrics. Default is true.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithTracing enables or disables OpenTelemetry tracing of flushes. Default is true.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		maxWriters:       DefaultMaxWriters,
		batchSize:        DefaultBatchSize,
		partitioner:      partition.NewHashPartitioner(),
		onBatch:          func(BatchResult) {},
		onProgressError:  func(error) {},
		progressInterval: DefaultProgressInterval,
		logger:           slog.Default(),
		metricsEnabled:   true,
		tracingEnabled:   true,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.queueSize == 0 {
		o.queueSize = DefaultQueueFactor * o.batchSize
	}

	return o
}
