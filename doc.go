// Package claimwriter writes a continuous stream of keyed, sequenced records
// to a backing store with bounded concurrency.
//
// The pipeline partitions records by key across N writers. Each writer owns
// its own store connection and a buffer that keeps only the latest version of
// every key, and flushes that buffer as one all-or-nothing batch when it is
// full or its queue runs dry. Completed sequence numbers feed a shared
// progress tracker whose safe resume point is persisted as it advances, so a
// restarted run resumes after the last record known to be durably written,
// even though writers finish out of order.
//
// Components:
//   - ConcurrentSink: synchronous "write a batch, get a count" facade
//   - WriterPool: routes records to writers, aggregates counts, shuts down
//   - Writer: per-partition buffer and flush loop
//   - WriteBuffer: ordered, deduplicating accumulator
//   - ProgressWriter: persists the watermark when it changes
//
// Supporting packages:
//   - partition: key to partition mapping (xxhash64)
//   - progress: watermark tracker and Redis, MongoDB and Postgres stores
//   - closer: shutdown sequences with aggregated errors
//   - bridge: permit-gated producer to consumer bridge
//   - payload: versioned payload codecs
//   - store/postgres, store/mongo: BatchStore implementations
//   - source: Kafka and NATS JetStream sources and a resumable Job
//
// Basic example:
//
//	type Claim struct {
//	    ID     string
//	    Amount int64
//	}
//
//	transformer := &claimwriter.DecodingTransformer[ClaimMessage, Claim]{
//	    Codecs: payload.NewRegistry(payload.JSON{}),
//	    KeyOf:  func(m ClaimMessage) string { return m.ClaimID },
//	    Map:    toClaim,
//	}
//	factory := func(ctx context.Context) (claimwriter.Sink[Claim], error) {
//	    store, err := postgres.Connect(ctx, dsn, claimMapper)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return claimwriter.NewSink[Claim](transformer, store), nil
//	}
//
//	sink, err := claimwriter.NewConcurrentSink(ctx, factory,
//	    claimwriter.WithMaxWriters(8),
//	    claimwriter.WithBatchSize(500),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, err := sink.Write(ctx, "v1", records)
//
// Options:
//   - WithMaxWriters: number of partitions. Default is 4.
//   - WithBatchSize: distinct keys per flush. Default is 100.
//   - WithQueueSize: per-writer queue capacity. Default is 4 x batch size.
//   - WithPartitioner: key partitioner. Default is xxhash64 modulo.
//   - WithInitialWatermark: resume point of the previous run.
//   - WithOnBatch: callback for every flush and dropped record.
//   - WithOnProgressError: callback for watermark persist failures.
//   - WithProgressInterval: minimum spacing of watermark persists. Default is 250ms.
//   - WithMaxTransformErrors: transform failures a writer tolerates. Default is unlimited.
//   - WithDeadLetter: store for records dropped by a failed transform.
//   - WithLogger, WithMetrics, WithTracing: slog and OpenTelemetry.
//
// Error handling:
//
// A record whose transform fails is dropped and reported as a BatchResult
// carrying a *TransformError. With WithDeadLetter the record is saved to the
// dead-letter store first; its sequence number is completed only once saved.
// A failed batch write stops its writer and is reported as a *WriteError.
// Every later Submit to that partition fails with ErrWriterFailed, and every
// later ConcurrentSink.Write fails whichever partitions it touches. The
// records the batch covered are never completed, so the watermark does not
// pass them. Close runs every shutdown step and returns the first failure
// with later ones attached as suppressed errors.
package claimwriter
