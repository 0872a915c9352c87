package claimwriter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rbaliyan/claimwriter/partition"
)

func TestConcurrentSinkWrite(t *testing.T) {
	ctx := context.Background()
	f := &storeFactory{}
	sink, err := NewConcurrentSink(ctx, f.create, testOptions(WithMaxWriters(3), WithBatchSize(4))...)
	if err != nil {
		t.Fatalf("NewConcurrentSink failed: %v", err)
	}

	reported := 0
	seq := int64(0)
	for batch := 0; batch < 10; batch++ {
		records := make([]Record, 0, 20)
		for i := 0; i < 20; i++ {
			seq++
			records = append(records, rec(seq, fmt.Sprintf("claim-%d:%d", seq, batch)))
		}
		n, err := sink.Write(ctx, "v1", records)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if n < 0 {
			t.Fatalf("expected non-negative count, got %d", n)
		}
		reported += n
	}

	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	total := int(sink.Pool().ProcessedCount())
	if total != 200 {
		t.Errorf("expected 200 records written, got %d", total)
	}
	if reported > total {
		t.Errorf("expected reported count %d to be at most %d", reported, total)
	}
	if got := sink.Watermark(); got != 200 {
		t.Errorf("expected watermark 200, got %d", got)
	}
}

func TestConcurrentSinkShutdownFlush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore[claim]()
	sink, err := NewConcurrentSink(ctx, StaticFactory[claim](claimTransformer(), store),
		testOptions(WithMaxWriters(2), WithBatchSize(1000))...)
	if err != nil {
		t.Fatalf("NewConcurrentSink failed: %v", err)
	}

	records := make([]Record, 10)
	for i := range records {
		records[i] = rec(int64(i+1), fmt.Sprintf("claim-%d:1", i))
	}
	if _, err := sink.Write(ctx, "v1", records); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := len(store.Items()); got != 10 {
		t.Errorf("expected 10 items flushed on close, got %d", got)
	}
	if got := store.LastWatermark(); got != 10 {
		t.Errorf("expected final watermark 10, got %d", got)
	}
}

func TestConcurrentSinkPartialFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("constraint violation")
	f := &storeFactory{}
	sink, err := NewConcurrentSink(ctx, f.create, testOptions(WithMaxWriters(4), WithBatchSize(1))...)
	if err != nil {
		t.Fatalf("NewConcurrentSink failed: %v", err)
	}
	defer sink.Close(ctx)

	failing := partition.NewHashPartitioner().Partition("bad", 4)
	f.store(failing).FailAll(boom)

	// The batch may fail before the first Write returns.
	if _, err := sink.Write(ctx, "v1", []Record{rec(1, "bad:1")}); err != nil && !errors.Is(err, boom) {
		t.Fatalf("first Write failed: %v", err)
	}
	eventually(t, func() bool { return sink.Pool().Err() != nil })

	n, err := sink.Write(ctx, "v1", []Record{rec(2, "bad:2")})
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProcessingError, got %v", err)
	}
	if pe.Processed != n {
		t.Errorf("expected Processed %d to equal returned count %d", pe.Processed, n)
	}
	if !errors.Is(err, ErrWriterFailed) || !errors.Is(err, boom) {
		t.Errorf("expected error to wrap ErrWriterFailed and %v, got %v", boom, err)
	}
}

func TestConcurrentSinkFailureOnOtherPartition(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("constraint violation")
	f := &storeFactory{}
	sink, err := NewConcurrentSink(ctx, f.create, testOptions(WithMaxWriters(4), WithBatchSize(1))...)
	if err != nil {
		t.Fatalf("NewConcurrentSink failed: %v", err)
	}
	defer sink.Close(ctx)

	p := partition.NewHashPartitioner()
	failing := p.Partition("bad", 4)
	f.store(failing).FailAll(boom)

	healthy := ""
	for i := 0; healthy == ""; i++ {
		if k := fmt.Sprintf("good-%d", i); p.Partition(k, 4) != failing {
			healthy = k
		}
	}

	sink.Write(ctx, "v1", []Record{rec(1, "bad:1")})
	eventually(t, func() bool { return sink.Pool().Err() != nil })

	n, err := sink.Write(ctx, "v1", []Record{rec(2, healthy+":1")})
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProcessingError for a write to a healthy partition, got %v", err)
	}
	if pe.Processed != n {
		t.Errorf("expected Processed %d to equal returned count %d", pe.Processed, n)
	}
	if !errors.Is(err, ErrWriterFailed) || !errors.Is(err, boom) {
		t.Errorf("expected error to wrap ErrWriterFailed and %v, got %v", boom, err)
	}
	if got := sink.Watermark(); got != 0 {
		t.Errorf("expected watermark to stay at 0, got %d", got)
	}
}
