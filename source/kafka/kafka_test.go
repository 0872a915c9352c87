package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/go-cmp/cmp"

	"github.com/rbaliyan/claimwriter"
)

func TestOffset(t *testing.T) {
	tests := []struct {
		from, want int64
	}{
		{0, sarama.OffsetOldest},
		{1, sarama.OffsetOldest},
		{2, 1},
		{101, 100},
	}
	for _, tt := range tests {
		if got := Offset(tt.from); got != tt.want {
			t.Errorf("Offset(%d): expected %d, got %d", tt.from, tt.want, got)
		}
	}
}

func TestStream(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	defer consumer.Close()

	// Resuming after watermark 4 starts at offset 4.
	pc := consumer.ExpectConsumePartition("claims", 2, 4)
	for _, key := range []string{"c-1", "c-2", "c-1"} {
		pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte(key), Value: []byte(key + ":v")})
	}

	src, err := New(consumer, "claims", 2, WithStopAtEnd(), WithVersion("v3"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var got []claimwriter.Record
	err = src.Stream(context.Background(), 5, func(r claimwriter.Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	want := []claimwriter.Record{
		{Key: "c-1", Sequence: 5, Payload: []byte("c-1:v")},
		{Key: "c-2", Sequence: 6, Payload: []byte("c-2:v")},
		{Key: "c-1", Sequence: 7, Payload: []byte("c-1:v")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected records (-want +got):\n%s", diff)
	}
	if src.Version() != "v3" {
		t.Errorf("expected version v3, got %s", src.Version())
	}
}

func TestStreamKeyFuncAndErrors(t *testing.T) {
	t.Run("key from header", func(t *testing.T) {
		consumer := mocks.NewConsumer(t, nil)
		defer consumer.Close()
		pc := consumer.ExpectConsumePartition("claims", 0, sarama.OffsetOldest)
		pc.YieldMessage(&sarama.ConsumerMessage{
			Headers: []*sarama.RecordHeader{{Key: []byte("claim-id"), Value: []byte("c-77")}},
			Value:   []byte("{}"),
		})

		src, _ := New(consumer, "claims", 0, WithStopAtEnd(), WithKeyFunc(func(m *sarama.ConsumerMessage) string {
			for _, h := range m.Headers {
				if string(h.Key) == "claim-id" {
					return string(h.Value)
				}
			}
			return ""
		}))

		var keys []string
		if err := src.Stream(context.Background(), 1, func(r claimwriter.Record) error {
			keys = append(keys, r.Key)
			return nil
		}); err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		if diff := cmp.Diff([]string{"c-77"}, keys); diff != "" {
			t.Errorf("unexpected keys (-want +got):\n%s", diff)
		}
	})

	t.Run("emit failure stops the stream", func(t *testing.T) {
		consumer := mocks.NewConsumer(t, nil)
		defer consumer.Close()
		pc := consumer.ExpectConsumePartition("claims", 0, 9)
		pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("c-1")})
		pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("c-2")})

		stop := errors.New("bridge completed")
		src, _ := New(consumer, "claims", 0)
		calls := 0
		err := src.Stream(context.Background(), 10, func(claimwriter.Record) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) || calls != 1 {
			t.Errorf("expected one call and %v, got %d and %v", stop, calls, err)
		}
	})

	t.Run("consumer error", func(t *testing.T) {
		consumer := mocks.NewConsumer(t, nil)
		defer consumer.Close()
		boom := errors.New("offset out of range")
		consumer.ExpectConsumePartition("claims", 0, 9).YieldError(boom)

		src, _ := New(consumer, "claims", 0)
		err := src.Stream(context.Background(), 10, func(claimwriter.Record) error { return nil })
		if !errors.Is(err, boom) {
			t.Errorf("expected %v, got %v", boom, err)
		}
	})

	t.Run("nil consumer", func(t *testing.T) {
		if _, err := New(nil, "claims", 0); !errors.Is(err, ErrConsumerRequired) {
			t.Errorf("expected ErrConsumerRequired, got %v", err)
		}
	})
}
