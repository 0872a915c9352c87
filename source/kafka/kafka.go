// Package kafka provides a Source reading one Kafka topic partition.
//
// Kafka offsets are dense and ordered within a partition, so the record at
// offset o carries sequence number o+1 and a persisted watermark w resumes
// at offset w.
//
//	client, _ := sarama.NewClient(brokers, sarama.NewConfig())
//	src, err := kafka.NewFromClient(client, "claims", 0, kafka.WithVersion("v2"))
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/rbaliyan/claimwriter"
	"github.com/rbaliyan/claimwriter/source"
)

// ErrConsumerRequired is returned when no consumer is given.
var ErrConsumerRequired = errors.New("kafka: consumer is required")

// Option configures a Source.
type Option func(*Source)

// WithVersion sets the payload protocol version. Default is "v1".
func WithVersion(v string) Option {
	return func(s *Source) {
		if v != "" {
			s.version = v
		}
	}
}

// WithKeyFunc sets how a message's claim key is derived.
// Default is the Kafka message key.
func WithKeyFunc(fn func(*sarama.ConsumerMessage) string) Option {
	return func(s *Source) {
		if fn != nil {
			s.keyFunc = fn
		}
	}
}

// WithStopAtEnd ends Stream after the message at the partition's high-water
// mark, turning the source into a finite backfill.
func WithStopAtEnd() Option {
	return func(s *Source) {
		s.stopAtEnd = true
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// Source streams one topic partition.
type Source struct {
	consumer  sarama.Consumer
	owned     bool
	topic     string
	partition int32
	version   string
	keyFunc   func(*sarama.ConsumerMessage) string
	stopAtEnd bool
	logger    *slog.Logger
}

// New creates a Source on an existing consumer. The caller keeps ownership
// of the consumer.
func New(consumer sarama.Consumer, topic string, partition int32, opts ...Option) (*Source, error) {
	if consumer == nil {
		return nil, ErrConsumerRequired
	}
	s := &Source{
		consumer:  consumer,
		topic:     topic,
		partition: partition,
		version:   "v1",
		keyFunc:   func(m *sarama.ConsumerMessage) string { return string(m.Key) },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "claimwriter>kafka", "topic", topic, "partition", partition)
	return s, nil
}

// NewFromClient creates a consumer from client; Close closes it.
func NewFromClient(client sarama.Client, topic string, partition int32, opts ...Option) (*Source, error) {
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	s, err := New(consumer, topic, partition, opts...)
	if err != nil {
		consumer.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *Source) Version() string { return s.version }

// Offset returns the Kafka offset holding sequence number from.
func Offset(from int64) int64 {
	if from <= 1 {
		return sarama.OffsetOldest
	}
	return from - 1
}

// Stream consumes the partition starting at the offset for from.
func (s *Source) Stream(ctx context.Context, from int64, emit source.EmitFunc) error {
	offset := Offset(from)
	pc, err := s.consumer.ConsumePartition(s.topic, s.partition, offset)
	if err != nil {
		return fmt.Errorf("consume %s/%d at %d: %w", s.topic, s.partition, offset, err)
	}
	defer pc.Close()
	s.logger.Info("consuming", "offset", offset)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			err := emit(claimwriter.Record{
				Key:      s.keyFunc(msg),
				Sequence: msg.Offset + 1,
				Payload:  msg.Value,
			})
			if err != nil {
				return err
			}
			if s.stopAtEnd && msg.Offset+1 >= pc.HighWaterMarkOffset() {
				s.logger.Info("reached high-water mark", "offset", msg.Offset)
				return nil
			}
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("consume %s/%d: %w", s.topic, s.partition, cerr.Err)
		}
	}
}

// Close closes the consumer if the Source created it.
func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	return s.consumer.Close()
}

var _ source.Source = (*Source)(nil)
