// Package nats provides a Source reading a NATS JetStream stream.
//
// Records are read with an ordered consumer, which needs no acknowledgement
// and no durable server-side state: the persisted watermark is the resume
// point, and the stream sequence is used as the record's sequence number.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rbaliyan/claimwriter"
	"github.com/rbaliyan/claimwriter/source"
)

var (
	// ErrJetStreamRequired is returned when no JetStream context is given.
	ErrJetStreamRequired = errors.New("nats: jetstream is required")

	// ErrStreamRequired is returned when no stream name is given.
	ErrStreamRequired = errors.New("nats: stream name is required")
)

// orderedConsumers is the part of jetstream.JetStream used by Source.
type orderedConsumers interface {
	OrderedConsumer(ctx context.Context, stream string, cfg jetstream.OrderedConsumerConfig) (jetstream.Consumer, error)
}

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

// WithSubjects restricts the consumer to the given subject filters.
func WithSubjects(subjects ...string) Option {
	return func(s *Source) {
		s.subjects = append(s.subjects, subjects...)
	}
}

// WithKeyFunc sets how a message's claim key is derived. Default is the
// last token of the subject, so "claims.c-42" has key "c-42".
func WithKeyFunc(fn func(jetstream.Msg) string) Option {
	return func(s *Source) {
		if fn != nil {
			s.keyFunc = fn
		}
	}
}

// WithStopAtEnd ends Stream once no messages are pending, turning the
// source into a finite backfill.
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

// Source streams one JetStream stream.
type Source struct {
	js        orderedConsumers
	conn      *nats.Conn
	stream    string
	subjects  []string
	version   string
	keyFunc   func(jetstream.Msg) string
	stopAtEnd bool
	logger    *slog.Logger
}

// New creates a Source on an existing JetStream context.
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	src, err := nats.New(js, "CLAIMS", nats.WithSubjects("claims.>"))
func New(js jetstream.JetStream, stream string, opts ...Option) (*Source, error) {
	if js == nil {
		return nil, ErrJetStreamRequired
	}
	return newSource(js, stream, opts...)
}

func newSource(js orderedConsumers, stream string, opts ...Option) (*Source, error) {
	if stream == "" {
		return nil, ErrStreamRequired
	}
	s := &Source{
		js:      js,
		stream:  stream,
		version: "v1",
		keyFunc: subjectKey,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "claimwriter>nats", "stream", stream)
	return s, nil
}

// Connect dials url and creates a Source; Close closes the connection.
func Connect(url, stream string, opts ...Option) (*Source, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	s, err := New(js, stream, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.conn = nc
	return s, nil
}

func subjectKey(msg jetstream.Msg) string {
	subject := msg.Subject()
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

func (s *Source) Version() string { return s.version }

// ConsumerConfig returns the ordered consumer configuration that starts at
// stream sequence from.
func (s *Source) ConsumerConfig(from int64) jetstream.OrderedConsumerConfig {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: s.subjects,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if from > 1 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = uint64(from)
	}
	return cfg
}

// Stream reads the stream starting at sequence from.
func (s *Source) Stream(ctx context.Context, from int64, emit source.EmitFunc) error {
	cons, err := s.js.OrderedConsumer(ctx, s.stream, s.ConsumerConfig(from))
	if err != nil {
		return fmt.Errorf("create consumer on %s: %w", s.stream, err)
	}
	it, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("messages on %s: %w", s.stream, err)
	}
	defer it.Stop()
	s.logger.Info("consuming", "from", from)

	for {
		msg, err := it.Next(jetstream.NextContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return nil
			}
			return fmt.Errorf("next on %s: %w", s.stream, err)
		}

		md, err := msg.Metadata()
		if err != nil {
			return fmt.Errorf("metadata on %s: %w", s.stream, err)
		}
		err = emit(claimwriter.Record{
			Key:      s.keyFunc(msg),
			Sequence: int64(md.Sequence.Stream),
			Payload:  msg.Data(),
		})
		if err != nil {
			return err
		}
		if s.stopAtEnd && md.NumPending == 0 {
			s.logger.Info("caught up", "sequence", md.Sequence.Stream)
			return nil
		}
	}
}

// Close closes the connection if the Source opened it.
func (s *Source) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

var _ source.Source = (*Source)(nil)
