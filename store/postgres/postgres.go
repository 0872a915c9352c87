// Package postgres provides a PostgreSQL BatchStore built on pgx.
//
// Every Store owns one connection. Used through Factory, each writer of a
// pool therefore writes over its own connection and its own transactions,
// and batches from different writers never contend for a connection.
//
//	mapper := postgres.Columns[ClaimRow]{
//	    Name: "claims",
//	    Key:  "claim_id",
//	    Cols: []string{"claim_id", "status", "amount"},
//	    Row:  func(r ClaimRow) []any { return []any{r.ID, r.Status, r.Amount} },
//	}
//	factory := postgres.Factory(dsn, mapper, transformer,
//	    postgres.WithPipelineID("claims-0"),
//	)
//	sink, err := claimwriter.NewConcurrentSink(ctx, factory)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rbaliyan/claimwriter"
	"github.com/rbaliyan/claimwriter/progress"
)

// DefaultPipelineID is the progress row used unless WithPipelineID is given.
const DefaultPipelineID = "default"

var (
	// ErrInvalidMapper is returned when a Mapper has no table, no columns,
	// or a key column that is not among its columns.
	ErrInvalidMapper = errors.New("postgres: invalid mapper")

	// ErrColumnCount is returned when Values yields a different number of
	// values than Columns.
	ErrColumnCount = errors.New("postgres: value count does not match columns")
)

// Mapper describes how storage items map onto a table row.
type Mapper[T any] interface {
	// Table is the target table, optionally schema-qualified ("audit.claims").
	Table() string
	// KeyColumn is the unique column upserts conflict on.
	KeyColumn() string
	// Columns lists every written column, including KeyColumn.
	Columns() []string
	// Values returns item's values in Columns order.
	Values(item T) []any
}

// Columns is a Mapper built from plain values.
type Columns[T any] struct {
	Name string
	Key  string
	Cols []string
	Row  func(T) []any
}

func (c Columns[T]) Table() string       { return c.Name }
func (c Columns[T]) KeyColumn() string   { return c.Key }
func (c Columns[T]) Columns() []string   { return c.Cols }
func (c Columns[T]) Values(item T) []any { return c.Row(item) }

// Conn is the subset of *pgx.Conn used by Store.
type Conn interface {
	progress.PgxConn
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

type config struct {
	pipelineID    string
	progressTable string
	logger        *slog.Logger
}

// Option configures a Store.
type Option func(*config)

// WithPipelineID sets the progress row written by PersistProgress.
func WithPipelineID(id string) Option {
	return func(c *config) {
		if id != "" {
			c.pipelineID = id
		}
	}
}

// WithProgressTable overrides progress.DefaultPostgresTable.
func WithProgressTable(table string) Option {
	return func(c *config) {
		if table != "" {
			c.progressTable = table
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Store writes batches of T as upserts inside one transaction.
type Store[T any] struct {
	conn     Conn
	mapper   Mapper[T]
	upsert   string
	progress *progress.PostgresStore
	pipeline string
	logger   *slog.Logger
}

// New creates a Store over conn. The Store owns conn and closes it on Close.
func New[T any](conn Conn, mapper Mapper[T], opts ...Option) (*Store[T], error) {
	if err := validate(mapper); err != nil {
		return nil, err
	}
	c := &config{
		pipelineID:    DefaultPipelineID,
		progressTable: progress.DefaultPostgresTable,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return &Store[T]{
		conn:     conn,
		mapper:   mapper,
		upsert:   upsertSQL(mapper),
		progress: progress.NewPostgresStore(conn, progress.WithPostgresTable(c.progressTable)),
		pipeline: c.pipelineID,
		logger:   c.logger.With("component", "claimwriter>postgres", "table", mapper.Table()),
	}, nil
}

// Connect opens a dedicated connection to dsn and wraps it in a Store.
func Connect[T any](ctx context.Context, dsn string, mapper Mapper[T], opts ...Option) (*Store[T], error) {
	if err := validate(mapper); err != nil {
		return nil, err
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s, err := New(conn, mapper, opts...)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Factory returns a SinkFactory that opens a new connection per sink.
func Factory[T any](dsn string, mapper Mapper[T], t claimwriter.Transformer[T], opts ...Option) claimwriter.SinkFactory[T] {
	return func(ctx context.Context) (claimwriter.Sink[T], error) {
		s, err := Connect(ctx, dsn, mapper, opts...)
		if err != nil {
			return nil, err
		}
		return claimwriter.NewSink(t, s), nil
	}
}

// EnsureSchema creates the progress table if it does not exist. The data
// table is owned by the application and is not created.
func (s *Store[T]) EnsureSchema(ctx context.Context) error {
	return s.progress.EnsureTable(ctx)
}

// WriteBatch upserts items in a single transaction. Either every item is
// written and len(items) returned, or nothing is and the count is 0.
func (s *Store[T]) WriteBatch(ctx context.Context, items []T) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	want := len(s.mapper.Columns())
	for i, item := range items {
		values := s.mapper.Values(item)
		if len(values) != want {
			return 0, fmt.Errorf("%w: item %d has %d values, want %d", ErrColumnCount, i, len(values), want)
		}
		b.Queue(s.upsert, values...)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	// No-op once committed.
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := execBatch(ctx, tx, b); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("batch committed", "items", len(items))
	return len(items), nil
}

func execBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

// PersistProgress saves n as the pipeline's watermark.
func (s *Store[T]) PersistProgress(ctx context.Context, n int64) error {
	return s.progress.Save(ctx, s.pipeline, n)
}

// LoadProgress returns the pipeline's persisted watermark, or 0.
func (s *Store[T]) LoadProgress(ctx context.Context) (int64, error) {
	return s.progress.Load(ctx, s.pipeline)
}

// Close closes the connection.
func (s *Store[T]) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

func validate[T any](m Mapper[T]) error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrInvalidMapper)
	}
	if m.Table() == "" || len(m.Columns()) == 0 {
		return fmt.Errorf("%w: table and columns are required", ErrInvalidMapper)
	}
	if !slices.Contains(m.Columns(), m.KeyColumn()) {
		return fmt.Errorf("%w: key column %q not in columns", ErrInvalidMapper, m.KeyColumn())
	}
	return nil
}

// tableIdent sanitizes a possibly schema-qualified table name.
func tableIdent(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// upsertSQL builds
//
//	INSERT INTO t (k, a, b) VALUES ($1, $2, $3)
//	ON CONFLICT (k) DO UPDATE SET a = EXCLUDED.a, b = EXCLUDED.b
//
// falling back to DO NOTHING when the key is the only column.
func upsertSQL[T any](m Mapper[T]) string {
	cols := m.Columns()
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	var sets []string
	for i, col := range cols {
		ident := pgx.Identifier{col}.Sanitize()
		names[i] = ident
		params[i] = fmt.Sprintf("$%d", i+1)
		if col != m.KeyColumn() {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
		}
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		tableIdent(m.Table()),
		strings.Join(names, ", "),
		strings.Join(params, ", "),
		pgx.Identifier{m.KeyColumn()}.Sanitize(),
		action)
}

// Compile-time checks
var (
	_ claimwriter.BatchStore[any] = (*Store[any])(nil)
	_ Conn                        = (*pgx.Conn)(nil)
)
