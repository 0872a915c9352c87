package deadletter

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultPostgresTable is the table PostgresStore uses unless WithPostgresTable is given.
const DefaultPostgresTable = "claimwriter_dead_letter"

// PgxConn is the subset of *pgx.Conn (and pgx pools) used by PostgresStore.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

/*
PostgreSQL Schema:

CREATE TABLE claimwriter_dead_letter (
    id          TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL,
    partition   INT NOT NULL,
    version     TEXT NOT NULL,
    claim_key   TEXT NOT NULL,
    sequence    BIGINT NOT NULL,
    payload     BYTEA NOT NULL,
    error       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    retried_at  TIMESTAMPTZ
);

CREATE INDEX ON claimwriter_dead_letter (pipeline_id, created_at);
*/

// PostgresStore is a PostgreSQL-backed dead-letter store
type PostgresStore struct {
	conn  PgxConn
	table string
}

// PostgresOption configures the Postgres dead-letter store
type PostgresOption func(*PostgresStore)

// WithPostgresTable overrides the table name.
func WithPostgresTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewPostgresStore creates a new Postgres dead-letter store
func NewPostgresStore(conn PgxConn, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		conn:  conn,
		table: DefaultPostgresTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureTable creates the table and its index if they do not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	t := s.ident()
	_, err := s.conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL,
	partition INT NOT NULL,
	version TEXT NOT NULL,
	claim_key TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	payload BYTEA NOT NULL,
	error TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	retried_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %s ON %s (pipeline_id, created_at)`,
		t, pgx.Identifier{s.table + "_pipeline_idx"}.Sanitize(), t))
	return err
}

// Store inserts msg.
func (s *PostgresStore) Store(ctx context.Context, msg *Message) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, pipeline_id, partition, version, claim_key, sequence, payload, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s.ident())

	_, err := s.conn.Exec(ctx, query,
		msg.ID,
		msg.Pipeline,
		msg.Partition,
		msg.Version,
		msg.Key,
		msg.Sequence,
		msg.Payload,
		msg.Error,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("deadletter: insert %s: %w", msg.ID, err)
	}
	return nil
}

// listQuery builds the SELECT for filter with its positional arguments.
func (s *PostgresStore) listQuery(filter Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Pipeline != "" {
		where = append(where, "pipeline_id = "+arg(filter.Pipeline))
	}
	if !filter.StartTime.IsZero() {
		where = append(where, "created_at >= "+arg(filter.StartTime))
	}
	if !filter.EndTime.IsZero() {
		where = append(where, "created_at <= "+arg(filter.EndTime))
	}
	if filter.ExcludeRetried {
		where = append(where, "retried_at IS NULL")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, pipeline_id, partition, version, claim_key, sequence, payload, error, created_at, retried_at FROM %s", s.ident())
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at, sequence")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	return b.String(), args
}

// List returns messages matching filter, oldest first.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Message, error) {
	query, args := s.listQuery(filter)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deadletter: query: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.Pipeline, &m.Partition, &m.Version, &m.Key,
			&m.Sequence, &m.Payload, &m.Error, &m.CreatedAt, &m.RetriedAt)
		return &m, err
	})
}

// MarkRetried sets retried_at on message id.
func (s *PostgresStore) MarkRetried(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, fmt.Sprintf(`UPDATE %s SET retried_at = now() WHERE id = $1`, s.ident()), id)
	if err != nil {
		return fmt.Errorf("deadletter: update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes message id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.ident()), id)
	if err != nil {
		return fmt.Errorf("deadletter: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
