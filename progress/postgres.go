package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultPostgresTable is the table PostgresStore uses unless WithPostgresTable is given.
const DefaultPostgresTable = "claimwriter_progress"

// PgxConn is the subset of *pgx.Conn (and pgx pools) used by PostgresStore.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using one row per pipeline.
//
// Saves never move a watermark backwards: a late Save of a smaller value,
// for example from a previous run still shutting down, is ignored.
//
// Table structure:
//
//	CREATE TABLE claimwriter_progress (
//	    pipeline_id TEXT PRIMARY KEY,
//	    watermark   BIGINT NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	conn  PgxConn
	table string
}

// PostgresOption configures the Postgres progress store
type PostgresOption func(*PostgresStore)

// WithPostgresTable overrides the progress table name.
func WithPostgresTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewPostgresStore creates a new Postgres-backed progress store.
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

func (s *PostgresStore) createSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pipeline_id TEXT PRIMARY KEY,
	watermark BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.ident())
}

func (s *PostgresStore) saveSQL() string {
	t := s.ident()
	return fmt.Sprintf(`INSERT INTO %s (pipeline_id, watermark, updated_at) VALUES ($1, $2, now())
ON CONFLICT (pipeline_id) DO UPDATE SET watermark = GREATEST(%s.watermark, EXCLUDED.watermark), updated_at = now()`, t, t)
}

func (s *PostgresStore) loadSQL() string {
	return fmt.Sprintf(`SELECT watermark FROM %s WHERE pipeline_id = $1`, s.ident())
}

func (s *PostgresStore) deleteSQL() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE pipeline_id = $1`, s.ident())
}

// EnsureTable creates the progress table if it does not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, s.createSQL())
	return err
}

// Save records n as the watermark of pipeline id, unless a larger value is already stored.
func (s *PostgresStore) Save(ctx context.Context, id string, n int64) error {
	if _, err := s.conn.Exec(ctx, s.saveSQL(), id, n); err != nil {
		return fmt.Errorf("progress: postgres save %s: %w", id, err)
	}
	return nil
}

// Load returns the last saved watermark of pipeline id, or 0 if none exists.
func (s *PostgresStore) Load(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, s.loadSQL(), id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("progress: postgres load %s: %w", id, err)
	}
	return n, nil
}

// Delete removes the watermark of pipeline id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, s.deleteSQL(), id)
	return err
}
