package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type row struct {
	ID     string
	Status string
	Amount int64
}

func rowMapper() Columns[row] {
	return Columns[row]{
		Name: "claims",
		Key:  "claim_id",
		Cols: []string{"claim_id", "status", "amount"},
		Row:  func(r row) []any { return []any{r.ID, r.Status, r.Amount} },
	}
}

// fakeConn records queued statements and fails the exec at failAt (1-based).
type fakeConn struct {
	queued   [][]any
	execs    []string
	failAt   int
	failErr  error
	commits  int
	rollback int
	closed   bool
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

type fakeTx struct {
	pgx.Tx
	conn *fakeConn
	done bool
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		t.conn.queued = append(t.conn.queued, q.Arguments)
	}
	return &fakeResults{conn: t.conn}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.done = true
	t.conn.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.conn.rollback++
	return nil
}

type fakeResults struct {
	pgx.BatchResults
	conn *fakeConn
	n    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.n++
	if r.n == r.conn.failAt {
		return pgconn.CommandTag{}, r.conn.failErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Close() error { return nil }

func TestUpsertSQL(t *testing.T) {
	tests := []struct {
		name   string
		mapper Columns[row]
		want   string
	}{
		{
			name:   "update non-key columns",
			mapper: rowMapper(),
			want:   `INSERT INTO "claims" ("claim_id", "status", "amount") VALUES ($1, $2, $3) ON CONFLICT ("claim_id") DO UPDATE SET "status" = EXCLUDED."status", "amount" = EXCLUDED."amount"`,
		},
		{
			name:   "schema qualified key only",
			mapper: Columns[row]{Name: "audit.seen", Key: "id", Cols: []string{"id"}},
			want:   `INSERT INTO "audit"."seen" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upsertSQL[row](tt.mapper); got != tt.want {
				t.Errorf("expected\n%s\ngot\n%s", tt.want, got)
			}
		})
	}
}

func TestNewValidatesMapper(t *testing.T) {
	bad := []Columns[row]{
		{Key: "id", Cols: []string{"id"}},
		{Name: "claims", Key: "id"},
		{Name: "claims", Key: "id", Cols: []string{"status"}},
	}
	for _, m := range bad {
		if _, err := New[row](&fakeConn{}, m); !errors.Is(err, ErrInvalidMapper) {
			t.Errorf("expected ErrInvalidMapper for %+v, got %v", m, err)
		}
	}
}

func TestWriteBatch(t *testing.T) {
	ctx := context.Background()
	items := []row{{"c-1", "open", 10}, {"c-2", "paid", 20}, {"c-3", "denied", 0}}

	t.Run("commits every item", func(t *testing.T) {
		conn := &fakeConn{}
		s, err := New[row](conn, rowMapper())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		n, err := s.WriteBatch(ctx, items)
		if err != nil || n != 3 {
			t.Fatalf("expected (3, nil), got (%d, %v)", n, err)
		}
		if conn.commits != 1 || conn.rollback != 0 {
			t.Errorf("expected one commit and no rollback, got %d and %d", conn.commits, conn.rollback)
		}
		if len(conn.queued) != 3 || conn.queued[1][0] != "c-2" {
			t.Errorf("unexpected queued arguments %v", conn.queued)
		}
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		boom := errors.New("unique violation")
		conn := &fakeConn{failAt: 2, failErr: boom}
		s, _ := New[row](conn, rowMapper())
		n, err := s.WriteBatch(ctx, items)
		if !errors.Is(err, boom) || n != 0 {
			t.Fatalf("expected (0, %v), got (%d, %v)", boom, n, err)
		}
		if conn.commits != 0 || conn.rollback != 1 {
			t.Errorf("expected rollback only, got %d commits and %d rollbacks", conn.commits, conn.rollback)
		}
	})

	t.Run("value count mismatch", func(t *testing.T) {
		conn := &fakeConn{}
		m := rowMapper()
		m.Row = func(r row) []any { return []any{r.ID} }
		s, _ := New[row](conn, m)
		if _, err := s.WriteBatch(ctx, items); !errors.Is(err, ErrColumnCount) {
			t.Fatalf("expected ErrColumnCount, got %v", err)
		}
		if len(conn.queued) != 0 {
			t.Errorf("expected nothing sent, got %v", conn.queued)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		conn := &fakeConn{}
		s, _ := New[row](conn, rowMapper())
		if n, err := s.WriteBatch(ctx, nil); n != 0 || err != nil {
			t.Errorf("expected (0, nil), got (%d, %v)", n, err)
		}
		if conn.commits != 0 {
			t.Errorf("expected no transaction for an empty batch")
		}
	})
}

func TestPersistProgressUsesPipelineRow(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{}
	s, _ := New[row](conn, rowMapper(), WithPipelineID("claims-3"), WithProgressTable("wm"))

	if err := s.PersistProgress(ctx, 99); err != nil {
		t.Fatalf("PersistProgress failed: %v", err)
	}
	if len(conn.execs) != 1 {
		t.Fatalf("expected one statement, got %d", len(conn.execs))
	}
	if err := s.Close(ctx); err != nil || !conn.closed {
		t.Errorf("expected Close to close the connection, got %v", err)
	}
}
