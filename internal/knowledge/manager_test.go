package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ai/kotoba/internal/log"
)

// fakeDB records executed SQL and serves canned query results. Transactions
// funnel their statements into the same recorder, with commit and rollback
// counted so tests can assert transaction outcomes.
type fakeDB struct {
	exec     []string
	execErr  error
	rows     pgx.Rows
	queryErr error
	row      pgx.Row

	beginErr   error
	batchFails int // 1-based batch Exec call that fails, 0 = never
	commits    int
	rollbacks  int
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.exec = append(f.exec, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.rows, nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{db: f}, nil
}

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(context.Context) error {
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.db.commits > 0 {
		return pgx.ErrTxClosed
	}
	t.db.rollbacks++
	return nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	return &fakeBatchResults{tx: t, batch: b}
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeBatchResults replays one queued statement per Exec call.
type fakeBatchResults struct {
	tx    *fakeTx
	batch *pgx.Batch
	idx   int
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	r.idx++
	if fail := r.tx.db.batchFails; fail > 0 && r.idx >= fail {
		return pgconn.CommandTag{}, errors.New("insert failed")
	}
	r.tx.db.exec = append(r.tx.db.exec, r.batch.QueuedQueries[r.idx-1].SQL)
	return pgconn.CommandTag{}, nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }

func (r *fakeBatchResults) QueryRow() pgx.Row {
	return fakeRow{scan: func(...any) error { return errors.New("not implemented") }}
}

func (r *fakeBatchResults) Close() error { return nil }

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeRows serves rows of pre-typed values in order.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch v := d.(type) {
		case *int64:
			*v = row[i].(int64)
		case *string:
			*v = row[i].(string)
		case *[]byte:
			*v = row[i].([]byte)
		case *float64:
			*v = row[i].(float64)
		}
	}
	return nil
}

func newTestManager(t *testing.T, db DB) *Manager {
	t.Helper()
	m, err := NewManager(Config{DB: db, Dimension: 3, Logger: log.NewNop()})
	require.NoError(t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Dimension: 3})
	assert.Error(t, err, "nil db should be rejected")

	_, err = NewManager(Config{DB: &fakeDB{}, Dimension: 0})
	assert.Error(t, err, "non-positive dimension should be rejected")
}

func TestManager_Provision_RejectsWrongDimension(t *testing.T) {
	m := newTestManager(t, &fakeDB{})

	err := m.Provision(context.Background(), "store_a", []Document{
		{Content: "x", Embedding: []float32{1, 2}},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestManager_Provision_RebuildsStore(t *testing.T) {
	db := &fakeDB{}
	m := newTestManager(t, db)

	docs := []Document{
		{Content: "first", Metadata: map[string]string{"source": "a.txt"}, Embedding: []float32{1, 0, 0}},
		{Content: "second", Metadata: map[string]string{"source": "a.txt"}, Embedding: []float32{0, 1, 0}},
	}
	require.NoError(t, m.Provision(context.Background(), "store_a", docs))

	// Drop table, drop function, create table, create function, two inserts.
	require.Len(t, db.exec, 6)
	assert.Contains(t, db.exec[0], "DROP TABLE IF EXISTS store_a")
	assert.Contains(t, db.exec[1], "DROP FUNCTION IF EXISTS match_store_a")
	assert.Contains(t, db.exec[2], "CREATE TABLE store_a")
	assert.Contains(t, db.exec[2], "VECTOR(3)")
	assert.Contains(t, db.exec[3], "CREATE OR REPLACE FUNCTION match_store_a")
	assert.Contains(t, db.exec[4], "INSERT INTO store_a")
	assert.Contains(t, db.exec[5], "INSERT INTO store_a")

	assert.Equal(t, 1, db.commits, "the whole rebuild commits as one unit")
	assert.Equal(t, 0, db.rollbacks)
}

func TestManager_Provision_FailedLoadRollsBack(t *testing.T) {
	db := &fakeDB{batchFails: 2}
	m := newTestManager(t, db)

	docs := []Document{
		{Content: "first", Embedding: []float32{1, 0, 0}},
		{Content: "second", Embedding: []float32{0, 1, 0}},
	}
	err := m.Provision(context.Background(), "store_a", docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document 1")

	// A partial load must not survive: nothing committed, everything
	// rolled back, so the store holds either all documents or none.
	assert.Equal(t, 0, db.commits)
	assert.Equal(t, 1, db.rollbacks)
}

func TestManager_Provision_RejectsInvalidName(t *testing.T) {
	db := &fakeDB{}
	m := newTestManager(t, db)

	err := m.Provision(context.Background(), "bad-name", nil)
	assert.ErrorIs(t, err, ErrInvalidStoreName)
	assert.Empty(t, db.exec, "no SQL should run for an invalid name")
}

func TestManager_Rename_SameNameIsNoop(t *testing.T) {
	db := &fakeDB{}
	m := newTestManager(t, db)

	require.NoError(t, m.Rename(context.Background(), "store_a", "store_a"))
	assert.Empty(t, db.exec)
}

func TestManager_Rename_RecreatesMatchFunction(t *testing.T) {
	db := &fakeDB{}
	m := newTestManager(t, db)

	require.NoError(t, m.Rename(context.Background(), "store_a", "store_b"))

	require.Len(t, db.exec, 3)
	assert.Contains(t, db.exec[0], "ALTER TABLE store_a RENAME TO store_b")
	assert.Contains(t, db.exec[1], "DROP FUNCTION IF EXISTS match_store_a")
	assert.Contains(t, db.exec[2], "CREATE OR REPLACE FUNCTION match_store_b")
}

func TestManager_Rename_MissingTable(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: "relation does not exist"}}
	m := newTestManager(t, db)

	err := m.Rename(context.Background(), "store_a", "store_b")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestManager_Exists(t *testing.T) {
	name := "store_a"
	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		*(dest[0].(**string)) = &name
		return nil
	}}}
	m := newTestManager(t, db)

	exists, err := m.Exists(context.Background(), "store_a")
	require.NoError(t, err)
	assert.True(t, exists)

	db.row = fakeRow{scan: func(dest ...any) error {
		*(dest[0].(**string)) = nil
		return nil
	}}
	exists, err = m.Exists(context.Background(), "store_a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_Retrieve_ScansMatches(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{rows: [][]any{
		{int64(1), "most similar", []byte(`{"source":"a.txt"}`), 0.93},
		{int64(2), "less similar", []byte(`{"source":"b.txt"}`), 0.81},
	}}}
	m := newTestManager(t, db)

	matches, err := m.Retrieve(context.Background(), "store_a", []float32{1, 0, 0}, 4, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "most similar", matches[0].Content)
	assert.Equal(t, "a.txt", matches[0].Metadata["source"])
	assert.InDelta(t, 0.93, matches[0].Similarity, 1e-9)
	assert.Equal(t, int64(2), matches[1].ID)
}

func TestManager_Retrieve_MissingStore(t *testing.T) {
	db := &fakeDB{queryErr: &pgconn.PgError{Code: pgerrcode.UndefinedFunction, Message: "function match_store_a does not exist"}}
	m := newTestManager(t, db)

	_, err := m.Retrieve(context.Background(), "store_a", []float32{1, 0, 0}, 4, nil)
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestManager_Retrieve_Validation(t *testing.T) {
	m := newTestManager(t, &fakeDB{})

	_, err := m.Retrieve(context.Background(), "store_a", []float32{1, 0}, 4, nil)
	assert.Error(t, err, "wrong embedding width")

	_, err = m.Retrieve(context.Background(), "store_a", []float32{1, 0, 0}, 0, nil)
	assert.Error(t, err, "non-positive topK")

	_, err = m.Retrieve(context.Background(), "no;pe", []float32{1, 0, 0}, 4, nil)
	assert.ErrorIs(t, err, ErrInvalidStoreName)
}

func TestMapStoreError_PassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapStoreError(plain))

	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	assert.Equal(t, error(pgErr), mapStoreError(pgErr))

	notFound := mapStoreError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})
	assert.ErrorIs(t, notFound, ErrStoreNotFound)
	assert.True(t, strings.Contains(notFound.Error(), "knowledge store not found"))
}
