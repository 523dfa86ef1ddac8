// Package knowledge manages per-agent vector stores in PostgreSQL.
//
// Each agent owns one table plus a companion match function
// (match_<store>) that performs cosine similarity search over pgvector
// embeddings. Store names are validated identifiers; all values travel
// as query parameters.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrStoreNotFound indicates the agent's store table or match function does
// not exist. Callers treat this as "agent has no knowledge" rather than a
// hard failure.
var ErrStoreNotFound = errors.New("knowledge store not found")

// DefaultSearchTimeout bounds a single retrieval query.
const DefaultSearchTimeout = 10 * time.Second

// DB is the subset of pgx operations the manager needs. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so lifecycle operations can participate in a
// caller's transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Manager provisions, renames, drops and queries per-agent stores.
//
// Manager is safe for concurrent use. Provisioning the same store from
// multiple goroutines is serialized per store name, so concurrent uploads
// for one agent cannot interleave drop and create.
type Manager struct {
	db        DB
	dimension int
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config contains the required parameters for a Manager.
type Config struct {
	DB        DB
	Dimension int // vector(N) width for provisioned tables
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewManager creates a store manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, errors.New("db is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSearchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		db:        cfg.DB,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// storeLock returns the mutex serializing lifecycle operations for one store.
func (m *Manager) storeLock(store string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[store]
	if !ok {
		l = &sync.Mutex{}
		m.locks[store] = l
	}
	return l
}

// Exists reports whether the store's table is present.
func (m *Manager) Exists(ctx context.Context, store string) (bool, error) {
	if err := ValidateStoreName(store); err != nil {
		return false, err
	}

	var regclass *string
	err := m.db.QueryRow(ctx, `SELECT to_regclass($1)::text`, store).Scan(&regclass)
	if err != nil {
		return false, fmt.Errorf("checking store %q: %w", store, err)
	}
	return regclass != nil, nil
}

// Provision replaces the store's contents with docs: any existing table is
// dropped, the table and its match function are recreated, and all documents
// are batch-loaded, all inside one transaction. A failure rolls everything
// back, so the store is never left half-loaded; the caller retries the whole
// unit. Concurrent provisioning of the same store is serialized.
func (m *Manager) Provision(ctx context.Context, store string, docs []Document) error {
	if err := ValidateStoreName(store); err != nil {
		return err
	}
	metadatas := make([][]byte, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) != m.dimension {
			return fmt.Errorf("document %d: embedding width %d does not match store dimension %d",
				i, len(doc.Embedding), m.dimension)
		}
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for document %d: %w", i, err)
		}
		metadatas[i] = metadata
	}

	lock := m.storeLock(store)
	lock.Lock()
	defer lock.Unlock()

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning provision of %q: %w", store, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			m.logger.Debug("provision rollback", "store", store, "error", err)
		}
	}()

	if err := m.dropObjects(ctx, tx, store); err != nil {
		return err
	}

	createTable := fmt.Sprintf(
		`CREATE TABLE %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding VECTOR(%d)
		)`, store, m.dimension)
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("creating store %q: %w", store, err)
	}

	if err := m.createMatchFunction(ctx, tx, store); err != nil {
		return err
	}

	if len(docs) > 0 {
		insert := fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3)`, store)
		batch := &pgx.Batch{}
		for i, doc := range docs {
			batch.Queue(insert, doc.Content, metadatas[i], pgvector.NewVector(doc.Embedding))
		}
		results := tx.SendBatch(ctx, batch)
		for i := range docs {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("inserting document %d into %q: %w", i, store, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("loading documents into %q: %w", store, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing provision of %q: %w", store, err)
	}

	m.logger.Info("provisioned knowledge store", "store", store, "documents", len(docs))
	return nil
}

// Rename moves the store to a new name, recreating the match function under
// the new suffix.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	return m.RenameIn(ctx, m.db, oldName, newName)
}

// RenameIn is Rename executing against db, which may be a transaction. It
// lets agent renames update the agents row and the store atomically.
func (m *Manager) RenameIn(ctx context.Context, db DB, oldName, newName string) error {
	if err := ValidateStoreName(oldName); err != nil {
		return err
	}
	if err := ValidateStoreName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	alter := fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, oldName, newName)
	if _, err := db.Exec(ctx, alter); err != nil {
		return fmt.Errorf("renaming store %q to %q: %w", oldName, newName, mapStoreError(err))
	}

	dropFn := fmt.Sprintf(`DROP FUNCTION IF EXISTS match_%s(vector, int, jsonb)`, oldName)
	if _, err := db.Exec(ctx, dropFn); err != nil {
		return fmt.Errorf("dropping match function for %q: %w", oldName, err)
	}

	if err := m.createMatchFunction(ctx, db, newName); err != nil {
		return err
	}

	m.logger.Info("renamed knowledge store", "from", oldName, "to", newName)
	return nil
}

// Drop removes the store's table and match function. Dropping a store that
// does not exist is not an error.
func (m *Manager) Drop(ctx context.Context, store string) error {
	if err := ValidateStoreName(store); err != nil {
		return err
	}

	lock := m.storeLock(store)
	lock.Lock()
	defer lock.Unlock()

	if err := m.dropObjects(ctx, m.db, store); err != nil {
		return err
	}
	m.logger.Info("dropped knowledge store", "store", store)
	return nil
}

// Retrieve runs the store's match function against a query embedding and
// returns up to topK matches ordered by descending similarity. filter, when
// non-empty, restricts matches to documents whose metadata contains it.
// Returns ErrStoreNotFound when the store was never provisioned.
func (m *Manager) Retrieve(ctx context.Context, store string, embedding []float32, topK int, filter map[string]string) ([]Match, error) {
	if err := ValidateStoreName(store); err != nil {
		return nil, err
	}
	if len(embedding) != m.dimension {
		return nil, fmt.Errorf("query embedding width %d does not match store dimension %d",
			len(embedding), m.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	if filter == nil {
		filter = map[string]string{}
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshaling filter: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, content, metadata, similarity FROM match_%s($1, $2, $3)`, store)
	rows, err := m.db.Query(queryCtx, query, pgvector.NewVector(embedding), topK, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("querying store %q: %w", store, mapStoreError(err))
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var match Match
		var metadata []byte
		if err := rows.Scan(&match.ID, &match.Content, &metadata, &match.Similarity); err != nil {
			return nil, fmt.Errorf("scanning match from %q: %w", store, err)
		}
		if err := json.Unmarshal(metadata, &match.Metadata); err != nil {
			m.logger.Warn("failed to parse match metadata", "store", store, "id", match.ID, "error", err)
			match.Metadata = map[string]string{}
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches from %q: %w", store, mapStoreError(err))
	}
	return matches, nil
}

// dropObjects drops the table and match function if they exist.
func (m *Manager) dropObjects(ctx context.Context, db DB, store string) error {
	dropTable := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, store)
	if _, err := db.Exec(ctx, dropTable); err != nil {
		return fmt.Errorf("dropping store %q: %w", store, err)
	}
	dropFn := fmt.Sprintf(`DROP FUNCTION IF EXISTS match_%s(vector, int, jsonb)`, store)
	if _, err := db.Exec(ctx, dropFn); err != nil {
		return fmt.Errorf("dropping match function for %q: %w", store, err)
	}
	return nil
}

// createMatchFunction installs match_<store>: cosine similarity search with
// an optional JSONB containment filter.
func (m *Manager) createMatchFunction(ctx context.Context, db DB, store string) error {
	fn := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION match_%[1]s(query_embedding VECTOR(%[2]d), match_count INT, filter JSONB DEFAULT '{}')
RETURNS TABLE (id BIGINT, content TEXT, metadata JSONB, similarity DOUBLE PRECISION)
LANGUAGE plpgsql
AS $$
BEGIN
	RETURN QUERY
	SELECT t.id, t.content, t.metadata,
		1 - (t.embedding <=> query_embedding) AS similarity
	FROM %[1]s t
	WHERE t.metadata @> filter
	ORDER BY t.embedding <=> query_embedding
	LIMIT match_count;
END;
$$`, store, m.dimension)

	if _, err := db.Exec(ctx, fn); err != nil {
		return fmt.Errorf("creating match function for %q: %w", store, err)
	}
	return nil
}

// mapStoreError translates missing-relation and missing-function errors into
// ErrStoreNotFound so callers can distinguish "no store" from real failures.
func mapStoreError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable, pgerrcode.UndefinedFunction:
			return fmt.Errorf("%w: %s", ErrStoreNotFound, pgErr.Message)
		}
	}
	return err
}
