package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kotoba-ai/kotoba/internal/knowledge"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages agent rows and keeps their knowledge stores consistent with
// the registry: renames cascade to the store table inside one transaction,
// deletes drop the store.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db        DB
	knowledge *knowledge.Manager
	logger    *slog.Logger
}

// NewStore creates an agent store.
func NewStore(db DB, km *knowledge.Manager, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if km == nil {
		return nil, errors.New("knowledge manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, knowledge: km, logger: logger}, nil
}

// CreateParams are the caller-supplied fields for a new agent.
type CreateParams struct {
	OwnerID     string
	Name        string
	Persona     string
	Description string
	PictureURL  string
}

// Create registers a new agent. The knowledge store is not provisioned here;
// it appears when training material is first ingested.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Agent, error) {
	if p.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	if p.Persona == "" {
		return nil, errors.New("persona is required")
	}

	storeName, err := DeriveStoreName(p.OwnerID, p.Name)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		ID:          uuid.New(),
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		StoreName:   storeName,
		Persona:     p.Persona,
		Description: p.Description,
		PictureURL:  p.PictureURL,
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO agents (id, owner_id, name, store_name, persona, description, picture_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		a.ID, a.OwnerID, a.Name, a.StoreName, a.Persona, a.Description, a.PictureURL,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, p.Name)
		}
		return nil, fmt.Errorf("creating agent %q: %w", p.Name, err)
	}

	s.logger.Info("created agent", "agent_id", a.ID, "name", a.Name, "store", a.StoreName)
	return a, nil
}

// Get retrieves an agent by ID, scoped to the owner.
func (s *Store) Get(ctx context.Context, ownerID string, id uuid.UUID) (*Agent, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, store_name, persona, description, picture_url,
		        training_files, created_at, updated_at
		 FROM agents WHERE id = $1 AND owner_id = $2`,
		id, ownerID)
	return scanAgent(row)
}

// GetByName retrieves an agent by its owner-unique name.
func (s *Store) GetByName(ctx context.Context, ownerID, name string) (*Agent, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, store_name, persona, description, picture_url,
		        training_files, created_at, updated_at
		 FROM agents WHERE owner_id = $1 AND name = $2`,
		ownerID, name)
	return scanAgent(row)
}

// List returns all of an owner's agents, newest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]*Agent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, name, store_name, persona, description, picture_url,
		        training_files, created_at, updated_at
		 FROM agents WHERE owner_id = $1
		 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading agents: %w", err)
	}
	return agents, nil
}

// UpdateParams are the mutable agent fields; nil means keep the current
// value.
type UpdateParams struct {
	Persona     *string
	Description *string
	PictureURL  *string
}

// Update modifies an agent's persona, description or picture.
func (s *Store) Update(ctx context.Context, ownerID string, id uuid.UUID, p UpdateParams) (*Agent, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE agents SET
		    persona = COALESCE($3, persona),
		    description = COALESCE($4, description),
		    picture_url = COALESCE($5, picture_url),
		    updated_at = now()
		 WHERE id = $1 AND owner_id = $2
		 RETURNING id, owner_id, name, store_name, persona, description, picture_url,
		           training_files, created_at, updated_at`,
		id, ownerID, p.Persona, p.Description, p.PictureURL)
	return scanAgent(row)
}

// SetTrainingFiles records the file names the agent was last trained on.
func (s *Store) SetTrainingFiles(ctx context.Context, ownerID string, id uuid.UUID, files []string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE agents SET training_files = $3, updated_at = now()
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, files)
	if err != nil {
		return fmt.Errorf("updating training files for agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return nil
}

// Rename changes an agent's name and, when a knowledge store exists, renames
// the store in the same transaction. Either both change or neither does.
func (s *Store) Rename(ctx context.Context, ownerID string, id uuid.UUID, newName string) (*Agent, error) {
	newStore, err := DeriveStoreName(ownerID, newName)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var oldStore string
	err = tx.QueryRow(ctx,
		`SELECT store_name FROM agents WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		id, ownerID,
	).Scan(&oldStore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return nil, fmt.Errorf("locking agent %s: %w", id, err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE agents SET name = $3, store_name = $4, updated_at = now()
		 WHERE id = $1 AND owner_id = $2
		 RETURNING id, owner_id, name, store_name, persona, description, picture_url,
		           training_files, created_at, updated_at`,
		id, ownerID, newName, newStore)
	a, err := scanAgent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, newName)
		}
		return nil, err
	}

	// Only cascade when the store was ever provisioned.
	var regclass *string
	if err := tx.QueryRow(ctx, `SELECT to_regclass($1)::text`, oldStore).Scan(&regclass); err != nil {
		return nil, fmt.Errorf("checking store %q: %w", oldStore, err)
	}
	if regclass != nil {
		if err := s.knowledge.RenameIn(ctx, tx, oldStore, newStore); err != nil {
			return nil, fmt.Errorf("renaming knowledge store: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing rename of agent %s: %w", id, err)
	}

	s.logger.Info("renamed agent", "agent_id", id, "name", newName, "store", newStore)
	return a, nil
}

// Delete removes an agent, its chats and turns (via cascade), and its
// knowledge store. The store is dropped before the row: if the drop fails
// the agent survives and the delete can be retried, so no store table is
// ever left behind without an owning agent.
func (s *Store) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	var storeName string
	err := s.db.QueryRow(ctx,
		`SELECT store_name FROM agents WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&storeName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return fmt.Errorf("loading agent %s: %w", id, err)
	}

	if err := s.knowledge.Drop(ctx, storeName); err != nil {
		return fmt.Errorf("dropping knowledge store %q: %w", storeName, err)
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM agents WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	s.logger.Info("deleted agent", "agent_id", id, "store", storeName)
	return nil
}

// scanAgent reads one agent row from a pgx.Row or pgx.Rows.
func scanAgent(row pgx.Row) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.StoreName, &a.Persona,
		&a.Description, &a.PictureURL, &a.TrainingFiles, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
