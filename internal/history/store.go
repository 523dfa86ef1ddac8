// Package history persists chats and conversation turns.
//
// A turn is the unit of persistence: the human input and the AI response are
// written together after the pipeline completes, so history never contains a
// question without its answer. History is always scoped by both chat and
// agent, which keeps a mistyped chat ID from leaking another agent's
// conversation into a prompt.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages chat and turn persistence.
//
// Store is safe for concurrent use by multiple goroutines. Concurrent
// RecordTurn calls for the same chat are serialized by a row lock, so
// sequence numbers stay dense.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a history store.
func NewStore(db DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// GetChat retrieves a chat by ID, scoped to the agent.
func (s *Store) GetChat(ctx context.Context, agentID, chatID uuid.UUID) (*Chat, error) {
	chat := &Chat{ID: chatID, AgentID: agentID}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, name, created_at FROM chats WHERE id = $1 AND agent_id = $2`,
		chatID, agentID,
	).Scan(&chat.UserID, &chat.Name, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
		}
		return nil, fmt.Errorf("getting chat %s: %w", chatID, err)
	}
	return chat, nil
}

// ListChats lists a user's chats with an agent, newest first.
func (s *Store) ListChats(ctx context.Context, agentID uuid.UUID, userID string) ([]*Chat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, name, created_at FROM chats
		 WHERE agent_id = $1 AND user_id = $2
		 ORDER BY created_at DESC`,
		agentID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat := &Chat{AgentID: agentID}
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Name, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chats: %w", err)
	}
	return chats, nil
}

// LoadHistory returns all turns of a chat in sequence order. A chat with no
// turns, or an unknown chat ID, yields an empty slice: absent history is a
// first turn, not an error.
func (s *Store) LoadHistory(ctx context.Context, agentID, chatID uuid.UUID) ([]Turn, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, human, ai, sequence_number, created_at
		 FROM conversation_turns
		 WHERE chat_id = $1 AND agent_id = $2
		 ORDER BY sequence_number ASC`,
		chatID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		t := Turn{ChatID: chatID, AgentID: agentID}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Human, &t.AI, &t.SequenceNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns for chat %s: %w", chatID, err)
	}
	return turns, nil
}

// TurnParams describes one human/AI exchange to record. A nil ChatID starts
// a new chat named ChatName; ChatName is ignored when appending to an
// existing chat.
type TurnParams struct {
	AgentID  uuid.UUID
	ChatID   *uuid.UUID
	UserID   string
	ChatName string
	Human    string
	AI       string
}

// RecordTurn writes one exchange and returns the chat it landed in. For a new
// chat the chat row and the first turn are inserted in the same transaction,
// so a failure leaves neither behind. For an existing chat the row is locked
// for the duration of the transaction so concurrent writers cannot allocate
// the same sequence number.
func (s *Store) RecordTurn(ctx context.Context, p TurnParams) (uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var chatID uuid.UUID
	seq := 1
	if p.ChatID == nil {
		chatID = uuid.New()
		_, err = tx.Exec(ctx,
			`INSERT INTO chats (id, agent_id, user_id, name) VALUES ($1, $2, $3, $4)`,
			chatID, p.AgentID, p.UserID, p.ChatName,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("creating chat: %w", err)
		}
	} else {
		chatID = *p.ChatID

		var lockedID uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT id FROM chats WHERE id = $1 AND agent_id = $2 FOR UPDATE`,
			chatID, p.AgentID,
		).Scan(&lockedID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
			}
			return uuid.Nil, fmt.Errorf("locking chat %s: %w", chatID, err)
		}

		var maxSeq int
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(sequence_number), 0) FROM conversation_turns WHERE chat_id = $1`,
			chatID,
		).Scan(&maxSeq)
		if err != nil {
			return uuid.Nil, fmt.Errorf("reading max sequence for chat %s: %w", chatID, err)
		}
		seq = maxSeq + 1
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_turns (chat_id, agent_id, user_id, human, ai, sequence_number)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		chatID, p.AgentID, p.UserID, p.Human, p.AI, seq,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting turn for chat %s: %w", chatID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing turn for chat %s: %w", chatID, err)
	}

	s.logger.Debug("recorded turn", "chat_id", chatID, "sequence", seq, "new_chat", p.ChatID == nil)
	return chatID, nil
}
