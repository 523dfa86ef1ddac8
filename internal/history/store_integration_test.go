package history

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ai/kotoba/internal/log"
	"github.com/kotoba-ai/kotoba/internal/testutil"
)

func setupStore(t *testing.T) (*Store, *testutil.TestDB, func()) {
	t.Helper()

	testDB, cleanup := testutil.SetupTestDB(t)
	store, err := NewStore(testDB.Pool, log.NewNop())
	require.NoError(t, err)
	return store, testDB, cleanup
}

// insertAgent creates the agents row that chats reference.
func insertAgent(t *testing.T, db *testutil.TestDB) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO agents (id, owner_id, name, store_name, persona)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, "owner-1", "support_bot_"+id.String()[:8], "support_bot_"+id.String()[:8], "A helpful support agent.")
	require.NoError(t, err)
	return id
}

func TestStore_ChatLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store, db, cleanup := setupStore(t)
	defer cleanup()

	agentID := insertAgent(t, db)

	chatID, err := store.RecordTurn(ctx, TurnParams{
		AgentID:  agentID,
		UserID:   "user-1",
		ChatName: "Opening hours question",
		Human:    "When do you open?",
		AI:       "We open at 9am.",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, chatID)

	got, err := store.GetChat(ctx, agentID, chatID)
	require.NoError(t, err)
	assert.Equal(t, "Opening hours question", got.Name)
	assert.Equal(t, "user-1", got.UserID)
	assert.False(t, got.CreatedAt.IsZero())

	// The chat is born with its first turn already recorded.
	turns, err := store.LoadHistory(ctx, agentID, chatID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].SequenceNumber)

	// Wrong agent scope must not find the chat.
	_, err = store.GetChat(ctx, uuid.New(), chatID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	chats, err := store.ListChats(ctx, agentID, "user-1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, chatID, chats[0].ID)
}

func TestStore_RecordAndLoadHistory_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store, db, cleanup := setupStore(t)
	defer cleanup()

	agentID := insertAgent(t, db)

	// Unknown chats load as empty history.
	turns, err := store.LoadHistory(ctx, agentID, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, turns)

	chatID, err := store.RecordTurn(ctx, TurnParams{
		AgentID: agentID, UserID: "user-1", ChatName: "test chat",
		Human: "Hello", AI: "Hi there!",
	})
	require.NoError(t, err)
	_, err = store.RecordTurn(ctx, TurnParams{
		AgentID: agentID, ChatID: &chatID, UserID: "user-1",
		Human: "How are you?", AI: "Doing well.",
	})
	require.NoError(t, err)

	turns, err = store.LoadHistory(ctx, agentID, chatID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].SequenceNumber)
	assert.Equal(t, "Hello", turns[0].Human)
	assert.Equal(t, 2, turns[1].SequenceNumber)
	assert.Equal(t, "Doing well.", turns[1].AI)

	// History scoped to another agent must come back empty.
	turns, err = store.LoadHistory(ctx, uuid.New(), chatID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStore_RecordTurn_UnknownChat_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store, db, cleanup := setupStore(t)
	defer cleanup()

	agentID := insertAgent(t, db)

	missing := uuid.New()
	_, err := store.RecordTurn(ctx, TurnParams{
		AgentID: agentID, ChatID: &missing, UserID: "user-1",
		Human: "Hello", AI: "Hi",
	})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestStore_ConcurrentRecordTurn_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store, db, cleanup := setupStore(t)
	defer cleanup()

	agentID := insertAgent(t, db)
	chatID, err := store.RecordTurn(ctx, TurnParams{
		AgentID: agentID, UserID: "user-1", ChatName: "concurrent chat",
		Human: "Hello", AI: "Hi",
	})
	require.NoError(t, err)

	const numWriters = 8
	var wg sync.WaitGroup
	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordTurn(ctx, TurnParams{
				AgentID: agentID, ChatID: &chatID, UserID: "user-1",
				Human: "ping", AI: "pong",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns, err := store.LoadHistory(ctx, agentID, chatID)
	require.NoError(t, err)
	require.Len(t, turns, numWriters+1)

	// Row locking must keep sequence numbers dense and unique.
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.SequenceNumber)
	}
}
