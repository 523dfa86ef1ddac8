package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ai/kotoba/internal/log"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s stubEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

func TestRetriever_Context_JoinsMatches(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{rows: [][]any{
		{int64(1), "Our office opens at 9am.", []byte(`{}`), 0.9},
		{int64(2), "We close at 6pm on weekdays.", []byte(`{}`), 0.8},
	}}}
	m := newTestManager(t, db)

	r, err := NewRetriever(stubEmbedder{vector: []float32{1, 0, 0}}, m, 4, log.NewNop())
	require.NoError(t, err)

	got, err := r.Context(context.Background(), "store_a", "when are you open?")
	require.NoError(t, err)
	assert.Equal(t, "Our office opens at 9am.\n\nWe close at 6pm on weekdays.", got)
}

func TestRetriever_Context_EmptyOnNoMatches(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{}}
	m := newTestManager(t, db)

	r, err := NewRetriever(stubEmbedder{vector: []float32{1, 0, 0}}, m, 4, log.NewNop())
	require.NoError(t, err)

	got, err := r.Context(context.Background(), "store_a", "anything")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetriever_Context_EmbedFailure(t *testing.T) {
	m := newTestManager(t, &fakeDB{})

	r, err := NewRetriever(stubEmbedder{err: errors.New("quota exceeded")}, m, 4, log.NewNop())
	require.NoError(t, err)

	_, err = r.Context(context.Background(), "store_a", "anything")
	assert.Error(t, err)
}

func TestRetriever_Context_StoreNotFound(t *testing.T) {
	db := &fakeDB{queryErr: &pgconn.PgError{Code: pgerrcode.UndefinedFunction}}
	m := newTestManager(t, db)

	r, err := NewRetriever(stubEmbedder{vector: []float32{1, 0, 0}}, m, 4, log.NewNop())
	require.NoError(t, err)

	_, err = r.Context(context.Background(), "store_a", "anything")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}
