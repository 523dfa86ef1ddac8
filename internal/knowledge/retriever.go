package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// QueryEmbedder turns retrieval queries into vectors. Satisfied by
// *llm.Embedder.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Retriever produces the context block the answer stage consumes: it embeds
// the query, searches the agent's store, and joins the matched chunks.
type Retriever struct {
	embedder QueryEmbedder
	manager  *Manager
	topK     int
	logger   *slog.Logger
}

// NewRetriever creates a retriever. topK <= 0 defaults to 4.
func NewRetriever(embedder QueryEmbedder, manager *Manager, topK int, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	if topK <= 0 {
		topK = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, manager: manager, topK: topK, logger: logger}, nil
}

// Context returns the matched chunks for query joined by blank lines, in
// similarity order. An empty string means the store held no matches; the
// caller decides how to answer without grounding.
func (r *Retriever) Context(ctx context.Context, store, query string) (string, error) {
	embedding, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embedding retrieval query: %w", err)
	}

	matches, err := r.manager.Retrieve(ctx, store, embedding, r.topK, nil)
	if err != nil {
		return "", err
	}

	if len(matches) == 0 {
		r.logger.Debug("retrieval returned no matches", "store", store)
		return "", nil
	}

	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n\n"), nil
}
