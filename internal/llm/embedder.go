package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// DefaultEmbedTimeout bounds a single embedding attempt.
const DefaultEmbedTimeout = 10 * time.Second

// Embedder wraps a Genkit embedder with the shared deadline and retry
// policy, and pins the output dimensionality to the knowledge store's
// vector column width.
type Embedder struct {
	embedder  ai.Embedder
	dimension int32
	timeout   time.Duration
	retry     RetryConfig
	logger    *slog.Logger
}

// NewEmbedder creates an Embedder. dimension must match the vector(N)
// columns of provisioned knowledge stores.
func NewEmbedder(embedder ai.Embedder, dimension int, timeout time.Duration, logger *slog.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if timeout <= 0 {
		timeout = DefaultEmbedTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		embedder:  embedder,
		dimension: int32(dimension),
		timeout:   timeout,
		retry:     DefaultRetryConfig(),
		logger:    logger,
	}, nil
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds a batch of texts in one request, preserving order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := e.dimension
	req := &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	}

	resp, err := withRetry(ctx, e.retry, nil, e.logger, "embed",
		func(ctx context.Context) (*ai.EmbedResponse, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			return e.embedder.Embed(callCtx, req)
		})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
