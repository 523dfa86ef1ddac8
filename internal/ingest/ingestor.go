package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kotoba-ai/kotoba/internal/knowledge"
)

// embedBatchSize caps the number of chunks sent to the embedder per request.
const embedBatchSize = 64

// BatchEmbedder embeds chunk batches. Satisfied by *llm.Embedder.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// StoreProvisioner replaces a store's contents. Satisfied by
// *knowledge.Manager.
type StoreProvisioner interface {
	Provision(ctx context.Context, store string, docs []knowledge.Document) error
}

// Result summarizes one ingestion run.
type Result struct {
	Files   int
	Chunks  int
	Elapsed time.Duration
}

// Ingestor builds an agent's knowledge store from training files.
// Ingestion replaces the store's previous contents entirely.
type Ingestor struct {
	splitter *Splitter
	embedder BatchEmbedder
	stores   StoreProvisioner
	logger   *slog.Logger
}

// NewIngestor creates an ingestor with the given chunking parameters.
func NewIngestor(embedder BatchEmbedder, stores StoreProvisioner, chunkSize, overlap int, logger *slog.Logger) (*Ingestor, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if stores == nil {
		return nil, errors.New("store provisioner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	splitter, err := NewSplitter(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return &Ingestor{
		splitter: splitter,
		embedder: embedder,
		stores:   stores,
		logger:   logger,
	}, nil
}

// IngestFiles extracts, chunks, embeds, and provisions the given training
// files into store. All files must load before anything is embedded, so a
// bad file cannot leave the store half-replaced.
func (ing *Ingestor) IngestFiles(ctx context.Context, store string, paths []string) (*Result, error) {
	if len(paths) == 0 {
		return nil, errors.New("no training files given")
	}

	start := time.Now()

	var chunks []string
	var metadata []map[string]string
	for _, path := range paths {
		text, err := ExtractText(path)
		if err != nil {
			return nil, err
		}
		source := filepath.Base(path)
		for _, chunk := range ing.splitter.Split(text) {
			chunks = append(chunks, chunk)
			metadata = append(metadata, map[string]string{"source": source})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text content in %d file(s)", len(paths))
	}

	docs := make([]knowledge.Document, len(chunks))
	for offset := 0; offset < len(chunks); offset += embedBatchSize {
		end := min(offset+embedBatchSize, len(chunks))
		vectors, err := ing.embedder.EmbedTexts(ctx, chunks[offset:end])
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d: %w", offset, end-1, err)
		}
		for i, vec := range vectors {
			docs[offset+i] = knowledge.Document{
				Content:   chunks[offset+i],
				Metadata:  metadata[offset+i],
				Embedding: vec,
			}
		}
	}

	if err := ing.stores.Provision(ctx, store, docs); err != nil {
		return nil, err
	}

	res := &Result{Files: len(paths), Chunks: len(chunks), Elapsed: time.Since(start)}
	ing.logger.Info("ingested training files",
		"store", store,
		"files", res.Files,
		"chunks", res.Chunks,
		"elapsed", res.Elapsed,
	)
	return res, nil
}
