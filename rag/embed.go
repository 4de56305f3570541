package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calebgardner/ctecflow/llm"
	"github.com/calebgardner/ctecflow/store"
)

// maxEmbedChars caps the text sent to the embedding endpoint. Oversized
// chunks are truncated rather than rejected.
const maxEmbedChars = 8000

// embedStore is the store surface the embedder needs.
type embedStore interface {
	ChunksWithoutEmbeddings(ctx context.Context, limit int) ([]store.Chunk, error)
	UpsertEmbeddings(ctx context.Context, embs []store.ChunkEmbedding) (int, error)
}

// Embedder fills in missing embeddings for stored chunks.
type Embedder struct {
	store     embedStore
	provider  llm.Provider
	model     string
	batchSize int
}

// NewEmbedder returns an Embedder that writes embeddings tagged with the
// given model name. A batchSize of 0 defaults to 32.
func NewEmbedder(st *store.Store, provider llm.Provider, model string, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Embedder{store: st, provider: provider, model: model, batchSize: batchSize}
}

// EmbedPending embeds chunks that have no stored embedding yet, in batches.
// Individual batch failures trigger per-text fallback so a single oversized
// text does not cause the entire batch to be lost. A limit of 0 processes
// everything pending. Returns the number of chunks embedded.
func (e *Embedder) EmbedPending(ctx context.Context, limit int) (int, error) {
	chunks, err := e.store.ChunksWithoutEmbeddings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("loading pending chunks: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	var embedded, failed int
	for i := 0; i < len(chunks); i += e.batchSize {
		end := i + e.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-i)
		for j := i; j < end; j++ {
			texts[j-i] = truncateForEmbed(chunks[j].Content)
		}

		vecs, err := e.provider.Embed(ctx, texts)
		if err != nil || len(vecs) != len(texts) {
			slog.Warn("embedding batch failed, falling back to individual",
				"batch_start", i, "batch_end", end, "error", err)
			for j, text := range texts {
				single, serr := e.provider.Embed(ctx, []string{text})
				if serr != nil || len(single) == 0 || len(single[0]) == 0 {
					slog.Warn("embedding single chunk failed",
						"chunk_id", chunks[i+j].ID, "error", serr)
					failed++
					continue
				}
				if _, serr := e.store.UpsertEmbeddings(ctx, []store.ChunkEmbedding{
					{ChunkID: chunks[i+j].ID, Embedding: single[0], Model: e.model},
				}); serr != nil {
					slog.Warn("storing embedding failed",
						"chunk_id", chunks[i+j].ID, "error", serr)
					failed++
					continue
				}
				embedded++
			}
			continue
		}

		batch := make([]store.ChunkEmbedding, 0, len(vecs))
		for j, vec := range vecs {
			batch = append(batch, store.ChunkEmbedding{
				ChunkID:   chunks[i+j].ID,
				Embedding: vec,
				Model:     e.model,
			})
		}
		n, err := e.store.UpsertEmbeddings(ctx, batch)
		if err != nil {
			slog.Warn("storing embedding batch failed",
				"batch_start", i, "batch_end", end, "error", err)
			failed += len(batch)
			continue
		}
		embedded += n
	}

	if embedded == 0 && failed > 0 {
		return 0, fmt.Errorf("all %d chunks failed embedding", failed)
	}
	if failed > 0 {
		slog.Warn("some embeddings failed", "failed", failed, "embedded", embedded)
	}
	return embedded, nil
}

// truncateForEmbed caps text at maxEmbedChars, cutting at the last space
// before the limit to avoid splitting a word.
func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
	}
	return text[:cut]
}
