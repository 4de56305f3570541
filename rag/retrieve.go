package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calebgardner/ctecflow/llm"
	"github.com/calebgardner/ctecflow/store"
)

// searchStore is the store surface the retriever needs.
type searchStore interface {
	SearchChunks(ctx context.Context, embedding []float32, topK int, filter store.ChunkFilter) ([]store.ScoredChunk, error)
}

// Retriever answers free-text queries against the chunk store.
type Retriever struct {
	store    searchStore
	provider llm.Provider
}

// NewRetriever returns a Retriever backed by the given store and embedding
// provider.
func NewRetriever(st *store.Store, provider llm.Provider) *Retriever {
	return &Retriever{store: st, provider: provider}
}

// Retrieve embeds the query and returns the topK most similar chunks under
// the given filter, best match first.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter store.ChunkFilter) ([]store.ScoredChunk, error) {
	vecs, err := r.provider.Embed(ctx, []string{truncateForEmbed(query)})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}

	results, err := r.store.SearchChunks(ctx, vecs[0], topK, filter)
	if err != nil {
		return nil, err
	}

	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Similarity
	}
	slog.Debug("retrieval complete", "results", len(results), "top_score", topScore)
	return results, nil
}
