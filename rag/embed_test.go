package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/calebgardner/ctecflow/llm"
	"github.com/calebgardner/ctecflow/store"
)

// fakeEmbedStore records upserted embeddings.
type fakeEmbedStore struct {
	pending    []store.Chunk
	upserts    [][]store.ChunkEmbedding
	failUpsert bool
}

func (f *fakeEmbedStore) ChunksWithoutEmbeddings(ctx context.Context, limit int) ([]store.Chunk, error) {
	if limit > 0 && limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeEmbedStore) UpsertEmbeddings(ctx context.Context, embs []store.ChunkEmbedding) (int, error) {
	if f.failUpsert {
		return 0, errors.New("upsert failed")
	}
	f.upserts = append(f.upserts, embs)
	return len(embs), nil
}

// fakeProvider answers Embed calls with fixed vectors and can be told to
// fail batches or everything.
type fakeProvider struct {
	calls     [][]string
	failBatch bool // fail any call with more than one text
	failAll   bool
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.failAll {
		return nil, errors.New("embedding unavailable")
	}
	if f.failBatch && len(texts) > 1 {
		return nil, errors.New("batch too large")
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

func pendingChunks(n int) []store.Chunk {
	chunks := make([]store.Chunk, n)
	for i := range chunks {
		chunks[i] = store.Chunk{ID: string(rune('a' + i)), Content: "chunk content"}
	}
	return chunks
}

func TestEmbedPendingBatches(t *testing.T) {
	fs := &fakeEmbedStore{pending: pendingChunks(3)}
	fp := &fakeProvider{}
	e := &Embedder{store: fs, provider: fp, model: "test-model", batchSize: 2}

	n, err := e.EmbedPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("EmbedPending: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 embedded, got %d", n)
	}
	if len(fp.calls) != 2 || len(fp.calls[0]) != 2 || len(fp.calls[1]) != 1 {
		t.Errorf("expected batch calls of 2 then 1, got %v", fp.calls)
	}
	if len(fs.upserts) != 2 {
		t.Fatalf("expected 2 upsert batches, got %d", len(fs.upserts))
	}
	if fs.upserts[0][0].Model != "test-model" {
		t.Errorf("expected model tag on embeddings, got %q", fs.upserts[0][0].Model)
	}
	if fs.upserts[0][0].ChunkID != "a" {
		t.Errorf("expected chunk id carried through, got %q", fs.upserts[0][0].ChunkID)
	}
}

func TestEmbedPendingFallsBackToIndividual(t *testing.T) {
	fs := &fakeEmbedStore{pending: pendingChunks(3)}
	fp := &fakeProvider{failBatch: true}
	e := &Embedder{store: fs, provider: fp, model: "test-model", batchSize: 2}

	n, err := e.EmbedPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("EmbedPending: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 embedded via fallback, got %d", n)
	}
	// First call is the failed 2-chunk batch, then two singles, then the
	// final batch of one which succeeds directly.
	if len(fp.calls) != 4 {
		t.Fatalf("expected 4 provider calls, got %d: %v", len(fp.calls), fp.calls)
	}
	if len(fp.calls[1]) != 1 || len(fp.calls[2]) != 1 {
		t.Errorf("expected individual fallback calls, got %v", fp.calls)
	}
}

func TestEmbedPendingAllFail(t *testing.T) {
	fs := &fakeEmbedStore{pending: pendingChunks(2)}
	fp := &fakeProvider{failAll: true}
	e := &Embedder{store: fs, provider: fp, model: "test-model", batchSize: 2}

	_, err := e.EmbedPending(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error when every chunk fails")
	}
	if !strings.Contains(err.Error(), "all 2 chunks failed") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestEmbedPendingNothingPending(t *testing.T) {
	fs := &fakeEmbedStore{}
	fp := &fakeProvider{}
	e := &Embedder{store: fs, provider: fp, model: "test-model", batchSize: 2}

	n, err := e.EmbedPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("EmbedPending: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 embedded, got %d", n)
	}
	if len(fp.calls) != 0 {
		t.Errorf("expected no provider calls, got %v", fp.calls)
	}
}

func TestEmbedPendingRespectsLimit(t *testing.T) {
	fs := &fakeEmbedStore{pending: pendingChunks(5)}
	fp := &fakeProvider{}
	e := &Embedder{store: fs, provider: fp, model: "test-model", batchSize: 10}

	n, err := e.EmbedPending(context.Background(), 2)
	if err != nil {
		t.Fatalf("EmbedPending: %v", err)
	}
	if n != 2 {
		t.Errorf("expected limit of 2 respected, got %d", n)
	}
}

func TestTruncateForEmbed(t *testing.T) {
	short := "fits fine"
	if got := truncateForEmbed(short); got != short {
		t.Errorf("expected short text unchanged, got %q", got)
	}

	long := strings.Repeat("word ", 2000) // 10000 chars
	got := truncateForEmbed(long)
	if len(got) > maxEmbedChars {
		t.Errorf("expected at most %d chars, got %d", maxEmbedChars, len(got))
	}
	if !strings.HasSuffix(got, "word") {
		t.Errorf("expected cut at a word boundary, got %q", got[len(got)-10:])
	}
}
