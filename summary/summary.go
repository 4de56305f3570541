// Package summary generates natural-language summaries of course evaluation
// feedback and keeps them fresh as new evaluations arrive. Offerings are
// summarized from their comments, instructors from comments across all their
// offerings, and courses from their offerings' summaries.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/calebgardner/ctecflow/llm"
	"github.com/calebgardner/ctecflow/store"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxAttempts = 4 // initial call plus three retries
	defaultBaseDelay   = time.Second

	// maxInputChars bounds assembled prompt content, roughly 3000 tokens,
	// leaving room for the prompt scaffolding and the completion.
	maxInputChars = 12000
)

// Config controls summary generation.
type Config struct {
	Model       string        `json:"model"`
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
}

// Generator produces summaries of assembled evaluation content through a
// chat model.
type Generator struct {
	provider llm.Provider
	cfg      Config
}

// NewGenerator creates a Generator backed by the given chat provider.
// Zero-value config fields take defaults.
func NewGenerator(provider llm.Provider, cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	return &Generator{provider: provider, cfg: cfg}
}

// Generate produces a summary for one entity from its assembled content
// blocks. Blocks are joined per entity type, truncated to the model input
// budget, and sent through the provider with retries on transient failures.
func (g *Generator) Generate(ctx context.Context, entityType string, blocks []string) (string, error) {
	if len(blocks) == 0 {
		return "", fmt.Errorf("no content for %s summary", entityType)
	}

	content := truncateContent(joinBlocks(entityType, blocks))
	system, user := BuildPrompt(entityType, content)

	req := llm.ChatRequest{
		Model: g.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3, // low temperature keeps summaries consistent across runs
		MaxTokens:   1000,
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBackoff(g.cfg.BaseDelay, attempt-1)
			slog.Warn("summary: retrying generation",
				"entity_type", entityType,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := g.provider.Chat(ctx, req)
		if err != nil {
			if !retryableError(err) {
				return "", fmt.Errorf("generate %s summary: %w", entityType, err)
			}
			lastErr = err
			continue
		}

		text := strings.TrimSpace(resp.Content)
		if text == "" {
			return "", fmt.Errorf("generate %s summary: empty completion", entityType)
		}
		return text, nil
	}

	return "", fmt.Errorf("generate %s summary: %d attempts: %w", entityType, g.cfg.MaxAttempts, lastErr)
}

// joinBlocks assembles content blocks into one prompt body. Offering and
// course content separates independent pieces visibly; instructor blocks
// already carry their own offering headers.
func joinBlocks(entityType string, blocks []string) string {
	switch entityType {
	case store.EntityCourseOffering, store.EntityCourse:
		return strings.Join(blocks, "\n\n---\n\n")
	default:
		return strings.Join(blocks, "\n\n")
	}
}

// truncateContent cuts oversized content at the input budget, backing up to
// a space so the cut does not land mid-word, and appends a marker so the
// model knows the evidence is incomplete.
func truncateContent(text string) string {
	if len(text) <= maxInputChars {
		return text
	}
	cut := text[:maxInputChars]
	if idx := strings.LastIndex(cut, " "); idx > maxInputChars/2 {
		cut = cut[:idx]
	}
	return cut + "...\n[Content truncated]"
}

// retryableError reports whether a generation failure is worth another
// attempt. Rate limits and server-side errors qualify; malformed requests
// and auth failures do not.
func retryableError(err error) bool {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// retryBackoff returns the delay before retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
