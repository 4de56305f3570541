package ctecflow

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("ctecflow: invalid configuration")

	// ErrStoreNotConfigured is returned when an operation needs the database
	// but no connection string was configured.
	ErrStoreNotConfigured = errors.New("ctecflow: store not configured")

	// ErrLLMNotConfigured is returned when an operation needs a chat or
	// embedding provider that was not configured.
	ErrLLMNotConfigured = errors.New("ctecflow: llm provider not configured")

	// ErrEmbeddingFailed is returned when embedding generation fails for a
	// whole batch after per-item fallback.
	ErrEmbeddingFailed = errors.New("ctecflow: embedding generation failed")

	// ErrUploadFailed is returned when persisting a parsed CTEC fails.
	ErrUploadFailed = errors.New("ctecflow: upload failed")
)
