package ctecflow

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/calebgardner/ctecflow/catalog"
	"github.com/calebgardner/ctecflow/llm"
	"github.com/calebgardner/ctecflow/parser"
)

// Config holds all configuration for the ctecflow pipeline.
type Config struct {
	// DatabaseURL is the Postgres connection string. Parse-only workflows
	// leave it empty and run without a store.
	DatabaseURL string `json:"database_url"`

	// LedgerPath is the SQLite file tracking batch parse runs.
	LedgerPath string `json:"ledger_path"`

	// Parser configures the PDF extraction stages.
	Parser parser.Config `json:"parser"`

	// Chat and Embedding configure the LLM providers behind summary
	// generation and retrieval embeddings.
	Chat      llm.Config `json:"chat"`
	Embedding llm.Config `json:"embedding"`

	// EmbeddingDimension pins the pgvector column width. Zero leaves the
	// column untyped.
	EmbeddingDimension int `json:"embedding_dimension"`

	// Workers is the default parse worker count for directory batches.
	Workers int `json:"workers"`

	// Catalog configures the course catalog scraper.
	Catalog catalog.Config `json:"catalog"`
}

// DefaultConfig returns the pipeline defaults: strict archival parsing,
// gpt-4o-mini for chat, text-embedding-3-small at 1536 dimensions.
func DefaultConfig() Config {
	return Config{
		LedgerPath: "ctec_ledger.db",
		Parser:     parser.DefaultConfig(),
		Chat: llm.Config{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: llm.Config{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		EmbeddingDimension: 1536,
		Workers:            4,
	}
}

// UploadParserConfig returns the lenient parser profile used for upload
// jobs: recognized rating counts are not validated against the printed
// totals, and an OCR failure downgrades to a result without rating data
// instead of failing the file.
func UploadParserConfig() parser.Config {
	cfg := parser.DefaultConfig()
	cfg.ValidateOCRTotals = false
	cfg.ContinueOnOCRErrors = true
	return cfg
}

// LoadConfig reads a JSON config file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config. The binaries run
// godotenv.Load first, so a local .env file feeds the same path.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CTECFLOW_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("CTECFLOW_LEDGER_PATH"); v != "" {
		c.LedgerPath = v
	}
	if v := os.Getenv("CTECFLOW_CHAT_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("CTECFLOW_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	// Keys set explicitly in a config file win over the environment.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Chat.APIKey == "" {
			c.Chat.APIKey = v
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		if c.Chat.BaseURL == "" {
			c.Chat.BaseURL = v
		}
		if c.Embedding.BaseURL == "" {
			c.Embedding.BaseURL = v
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	if c.EmbeddingDimension < 0 {
		return fmt.Errorf("%w: embedding dimension must not be negative", ErrInvalidConfig)
	}
	return nil
}
