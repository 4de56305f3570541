// Package store implements PostgreSQL persistence for parsed course
// evaluations: the relational core (courses, instructors, offerings,
// comments, ratings), catalog data, RAG chunks with pgvector embeddings,
// and AI summaries.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store provides all database operations backed by PostgreSQL with
// pgvector. Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, catching
// dimension mismatches at insert time. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Only affects index creation.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// dbtx is the query surface shared by *pgxpool.Pool and pgx.Tx, so the
// upsert helpers can run standalone or inside a snapshot transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS departments (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS courses (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT,
			prerequisites_text TEXT,
			department_id TEXT REFERENCES departments(id)
		)`,
		`CREATE INDEX IF NOT EXISTS courses_department_idx ON courses(department_id)`,

		`CREATE TABLE IF NOT EXISTS instructors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,

		// Section is stored as '' rather than NULL so the composite unique
		// constraint deduplicates offerings without a section number
		// (Postgres treats NULLs in unique constraints as distinct).
		`CREATE TABLE IF NOT EXISTS course_offerings (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL REFERENCES courses(id),
			instructor_id TEXT NOT NULL REFERENCES instructors(id),
			quarter TEXT NOT NULL,
			year INTEGER NOT NULL,
			section TEXT NOT NULL DEFAULT '',
			audience_size INTEGER,
			response_count INTEGER,
			UNIQUE(course_id, instructor_id, quarter, year, section)
		)`,
		`CREATE INDEX IF NOT EXISTS course_offerings_course_idx ON course_offerings(course_id)`,
		`CREATE INDEX IF NOT EXISTS course_offerings_instructor_idx ON course_offerings(instructor_id)`,

		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			course_offering_id TEXT NOT NULL REFERENCES course_offerings(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(course_offering_id, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS comments_offering_idx ON comments(course_offering_id)`,

		`CREATE TABLE IF NOT EXISTS survey_questions (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS survey_question_options (
			id TEXT PRIMARY KEY,
			survey_question_id TEXT NOT NULL REFERENCES survey_questions(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			numeric_value INTEGER,
			min_value INTEGER,
			max_value INTEGER,
			is_open_ended_max BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE(survey_question_id, label)
		)`,

		`CREATE TABLE IF NOT EXISTS ratings (
			id TEXT PRIMARY KEY,
			course_offering_id TEXT NOT NULL REFERENCES course_offerings(id) ON DELETE CASCADE,
			survey_question_id TEXT NOT NULL REFERENCES survey_questions(id),
			UNIQUE(course_offering_id, survey_question_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ratings_offering_idx ON ratings(course_offering_id)`,

		`CREATE TABLE IF NOT EXISTS ratings_distribution (
			id TEXT PRIMARY KEY,
			rating_id TEXT NOT NULL REFERENCES ratings(id) ON DELETE CASCADE,
			option_id TEXT NOT NULL REFERENCES survey_question_options(id),
			count INTEGER NOT NULL,
			UNIQUE(rating_id, option_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ratings_distribution_rating_idx ON ratings_distribution(rating_id)`,

		`CREATE TABLE IF NOT EXISTS requirements (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS course_requirements (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			requirement_id TEXT NOT NULL REFERENCES requirements(id) ON DELETE CASCADE,
			UNIQUE(course_id, requirement_id)
		)`,

		`CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(entity_id, chunk_type, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS rag_chunks_entity_idx ON rag_chunks(entity_type, chunk_type)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_embeddings (
			id TEXT PRIMARY KEY,
			chunk_id TEXT NOT NULL UNIQUE REFERENCES rag_chunks(id) ON DELETE CASCADE,
			embedding %s NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS rag_embeddings_embedding_idx ON rag_embeddings USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		`CREATE TABLE IF NOT EXISTS ai_summaries (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt TEXT NOT NULL,
			source_updated_at TIMESTAMPTZ NOT NULL,
			source_comment_count INTEGER,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(entity_type, entity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS course_metrics (
			course_id TEXT PRIMARY KEY REFERENCES courses(id) ON DELETE CASCADE,
			learned_avg DOUBLE PRECISION,
			course_rating_avg DOUBLE PRECISION,
			instructor_interest_avg DOUBLE PRECISION,
			prior_interest_avg DOUBLE PRECISION,
			intellectually_challenging_avg DOUBLE PRECISION,
			instruction_rating_avg DOUBLE PRECISION,
			hours_per_week_mode TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("store: set ef_search: %w", err)
		}
	}

	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// --- helpers ---

// newID returns a fresh UUID string. IDs are app-generated so upserts can
// run without a server round-trip for key allocation.
func newID() string {
	return uuid.NewString()
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
