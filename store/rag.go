package store

import (
	"context"
	"fmt"
	"time"
)

// Entity and chunk type values for the RAG tables.
const (
	EntityCourseOffering = "course_offering"
	EntityCourse         = "course"
	EntityInstructor     = "instructor"

	ChunkComment            = "comment"
	ChunkCommentGroup       = "comment_group"
	ChunkCatalogDescription = "catalog_description"
	ChunkCatalogPrereqs     = "catalog_prereqs"
)

// Chunk is one retrievable text unit: a student comment, a grouped block of
// comments, or a slice of catalog text, tied to the entity it describes.
type Chunk struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ChunkType  string         `json:"chunk_type"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ScoredChunk is a chunk returned from similarity search.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// ChunkEmbedding pairs a chunk with its embedding vector.
type ChunkEmbedding struct {
	ChunkID   string
	Embedding []float32
	Model     string
}

// ChunkFilter narrows a similarity search. Zero values are ignored.
type ChunkFilter struct {
	EntityType string
	EntityID   string
	ChunkTypes []string
}

// InsertChunks writes chunks, skipping any whose
// (entity_id, chunk_type, chunk_index) slot is already occupied, and returns
// the number actually inserted. Missing ids are generated.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted := 0
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = newID()
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO rag_chunks (id, entity_type, entity_id, chunk_type, chunk_index, content, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (entity_id, chunk_type, chunk_index) DO NOTHING`,
			c.ID, c.EntityType, c.EntityID, c.ChunkType, c.ChunkIndex, c.Content, c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("store: insert chunk: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}
	return inserted, nil
}

// DeleteChunks removes every chunk of one type for an entity, cascading to
// stored embeddings, and returns how many were removed.
func (s *Store) DeleteChunks(ctx context.Context, entityType, entityID, chunkType string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rag_chunks WHERE entity_type = $1 AND entity_id = $2 AND chunk_type = $3`,
		entityType, entityID, chunkType)
	if err != nil {
		return 0, fmt.Errorf("store: delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ChunksWithoutEmbeddings returns chunks that have no stored embedding yet,
// oldest first. A limit of 0 returns all of them.
func (s *Store) ChunksWithoutEmbeddings(ctx context.Context, limit int) ([]Chunk, error) {
	// NULLIF turns limit 0 into LIMIT NULL, which Postgres reads as no limit.
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.entity_type, c.entity_id, c.chunk_type, c.chunk_index, c.content, c.metadata, c.created_at
		 FROM rag_chunks c
		 LEFT JOIN rag_embeddings e ON e.chunk_id = c.id
		 WHERE e.id IS NULL
		 ORDER BY c.created_at, c.id
		 LIMIT NULLIF($1, 0)`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("store: query unembedded chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.ChunkType, &c.ChunkIndex,
			&c.Content, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpsertEmbeddings stores embeddings keyed by chunk id, replacing any
// existing vector, and returns how many were written.
func (s *Store) UpsertEmbeddings(ctx context.Context, embs []ChunkEmbedding) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range embs {
		if s.cfg.embeddingDimension > 0 && len(e.Embedding) != s.cfg.embeddingDimension {
			return 0, fmt.Errorf("store: embedding for chunk %s has dimension %d, want %d",
				e.ChunkID, len(e.Embedding), s.cfg.embeddingDimension)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO rag_embeddings (id, chunk_id, embedding, model)
			 VALUES ($1, $2, $3::vector, $4)
			 ON CONFLICT (chunk_id) DO UPDATE SET
			   embedding = EXCLUDED.embedding,
			   model = EXCLUDED.model,
			   created_at = now()`,
			newID(), e.ChunkID, serializeEmbedding(e.Embedding), e.Model); err != nil {
			return 0, fmt.Errorf("store: upsert embedding: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}
	return len(embs), nil
}

// SearchChunks returns the topK chunks most similar to the query embedding
// under cosine distance, filtered by the given constraints. Similarity is
// 1 - cosine distance, so higher is closer.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int, filter ChunkFilter) ([]ScoredChunk, error) {
	if s.cfg.embeddingDimension > 0 && len(embedding) != s.cfg.embeddingDimension {
		return nil, fmt.Errorf("store: query embedding has dimension %d, want %d",
			len(embedding), s.cfg.embeddingDimension)
	}
	if topK <= 0 {
		topK = 10
	}

	where, args := buildChunkFilter(filter, 3)
	query := fmt.Sprintf(
		`SELECT c.id, c.entity_type, c.entity_id, c.chunk_type, c.chunk_index, c.content, c.metadata, c.created_at,
		        1 - (e.embedding <=> $1::vector) AS similarity
		 FROM rag_chunks c
		 JOIN rag_embeddings e ON e.chunk_id = c.id
		 WHERE 1=1%s
		 ORDER BY e.embedding <=> $1::vector
		 LIMIT $2`, where)

	allArgs := append([]any{serializeEmbedding(embedding), topK}, args...)
	rows, err := s.pool.Query(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("store: search chunks: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.EntityType, &sc.EntityID, &sc.ChunkType, &sc.ChunkIndex,
			&sc.Content, &sc.Metadata, &sc.CreatedAt, &sc.Similarity); err != nil {
			return nil, fmt.Errorf("store: scan search result: %w", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// buildChunkFilter renders the optional filter clauses, numbering
// placeholders from startParam.
func buildChunkFilter(filter ChunkFilter, startParam int) (string, []any) {
	var where string
	var args []any
	n := startParam
	if filter.EntityType != "" {
		where += fmt.Sprintf(" AND c.entity_type = $%d", n)
		args = append(args, filter.EntityType)
		n++
	}
	if filter.EntityID != "" {
		where += fmt.Sprintf(" AND c.entity_id = $%d", n)
		args = append(args, filter.EntityID)
		n++
	}
	if len(filter.ChunkTypes) > 0 {
		where += fmt.Sprintf(" AND c.chunk_type = ANY($%d)", n)
		args = append(args, filter.ChunkTypes)
		n++
	}
	return where, args
}

// CommentRow is one student comment joined with its offering context, used
// to build retrieval chunks with enough metadata to cite the source.
type CommentRow struct {
	CommentID    string
	OfferingID   string
	InstructorID string
	CourseCode   string
	CourseTitle  string
	Instructor   string
	Quarter      string
	Year         int
	Section      string
	Content      string
}

// CommentsWithContext returns every stored comment with its course,
// instructor, and term, ordered by offering so callers can group rows.
func (s *Store) CommentsWithContext(ctx context.Context) ([]CommentRow, error) {
	return s.queryCommentRows(ctx,
		`SELECT cm.id, co.id, i.id, c.code, c.title, i.name, co.quarter, co.year, co.section, cm.content
		 FROM comments cm
		 JOIN course_offerings co ON co.id = cm.course_offering_id
		 JOIN courses c ON c.id = co.course_id
		 JOIN instructors i ON i.id = co.instructor_id
		 ORDER BY co.id, cm.created_at, cm.id`)
}

// CommentRowsForOffering returns one offering's comments with context, in
// insertion order. Upload jobs use it to rebuild the offering's comment
// chunks right after a snapshot replacement.
func (s *Store) CommentRowsForOffering(ctx context.Context, offeringID string) ([]CommentRow, error) {
	return s.queryCommentRows(ctx,
		`SELECT cm.id, co.id, i.id, c.code, c.title, i.name, co.quarter, co.year, co.section, cm.content
		 FROM comments cm
		 JOIN course_offerings co ON co.id = cm.course_offering_id
		 JOIN courses c ON c.id = co.course_id
		 JOIN instructors i ON i.id = co.instructor_id
		 WHERE co.id = $1
		 ORDER BY cm.created_at, cm.id`, offeringID)
}

func (s *Store) queryCommentRows(ctx context.Context, query string, args ...any) ([]CommentRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query comments: %w", err)
	}
	defer rows.Close()

	var out []CommentRow
	for rows.Next() {
		var r CommentRow
		if err := rows.Scan(&r.CommentID, &r.OfferingID, &r.InstructorID, &r.CourseCode,
			&r.CourseTitle, &r.Instructor, &r.Quarter, &r.Year, &r.Section, &r.Content); err != nil {
			return nil, fmt.Errorf("store: scan comment row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CourseContentRow is a course's catalog text, used to build description and
// prerequisite chunks.
type CourseContentRow struct {
	CourseID          string
	Code              string
	Title             string
	Description       string
	PrerequisitesText string
	Department        string
}

// CoursesWithContent returns courses that carry catalog text.
func (s *Store) CoursesWithContent(ctx context.Context) ([]CourseContentRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.code, c.title, COALESCE(c.description, ''), COALESCE(c.prerequisites_text, ''), COALESCE(d.name, '')
		 FROM courses c
		 LEFT JOIN departments d ON d.id = c.department_id
		 WHERE COALESCE(c.description, '') <> '' OR COALESCE(c.prerequisites_text, '') <> ''
		 ORDER BY c.code`)
	if err != nil {
		return nil, fmt.Errorf("store: query course content: %w", err)
	}
	defer rows.Close()

	var out []CourseContentRow
	for rows.Next() {
		var r CourseContentRow
		if err := rows.Scan(&r.CourseID, &r.Code, &r.Title, &r.Description,
			&r.PrerequisitesText, &r.Department); err != nil {
			return nil, fmt.Errorf("store: scan course content: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
