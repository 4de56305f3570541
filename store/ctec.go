package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/calebgardner/ctecflow/parser"
)

// UploadResult reports what one evaluation upload wrote and replaced.
type UploadResult struct {
	CourseID              string   `json:"course_id"`
	InstructorID          string   `json:"instructor_id"`
	OfferingID            string   `json:"course_offering_id"`
	CommentsDeleted       int64    `json:"comments_deleted"`
	RatingsDeleted        int64    `json:"ratings_deleted"`
	CommentsInserted      int      `json:"comments_inserted"`
	RatingsInserted       int      `json:"ratings_inserted"`
	DistributionsInserted int      `json:"distributions_inserted"`
	SkippedQuestions      []string `json:"skipped_questions,omitempty"`
}

// UpsertCourse returns the id for a course code, creating the record when
// missing. An existing course keeps its title: evaluation headers carry
// abbreviated titles, and the catalog pipeline owns the authoritative one.
func (s *Store) UpsertCourse(ctx context.Context, code, title string) (string, error) {
	return upsertCourse(ctx, s.pool, code, title)
}

// The conflict action is a no-op assignment so RETURNING yields the
// existing row's id without touching its catalog-owned fields.
func upsertCourse(ctx context.Context, db dbtx, code, title string) (string, error) {
	var id string
	err := db.QueryRow(ctx,
		`INSERT INTO courses (id, code, title) VALUES ($1, $2, $3)
		 ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		 RETURNING id`,
		newID(), code, title).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: upsert course: %w", err)
	}
	return id, nil
}

// UpsertInstructor returns the id for an instructor name, creating the
// record when missing.
func (s *Store) UpsertInstructor(ctx context.Context, name string) (string, error) {
	return upsertInstructor(ctx, s.pool, name)
}

func upsertInstructor(ctx context.Context, db dbtx, name string) (string, error) {
	var id string
	err := db.QueryRow(ctx,
		`INSERT INTO instructors (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		newID(), name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: upsert instructor: %w", err)
	}
	return id, nil
}

// UpsertOffering returns the id of the offering identified by
// (course, instructor, quarter, year, section), creating it when missing.
// Audience size and response count follow the latest upload.
func (s *Store) UpsertOffering(ctx context.Context, courseID, instructorID string, info parser.CourseInfo) (string, error) {
	return upsertOffering(ctx, s.pool, courseID, instructorID, info)
}

func upsertOffering(ctx context.Context, db dbtx, courseID, instructorID string, info parser.CourseInfo) (string, error) {
	var id string
	err := db.QueryRow(ctx,
		`INSERT INTO course_offerings (id, course_id, instructor_id, quarter, year, section, audience_size, response_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (course_id, instructor_id, quarter, year, section) DO UPDATE SET
		   audience_size = EXCLUDED.audience_size,
		   response_count = EXCLUDED.response_count
		 RETURNING id`,
		newID(), courseID, instructorID, info.Quarter, info.Year, info.Section,
		info.AudienceSize, info.ResponseCount).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: upsert offering: %w", err)
	}
	return id, nil
}

// UploadEvaluation writes one parsed evaluation using replace-snapshot
// semantics: course, instructor, and offering records are upserted
// idempotently, then every offering-scoped row (comments, ratings,
// distributions, comment-sourced RAG chunks) is deleted and reinserted in a
// single transaction, so re-uploading the same PDF after parser improvements
// fully replaces the previous extraction instead of accumulating duplicates.
func (s *Store) UploadEvaluation(ctx context.Context, res *parser.Result) (UploadResult, error) {
	var out UploadResult
	info := res.CourseInfo
	if info.Code == "" || info.Instructor == "" {
		return out, fmt.Errorf("store: upload evaluation: missing course code or instructor")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return out, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	courseID, err := upsertCourse(ctx, tx, info.Code, info.Title)
	if err != nil {
		return out, err
	}
	instructorID, err := upsertInstructor(ctx, tx, info.Instructor)
	if err != nil {
		return out, err
	}
	offeringID, err := upsertOffering(ctx, tx, courseID, instructorID, info)
	if err != nil {
		return out, err
	}
	out.CourseID = courseID
	out.InstructorID = instructorID
	out.OfferingID = offeringID

	// Clear the previous snapshot. Rating distributions cascade with their
	// ratings, embeddings with their chunks.
	if _, err := tx.Exec(ctx,
		`DELETE FROM rag_chunks WHERE entity_type = 'course_offering' AND entity_id = $1 AND chunk_type = 'comment'`,
		offeringID); err != nil {
		return out, fmt.Errorf("store: clear comment chunks: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM comments WHERE course_offering_id = $1`, offeringID)
	if err != nil {
		return out, fmt.Errorf("store: clear comments: %w", err)
	}
	out.CommentsDeleted = tag.RowsAffected()
	tag, err = tx.Exec(ctx, `DELETE FROM ratings WHERE course_offering_id = $1`, offeringID)
	if err != nil {
		return out, fmt.Errorf("store: clear ratings: %w", err)
	}
	out.RatingsDeleted = tag.RowsAffected()

	// Duplicate comment text within one report collapses to a single row
	// via the (offering, content_hash) key.
	for _, content := range res.Comments {
		tag, err := tx.Exec(ctx,
			`INSERT INTO comments (id, course_offering_id, content, content_hash)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (course_offering_id, content_hash) DO NOTHING`,
			newID(), offeringID, content, hashContent(content))
		if err != nil {
			return out, fmt.Errorf("store: insert comment: %w", err)
		}
		out.CommentsInserted += int(tag.RowsAffected())
	}

	lookup, err := loadSurveyLookup(ctx, tx)
	if err != nil {
		return out, err
	}

	for _, question := range sortedKeys(res.Distributions) {
		questionID, ok := lookup.questions[question]
		if !ok {
			out.SkippedQuestions = append(out.SkippedQuestions, question)
			continue
		}
		ratingID := newID()
		if _, err := tx.Exec(ctx,
			`INSERT INTO ratings (id, course_offering_id, survey_question_id) VALUES ($1, $2, $3)`,
			ratingID, offeringID, questionID); err != nil {
			return out, fmt.Errorf("store: insert rating: %w", err)
		}
		out.RatingsInserted++

		// A question seeded without options keeps only the rating row.
		options := lookup.options[questionID]
		if len(options) == 0 {
			continue
		}
		counts := res.Distributions[question].Counts
		for _, label := range sortedKeys(counts) {
			optionID, ok := options[label]
			if !ok {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO ratings_distribution (id, rating_id, option_id, count)
				 VALUES ($1, $2, $3, $4)`,
				newID(), ratingID, optionID, counts[label]); err != nil {
				return out, fmt.Errorf("store: insert distribution: %w", err)
			}
			out.DistributionsInserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return out, fmt.Errorf("store: commit tx: %w", err)
	}
	return out, nil
}

// surveyLookup caches survey question and option ids keyed by their natural
// keys (question text; option label).
type surveyLookup struct {
	questions map[string]string            // question text -> id
	options   map[string]map[string]string // question id -> label -> option id
}

func loadSurveyLookup(ctx context.Context, db dbtx) (*surveyLookup, error) {
	lk := &surveyLookup{
		questions: make(map[string]string),
		options:   make(map[string]map[string]string),
	}

	qRows, err := db.Query(ctx, `SELECT id, question FROM survey_questions`)
	if err != nil {
		return nil, fmt.Errorf("store: load survey questions: %w", err)
	}
	defer qRows.Close()
	for qRows.Next() {
		var id, question string
		if err := qRows.Scan(&id, &question); err != nil {
			return nil, fmt.Errorf("store: scan survey question: %w", err)
		}
		lk.questions[question] = id
	}
	if err := qRows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate survey questions: %w", err)
	}

	oRows, err := db.Query(ctx, `SELECT survey_question_id, label, id FROM survey_question_options`)
	if err != nil {
		return nil, fmt.Errorf("store: load survey options: %w", err)
	}
	defer oRows.Close()
	for oRows.Next() {
		var questionID, label, id string
		if err := oRows.Scan(&questionID, &label, &id); err != nil {
			return nil, fmt.Errorf("store: scan survey option: %w", err)
		}
		if lk.options[questionID] == nil {
			lk.options[questionID] = make(map[string]string)
		}
		lk.options[questionID][label] = id
	}
	if err := oRows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate survey options: %w", err)
	}

	return lk, nil
}

// hashContent returns the sha256 hex digest used for comment deduplication.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// sortedKeys returns a map's keys sorted, for deterministic insert order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
