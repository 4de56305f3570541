package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AISummary is one generated summary for a course offering, instructor, or
// course. SourceUpdatedAt records how fresh the inputs were at generation
// time and drives staleness detection.
type AISummary struct {
	EntityType         string    `json:"entity_type"`
	EntityID           string    `json:"entity_id"`
	Summary            string    `json:"summary"`
	Model              string    `json:"model"`
	Prompt             string    `json:"prompt"`
	SourceUpdatedAt    time.Time `json:"source_updated_at"`
	SourceCommentCount *int      `json:"source_comment_count,omitempty"`
}

// StaleEntity identifies an entity whose summary is missing or older than
// its newest source material.
type StaleEntity struct {
	EntityID    string
	SourceCount int
	LastSource  time.Time
}

// UpsertAISummary writes a summary keyed by (entity_type, entity_id),
// replacing any previous generation.
func (s *Store) UpsertAISummary(ctx context.Context, sum AISummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_summaries (id, entity_type, entity_id, summary, model, prompt, source_updated_at, source_comment_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		   summary = EXCLUDED.summary,
		   model = EXCLUDED.model,
		   prompt = EXCLUDED.prompt,
		   source_updated_at = EXCLUDED.source_updated_at,
		   source_comment_count = EXCLUDED.source_comment_count,
		   generated_at = now(),
		   updated_at = now()`,
		newID(), sum.EntityType, sum.EntityID, sum.Summary, sum.Model, sum.Prompt,
		sum.SourceUpdatedAt, sum.SourceCommentCount)
	if err != nil {
		return fmt.Errorf("store: upsert summary: %w", err)
	}
	return nil
}

// StaleOfferings returns offerings that have comments but no summary, or
// whose summary predates the newest comment. With force, every offering that
// has comments is returned regardless of summary freshness.
func (s *Store) StaleOfferings(ctx context.Context, force bool) ([]StaleEntity, error) {
	return s.staleEntities(ctx, fmt.Sprintf(
		`SELECT co.id, COUNT(cm.id), MAX(cm.created_at)
		 FROM course_offerings co
		 JOIN comments cm ON cm.course_offering_id = co.id
		 LEFT JOIN ai_summaries s ON s.entity_type = 'course_offering' AND s.entity_id = co.id
		 GROUP BY co.id
		 %s
		 ORDER BY co.id`, staleFilter(force, "MAX(cm.created_at)")))
}

// StaleInstructors returns instructors whose comment pool (across all their
// offerings) is newer than their summary, or who have none yet.
func (s *Store) StaleInstructors(ctx context.Context, force bool) ([]StaleEntity, error) {
	return s.staleEntities(ctx, fmt.Sprintf(
		`SELECT i.id, COUNT(cm.id), MAX(cm.created_at)
		 FROM instructors i
		 JOIN course_offerings co ON co.instructor_id = i.id
		 JOIN comments cm ON cm.course_offering_id = co.id
		 LEFT JOIN ai_summaries s ON s.entity_type = 'instructor' AND s.entity_id = i.id
		 GROUP BY i.id
		 %s
		 ORDER BY i.id`, staleFilter(force, "MAX(cm.created_at)")))
}

// StaleCourses returns courses whose per-offering summaries are newer than
// the course roll-up, or that have offering summaries but no roll-up yet.
// Course summaries are built from offering summaries, so the source
// timestamp compares against those rather than raw comments.
func (s *Store) StaleCourses(ctx context.Context, force bool) ([]StaleEntity, error) {
	return s.staleEntities(ctx, fmt.Sprintf(
		`SELECT c.id, COUNT(os.id), MAX(os.updated_at)
		 FROM courses c
		 JOIN course_offerings co ON co.course_id = c.id
		 JOIN ai_summaries os ON os.entity_type = 'course_offering' AND os.entity_id = co.id
		 LEFT JOIN ai_summaries s ON s.entity_type = 'course' AND s.entity_id = c.id
		 GROUP BY c.id
		 %s
		 ORDER BY c.id`, staleFilter(force, "MAX(os.updated_at)")))
}

// staleFilter builds the HAVING clause that keeps only entities whose newest
// source material postdates their summary. force drops the filter so every
// entity with source material qualifies.
func staleFilter(force bool, sourceExpr string) string {
	if force {
		return ""
	}
	return "HAVING MAX(s.source_updated_at) IS NULL OR MAX(s.source_updated_at) < " + sourceExpr
}

func (s *Store) staleEntities(ctx context.Context, query string) ([]StaleEntity, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: query stale entities: %w", err)
	}
	defer rows.Close()

	var out []StaleEntity
	for rows.Next() {
		var e StaleEntity
		if err := rows.Scan(&e.EntityID, &e.SourceCount, &e.LastSource); err != nil {
			return nil, fmt.Errorf("store: scan stale entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OfferingInfo is the header context for one course offering.
type OfferingInfo struct {
	OfferingID  string
	CourseCode  string
	CourseTitle string
	Instructor  string
	Quarter     string
	Year        int
}

// OfferingByID returns the header context for an offering, or ErrNotFound.
func (s *Store) OfferingByID(ctx context.Context, offeringID string) (OfferingInfo, error) {
	var info OfferingInfo
	err := s.pool.QueryRow(ctx,
		`SELECT co.id, c.code, c.title, i.name, co.quarter, co.year
		 FROM course_offerings co
		 JOIN courses c ON c.id = co.course_id
		 JOIN instructors i ON i.id = co.instructor_id
		 WHERE co.id = $1`,
		offeringID).Scan(&info.OfferingID, &info.CourseCode, &info.CourseTitle,
		&info.Instructor, &info.Quarter, &info.Year)
	if errors.Is(err, pgx.ErrNoRows) {
		return info, fmt.Errorf("%w: offering %s", ErrNotFound, offeringID)
	}
	if err != nil {
		return info, fmt.Errorf("store: load offering: %w", err)
	}
	return info, nil
}

// CommentsForOffering returns one offering's comments, oldest first.
func (s *Store) CommentsForOffering(ctx context.Context, offeringID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT content FROM comments WHERE course_offering_id = $1 ORDER BY created_at, id`,
		offeringID)
	if err != nil {
		return nil, fmt.Errorf("store: query offering comments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("store: scan comment: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// InstructorComment is one comment about an instructor with the course and
// term it came from.
type InstructorComment struct {
	Content     string
	CourseCode  string
	CourseTitle string
	Quarter     string
	Year        int
}

// InstructorByID returns an instructor's name, or ErrNotFound.
func (s *Store) InstructorByID(ctx context.Context, instructorID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM instructors WHERE id = $1`, instructorID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: instructor %s", ErrNotFound, instructorID)
	}
	if err != nil {
		return "", fmt.Errorf("store: load instructor: %w", err)
	}
	return name, nil
}

// CommentsForInstructor returns every comment across an instructor's
// offerings, newest term context preserved per comment.
func (s *Store) CommentsForInstructor(ctx context.Context, instructorID string) ([]InstructorComment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cm.content, c.code, c.title, co.quarter, co.year
		 FROM comments cm
		 JOIN course_offerings co ON co.id = cm.course_offering_id
		 JOIN courses c ON c.id = co.course_id
		 WHERE co.instructor_id = $1
		 ORDER BY co.year, co.quarter, cm.created_at, cm.id`,
		instructorID)
	if err != nil {
		return nil, fmt.Errorf("store: query instructor comments: %w", err)
	}
	defer rows.Close()

	var out []InstructorComment
	for rows.Next() {
		var ic InstructorComment
		if err := rows.Scan(&ic.Content, &ic.CourseCode, &ic.CourseTitle, &ic.Quarter, &ic.Year); err != nil {
			return nil, fmt.Errorf("store: scan instructor comment: %w", err)
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

// CourseHeader is a course's code and title.
type CourseHeader struct {
	Code  string
	Title string
}

// CourseByID returns a course's code and title, or ErrNotFound.
func (s *Store) CourseByID(ctx context.Context, courseID string) (CourseHeader, error) {
	var h CourseHeader
	err := s.pool.QueryRow(ctx, `SELECT code, title FROM courses WHERE id = $1`, courseID).Scan(&h.Code, &h.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, fmt.Errorf("%w: course %s", ErrNotFound, courseID)
	}
	if err != nil {
		return h, fmt.Errorf("store: load course: %w", err)
	}
	return h, nil
}

// OfferingSummary is one offering's summary with its term context, used to
// roll offering summaries up into a course summary.
type OfferingSummary struct {
	Quarter      string
	Year         int
	Instructor   string
	Summary      string
	CommentCount *int
}

// OfferingSummariesForCourse returns the stored per-offering summaries for a
// course, oldest term first.
func (s *Store) OfferingSummariesForCourse(ctx context.Context, courseID string) ([]OfferingSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT co.quarter, co.year, i.name, s.summary, s.source_comment_count
		 FROM ai_summaries s
		 JOIN course_offerings co ON co.id = s.entity_id
		 JOIN instructors i ON i.id = co.instructor_id
		 WHERE s.entity_type = 'course_offering' AND co.course_id = $1
		 ORDER BY co.year, co.quarter, i.name`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("store: query offering summaries: %w", err)
	}
	defer rows.Close()

	var out []OfferingSummary
	for rows.Next() {
		var os OfferingSummary
		if err := rows.Scan(&os.Quarter, &os.Year, &os.Instructor, &os.Summary, &os.CommentCount); err != nil {
			return nil, fmt.Errorf("store: scan offering summary: %w", err)
		}
		out = append(out, os)
	}
	return out, rows.Err()
}
