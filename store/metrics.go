package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/calebgardner/ctecflow/parser"
)

// CourseMetrics holds the precomputed aggregates for one course. Averages
// are count-weighted means over the 1-6 scale across every offering of the
// course; the hours mode is the time bucket with the highest total count.
// Fields are nil when no distribution data exists for that question.
type CourseMetrics struct {
	CourseID                     string   `json:"course_id"`
	LearnedAvg                   *float64 `json:"learned_avg,omitempty"`
	CourseRatingAvg              *float64 `json:"course_rating_avg,omitempty"`
	InstructorInterestAvg        *float64 `json:"instructor_interest_avg,omitempty"`
	PriorInterestAvg             *float64 `json:"prior_interest_avg,omitempty"`
	IntellectuallyChallengingAvg *float64 `json:"intellectually_challenging_avg,omitempty"`
	InstructionRatingAvg         *float64 `json:"instruction_rating_avg,omitempty"`
	HoursPerWeekMode             *string  `json:"hours_per_week_mode,omitempty"`
}

// RefreshCourseMetrics recomputes aggregates for every course that has
// distribution data and upserts them into course_metrics in one statement.
// It returns the number of courses written. Courses without any
// distributions keep (or never get) a metrics row.
func (s *Store) RefreshCourseMetrics(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		WITH weighted AS (
			SELECT co.course_id,
			       sq.question,
			       SUM(rd.count * o.numeric_value)::double precision AS weighted_sum,
			       SUM(rd.count)::double precision AS total
			FROM ratings_distribution rd
			JOIN ratings r ON r.id = rd.rating_id
			JOIN course_offerings co ON co.id = r.course_offering_id
			JOIN survey_questions sq ON sq.id = r.survey_question_id
			JOIN survey_question_options o ON o.id = rd.option_id
			WHERE o.numeric_value IS NOT NULL
			GROUP BY co.course_id, sq.question
			HAVING SUM(rd.count) > 0
		),
		averages AS (
			SELECT course_id,
			       MAX(CASE WHEN question = $1 THEN ROUND((weighted_sum / total)::numeric, 2)::double precision END) AS learned_avg,
			       MAX(CASE WHEN question = $2 THEN ROUND((weighted_sum / total)::numeric, 2)::double precision END) AS course_rating_avg,
			       MAX(CASE WHEN question = $3 THEN ROUND((weighted_sum / total)::numeric, 2)::double precision END) AS instructor_interest_avg,
			       MAX(CASE WHEN question = $4 THEN ROUND((weighted_sum / total)::numeric, 2)::double precision END) AS prior_interest_avg,
			       MAX(CASE WHEN question = $5 THEN ROUND((weighted_sum / total)::numeric, 2)::double precision END) AS intellectually_challenging_avg,
			       MAX(CASE WHEN question = $6 THEN ROUND((weighted_sum / total)::numeric, 2)::double precision END) AS instruction_rating_avg
			FROM weighted
			GROUP BY course_id
		),
		hours AS (
			SELECT DISTINCT ON (co.course_id) co.course_id, o.label
			FROM ratings_distribution rd
			JOIN ratings r ON r.id = rd.rating_id
			JOIN course_offerings co ON co.id = r.course_offering_id
			JOIN survey_questions sq ON sq.id = r.survey_question_id
			JOIN survey_question_options o ON o.id = rd.option_id
			WHERE sq.question = $7
			GROUP BY co.course_id, o.label, o.ordinal
			ORDER BY co.course_id, SUM(rd.count) DESC, o.ordinal
		),
		merged AS (
			SELECT COALESCE(a.course_id, h.course_id) AS course_id,
			       a.learned_avg,
			       a.course_rating_avg,
			       a.instructor_interest_avg,
			       a.prior_interest_avg,
			       a.intellectually_challenging_avg,
			       a.instruction_rating_avg,
			       h.label AS hours_per_week_mode
			FROM averages a
			FULL OUTER JOIN hours h ON h.course_id = a.course_id
		)
		INSERT INTO course_metrics (course_id, learned_avg, course_rating_avg, instructor_interest_avg,
		                            prior_interest_avg, intellectually_challenging_avg, instruction_rating_avg,
		                            hours_per_week_mode)
		SELECT course_id, learned_avg, course_rating_avg, instructor_interest_avg,
		       prior_interest_avg, intellectually_challenging_avg, instruction_rating_avg,
		       hours_per_week_mode
		FROM merged
		ON CONFLICT (course_id) DO UPDATE SET
		  learned_avg = EXCLUDED.learned_avg,
		  course_rating_avg = EXCLUDED.course_rating_avg,
		  instructor_interest_avg = EXCLUDED.instructor_interest_avg,
		  prior_interest_avg = EXCLUDED.prior_interest_avg,
		  intellectually_challenging_avg = EXCLUDED.intellectually_challenging_avg,
		  instruction_rating_avg = EXCLUDED.instruction_rating_avg,
		  hours_per_week_mode = EXCLUDED.hours_per_week_mode,
		  updated_at = now()`,
		parser.QuestionLearned,
		parser.QuestionCourseRating,
		parser.QuestionInterestStimulated,
		parser.QuestionPriorInterest,
		parser.QuestionChallenged,
		parser.QuestionInstructionRating,
		parser.QuestionTimeSpent)
	if err != nil {
		return 0, fmt.Errorf("store: refresh course metrics: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MetricsForCourse returns the stored aggregates for one course, or
// ErrNotFound when the course has no metrics row yet.
func (s *Store) MetricsForCourse(ctx context.Context, courseID string) (CourseMetrics, error) {
	var m CourseMetrics
	err := s.pool.QueryRow(ctx,
		`SELECT course_id, learned_avg, course_rating_avg, instructor_interest_avg,
		        prior_interest_avg, intellectually_challenging_avg, instruction_rating_avg,
		        hours_per_week_mode
		 FROM course_metrics WHERE course_id = $1`,
		courseID).Scan(&m.CourseID, &m.LearnedAvg, &m.CourseRatingAvg, &m.InstructorInterestAvg,
		&m.PriorInterestAvg, &m.IntellectuallyChallengingAvg, &m.InstructionRatingAvg,
		&m.HoursPerWeekMode)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, fmt.Errorf("%w: metrics for course %s", ErrNotFound, courseID)
	}
	if err != nil {
		return m, fmt.Errorf("store: load course metrics: %w", err)
	}
	return m, nil
}
