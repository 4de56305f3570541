package store

import (
	"context"
	"fmt"

	"github.com/calebgardner/ctecflow/parser"
)

// SeedSurveyQuestions inserts the fixed evaluation survey (questions plus
// their answer options) and returns the number of questions written. Seeding
// is idempotent: question rows are keyed by text, option rows by
// (question, label), and re-seeding refreshes option attributes in place.
// Uploads skip any question that has not been seeded, so this runs before
// the first upload.
func (s *Store) SeedSurveyQuestions(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	questions := parser.SurveyQuestions()
	for _, q := range questions {
		var questionID string
		err := tx.QueryRow(ctx,
			`INSERT INTO survey_questions (id, question) VALUES ($1, $2)
			 ON CONFLICT (question) DO UPDATE SET question = EXCLUDED.question
			 RETURNING id`,
			newID(), q.Text).Scan(&questionID)
		if err != nil {
			return 0, fmt.Errorf("store: seed question: %w", err)
		}
		for _, opt := range q.Options {
			if _, err := tx.Exec(ctx,
				`INSERT INTO survey_question_options
				   (id, survey_question_id, label, ordinal, numeric_value, min_value, max_value, is_open_ended_max)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (survey_question_id, label) DO UPDATE SET
				   ordinal = EXCLUDED.ordinal,
				   numeric_value = EXCLUDED.numeric_value,
				   min_value = EXCLUDED.min_value,
				   max_value = EXCLUDED.max_value,
				   is_open_ended_max = EXCLUDED.is_open_ended_max`,
				newID(), questionID, opt.Label, opt.Ordinal,
				opt.NumericValue, opt.MinValue, opt.MaxValue, opt.OpenEndedMax); err != nil {
				return 0, fmt.Errorf("store: seed option %q: %w", opt.Label, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}
	return len(questions), nil
}
