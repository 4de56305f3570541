package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calebgardner/ctecflow/store"
)

// refreshStore is the slice of the store the refresher needs.
type refreshStore interface {
	StaleOfferings(ctx context.Context, force bool) ([]store.StaleEntity, error)
	StaleInstructors(ctx context.Context, force bool) ([]store.StaleEntity, error)
	StaleCourses(ctx context.Context, force bool) ([]store.StaleEntity, error)
	CommentsForOffering(ctx context.Context, offeringID string) ([]string, error)
	CommentsForInstructor(ctx context.Context, instructorID string) ([]store.InstructorComment, error)
	OfferingSummariesForCourse(ctx context.Context, courseID string) ([]store.OfferingSummary, error)
	UpsertAISummary(ctx context.Context, sum store.AISummary) error
}

// Refresher regenerates stale summaries in dependency order.
type Refresher struct {
	store refreshStore
	gen   *Generator
}

// NewRefresher creates a Refresher over the given store and generator.
func NewRefresher(st *store.Store, gen *Generator) *Refresher {
	return &Refresher{store: st, gen: gen}
}

// Options control one refresh pass.
type Options struct {
	// DryRun reports what would refresh without calling the model or
	// writing summaries.
	DryRun bool
	// EntityType restricts the pass to one entity type; empty refreshes
	// all three.
	EntityType string
	// Force refreshes every entity with source material, not just stale
	// ones.
	Force bool
	// Limit caps the number of entities processed across all types,
	// allocated proportionally. Zero means no cap.
	Limit int
}

func (o Options) wants(entityType string) bool {
	return o.EntityType == "" || o.EntityType == entityType
}

// TypeResult tallies refresh outcomes for one entity type.
type TypeResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

func (t *TypeResult) fail(msg string) {
	t.Failed++
	t.Errors = append(t.Errors, msg)
}

// Result is the outcome of one refresh pass.
type Result struct {
	Offerings   TypeResult `json:"offerings"`
	Instructors TypeResult `json:"instructors"`
	Courses     TypeResult `json:"courses"`
}

// Total returns the number of entities considered across all types.
func (r *Result) Total() int {
	return r.Offerings.Total + r.Instructors.Total + r.Courses.Total
}

// Successful returns the number of entities refreshed, or that would
// refresh in a dry run.
func (r *Result) Successful() int {
	return r.Offerings.Successful + r.Instructors.Successful + r.Courses.Successful
}

// Failed returns the number of entities that could not be refreshed.
func (r *Result) Failed() int {
	return r.Offerings.Failed + r.Instructors.Failed + r.Courses.Failed
}

// Run detects entities with stale summaries and regenerates them in
// dependency order: offerings first, then instructors, then courses built
// from the offering summaries. Per-entity failures are recorded and do not
// stop the pass.
func (r *Refresher) Run(ctx context.Context, opts Options) (*Result, error) {
	var (
		offerings, instructors, courses []store.StaleEntity
		err                             error
	)
	if opts.wants(store.EntityCourseOffering) {
		if offerings, err = r.store.StaleOfferings(ctx, opts.Force); err != nil {
			return nil, err
		}
	}
	if opts.wants(store.EntityInstructor) {
		if instructors, err = r.store.StaleInstructors(ctx, opts.Force); err != nil {
			return nil, err
		}
	}
	if opts.wants(store.EntityCourse) {
		if courses, err = r.store.StaleCourses(ctx, opts.Force); err != nil {
			return nil, err
		}
	}

	offerings, instructors, courses = applyLimit(offerings, instructors, courses, opts.Limit)

	slog.Info("summary: staleness detected",
		"offerings", len(offerings),
		"instructors", len(instructors),
		"courses", len(courses),
		"dry_run", opts.DryRun,
	)

	res := &Result{}
	res.Offerings = r.runStage(ctx, stage{
		entityType: store.EntityCourseOffering,
		promptName: "course_offering_summary",
		limits:     DefaultLimits(),
		fetch:      r.fetchOfferingContent,
	}, offerings, opts.DryRun)
	res.Instructors = r.runStage(ctx, stage{
		entityType: store.EntityInstructor,
		promptName: "instructor_summary",
		limits:     InstructorLimits(),
		fetch:      r.fetchInstructorContent,
	}, instructors, opts.DryRun)
	res.Courses = r.runStage(ctx, stage{
		entityType: store.EntityCourse,
		promptName: "course_summary",
		limits:     DefaultLimits(),
		fetch:      r.fetchCourseContent,
	}, courses, opts.DryRun)

	return res, nil
}

// stage describes one entity type's refresh: where its content comes from
// and how its summaries are validated and labeled.
type stage struct {
	entityType string
	promptName string
	limits     Limits
	// fetch returns the content blocks for one entity and the source
	// comment count, negative when the entity type does not track one.
	fetch func(ctx context.Context, id string) ([]string, int, error)
}

func (r *Refresher) runStage(ctx context.Context, st stage, stale []store.StaleEntity, dryRun bool) TypeResult {
	res := TypeResult{Total: len(stale)}

	for _, ent := range stale {
		blocks, commentCount, err := st.fetch(ctx, ent.EntityID)
		if err != nil {
			res.fail(fmt.Sprintf("%s %s: %v", st.entityType, ent.EntityID, err))
			continue
		}
		if len(blocks) == 0 {
			res.fail(fmt.Sprintf("no source content for %s %s", st.entityType, ent.EntityID))
			continue
		}

		if dryRun {
			slog.Info("summary: would refresh",
				"entity_type", st.entityType,
				"entity_id", ent.EntityID,
				"blocks", len(blocks),
			)
			res.Successful++
			continue
		}

		text, err := r.gen.Generate(ctx, st.entityType, blocks)
		if err != nil {
			res.fail(fmt.Sprintf("%s %s: %v", st.entityType, ent.EntityID, err))
			continue
		}
		if issues := Validate(text, st.limits); len(issues) > 0 {
			res.fail(fmt.Sprintf("invalid summary for %s %s: %s",
				st.entityType, ent.EntityID, strings.Join(issues, "; ")))
			continue
		}

		sum := store.AISummary{
			EntityType:      st.entityType,
			EntityID:        ent.EntityID,
			Summary:         text,
			Model:           r.gen.cfg.Model,
			Prompt:          st.promptName,
			SourceUpdatedAt: ent.LastSource,
		}
		if commentCount >= 0 {
			count := commentCount
			sum.SourceCommentCount = &count
		}
		if err := r.store.UpsertAISummary(ctx, sum); err != nil {
			res.fail(fmt.Sprintf("save %s summary %s: %v", st.entityType, ent.EntityID, err))
			continue
		}

		res.Successful++
		slog.Info("summary: refreshed",
			"entity_type", st.entityType,
			"entity_id", ent.EntityID,
			"chars", len(text),
		)
	}

	return res
}

func (r *Refresher) fetchOfferingContent(ctx context.Context, id string) ([]string, int, error) {
	comments, err := r.store.CommentsForOffering(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return comments, len(comments), nil
}

func (r *Refresher) fetchInstructorContent(ctx context.Context, id string) ([]string, int, error) {
	comments, err := r.store.CommentsForInstructor(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return InstructorBlocks(comments), len(comments), nil
}

func (r *Refresher) fetchCourseContent(ctx context.Context, id string) ([]string, int, error) {
	sums, err := r.store.OfferingSummariesForCourse(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return CourseBlocks(sums), -1, nil
}

// applyLimit caps the total number of entities processed, giving each type
// a share proportional to its portion of the stale pool with offerings
// allocated first. Every non-empty type keeps at least one slot while
// budget remains.
func applyLimit(offerings, instructors, courses []store.StaleEntity, limit int) ([]store.StaleEntity, []store.StaleEntity, []store.StaleEntity) {
	total := len(offerings) + len(instructors) + len(courses)
	if limit <= 0 || total <= limit {
		return offerings, instructors, courses
	}

	allocated := 0
	take := func(set []store.StaleEntity) []store.StaleEntity {
		if len(set) == 0 || allocated >= limit {
			return nil
		}
		share := len(set) * limit / total
		if share < 1 {
			share = 1
		}
		if remaining := limit - allocated; share > remaining {
			share = remaining
		}
		if share > len(set) {
			share = len(set)
		}
		allocated += share
		return set[:share]
	}

	offerings = take(offerings)
	instructors = take(instructors)
	courses = take(courses)
	return offerings, instructors, courses
}
