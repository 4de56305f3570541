package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/calebgardner/ctecflow/store"
)

// fakeRefreshStore serves staleness and content from fixed maps and records
// upserted summaries.
type fakeRefreshStore struct {
	staleOfferings   []store.StaleEntity
	staleInstructors []store.StaleEntity
	staleCourses     []store.StaleEntity

	offeringComments   map[string][]string
	instructorComments map[string][]store.InstructorComment
	offeringSummaries  map[string][]store.OfferingSummary

	offeringCalls   []bool // force flags seen
	instructorCalls []bool
	courseCalls     []bool

	upserts    []store.AISummary
	failUpsert bool
}

func (f *fakeRefreshStore) StaleOfferings(ctx context.Context, force bool) ([]store.StaleEntity, error) {
	f.offeringCalls = append(f.offeringCalls, force)
	return f.staleOfferings, nil
}

func (f *fakeRefreshStore) StaleInstructors(ctx context.Context, force bool) ([]store.StaleEntity, error) {
	f.instructorCalls = append(f.instructorCalls, force)
	return f.staleInstructors, nil
}

func (f *fakeRefreshStore) StaleCourses(ctx context.Context, force bool) ([]store.StaleEntity, error) {
	f.courseCalls = append(f.courseCalls, force)
	return f.staleCourses, nil
}

func (f *fakeRefreshStore) CommentsForOffering(ctx context.Context, id string) ([]string, error) {
	return f.offeringComments[id], nil
}

func (f *fakeRefreshStore) CommentsForInstructor(ctx context.Context, id string) ([]store.InstructorComment, error) {
	return f.instructorComments[id], nil
}

func (f *fakeRefreshStore) OfferingSummariesForCourse(ctx context.Context, id string) ([]store.OfferingSummary, error) {
	return f.offeringSummaries[id], nil
}

func (f *fakeRefreshStore) UpsertAISummary(ctx context.Context, sum store.AISummary) error {
	if f.failUpsert {
		return errors.New("connection reset")
	}
	f.upserts = append(f.upserts, sum)
	return nil
}

func newTestRefresher(fs *fakeRefreshStore, fp *fakeChatProvider) *Refresher {
	return &Refresher{store: fs, gen: NewGenerator(fp, Config{BaseDelay: time.Millisecond})}
}

func fullyStaleStore() *fakeRefreshStore {
	return &fakeRefreshStore{
		staleOfferings: []store.StaleEntity{
			{EntityID: "off-1", SourceCount: 2, LastSource: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)},
		},
		staleInstructors: []store.StaleEntity{
			{EntityID: "ins-1", SourceCount: 3, LastSource: time.Date(2023, 4, 2, 12, 0, 0, 0, time.UTC)},
		},
		staleCourses: []store.StaleEntity{
			{EntityID: "crs-1", SourceCount: 1, LastSource: time.Date(2023, 4, 3, 12, 0, 0, 0, time.UTC)},
		},
		offeringComments: map[string][]string{
			"off-1": {"Great lectures overall.", "Problem sets were fair."},
		},
		instructorComments: map[string][]store.InstructorComment{
			"ins-1": {
				{Content: "Very clear explanations.", CourseCode: "CS_101", CourseTitle: "Intro to Programming", Quarter: "Fall", Year: 2022},
				{Content: "Grading felt strict.", CourseCode: "CS_101", CourseTitle: "Intro to Programming", Quarter: "Fall", Year: 2022},
				{Content: "Always available after class.", CourseCode: "CS_212", CourseTitle: "Discrete Math", Quarter: "Winter", Year: 2023},
			},
		},
		offeringSummaries: map[string][]store.OfferingSummary{
			"crs-1": {
				{Quarter: "Fall", Year: 2022, Instructor: "Ada Lovelace", Summary: validSummary},
			},
		},
	}
}

func TestRunRefreshesInDependencyOrder(t *testing.T) {
	fs := fullyStaleStore()
	fp := &fakeChatProvider{reply: validSummary}
	r := newTestRefresher(fs, fp)

	res, err := r.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Successful() != 3 || res.Failed() != 0 {
		t.Fatalf("expected 3 successful, got %d successful / %d failed: %+v", res.Successful(), res.Failed(), res)
	}
	if len(fs.upserts) != 3 {
		t.Fatalf("expected 3 upserts, got %d", len(fs.upserts))
	}

	off, ins, crs := fs.upserts[0], fs.upserts[1], fs.upserts[2]

	if off.EntityType != store.EntityCourseOffering || off.EntityID != "off-1" {
		t.Errorf("expected offering summary first, got %s %s", off.EntityType, off.EntityID)
	}
	if off.Prompt != "course_offering_summary" || off.Model != "gpt-4o-mini" {
		t.Errorf("unexpected offering labels: prompt %q model %q", off.Prompt, off.Model)
	}
	if !off.SourceUpdatedAt.Equal(time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected offering watermark carried, got %v", off.SourceUpdatedAt)
	}
	if off.SourceCommentCount == nil || *off.SourceCommentCount != 2 {
		t.Errorf("expected offering comment count 2, got %v", off.SourceCommentCount)
	}

	if ins.EntityType != store.EntityInstructor || ins.Prompt != "instructor_summary" {
		t.Errorf("expected instructor summary second, got %s %s", ins.EntityType, ins.Prompt)
	}
	if ins.SourceCommentCount == nil || *ins.SourceCommentCount != 3 {
		t.Errorf("expected instructor comment count 3, got %v", ins.SourceCommentCount)
	}

	if crs.EntityType != store.EntityCourse || crs.Prompt != "course_summary" {
		t.Errorf("expected course summary last, got %s %s", crs.EntityType, crs.Prompt)
	}
	if crs.SourceCommentCount != nil {
		t.Errorf("expected no comment count on course roll-up, got %v", *crs.SourceCommentCount)
	}
	if !crs.SourceUpdatedAt.Equal(time.Date(2023, 4, 3, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected course watermark carried, got %v", crs.SourceUpdatedAt)
	}

	if len(fp.requests) != 3 {
		t.Fatalf("expected 3 generations, got %d", len(fp.requests))
	}
	if !strings.Contains(fp.requests[0].Messages[1].Content, "Great lectures overall.\n\n---\n\nProblem sets were fair.") {
		t.Error("expected offering comments joined with separators in the prompt")
	}
	if !strings.Contains(fp.requests[1].Messages[1].Content, "=== CS_101 - Intro to Programming (Fall 2022) ===") {
		t.Error("expected instructor prompt grouped under offering headers")
	}
	if !strings.Contains(fp.requests[2].Messages[1].Content, "Fall 2022, Ada Lovelace:") {
		t.Error("expected course prompt built from offering summaries with term context")
	}
}

func TestRunDryRun(t *testing.T) {
	fs := fullyStaleStore()
	fp := &fakeChatProvider{reply: validSummary}
	r := newTestRefresher(fs, fp)

	res, err := r.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Successful() != 3 {
		t.Errorf("expected 3 would-refresh entities, got %d", res.Successful())
	}
	if len(fp.requests) != 0 {
		t.Errorf("expected no model calls in a dry run, got %d", len(fp.requests))
	}
	if len(fs.upserts) != 0 {
		t.Errorf("expected no writes in a dry run, got %d", len(fs.upserts))
	}
}

func TestRunEntityTypeFilter(t *testing.T) {
	fs := fullyStaleStore()
	fp := &fakeChatProvider{reply: validSummary}
	r := newTestRefresher(fs, fp)

	res, err := r.Run(context.Background(), Options{EntityType: store.EntityInstructor})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fs.offeringCalls) != 0 || len(fs.courseCalls) != 0 {
		t.Error("expected only the instructor staleness query to run")
	}
	if res.Instructors.Total != 1 || res.Offerings.Total != 0 || res.Courses.Total != 0 {
		t.Errorf("expected instructors only, got %+v", res)
	}
	if len(fs.upserts) != 1 || fs.upserts[0].EntityType != store.EntityInstructor {
		t.Errorf("expected one instructor upsert, got %+v", fs.upserts)
	}
}

func TestRunForce(t *testing.T) {
	fs := fullyStaleStore()
	fp := &fakeChatProvider{reply: validSummary}
	r := newTestRefresher(fs, fp)

	if _, err := r.Run(context.Background(), Options{Force: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, calls := range [][]bool{fs.offeringCalls, fs.instructorCalls, fs.courseCalls} {
		if len(calls) != 1 || !calls[0] {
			t.Errorf("expected force passed to staleness queries, got %v", calls)
		}
	}
}

func TestRunRecordsFailuresAndContinues(t *testing.T) {
	t.Run("missing source content", func(t *testing.T) {
		fs := &fakeRefreshStore{
			staleOfferings: []store.StaleEntity{
				{EntityID: "off-empty", SourceCount: 0},
				{EntityID: "off-ok", SourceCount: 1, LastSource: time.Now()},
			},
			offeringComments: map[string][]string{
				"off-ok": {"One solid comment about the course."},
			},
		}
		fp := &fakeChatProvider{reply: validSummary}
		r := newTestRefresher(fs, fp)

		res, err := r.Run(context.Background(), Options{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Offerings.Successful != 1 || res.Offerings.Failed != 1 {
			t.Fatalf("expected 1 success and 1 failure, got %+v", res.Offerings)
		}
		if len(res.Offerings.Errors) != 1 || !strings.Contains(res.Offerings.Errors[0], "no source content") {
			t.Errorf("expected a no-source error, got %v", res.Offerings.Errors)
		}
		if len(fs.upserts) != 1 || fs.upserts[0].EntityID != "off-ok" {
			t.Errorf("expected only the healthy offering written, got %+v", fs.upserts)
		}
	})

	t.Run("validation rejects bad completions", func(t *testing.T) {
		fs := &fakeRefreshStore{
			staleOfferings:   []store.StaleEntity{{EntityID: "off-1", SourceCount: 1}},
			offeringComments: map[string][]string{"off-1": {"A comment."}},
		}
		fp := &fakeChatProvider{script: []chatReply{{content: "Too short."}}}
		r := newTestRefresher(fs, fp)

		res, err := r.Run(context.Background(), Options{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Offerings.Failed != 1 {
			t.Fatalf("expected validation failure, got %+v", res.Offerings)
		}
		if !strings.Contains(res.Offerings.Errors[0], "invalid summary") {
			t.Errorf("unexpected error: %v", res.Offerings.Errors)
		}
		if len(fs.upserts) != 0 {
			t.Errorf("expected rejected summary not written, got %+v", fs.upserts)
		}
	})

	t.Run("generation errors are recorded", func(t *testing.T) {
		fs := &fakeRefreshStore{
			staleOfferings:   []store.StaleEntity{{EntityID: "off-1", SourceCount: 1}},
			offeringComments: map[string][]string{"off-1": {"A comment."}},
		}
		fp := &fakeChatProvider{script: []chatReply{{err: errors.New("boom")}}}
		r := newTestRefresher(fs, fp)

		res, err := r.Run(context.Background(), Options{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Offerings.Failed != 1 || !strings.Contains(res.Offerings.Errors[0], "boom") {
			t.Errorf("expected generation error recorded, got %+v", res.Offerings)
		}
	})

	t.Run("save failures are recorded", func(t *testing.T) {
		fs := &fakeRefreshStore{
			staleOfferings:   []store.StaleEntity{{EntityID: "off-1", SourceCount: 1}},
			offeringComments: map[string][]string{"off-1": {"A comment."}},
			failUpsert:       true,
		}
		fp := &fakeChatProvider{reply: validSummary}
		r := newTestRefresher(fs, fp)

		res, err := r.Run(context.Background(), Options{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Offerings.Failed != 1 || !strings.Contains(res.Offerings.Errors[0], "save course_offering summary") {
			t.Errorf("expected save error recorded, got %+v", res.Offerings)
		}
	})
}

func makeStale(n int) []store.StaleEntity {
	out := make([]store.StaleEntity, n)
	for i := range out {
		out[i] = store.StaleEntity{EntityID: string(rune('a' + i))}
	}
	return out
}

func TestApplyLimit(t *testing.T) {
	tests := []struct {
		name                string
		offerings           int
		instructors         int
		courses             int
		limit               int
		wantOff,
		wantIns, wantCrs int
	}{
		{name: "zero limit keeps everything", offerings: 5, instructors: 3, courses: 2, limit: 0, wantOff: 5, wantIns: 3, wantCrs: 2},
		{name: "limit above total keeps everything", offerings: 2, instructors: 2, courses: 2, limit: 10, wantOff: 2, wantIns: 2, wantCrs: 2},
		{name: "proportional allocation", offerings: 6, instructors: 3, courses: 1, limit: 5, wantOff: 3, wantIns: 1, wantCrs: 1},
		{name: "single dominant type", offerings: 10, instructors: 0, courses: 0, limit: 4, wantOff: 4, wantIns: 0, wantCrs: 0},
		{name: "small types keep a slot", offerings: 1, instructors: 1, courses: 8, limit: 3, wantOff: 1, wantIns: 1, wantCrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, ins, crs := applyLimit(makeStale(tt.offerings), makeStale(tt.instructors), makeStale(tt.courses), tt.limit)
			if len(off) != tt.wantOff || len(ins) != tt.wantIns || len(crs) != tt.wantCrs {
				t.Errorf("got %d/%d/%d, want %d/%d/%d",
					len(off), len(ins), len(crs), tt.wantOff, tt.wantIns, tt.wantCrs)
			}
		})
	}
}
