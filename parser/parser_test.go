package parser

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTextReader struct {
	pages []string
	err   error
}

func (f fakeTextReader) ReadPages(path string) ([]string, error) {
	return f.pages, f.err
}

type fakeRenderer struct {
	pageCount int
	err       error
}

func (f fakeRenderer) RenderPages(path string, dpi int) ([]image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]image.Image, f.pageCount)
	for i := range pages {
		pages[i] = image.NewRGBA(image.Rect(0, 0, 4, 4))
	}
	return pages, nil
}

type fakeOCR struct {
	texts []string
	calls int
	err   error
}

func (f *fakeOCR) Recognize(img image.Image) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	defer func() { f.calls++ }()
	if f.calls < len(f.texts) {
		return f.texts[f.calls], nil
	}
	return "", nil
}

func touchPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// reportTextPages builds the text-layer pages of a well-formed report.
func reportTextPages() []string {
	page1 := "Student Report for Intro to African Studies (AFST_101-7_20: Sec 20) (Mary Pattillo)\n" +
		"Course and Teacher Evaluations CTEC Spring 2023\n" +
		"Courses Audience :\nResponses Received :\nResponse Ratio :\n217\n183\n84.3%"
	page4 := commentsAnchor + "\n" +
		"Comments\n" +
		"Great course, learned a lot.\n" +
		"would take it again in a heartbeat.\n" +
		"Challenging but fair.\n" +
		"DEMOGRAPHICS What is the name of your school? WCAS 120 65.6% " +
		"Your Class Senior 48 26.2% " +
		"What is your reason for taking the course? (mark all that apply) Distribution requirement 80 43.7% " +
		"What was your Interest in this subject before taking the course? 2 10 5.5% " +
		"TIME-SURVEY QUESTION 3 or fewer 10 5.5% 20 or more 8 4.4% ESSAY QUESTIONS"
	return []string{page1, "", "", page4}
}

// ---------------------------------------------------------------------------
// End-to-end Parse tests
// ---------------------------------------------------------------------------

func TestParseFullDocument(t *testing.T) {
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: reportTextPages()}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{texts: []string{ratingOCRText()}}),
	)

	res, err := p.Parse(context.Background(), touchPDF(t))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	info := res.CourseInfo
	if info.Code != "AFST_101-7" || info.Section != "20" {
		t.Errorf("code/section = %q/%q", info.Code, info.Section)
	}
	if info.Title != "Intro to African Studies" {
		t.Errorf("Title = %q", info.Title)
	}
	if info.Instructor != "Mary Pattillo" {
		t.Errorf("Instructor = %q", info.Instructor)
	}
	if info.Quarter != "Spring" || info.Year != 2023 {
		t.Errorf("term = %q %d, want Spring 2023", info.Quarter, info.Year)
	}
	if info.AudienceSize == nil || *info.AudienceSize != 217 {
		t.Errorf("AudienceSize = %v, want 217", info.AudienceSize)
	}
	if info.ResponseCount == nil || *info.ResponseCount != 183 {
		t.Errorf("ResponseCount = %v, want 183", info.ResponseCount)
	}

	wantComments := []string{
		"Great course, learned a lot. would take it again in a heartbeat.",
		"Challenging but fair.",
	}
	if len(res.Comments) != len(wantComments) {
		t.Fatalf("comments = %v, want %v", res.Comments, wantComments)
	}
	for i := range wantComments {
		if res.Comments[i] != wantComments[i] {
			t.Errorf("comments[%d] = %q, want %q", i, res.Comments[i], wantComments[i])
		}
	}

	// Five ratings, four demographics, one time survey.
	if len(res.Distributions) != 10 {
		t.Errorf("got %d distributions, want 10", len(res.Distributions))
	}
	for _, question := range LikertQuestions {
		dist, ok := res.Distributions[question]
		if !ok {
			t.Errorf("missing rating distribution %q", question)
			continue
		}
		if sumCounts(dist.Counts) != 85 {
			t.Errorf("%q sum = %d, want 85", question, sumCounts(dist.Counts))
		}
	}
	if got := res.Distributions[QuestionSchool].Counts["WCAS"]; got != 120 {
		t.Errorf("WCAS = %d, want 120", got)
	}
	if got := res.Distributions[QuestionTimeSpent].Counts["20 or more"]; got != 8 {
		t.Errorf("20 or more = %d, want 8", got)
	}
}

func TestParseMissingFile(t *testing.T) {
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: reportTextPages()}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{}),
	)

	_, err := p.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("error does not wrap ErrParsingFailed: %v", err)
	}
}

func TestParseNoExtractableText(t *testing.T) {
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: []string{"", "", ""}}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{}),
	)

	_, err := p.Parse(context.Background(), touchPDF(t))
	if err == nil {
		t.Fatal("expected error for a document with no text layer")
	}
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("error does not wrap ErrParsingFailed: %v", err)
	}
	if !strings.Contains(err.Error(), "no text extracted") {
		t.Errorf("error = %v", err)
	}
}

func TestParseMissingCourseHeader(t *testing.T) {
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: []string{"some text without any recognizable header"}}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{}),
	)

	_, err := p.Parse(context.Background(), touchPDF(t))
	if err == nil {
		t.Fatal("expected error for missing course header")
	}
	if !strings.Contains(err.Error(), "course info") {
		t.Errorf("error = %v", err)
	}
}

func TestParseMissingTermNonFatal(t *testing.T) {
	pages := []string{"Student Report for Microeconomics (ECON_310-1_61: Sec 61) (Ronald Braeutigam)"}
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: pages}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{texts: []string{ratingOCRText()}}),
	)

	res, err := p.Parse(context.Background(), touchPDF(t))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if res.CourseInfo.Quarter != "" || res.CourseInfo.Year != 0 {
		t.Errorf("term = %q %d, want unset", res.CourseInfo.Quarter, res.CourseInfo.Year)
	}
}

func TestParseOCRFailureFatalByDefault(t *testing.T) {
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: reportTextPages()}),
		WithPageRenderer(fakeRenderer{pageCount: 2}),
		WithOCREngine(&fakeOCR{}),
	)

	_, err := p.Parse(context.Background(), touchPDF(t))
	if err == nil {
		t.Fatal("expected error for a 2-page document")
	}
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("error does not wrap ErrParsingFailed: %v", err)
	}
	if !strings.Contains(err.Error(), "fewer than 3 pages") {
		t.Errorf("error = %v", err)
	}
}

func TestParseContinueOnOCRErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContinueOnOCRErrors = true
	p := New(cfg,
		WithTextReader(fakeTextReader{pages: reportTextPages()}),
		WithPageRenderer(fakeRenderer{err: errors.New("mupdf exploded")}),
		WithOCREngine(&fakeOCR{}),
		WithLogger(quietLogger()),
	)

	res, err := p.Parse(context.Background(), touchPDF(t))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	for _, question := range LikertQuestions {
		if _, ok := res.Distributions[question]; ok {
			t.Errorf("unexpected rating distribution %q after OCR failure", question)
		}
	}
	// Demographics and time survey still come from the text layer.
	if _, ok := res.Distributions[QuestionSchool]; !ok {
		t.Error("missing school distribution")
	}
	if _, ok := res.Distributions[QuestionTimeSpent]; !ok {
		t.Error("missing time survey distribution")
	}
}

func TestParseOCRValidationFailureListsQuestions(t *testing.T) {
	badOCR := "1. Provide an overall rating of the instruction\n" +
		"1-Very Low (1)\n2 (2)\n3 (3)\nTotal (99)\n" +
		"2. Provide an overall rating of the course\nmore text"
	p := New(DefaultConfig(),
		WithTextReader(fakeTextReader{pages: reportTextPages()}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{texts: []string{badOCR}}),
	)

	_, err := p.Parse(context.Background(), touchPDF(t))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "ocr validation failed") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), QuestionInstructionRating) {
		t.Errorf("error does not name the failing question: %v", err)
	}
}

func TestParseExtractionFlagsOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExtractComments = false
	cfg.ExtractDemographics = false
	cfg.ExtractTimeSurvey = false
	p := New(cfg,
		WithTextReader(fakeTextReader{pages: reportTextPages()}),
		WithPageRenderer(fakeRenderer{pageCount: 4}),
		WithOCREngine(&fakeOCR{texts: []string{ratingOCRText()}}),
	)

	res, err := p.Parse(context.Background(), touchPDF(t))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(res.Comments) != 0 {
		t.Errorf("comments = %v, want none", res.Comments)
	}
	if len(res.Distributions) != len(LikertQuestions) {
		t.Errorf("got %d distributions, want only the %d ratings",
			len(res.Distributions), len(LikertQuestions))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OCRResolutionDPI != 300 {
		t.Errorf("OCRResolutionDPI = %d, want 300", cfg.OCRResolutionDPI)
	}
	if cfg.OCRTimeoutSeconds != 30 {
		t.Errorf("OCRTimeoutSeconds = %d, want 30", cfg.OCRTimeoutSeconds)
	}
	if !cfg.ValidateOCRTotals {
		t.Error("expected ValidateOCRTotals = true")
	}
	if cfg.ContinueOnOCRErrors {
		t.Error("expected ContinueOnOCRErrors = false")
	}
	if !cfg.ExtractComments || !cfg.ExtractDemographics || !cfg.ExtractTimeSurvey {
		t.Error("expected all extraction flags enabled")
	}
	if cfg.Debug {
		t.Error("expected Debug = false")
	}
}

// ---------------------------------------------------------------------------
// Survey question table tests
// ---------------------------------------------------------------------------

func TestSurveyQuestions(t *testing.T) {
	qs := SurveyQuestions()
	if len(qs) != 10 {
		t.Fatalf("got %d questions, want 10", len(qs))
	}

	for i, q := range qs[:5] {
		if len(q.Options) != 6 {
			t.Errorf("question %d has %d options, want 6", i+1, len(q.Options))
			continue
		}
		for j, opt := range q.Options {
			if opt.NumericValue == nil || *opt.NumericValue != j+1 {
				t.Errorf("question %d option %d numeric value = %v", i+1, j, opt.NumericValue)
			}
		}
	}

	last := qs[len(qs)-1]
	if last.Text != QuestionTimeSpent {
		t.Errorf("last question = %q, want time survey", last.Text)
	}
	if len(last.Options) != 6 {
		t.Fatalf("time survey has %d options, want 6", len(last.Options))
	}
	open := last.Options[len(last.Options)-1]
	if open.Label != "20 or more" || !open.OpenEndedMax {
		t.Errorf("final bucket = %+v, want open-ended 20 or more", open)
	}

	// Prior interest shares the 1-6 numeric scale under bare labels, so its
	// seeded options line up with the normalized demographic keys.
	interest := qs[8]
	if interest.Text != QuestionPriorInterest {
		t.Fatalf("question 9 = %q, want prior interest", interest.Text)
	}
	if len(interest.Options) != 6 {
		t.Fatalf("prior interest has %d options, want 6", len(interest.Options))
	}
	for j, opt := range interest.Options {
		if opt.Label != strconv.Itoa(j+1) {
			t.Errorf("prior interest option %d label = %q", j, opt.Label)
		}
		if opt.NumericValue == nil || *opt.NumericValue != j+1 {
			t.Errorf("prior interest option %d numeric value = %v", j, opt.NumericValue)
		}
	}

	// The remaining demographic questions carry label-only options.
	demographicCounts := map[string]int{
		QuestionSchool:    10,
		QuestionClassYear: 7,
		QuestionReason:    6,
	}
	for _, q := range qs[5:8] {
		want := demographicCounts[q.Text]
		if len(q.Options) != want {
			t.Errorf("%q has %d options, want %d", q.Text, len(q.Options), want)
			continue
		}
		for _, opt := range q.Options {
			if opt.NumericValue != nil || opt.MinValue != nil || opt.MaxValue != nil {
				t.Errorf("%q option %q carries numeric bounds", q.Text, opt.Label)
			}
		}
	}
}
