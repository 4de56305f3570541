package parser

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Course info extraction tests
// ---------------------------------------------------------------------------

func TestExtractCourseInfoReportForm(t *testing.T) {
	text := "Student Report for Intro to African Studies (AFST_101-7_20: Sec 20, AFST_101-7_21: Sec 21) (Mary Pattillo)"

	info, err := extractCourseInfo(text)
	if err != nil {
		t.Fatalf("extractCourseInfo returned error: %v", err)
	}
	if info.Code != "AFST_101-7" {
		t.Errorf("Code = %q, want %q", info.Code, "AFST_101-7")
	}
	if info.Section != "20" {
		t.Errorf("Section = %q, want %q", info.Section, "20")
	}
	if info.Title != "Intro to African Studies" {
		t.Errorf("Title = %q, want %q", info.Title, "Intro to African Studies")
	}
	if info.Instructor != "Mary Pattillo" {
		t.Errorf("Instructor = %q, want %q", info.Instructor, "Mary Pattillo")
	}
}

func TestExtractCourseInfoCodeForm(t *testing.T) {
	text := "Student Report for ECON_310-1_61: Microeconomics (Ronald Braeutigam)"

	info, err := extractCourseInfo(text)
	if err != nil {
		t.Fatalf("extractCourseInfo returned error: %v", err)
	}
	if info.Code != "ECON_310-1" {
		t.Errorf("Code = %q, want %q", info.Code, "ECON_310-1")
	}
	if info.Section != "61" {
		t.Errorf("Section = %q, want %q", info.Section, "61")
	}
	if info.Title != "Microeconomics" {
		t.Errorf("Title = %q, want %q", info.Title, "Microeconomics")
	}
	if info.Instructor != "Ronald Braeutigam" {
		t.Errorf("Instructor = %q, want %q", info.Instructor, "Ronald Braeutigam")
	}
}

func TestExtractCourseInfoEarlierMatchWins(t *testing.T) {
	// A report-form header followed by later text that also happens to
	// satisfy the code form. The earlier match must win.
	text := "Student Report for Modern Poetry (ENG_313-0_20: Sec 20) (Harris Feinsod) " +
		"see also Student Report for ENG_314-0_20: Other Course (Someone Else)"

	info, err := extractCourseInfo(text)
	if err != nil {
		t.Fatalf("extractCourseInfo returned error: %v", err)
	}
	if info.Code != "ENG_313-0" {
		t.Errorf("Code = %q, want %q (earlier header must win)", info.Code, "ENG_313-0")
	}
	if info.Instructor != "Harris Feinsod" {
		t.Errorf("Instructor = %q, want %q", info.Instructor, "Harris Feinsod")
	}
}

func TestExtractCourseInfoNoMatch(t *testing.T) {
	_, err := extractCourseInfo("completely unrelated text with no header")
	if err == nil {
		t.Fatal("expected error for text without a course header")
	}
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("error does not wrap ErrParsingFailed: %v", err)
	}
}

func TestExtractCourseInfoEmptyText(t *testing.T) {
	_, err := extractCourseInfo("")
	if err == nil {
		t.Fatal("expected error for empty text")
	}
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("error does not wrap ErrParsingFailed: %v", err)
	}
}

func TestExtractCourseInfoIdempotent(t *testing.T) {
	text := "Student Report for Intro to African Studies (AFST_101-7_20: Sec 20) (Mary Pattillo)"

	first, err := extractCourseInfo(text)
	if err != nil {
		t.Fatalf("first extraction returned error: %v", err)
	}
	second, err := extractCourseInfo(text)
	if err != nil {
		t.Fatalf("second extraction returned error: %v", err)
	}
	if first != second {
		t.Errorf("repeated extraction differs: %+v vs %+v", first, second)
	}
}

// ---------------------------------------------------------------------------
// Section splitting tests
// ---------------------------------------------------------------------------

func TestSplitSection(t *testing.T) {
	tests := []struct {
		full        string
		wantCode    string
		wantSection string
	}{
		{"AFST_101-7_20", "AFST_101-7", "20"},
		{"ECON_201", "ECON_201", ""},
		{"MATH230-1", "MATH230-1", ""},
		{"ART_HIST_255-0_1", "ART_HIST_255-0", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.full, func(t *testing.T) {
			code, section := splitSection(tt.full)
			if code != tt.wantCode || section != tt.wantSection {
				t.Errorf("splitSection(%q) = (%q, %q), want (%q, %q)",
					tt.full, code, section, tt.wantCode, tt.wantSection)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Term extraction tests
// ---------------------------------------------------------------------------

func TestExtractTerm(t *testing.T) {
	quarter, year, ok := extractTerm("Course and Teacher Evaluations CTEC Spring 2023")
	if !ok {
		t.Fatal("expected term to be found")
	}
	if quarter != "Spring" {
		t.Errorf("quarter = %q, want %q", quarter, "Spring")
	}
	if year != 2023 {
		t.Errorf("year = %d, want %d", year, 2023)
	}
}

func TestExtractTermAbsent(t *testing.T) {
	quarter, year, ok := extractTerm("no evaluation banner in this text")
	if ok {
		t.Errorf("expected ok = false, got quarter=%q year=%d", quarter, year)
	}
}

// ---------------------------------------------------------------------------
// Audience/response extraction tests
// ---------------------------------------------------------------------------

func TestExtractAudienceResponse(t *testing.T) {
	raw := "Courses Audience :\nResponses Received :\nResponse Ratio :\nsome label\nother label\nmore\n217\n183\n84.3%\n"

	audience, responses := extractAudienceResponse(raw)
	if audience == nil || responses == nil {
		t.Fatalf("expected both values set, got audience=%v responses=%v", audience, responses)
	}
	if *audience != 217 {
		t.Errorf("audience = %d, want 217", *audience)
	}
	if *responses != 183 {
		t.Errorf("responses = %d, want 183", *responses)
	}
}

func TestExtractAudienceResponseHeaderOrderFlipped(t *testing.T) {
	raw := "Responses Received :\nCourses Audience :\n183\n217\n"

	audience, responses := extractAudienceResponse(raw)
	if audience == nil || responses == nil {
		t.Fatal("expected both values set")
	}
	if *responses != 183 {
		t.Errorf("responses = %d, want 183 (first number maps to earlier header)", *responses)
	}
	if *audience != 217 {
		t.Errorf("audience = %d, want 217", *audience)
	}
}

func TestExtractAudienceResponseMissingHeader(t *testing.T) {
	raw := "Courses Audience :\n217\n183\n"

	audience, responses := extractAudienceResponse(raw)
	if audience != nil || responses != nil {
		t.Errorf("expected both nil with a missing header, got audience=%v responses=%v",
			audience, responses)
	}
}

func TestExtractAudienceResponseTooFewNumbers(t *testing.T) {
	raw := "Courses Audience :\nResponses Received :\n217\n"

	audience, responses := extractAudienceResponse(raw)
	if audience != nil || responses != nil {
		t.Errorf("expected both nil with one number, got audience=%v responses=%v",
			audience, responses)
	}
}
