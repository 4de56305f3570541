package parser

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Comment extraction tests
// ---------------------------------------------------------------------------

func commentsRaw(body string) string {
	return "header text\n" + commentsAnchor + "\n" + body + "\nDEMOGRAPHICS\nrest of report"
}

func TestExtractCommentsSegmentation(t *testing.T) {
	raw := commentsRaw("Alpha comment. Beta continues.\nand wraps across lines.\nGamma starts new.")

	comments := extractComments(raw)
	want := []string{
		"Alpha comment. Beta continues. and wraps across lines.",
		"Gamma starts new.",
	}
	if len(comments) != len(want) {
		t.Fatalf("got %d comments %v, want %d", len(comments), comments, len(want))
	}
	for i := range want {
		if comments[i] != want[i] {
			t.Errorf("comments[%d] = %q, want %q", i, comments[i], want[i])
		}
	}
}

func TestExtractCommentsStripsHeadersAndLabel(t *testing.T) {
	raw := commentsRaw("Comments\nGreat course overall.\nStudent Report for Intro to Poetry 4/6\nreally enjoyed the seminar format.\nAnother student loved it.")

	comments := extractComments(raw)
	if len(comments) != 2 {
		t.Fatalf("got %d comments %v, want 2", len(comments), comments)
	}
	if comments[0] != "Great course overall. really enjoyed the seminar format." {
		t.Errorf("comments[0] = %q", comments[0])
	}
	if comments[1] != "Another student loved it." {
		t.Errorf("comments[1] = %q", comments[1])
	}
	for _, c := range comments {
		if strings.Contains(c, "Student Report for") {
			t.Errorf("page header leaked into comment: %q", c)
		}
	}
}

func TestExtractCommentsNoAnchor(t *testing.T) {
	comments := extractComments("raw text without the essay prompt")
	if len(comments) != 0 {
		t.Errorf("got %v, want no comments", comments)
	}
}

func TestExtractCommentsEmptySection(t *testing.T) {
	comments := extractComments(commentsRaw(""))
	if len(comments) != 0 {
		t.Errorf("got %v, want no comments", comments)
	}
}

func TestExtractCommentsNoDemographicsBoundary(t *testing.T) {
	raw := "intro\n" + commentsAnchor + "\nOnly comment here.\nwith a wrapped line."

	comments := extractComments(raw)
	if len(comments) != 1 {
		t.Fatalf("got %d comments %v, want 1", len(comments), comments)
	}
	if comments[0] != "Only comment here. with a wrapped line." {
		t.Errorf("comments[0] = %q", comments[0])
	}
}

// ---------------------------------------------------------------------------
// Demographics extraction tests
// ---------------------------------------------------------------------------

func TestExtractDemographics(t *testing.T) {
	cleaned := "course body text DEMOGRAPHICS What is the name of your school? " +
		"WCAS 120 65.6% McCormick 30 16.4% " +
		"Your Class Freshman 25 13.7% Sophomore 60 32.8% Junior 50 27.3% Senior 48 26.2% " +
		"What is your reason for taking the course? (mark all that apply) " +
		"Distribution requirement 80 43.7% Major/Minor requirement 60 32.8% " +
		"What was your Interest in this subject before taking the course? " +
		"1-Not interested at all 5 2.7% 2 10 5.5% 6-Extremely interested 40 21.9%"

	dists := extractDemographics(cleaned)
	if len(dists) != 4 {
		t.Fatalf("got %d distributions, want 4", len(dists))
	}

	school := dists[QuestionSchool]
	if school.Category != CategorySchoolName {
		t.Errorf("school category = %q", school.Category)
	}
	if school.Counts["WCAS"] != 120 || school.Counts["McCormick"] != 30 {
		t.Errorf("school counts = %v", school.Counts)
	}

	class := dists[QuestionClassYear]
	if class.Counts["Freshman"] != 25 || class.Counts["Senior"] != 48 {
		t.Errorf("class counts = %v", class.Counts)
	}

	reason := dists[QuestionReason]
	if reason.Counts["Distribution requirement"] != 80 || reason.Counts["Major/Minor requirement"] != 60 {
		t.Errorf("reason counts = %v", reason.Counts)
	}

	interest := dists[QuestionPriorInterest]
	if interest.Category != CategoryPriorInterest {
		t.Errorf("interest category = %q", interest.Category)
	}
	// Anchored endpoints are remapped to bare numeric keys.
	if interest.Counts["1"] != 5 || interest.Counts["2"] != 10 || interest.Counts["6"] != 40 {
		t.Errorf("interest counts = %v", interest.Counts)
	}
	if _, ok := interest.Counts["1-Not interested at all"]; ok {
		t.Error("anchored label leaked through as a key")
	}
}

func TestExtractDemographicsNoMarker(t *testing.T) {
	if dists := extractDemographics("text without the section marker"); dists != nil {
		t.Errorf("got %v, want nil", dists)
	}
}

func TestExtractDemographicsPartialLabels(t *testing.T) {
	cleaned := "DEMOGRAPHICS Your Class Junior 12 40.0%"

	dists := extractDemographics(cleaned)
	if len(dists) != 4 {
		t.Fatalf("got %d distributions, want all 4 categories present", len(dists))
	}
	if got := dists[QuestionClassYear].Counts["Junior"]; got != 12 {
		t.Errorf("Junior = %d, want 12", got)
	}
	if n := len(dists[QuestionSchool].Counts); n != 0 {
		t.Errorf("school counts = %d entries, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// Time survey extraction tests
// ---------------------------------------------------------------------------

func TestExtractTimeSurvey(t *testing.T) {
	cleaned := "TIME-SURVEY QUESTION Estimate the average number of hours per week you spent " +
		"on this course outside of class and lab time. " +
		"3 or fewer 10 5.5% 4 - 7 50 27.3% 8 - 11 60 32.8% 12 - 15 40 21.9% " +
		"16 - 19 15 8.2% 20 or more 8 4.4% " +
		"ESSAY QUESTIONS 20 or more 99 100.0%"

	dist, ok := extractTimeSurvey(cleaned)
	if !ok {
		t.Fatal("expected time survey to be found")
	}
	if dist.Category != CategoryTimeSurvey {
		t.Errorf("category = %q", dist.Category)
	}
	want := map[string]int{
		"3 or fewer": 10, "4 - 7": 50, "8 - 11": 60,
		"12 - 15": 40, "16 - 19": 15, "20 or more": 8,
	}
	for label, n := range want {
		if dist.Counts[label] != n {
			t.Errorf("counts[%q] = %d, want %d", label, dist.Counts[label], n)
		}
	}
	if dist.Counts["20 or more"] == 99 {
		t.Error("count read past the essay section boundary")
	}
}

func TestExtractTimeSurveyLowercaseBoundary(t *testing.T) {
	cleaned := "TIME-SURVEY QUESTION 3 or fewer 7 100.0% Essay Questions 3 or fewer 99 1.0%"

	dist, ok := extractTimeSurvey(cleaned)
	if !ok {
		t.Fatal("expected time survey to be found")
	}
	if dist.Counts["3 or fewer"] != 7 {
		t.Errorf("counts = %v, want 3 or fewer = 7", dist.Counts)
	}
}

func TestExtractTimeSurveyNoMarker(t *testing.T) {
	if _, ok := extractTimeSurvey("no marker here"); ok {
		t.Error("expected ok = false without the section marker")
	}
}
