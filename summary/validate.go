package summary

import (
	"fmt"
	"strings"
)

// Limits bound acceptable summary lengths, in characters.
type Limits struct {
	MinChars int
	MaxChars int
}

// DefaultLimits applies to offering and course summaries.
func DefaultLimits() Limits { return Limits{MinChars: 100, MaxChars: 2000} }

// InstructorLimits applies to instructor teaching profiles, which draw on
// more source material but should stay tighter.
func InstructorLimits() Limits { return Limits{MinChars: 200, MaxChars: 1500} }

// hallucinationIndicators are phrases that signal the model drew on outside
// knowledge instead of the provided comments.
var hallucinationIndicators = []string{
	"based on my knowledge",
	"i recommend",
	"in my experience",
	"typically",
	"usually",
	"generally speaking",
}

// placeholderSummaries are completions that carry no content.
var placeholderSummaries = []string{
	"",
	"No summary available.",
	"Unable to generate summary.",
}

// Validate checks a generated summary against length bounds and content
// heuristics, returning every problem found. An empty result means the
// summary is acceptable.
func Validate(text string, limits Limits) []string {
	var issues []string

	if len(text) < limits.MinChars {
		issues = append(issues, fmt.Sprintf("summary too short (%d chars, minimum %d)", len(text), limits.MinChars))
	}
	if len(text) > limits.MaxChars {
		issues = append(issues, fmt.Sprintf("summary too long (%d chars, maximum %d)", len(text), limits.MaxChars))
	}

	lower := strings.ToLower(text)
	for _, phrase := range hallucinationIndicators {
		if strings.Contains(lower, phrase) {
			issues = append(issues, fmt.Sprintf("potential hallucination: %q", phrase))
		}
	}

	trimmed := strings.TrimSpace(text)
	for _, p := range placeholderSummaries {
		if trimmed == p {
			issues = append(issues, "empty or placeholder summary")
			break
		}
	}

	return issues
}
