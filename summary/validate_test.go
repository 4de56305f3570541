package summary

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		limits     Limits
		wantIssues []string
	}{
		{
			name:   "acceptable summary",
			text:   validSummary,
			limits: DefaultLimits(),
		},
		{
			name:       "too short",
			text:       "Great class.",
			limits:     DefaultLimits(),
			wantIssues: []string{"too short"},
		},
		{
			name:       "too long",
			text:       strings.Repeat("Lectures were thorough and fair. ", 70),
			limits:     DefaultLimits(),
			wantIssues: []string{"too long"},
		},
		{
			name:       "hallucination phrase",
			text:       validSummary + " Typically, students in courses like this enjoy the workload.",
			limits:     DefaultLimits(),
			wantIssues: []string{`potential hallucination: "typically"`},
		},
		{
			name:       "placeholder",
			text:       "No summary available.",
			limits:     DefaultLimits(),
			wantIssues: []string{"too short", "empty or placeholder summary"},
		},
		{
			name:       "multiple issues",
			text:       "I recommend it. Usually fine.",
			limits:     DefaultLimits(),
			wantIssues: []string{"too short", `"i recommend"`, `"usually"`},
		},
		{
			name:       "instructor limits are stricter",
			text:       strings.Repeat("x", 150),
			limits:     InstructorLimits(),
			wantIssues: []string{"too short"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := Validate(tt.text, tt.limits)

			if len(tt.wantIssues) == 0 {
				if len(issues) != 0 {
					t.Fatalf("expected no issues, got %v", issues)
				}
				return
			}

			if len(issues) != len(tt.wantIssues) {
				t.Fatalf("expected %d issues, got %d: %v", len(tt.wantIssues), len(issues), issues)
			}
			for i, want := range tt.wantIssues {
				if !strings.Contains(issues[i], want) {
					t.Errorf("issue %d: expected %q in %q", i, want, issues[i])
				}
			}
		})
	}
}

func TestLimits(t *testing.T) {
	if l := DefaultLimits(); l.MinChars != 100 || l.MaxChars != 2000 {
		t.Errorf("unexpected default limits: %+v", l)
	}
	if l := InstructorLimits(); l.MinChars != 200 || l.MaxChars != 1500 {
		t.Errorf("unexpected instructor limits: %+v", l)
	}
}
