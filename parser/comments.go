package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// commentsAnchor is the essay prompt that opens the comment section.
const commentsAnchor = "Please summarize your reaction to this course focusing on the aspects that were most important to you."

// pageHeaderPattern matches the per-page report header fragments that the
// text layer interleaves with comment text, e.g. "Student Report for ... 4/6".
var pageHeaderPattern = regexp.MustCompile(`(?s)Student Report for .*?\d+/\d+`)

// extractComments pulls student comments from the raw text between the
// essay prompt and the DEMOGRAPHICS section. Lines are grouped into
// comments heuristically: a line starting with an uppercase letter opens a
// new comment, anything else continues the current one. Wrapped
// continuation lines usually start lowercase; the occasional capitalized
// continuation splits a comment in two, which downstream consumers
// tolerate.
func extractComments(raw string) []string {
	start := strings.Index(raw, commentsAnchor)
	if start < 0 {
		return nil
	}
	start += len(commentsAnchor)

	section := raw[start:]
	if end := strings.Index(section, "DEMOGRAPHICS"); end >= 0 {
		section = section[:end]
	}
	section = strings.TrimSpace(section)
	section = strings.ReplaceAll(section, "Comments", "")
	section = pageHeaderPattern.ReplaceAllString(section, "")

	var lines []string
	for _, line := range strings.Split(section, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			lines = append(lines, s)
		}
	}

	var comments []string
	var current []string
	for _, line := range lines {
		first, _ := utf8.DecodeRuneInString(line)
		if unicode.IsUpper(first) && len(current) > 0 {
			comments = append(comments, strings.Join(current, " "))
			current = []string{line}
		} else {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		comments = append(comments, strings.Join(current, " "))
	}
	return comments
}

// demographicSets pairs each demographic question with the answer labels
// printed for it.
var demographicSets = []struct {
	question string
	category DistributionCategory
	labels   []string
}{
	{QuestionSchool, CategorySchoolName, schoolLabels},
	{QuestionClassYear, CategoryClassYear, classYearLabels},
	{QuestionReason, CategoryReasonForTaking, reasonLabels},
	{QuestionPriorInterest, CategoryPriorInterest, priorInterestLabels},
}

// extractDemographics reads the four demographic distributions from the
// cleaned text following the DEMOGRAPHICS marker. Each label is looked up
// as "<label> <count> <percent>%". Absent labels are simply omitted; an
// absent marker yields nil.
func extractDemographics(cleaned string) map[string]Distribution {
	start := strings.Index(cleaned, "DEMOGRAPHICS")
	if start < 0 {
		return nil
	}
	section := cleaned[start:]

	out := make(map[string]Distribution, len(demographicSets))
	for _, set := range demographicSets {
		counts := make(map[string]int)
		for _, label := range set.labels {
			n, ok := labeledCount(section, label)
			if !ok {
				continue
			}
			key := label
			if set.question == QuestionPriorInterest {
				key = priorInterestKey(label)
			}
			counts[key] = n
		}
		out[set.question] = Distribution{Category: set.category, Counts: counts}
	}
	return out
}

// priorInterestKey normalizes the anchored scale endpoints to their bare
// numeric keys so prior-interest counts line up with the other 1-6 scales.
func priorInterestKey(label string) string {
	switch label {
	case "1-Not interested at all":
		return "1"
	case "6-Extremely interested":
		return "6"
	}
	return label
}

// extractTimeSurvey reads the weekly-hours histogram from the cleaned text
// between the TIME-SURVEY QUESTION marker and the essay section.
func extractTimeSurvey(cleaned string) (Distribution, bool) {
	start := strings.Index(cleaned, "TIME-SURVEY QUESTION")
	if start < 0 {
		return Distribution{}, false
	}
	section := cleaned[start:]
	if end := strings.Index(section, "ESSAY QUESTIONS"); end >= 0 {
		section = section[:end]
	} else if end := strings.Index(section, "Essay Questions"); end >= 0 {
		section = section[:end]
	}

	counts := make(map[string]int)
	for _, label := range timeRangeLabels {
		if n, ok := labeledCount(section, label); ok {
			counts[label] = n
		}
	}
	return Distribution{Category: CategoryTimeSurvey, Counts: counts}, true
}

// labeledCount finds the first "<label> <count> <percent>%" row for a
// fixed answer label.
func labeledCount(text, label string) (int, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(label) + `\s+(\d+)\s+[\d.]+%`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
