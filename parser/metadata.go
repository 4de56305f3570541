package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Two header forms appear in the corpus. Form A wraps the course title and
// a comma-separated code list in parentheses; form B leads with a single
// colon-terminated code. Neither is anchored: boilerplate precedes the
// header on some reports.
var (
	courseReportPattern = regexp.MustCompile(`Student Report for (.*?)\((.*?)\)\s*\(([^)]+)\)`)
	courseCodePattern   = regexp.MustCompile(`Student Report for ([^:]+):\s*(.*?)\s*\(([^)]+)\)`)

	termPattern = regexp.MustCompile(`Course and Teacher Evaluations CTEC (Spring|Fall|Winter|Summer) (\d{4})`)

	audienceHeaderPattern = regexp.MustCompile(`(?i)^Courses?\s+Audience\s*:\s*$`)
	responseHeaderPattern = regexp.MustCompile(`(?i)^Responses?\s+Received\s*:\s*$`)
	bareIntegerPattern    = regexp.MustCompile(`^\s*(\d+)\s*$`)
)

// extractCourseInfo recovers course identity from the cleaned text. Both
// header forms are tried; when both match, the earlier occurrence wins so
// that embedded boilerplate resembling the other form cannot shadow the
// true header.
func extractCourseInfo(text string) (CourseInfo, error) {
	if text == "" {
		return CourseInfo{}, fmt.Errorf("%w: empty text for course info extraction", ErrParsingFailed)
	}

	locA := courseReportPattern.FindStringSubmatchIndex(text)
	locB := courseCodePattern.FindStringSubmatchIndex(text)
	switch {
	case locA == nil && locB == nil:
		return CourseInfo{}, fmt.Errorf("%w: could not match course info pattern", ErrParsingFailed)
	case locB == nil || (locA != nil && locA[0] <= locB[0]):
		return courseInfoFromReportForm(text, locA)
	default:
		return courseInfoFromCodeForm(text, locB)
	}
}

// courseInfoFromReportForm handles "Student Report for <title> (<codes>)
// (<instructor>)". The code list is comma-separated with colon-suffixed
// entries; the first entry is authoritative.
func courseInfoFromReportForm(text string, loc []int) (CourseInfo, error) {
	title := strings.TrimSpace(matchGroup(text, loc, 1))
	codesPart := strings.TrimSpace(matchGroup(text, loc, 2))
	instructor := strings.TrimSpace(matchGroup(text, loc, 3))

	var fullCode string
	for _, item := range strings.Split(codesPart, ",") {
		if before, _, ok := strings.Cut(item, ":"); ok {
			fullCode = strings.TrimSpace(before)
			break
		}
	}
	if fullCode == "" {
		return CourseInfo{}, fmt.Errorf("%w: no course code found in %q", ErrParsingFailed, codesPart)
	}

	code, section := splitSection(fullCode)
	return CourseInfo{
		Code:       code,
		Title:      title,
		Section:    section,
		Instructor: instructor,
	}, nil
}

// courseInfoFromCodeForm handles "Student Report for <code>: <title>
// (<instructor>)".
func courseInfoFromCodeForm(text string, loc []int) (CourseInfo, error) {
	code, section := splitSection(strings.TrimSpace(matchGroup(text, loc, 1)))
	return CourseInfo{
		Code:       code,
		Title:      strings.TrimSpace(matchGroup(text, loc, 2)),
		Section:    section,
		Instructor: strings.TrimSpace(matchGroup(text, loc, 3)),
	}, nil
}

// splitSection splits a full course code on its last underscore, e.g.
// "AFST_101-7_20" yields code "AFST_101-7" and section "20". The first
// underscore joins department and number ("ECON_201"), so a section exists
// only when a further underscore segment follows it.
func splitSection(fullCode string) (code, section string) {
	i := strings.LastIndex(fullCode, "_")
	if i < 0 || !strings.Contains(fullCode[:i], "_") {
		return fullCode, ""
	}
	return fullCode[:i], fullCode[i+1:]
}

// extractTerm recovers the quarter and year from the evaluation banner.
// Best-effort: reports missing the banner keep an unset term.
func extractTerm(text string) (quarter string, year int, ok bool) {
	m := termPattern.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], year, true
}

// extractAudienceResponse reads the survey header block from the raw text,
// where the original line structure still separates the header labels from
// their values. The block prints header lines first and the bare numbers
// several lines later, so numbers are assigned back to headers by header
// order. Best-effort: any missing piece leaves both values nil.
func extractAudienceResponse(raw string) (audience, responses *int) {
	lines := strings.Split(raw, "\n")

	audienceLine, responseLine := -1, -1
	for i, line := range lines {
		s := strings.TrimSpace(line)
		switch {
		case audienceHeaderPattern.MatchString(s):
			audienceLine = i
		case responseHeaderPattern.MatchString(s):
			responseLine = i
		}
	}
	if audienceLine < 0 || responseLine < 0 {
		return nil, nil
	}

	start := max(audienceLine, responseLine) + 1
	var numbers []int
	for i := start; i < len(lines) && i < start+10; i++ {
		m := bareIntegerPattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
		if len(numbers) >= 2 {
			break
		}
	}
	if len(numbers) < 2 {
		return nil, nil
	}

	if audienceLine < responseLine {
		return &numbers[0], &numbers[1]
	}
	return &numbers[1], &numbers[0]
}

// matchGroup returns capture group n of a FindStringSubmatchIndex result.
func matchGroup(text string, loc []int, n int) string {
	return text[loc[2*n]:loc[2*n+1]]
}
