package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// minDescChars is the shortest text a structured description node must
// carry to be trusted over the header-stripped block text.
const minDescChars = 50

var (
	// courseHeaderRe matches headers like "ART HIST 211-0 Art and Ideas
	// (1 Unit)" anywhere in a block's text. The department part may use
	// spaces or underscores.
	courseHeaderRe = regexp.MustCompile(`\b([A-Z_]{2,}(?:\s+[A-Z&_]+)*)\s+(\d{3}-(?:\d+|[A-Z]+))\s+(.+)$`)

	// courseScanRe decides whether a text block mentions a course header
	// at all.
	courseScanRe = regexp.MustCompile(`\b[A-Z_]{2,}(?:\s+[A-Z&_]+)*\s+\d{3}-(?:\d+|[A-Z]+)\b`)

	// unitSplitRe separates "Title (1 Unit) rest" into title and rest.
	unitSplitRe = regexp.MustCompile(`^(.*?)\s*\((\d+(?:\.\d+)?(?:-\d+(?:\.\d+)?)?)\s+Units?\)\s*(.*)$`)

	prereqRe = regexp.MustCompile(`(?i)\bprereq(?:uisite)?s?:\s*(.+)$`)

	courseCodeRe = regexp.MustCompile(`^[A-Z_]+_\d{3}-[A-Z0-9]+$`)
)

// requirementKeywords are the distribution and foundational requirement
// labels as they appear in course blocks. A few are truncated exports;
// substring matching still hits the full phrase on the page.
var requirementKeywords = []string{
	"Advanced Expression",
	"Global Perspectives on Power, Justice, and Equity",
	"U.S. Perspectives on Power, Justice, and Equity",
	"Empirical and Deductive Reasoning Foundational Dis",
	"Formal Studies Distro Area",
	"Literature Fine Arts Distro Area",
	"Literature and Arts Foundational Discipline",
	"Ethical and Evaluative Thinking Foundational Disci",
	"Ethics Values Distro Area",
	"Natural Sciences Distro Area",
	"Natural Sciences Foundational Discipline",
	"Social Behavioral Sciences Distro Area",
	"Social and Behavioral Science Foundational Discipl",
	"Historical Studies Distro Area",
	"Historical Studies Foundational Discipline",
	"Interdisciplinary Distro",
}

// Courses fetches one department page and parses every course on it. A page
// with no recognizable courses yields an empty slice, not an error.
func (s *Scraper) Courses(ctx context.Context, dept Department) ([]Course, error) {
	page, err := s.fetch(ctx, dept.URL)
	if err != nil {
		return nil, err
	}
	pageURL, err := url.Parse(dept.URL)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse department URL %q: %w", dept.URL, err)
	}

	courses, err := parseDepartmentPage(page, pageURL)
	if err != nil {
		return nil, err
	}
	slog.Debug("catalog: parsed department page", "dept", dept.Code, "courses", len(courses))
	return courses, nil
}

// parseDepartmentPage tries the structured courseblock markup first, then a
// scan for block elements that read like course headers, then readability
// extraction over the whole page for nonstandard layouts.
func parseDepartmentPage(page string, pageURL *url.URL) ([]Course, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse department page: %w", err)
	}

	var blocks []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && hasClassToken(n, "courseblock") {
			blocks = append(blocks, n)
		}
	})
	if len(blocks) == 0 {
		blocks = scanCourseNodes(root)
	}

	seen := make(map[string]bool)
	var courses []Course
	for _, b := range blocks {
		c, ok := parseCourseBlock(b)
		if !ok || seen[c.Code] {
			continue
		}
		seen[c.Code] = true
		courses = append(courses, c)
	}

	if len(courses) == 0 {
		return parseReadableText(page, pageURL)
	}
	return courses, nil
}

// blockTags are the elements considered when scanning for course blocks
// outside the standard markup.
var blockTags = map[string]bool{
	"div": true, "p": true, "li": true, "td": true,
	"section": true, "article": true,
}

// scanCourseNodes collects the deepest block elements whose text mentions a
// course header. Taking the deepest match keeps enclosing containers from
// shadowing the per-course blocks inside them.
func scanCourseNodes(root *html.Node) []*html.Node {
	var nodes []*html.Node
	var visit func(n *html.Node) bool
	visit = func(n *html.Node) bool {
		claimed := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				claimed = true
			}
		}
		if claimed {
			return true
		}
		if n.Type == html.ElementNode && blockTags[n.Data] &&
			courseScanRe.MatchString(collapseSpace(nodeText(n))) {
			nodes = append(nodes, n)
			return true
		}
		return false
	}
	visit(root)
	return nodes
}

// parseCourseBlock extracts one course from a block node.
func parseCourseBlock(n *html.Node) (Course, bool) {
	blockText := collapseSpace(nodeText(n))

	headerSource := blockText
	if t := findClassToken(n, "courseblocktitle"); t != nil {
		if s := collapseSpace(nodeText(t)); s != "" {
			headerSource = s
		}
	}

	course, _, ok := parseCourseHeader(headerSource)
	if !ok {
		return Course{}, false
	}

	// Structured description node when it carries real text, otherwise
	// whatever follows the header in the block text.
	var desc string
	if d := findClassToken(n, "courseblockdesc"); d != nil {
		if s := collapseSpace(nodeText(d)); len(s) >= minDescChars {
			desc = s
		}
	}
	if desc == "" {
		if _, rest, ok := parseCourseHeader(blockText); ok {
			desc = rest
		}
	}

	finishCourse(&course, desc, blockText)
	return course, true
}

// parseCourseHeader parses "DEPT NUM-SUFFIX Title (N Unit)" text into a
// Course with its normalized code, returning any text after the unit marker.
func parseCourseHeader(text string) (Course, string, bool) {
	m := courseHeaderRe.FindStringSubmatch(text)
	if m == nil {
		return Course{}, "", false
	}
	dept := normalizeCode(m[1])
	code := dept + "_" + m[2]
	if !courseCodeRe.MatchString(code) {
		return Course{}, "", false
	}

	title, rest := m[3], ""
	if um := unitSplitRe.FindStringSubmatch(title); um != nil {
		title, rest = um[1], um[3]
	}
	return Course{
		Code:           code,
		Title:          strings.TrimSpace(title),
		DepartmentCode: dept,
	}, strings.TrimSpace(rest), true
}

// finishCourse fills description, prerequisites, and requirements. The
// description drops any trailing prerequisite sentence; prerequisites and
// requirement labels are pulled from the full block text, which also covers
// markup that keeps them outside the description node.
func finishCourse(c *Course, desc, fullText string) {
	if loc := prereqRe.FindStringIndex(desc); loc != nil {
		desc = desc[:loc[0]]
	}
	c.Description = trimTrailingRequirements(strings.TrimSpace(desc))

	if m := prereqRe.FindStringSubmatch(fullText); m != nil {
		// The capture runs to the end of the block text; requirement
		// labels printed after the prerequisite sentence get cut off.
		p := m[1]
		lower := strings.ToLower(p)
		for _, kw := range requirementKeywords {
			if i := strings.Index(lower, strings.ToLower(kw)); i >= 0 {
				p = p[:i]
				lower = lower[:i]
			}
		}
		if p = strings.TrimSpace(p); len(p) > 3 {
			c.PrerequisitesText = p
		}
	}
	c.Requirements = scanRequirements(fullText)
}

// trimTrailingRequirements strips requirement labels printed after the
// description proper. Only suffixes are cut so prose that happens to
// mention a label is left alone.
func trimTrailingRequirements(desc string) string {
	for {
		trimmed := strings.TrimSpace(desc)
		lower := strings.ToLower(trimmed)
		cut := false
		for _, kw := range requirementKeywords {
			if strings.HasSuffix(lower, strings.ToLower(kw)) {
				trimmed = strings.TrimSpace(trimmed[:len(trimmed)-len(kw)])
				cut = true
				break
			}
		}
		desc = trimmed
		if !cut {
			return desc
		}
	}
}

func scanRequirements(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range requirementKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found = append(found, kw)
		}
	}
	return found
}

// parseReadableText is the last-resort plane for pages whose markup carries
// no recognizable course blocks: extract the page's readable text and
// segment it at course header lines.
func parseReadableText(page string, pageURL *url.URL) ([]Course, error) {
	article, err := readability.FromReader(strings.NewReader(page), pageURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: extract page text: %w", err)
	}
	return coursesFromText(article.TextContent), nil
}

// coursesFromText segments plain text at course header lines, treating the
// lines under each header as that course's body.
func coursesFromText(text string) []Course {
	var (
		courses []Course
		cur     *Course
		body    []string
		seen    = make(map[string]bool)
	)
	flush := func() {
		if cur == nil {
			return
		}
		joined := strings.Join(body, " ")
		finishCourse(cur, joined, joined)
		if !seen[cur.Code] {
			seen[cur.Code] = true
			courses = append(courses, *cur)
		}
		cur, body = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = collapseSpace(line)
		if line == "" {
			continue
		}
		if courseScanRe.MatchString(line) {
			flush()
			if c, rest, ok := parseCourseHeader(line); ok {
				cur = &c
				if rest != "" {
					body = append(body, rest)
				}
			}
			continue
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	flush()
	return courses
}
