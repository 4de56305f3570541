package summary

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/calebgardner/ctecflow/store"
)

const (
	// groupChars caps one offering's comment block inside an instructor
	// prompt so a single heavily-commented offering cannot crowd out the
	// rest of the evidence.
	groupChars   = 1800
	groupOverlap = 200
)

// InstructorBlocks formats an instructor's comments for summarization: one
// block per course offering under a "=== CODE - Title (Quarter Year) ==="
// header, in the order the comments arrive. Offerings whose comments exceed
// groupChars are split into numbered parts.
func InstructorBlocks(comments []store.InstructorComment) []string {
	type group struct {
		context string
		texts   []string
	}
	var order []string
	groups := make(map[string]*group)

	for _, c := range comments {
		key := fmt.Sprintf("%s|%s|%d", c.CourseCode, c.Quarter, c.Year)
		g, ok := groups[key]
		if !ok {
			g = &group{context: fmt.Sprintf("%s - %s (%s %d)", c.CourseCode, c.CourseTitle, c.Quarter, c.Year)}
			groups[key] = g
			order = append(order, key)
		}
		g.texts = append(g.texts, c.Content)
	}

	var blocks []string
	for _, key := range order {
		g := groups[key]
		parts := splitGroup(strings.Join(g.texts, "\n\n"), groupChars, groupOverlap)
		for i, part := range parts {
			header := fmt.Sprintf("=== %s ===", g.context)
			if len(parts) > 1 {
				header = fmt.Sprintf("=== %s (Part %d/%d) ===", g.context, i+1, len(parts))
			}
			blocks = append(blocks, header+"\n\n"+part)
		}
	}
	return blocks
}

// CourseBlocks formats stored per-offering summaries for a course roll-up,
// each prefixed with its term and instructor so the model can attribute
// variation across offerings.
func CourseBlocks(sums []store.OfferingSummary) []string {
	blocks := make([]string, 0, len(sums))
	for _, s := range sums {
		blocks = append(blocks, fmt.Sprintf("%s %d, %s:\n%s", s.Quarter, s.Year, s.Instructor, s.Summary))
	}
	return blocks
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// splitGroup splits text into overlapping pieces of at most maxChars,
// preferring a sentence boundary within the last 100 characters of each cut.
func splitGroup(text string, maxChars, overlap int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			pieces = append(pieces, text[start:])
			break
		}

		breakPoint := end
		searchStart := end - 100
		if searchStart < start {
			searchStart = start
		}
		if locs := sentenceEnd.FindAllStringIndex(text[searchStart:end], -1); len(locs) > 0 {
			breakPoint = searchStart + locs[len(locs)-1][1]
		}

		pieces = append(pieces, text[start:breakPoint])

		next := breakPoint - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return pieces
}
