package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Patterns for the OCR'd rating tables. A row prints as "1-Very Low (0)",
// "2 (1)", "6-Very High (24)" and similar, with a redundant "Total (N)"
// row that acts as a self-check on recognition noise.
var (
	ratingPairPattern  = regexp.MustCompile(`(?i)([1-6])(?:[-–—]\s*(?:Very\s+Low|Very\s+High|[A-Za-z\s–—-]*?))?\s*\((\d+)\)`)
	ratingTotalPattern = regexp.MustCompile(`(?i)\[?\s*total\s*\]?\s*\((\d+)\)`)

	// Fallback patterns for degraded recognitions: mixed bracket styles,
	// then a per-line scan for rating-count shaped rows.
	altBracketPattern = regexp.MustCompile(`([1-6])[^\d]*?[(\[{](\d+)[)\]}]`)
	altLinePattern    = regexp.MustCompile(`(?:^|\s)([1-6])(?:\s*[-–—]\s*\w+)?\s*[(\[]?(\d+)[)\]]?`)
)

// ratingBlock delimits one question's slice of the OCR text. The block
// starts at the numbered question heading and runs to the next question's
// heading; the last question runs to end of text. A question whose
// delimiters cannot be located is skipped rather than failed, since a
// heading lost to OCR noise leaves nothing trustworthy to extract.
type ratingBlock struct {
	question string
	start    *regexp.Regexp
	next     *regexp.Regexp // nil on the final question
}

var ratingBlocks = []ratingBlock{
	{QuestionInstructionRating,
		regexp.MustCompile(`1\.\s*Provide an overall rating of the instruction`),
		regexp.MustCompile(`2\.\s*Provide`)},
	{QuestionCourseRating,
		regexp.MustCompile(`2\.\s*Provide an overall rating of the course`),
		regexp.MustCompile(`3\.\s*Estimate`)},
	{QuestionLearned,
		regexp.MustCompile(`3\.\s*Estimate how much you learned in the course`),
		regexp.MustCompile(`4\.\s*Rate`)},
	{QuestionChallenged,
		regexp.MustCompile(`4\.\s*Rate the effectiveness of the course in challenging you intellectually`),
		regexp.MustCompile(`5\.\s*Rate`)},
	{QuestionInterestStimulated,
		regexp.MustCompile(`5\.\s*Rate the effectiveness of the instructor in stimulating your interest in the subject`),
		nil},
}

// extractRatings renders pages 2 and 3, recognizes them, and extracts the
// five rating distributions from the concatenated OCR text.
func (p *Parser) extractRatings(path string) (map[string]Distribution, error) {
	pages, err := p.render.RenderPages(path, p.cfg.OCRResolutionDPI)
	if err != nil {
		return nil, fmt.Errorf("%w: render pdf pages: %v", ErrParsingFailed, err)
	}
	if len(pages) < 3 {
		return nil, fmt.Errorf("%w: pdf has fewer than 3 pages: %d", ErrParsingFailed, len(pages))
	}

	// The rating tables sit on pages 2 and 3.
	var ocrText strings.Builder
	for i, img := range pages[1:3] {
		text, err := p.ocr.Recognize(redChannel(img))
		if err != nil {
			return nil, fmt.Errorf("%w: ocr failed on page %d: %v", ErrParsingFailed, i+2, err)
		}
		ocrText.WriteString(text)
	}
	p.logDebug("ocr text extracted", "chars", ocrText.Len())

	return p.ratingDistributions(ocrText.String())
}

// ratingDistributions isolates each question's block and extracts its
// distribution. Validation failures are collected across all questions
// before failing, so one error report covers the whole document.
func (p *Parser) ratingDistributions(ocrText string) (map[string]Distribution, error) {
	dists := make(map[string]Distribution)
	var failures []string

	for _, b := range ratingBlocks {
		block, ok := questionBlock(ocrText, b)
		if !ok {
			continue
		}
		counts, err := p.ratingCounts(block)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", b.question, err))
			continue
		}
		dists[b.question] = Distribution{Category: CategoryRating, Counts: counts}
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("%w: ocr validation failed for %d question(s): %s",
			ErrParsingFailed, len(failures), strings.Join(failures, "; "))
	}
	return dists, nil
}

// questionBlock slices the OCR text between a question's heading and the
// next question's heading.
func questionBlock(text string, b ratingBlock) (string, bool) {
	loc := b.start.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	if b.next == nil {
		return text[loc[0]:], true
	}
	rest := text[loc[1]:]
	nextLoc := b.next.FindStringIndex(rest)
	if nextLoc == nil {
		return "", false
	}
	return text[loc[0] : loc[1]+nextLoc[0]], true
}

// ratingCounts extracts one question's rating histogram from its block.
//
// The triage order is fixed: primary pattern, then comparison against the
// printed total, then the alternative patterns, then failure. The order
// encodes accumulated tolerance for how this document format degrades
// under OCR, so it must not be reshuffled.
func (p *Parser) ratingCounts(block string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, m := range ratingPairPattern.FindAllStringSubmatch(block, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		counts[m[1]] = n
	}

	if !p.cfg.ValidateOCRTotals {
		return counts, nil
	}
	tm := ratingTotalPattern.FindStringSubmatch(block)
	if tm == nil {
		// No printed total to check against; accept the primary read.
		return counts, nil
	}
	printedTotal, err := strconv.Atoi(tm[1])
	if err != nil {
		return counts, nil
	}
	if sumCounts(counts) == printedTotal {
		return counts, nil
	}

	if alt, ok := alternativeCounts(block); ok && sumCounts(alt) == printedTotal {
		p.logDebug("alternative extraction matched printed total",
			"total", printedTotal, "ratings", len(alt))
		return alt, nil
	}
	return nil, fmt.Errorf("total mismatch (ocr: %d, calculated: %d)", printedTotal, sumCounts(counts))
}

// alternativeCounts retries extraction with looser patterns. A candidate
// needs at least three distinct ratings to be considered; the caller still
// checks it against the printed total.
func alternativeCounts(block string) (map[string]int, bool) {
	counts := make(map[string]int)
	for _, m := range altBracketPattern.FindAllStringSubmatch(block, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		counts[m[1]] = n
	}
	if len(counts) >= 3 {
		return counts, true
	}

	counts = make(map[string]int)
	for _, line := range strings.Split(block, "\n") {
		m := altLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n >= 1000 {
			continue
		}
		counts[m[1]] = n
	}
	if len(counts) >= 3 {
		return counts, true
	}
	return nil, false
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
