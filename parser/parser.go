// Package parser extracts structured course evaluation data from
// Northwestern CTEC PDF reports.
//
// A report is processed in four sequential stages: text-layer extraction,
// metadata extraction, OCR-based rating extraction, and comment/demographic
// extraction. The numeric rating tables are printed in a way that corrupts
// the PDF text layer, so stage three renders the rating pages to images and
// recognizes them with OCR, validating the recognized counts against the
// machine-printed totals.
package parser

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
)

// ErrParsingFailed is the single error kind reported for any fatal parsing
// failure. Callers distinguish causes by message, not by subtype.
var ErrParsingFailed = errors.New("parser: parsing failed")

// Config controls parsing behavior.
type Config struct {
	// Debug enables logging of intermediate extraction state.
	Debug bool `json:"debug"`

	// OCRResolutionDPI is the resolution at which rating pages are
	// rendered before recognition.
	OCRResolutionDPI int `json:"ocr_resolution_dpi"`

	// OCRTimeoutSeconds is advisory and recorded for operators; the
	// parser does not enforce a deadline around the OCR call.
	OCRTimeoutSeconds int `json:"ocr_timeout_seconds"`

	// ValidateOCRTotals checks recognized rating counts against the
	// machine-printed total for each question.
	ValidateOCRTotals bool `json:"validate_ocr_totals"`

	// ContinueOnOCRErrors downgrades a rating-extraction failure from
	// fatal to a warning, producing a result without rating data.
	ContinueOnOCRErrors bool `json:"continue_on_ocr_errors"`

	ExtractComments     bool `json:"extract_comments"`
	ExtractDemographics bool `json:"extract_demographics"`
	ExtractTimeSurvey   bool `json:"extract_time_survey"`
}

// DefaultConfig returns the parsing defaults used for archival ingestion:
// strict OCR validation, all optional sections extracted.
func DefaultConfig() Config {
	return Config{
		OCRResolutionDPI:    300,
		OCRTimeoutSeconds:   30,
		ValidateOCRTotals:   true,
		ExtractComments:     true,
		ExtractDemographics: true,
		ExtractTimeSurvey:   true,
	}
}

// CourseInfo is the course identity and survey metadata recovered from a
// report header.
type CourseInfo struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	Section    string `json:"section"`
	Instructor string `json:"instructor"`
	Quarter    string `json:"quarter"`
	Year       int    `json:"year"`

	// AudienceSize and ResponseCount are best-effort; they stay nil when
	// the survey header block is absent or malformed.
	AudienceSize  *int `json:"audience_size,omitempty"`
	ResponseCount *int `json:"response_count,omitempty"`
}

// DistributionCategory identifies which report section a distribution was
// extracted from.
type DistributionCategory string

const (
	CategoryRating          DistributionCategory = "rating"
	CategorySchoolName      DistributionCategory = "school_name"
	CategoryClassYear       DistributionCategory = "class_year"
	CategoryReasonForTaking DistributionCategory = "reason_for_taking"
	CategoryPriorInterest   DistributionCategory = "prior_interest"
	CategoryTimeSurvey      DistributionCategory = "time_survey"
)

// Distribution is a histogram of survey responses for one question. Counts
// is keyed by option label: "1".."6" for rating and prior-interest scales,
// fixed label strings for the categorical and time-range questions.
type Distribution struct {
	Category DistributionCategory `json:"category"`
	Counts   map[string]int       `json:"counts"`
}

// Result is the complete data extracted from one report.
type Result struct {
	CourseInfo CourseInfo `json:"course_info"`

	// Comments holds student essay comments in document order.
	Comments []string `json:"comments"`

	// Distributions maps survey question text to its response histogram.
	Distributions map[string]Distribution `json:"distributions"`
}

// TextReader extracts the embedded text layer of a PDF, one string per page.
// Pages without a usable text layer yield empty strings.
type TextReader interface {
	ReadPages(path string) ([]string, error)
}

// PageRenderer rasterizes every page of a PDF at the given resolution.
type PageRenderer interface {
	RenderPages(path string, dpi int) ([]image.Image, error)
}

// OCREngine recognizes text in a page image.
type OCREngine interface {
	Recognize(img image.Image) (string, error)
}

// Parser extracts evaluation data from CTEC PDF files.
//
// A Parser is safe for concurrent use: configuration is read-only after
// construction and all per-parse state is local to each call.
type Parser struct {
	cfg    Config
	text   TextReader
	render PageRenderer
	ocr    OCREngine
	log    *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithTextReader replaces the PDF text-layer reader.
func WithTextReader(r TextReader) Option {
	return func(p *Parser) { p.text = r }
}

// WithPageRenderer replaces the PDF rasterizer.
func WithPageRenderer(r PageRenderer) Option {
	return func(p *Parser) { p.render = r }
}

// WithOCREngine replaces the OCR engine.
func WithOCREngine(e OCREngine) Option {
	return func(p *Parser) { p.ocr = e }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.log = l }
}

// New returns a Parser backed by the embedded text layer, a PDF rasterizer,
// and the Tesseract OCR engine.
func New(cfg Config, opts ...Option) *Parser {
	p := &Parser{
		cfg:    cfg,
		text:   pdfTextReader{},
		render: fitzRenderer{},
		ocr:    tesseractEngine{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts all configured sections from the report at path.
//
// Course identity and (under strict configuration) rating distributions
// are mandatory; their absence fails the whole document with an error
// wrapping ErrParsingFailed. Term, comments, demographics, and survey
// metadata degrade to empty fields when missing. ctx is accepted for
// call-site symmetry; a parse runs to completion once started.
func (p *Parser) Parse(ctx context.Context, path string) (*Result, error) {
	p.logDebug("parsing started", "path", path)

	raw, cleaned, err := p.extractText(path)
	if err != nil {
		return nil, err
	}

	info, err := extractCourseInfo(cleaned)
	if err != nil {
		return nil, err
	}
	if quarter, year, ok := extractTerm(cleaned); ok {
		info.Quarter, info.Year = quarter, year
	}
	info.AudienceSize, info.ResponseCount = extractAudienceResponse(raw)

	res := &Result{
		CourseInfo:    info,
		Distributions: make(map[string]Distribution),
	}
	if p.cfg.ExtractComments {
		res.Comments = extractComments(raw)
	}

	ratings, err := p.extractRatings(path)
	if err != nil {
		if !p.cfg.ContinueOnOCRErrors {
			return nil, err
		}
		p.log.Warn("continuing without rating distributions", "path", path, "error", err)
	}
	for question, dist := range ratings {
		res.Distributions[question] = dist
	}

	if p.cfg.ExtractDemographics {
		for question, dist := range extractDemographics(cleaned) {
			res.Distributions[question] = dist
		}
	}
	if p.cfg.ExtractTimeSurvey {
		if dist, ok := extractTimeSurvey(cleaned); ok {
			res.Distributions[QuestionTimeSpent] = dist
		}
	}

	p.logDebug("parsing finished", "path", path,
		"comments", len(res.Comments), "distributions", len(res.Distributions))
	return res, nil
}

// extractText reads the text layer and returns the raw page-joined text and
// its whitespace-normalized form.
func (p *Parser) extractText(path string) (raw, cleaned string, err error) {
	if _, err := os.Stat(path); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	pages, err := p.text.ReadPages(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	var b strings.Builder
	for _, page := range pages {
		if page == "" {
			continue
		}
		b.WriteString(page)
		b.WriteString("\n")
	}
	raw = b.String()
	if strings.TrimSpace(raw) == "" {
		return "", "", fmt.Errorf("%w: no text extracted from %s", ErrParsingFailed, path)
	}
	return raw, cleanText(raw), nil
}

func (p *Parser) logDebug(msg string, args ...any) {
	if p.cfg.Debug {
		p.log.Debug(msg, args...)
	}
}
