// Package catalog scrapes the Northwestern undergraduate course catalog:
// the A-Z index for departments, then each department page for course codes,
// titles, descriptions, prerequisites, and distribution requirements. The
// scraped records backfill catalog data onto course rows created bare from
// evaluation uploads.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	defaultBaseURL   = "https://catalogs.northwestern.edu/undergraduate/courses-az/"
	defaultUserAgent = "Mozilla/5.0 (compatible; course-catalog-scraper/1.0)"
	defaultTimeout   = 30 * time.Second
	defaultDelay     = 500 * time.Millisecond
	defaultWorkers   = 3

	// maxBodyBytes caps how much of a catalog page is read. Department
	// pages run tens of kilobytes; anything near the cap is not a catalog
	// page.
	maxBodyBytes = 1 << 20
)

// Department is one department link from the A-Z index.
type Department struct {
	Code string `json:"code"`
	Name string `json:"name"`
	URL  string `json:"catalog_url"`
}

// Course is one scraped catalog course.
type Course struct {
	Code              string   `json:"course_code"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	PrerequisitesText string   `json:"prerequisites_text"`
	DepartmentCode    string   `json:"department_code"`
	Requirements      []string `json:"requirements"`
}

// Config controls scraping behavior. Zero values fall back to defaults.
type Config struct {
	BaseURL   string        `json:"base_url"`
	UserAgent string        `json:"user_agent"`
	Timeout   time.Duration `json:"timeout"`
	Delay     time.Duration `json:"delay"`
	Workers   int           `json:"workers"`
}

// Options narrows a scrape run.
type Options struct {
	Departments []string // department codes; empty means all
	Limit       int      // max departments; 0 means no limit
}

// Result is the outcome of a full scrape.
type Result struct {
	Departments []Department `json:"departments"`
	Courses     []Course     `json:"courses"`
	Failed      []string     `json:"failed,omitempty"` // "CODE: error" per failed department
}

// Scraper fetches and parses catalog pages with one shared HTTP client.
type Scraper struct {
	cfg    Config
	client *http.Client
}

// New returns a Scraper, filling in defaults for unset Config fields.
func New(cfg Config) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Scraper{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// ScrapeAll scrapes the department index and then every selected department
// page. Individual department failures are recorded on the Result; the run
// only fails outright when the index cannot be read or every department
// fails.
func (s *Scraper) ScrapeAll(ctx context.Context, opts Options) (*Result, error) {
	deps, err := s.Departments(ctx)
	if err != nil {
		return nil, err
	}

	deps = filterDepartments(deps, opts)
	if len(deps) == 0 {
		return nil, fmt.Errorf("catalog: no departments to scrape")
	}

	slog.Info("catalog: scraping departments",
		"count", len(deps), "workers", s.cfg.Workers, "delay", s.cfg.Delay)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		sem       = make(chan struct{}, s.cfg.Workers)
		res       = &Result{Departments: deps}
		failed    []string
		completed int
	)
	total := len(deps)

	for _, d := range deps {
		wg.Add(1)
		go func(dept Department) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				failed = append(failed, fmt.Sprintf("%s: %v", dept.Code, ctx.Err()))
				mu.Unlock()
				return
			}

			courses, err := s.Courses(ctx, dept)

			// Space out requests per worker slot.
			s.sleep(ctx)

			mu.Lock()
			defer mu.Unlock()
			completed++
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", dept.Code, err))
				slog.Warn("catalog: department failed", "dept", dept.Code, "error", err)
				return
			}
			res.Courses = append(res.Courses, courses...)
			slog.Info("catalog: department scraped",
				"progress", fmt.Sprintf("%d/%d", completed, total),
				"dept", dept.Code, "courses", len(courses))
		}(d)
	}

	wg.Wait()

	if len(failed) == len(deps) {
		return nil, fmt.Errorf("catalog: all %d departments failed; first error: %s", len(deps), failed[0])
	}

	// Completion order depends on scheduling; sort for stable output.
	sort.Slice(res.Courses, func(i, j int) bool { return res.Courses[i].Code < res.Courses[j].Code })
	sort.Strings(failed)
	res.Failed = failed

	slog.Info("catalog: scrape complete",
		"departments", len(deps), "courses", len(res.Courses), "failed", len(failed))
	return res, nil
}

func (s *Scraper) sleep(ctx context.Context) {
	t := time.NewTimer(s.cfg.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func filterDepartments(deps []Department, opts Options) []Department {
	if len(opts.Departments) > 0 {
		want := make(map[string]bool, len(opts.Departments))
		for _, code := range opts.Departments {
			want[normalizeCode(code)] = true
		}
		var kept []Department
		for _, d := range deps {
			if want[d.Code] {
				kept = append(kept, d)
			}
		}
		deps = kept
	}
	if opts.Limit > 0 && len(deps) > opts.Limit {
		deps = deps[:opts.Limit]
	}
	return deps
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("catalog: invalid URL %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("catalog: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("catalog: HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("catalog: read %s: %w", rawURL, err)
	}
	return string(body), nil
}

// SaveJSON writes courses as an indented JSON array, creating the output
// directory if needed.
func SaveJSON(courses []Course, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("catalog: create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(courses, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode courses: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("catalog: write %s: %w", path, err)
	}
	slog.Info("catalog: saved courses", "path", path, "count", len(courses))
	return nil
}

// LoadJSON reads a courses file written by SaveJSON.
func LoadJSON(path string) ([]Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var courses []Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return courses, nil
}
