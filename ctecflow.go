// Package ctecflow wires the CTEC ingestion components into one pipeline:
// PDF parsing, Postgres persistence, retrieval chunk building, embedding
// backfill, AI summary refresh, and the course catalog scraper. The cmd
// binaries are thin shells over this package.
package ctecflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebgardner/ctecflow/catalog"
	"github.com/calebgardner/ctecflow/llm"
	"github.com/calebgardner/ctecflow/parser"
	"github.com/calebgardner/ctecflow/rag"
	"github.com/calebgardner/ctecflow/store"
	"github.com/calebgardner/ctecflow/summary"
)

// Pipeline ties the parser, store, and LLM providers together behind the
// operations the CLIs run.
type Pipeline struct {
	cfg    Config
	pool   *pgxpool.Pool // set when New opened the connection
	store  *store.Store
	parser *parser.Parser
	chat   llm.Provider
	embed  llm.Provider
	chunks *rag.Builder
}

// New builds a Pipeline from configuration. Collaborators whose
// configuration is absent stay nil, and operations that need them fail with
// the matching sentinel, so parse-only workflows run without a database or
// API key. The returned Pipeline owns the database pool; Close releases it.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		parser: parser.New(cfg.Parser),
		chunks: rag.New(rag.Config{}),
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		p.pool = pool
		p.store = store.New(pool, store.WithEmbeddingDimension(cfg.EmbeddingDimension))
	}

	if cfg.Chat.Provider != "" {
		chat, err := llm.NewProvider(cfg.Chat)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		p.chat = chat
	}
	if cfg.Embedding.Provider != "" {
		embed, err := llm.NewProvider(cfg.Embedding)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		p.embed = embed
	}

	return p, nil
}

// NewWithStore builds a Pipeline around an existing store and providers.
// The caller keeps ownership of the store's pool. Parser options pass
// through to the parser, letting callers swap the PDF adapters.
func NewWithStore(cfg Config, st *store.Store, chat, embed llm.Provider, parserOpts ...parser.Option) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		parser: parser.New(cfg.Parser, parserOpts...),
		chat:   chat,
		embed:  embed,
		chunks: rag.New(rag.Config{}),
	}
}

// Store exposes the underlying store for administrative operations.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Close releases the database pool when the Pipeline opened it.
func (p *Pipeline) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// ParseFile runs the core parser on one PDF.
func (p *Pipeline) ParseFile(ctx context.Context, path string) (*parser.Result, error) {
	return p.parser.Parse(ctx, path)
}

// Upload persists one parsed evaluation: course, instructor, and offering
// upserts plus a full snapshot replacement of the offering's comments,
// ratings, and distributions. The offering's comment chunks are rebuilt
// from the rows just written; a chunk failure is logged rather than
// returned, and the next build-chunks run repairs it.
func (p *Pipeline) Upload(ctx context.Context, res *parser.Result) (store.UploadResult, error) {
	if p.store == nil {
		return store.UploadResult{}, ErrStoreNotConfigured
	}

	out, err := p.store.UploadEvaluation(ctx, res)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	rows, err := p.store.CommentRowsForOffering(ctx, out.OfferingID)
	if err == nil && len(rows) > 0 {
		_, err = p.store.InsertChunks(ctx, p.chunks.CommentChunks(rows))
	}
	if err != nil {
		slog.Warn("upload: comment chunk rebuild failed", "offering", out.OfferingID, "error", err)
	}

	slog.Info("upload: evaluation stored",
		"course", res.CourseInfo.Code, "instructor", res.CourseInfo.Instructor,
		"comments", out.CommentsInserted, "ratings", out.RatingsInserted)
	return out, nil
}

// --- Directory batches ---

// Outcome records one file's trip through a directory batch.
type Outcome struct {
	Path        string         `json:"path"`
	ContentHash string         `json:"content_hash,omitempty"`
	Skipped     bool           `json:"skipped,omitempty"`
	Result      *parser.Result `json:"result,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`
	Err         error          `json:"error,omitempty"`
}

// Handler consumes batch outcomes as files complete. It runs on a single
// goroutine, in completion order, and sees every file that was not skipped,
// parse failures included. A non-nil return marks a successfully parsed
// file as failed.
type Handler func(context.Context, *Outcome) error

// ProcessOption configures a directory batch.
type ProcessOption func(*processOptions)

type processOptions struct {
	handle     Handler
	skipHashes map[string]string
}

// WithHandler attaches a per-file handler to the batch.
func WithHandler(h Handler) ProcessOption {
	return func(o *processOptions) { o.handle = h }
}

// WithSkipUnchanged skips files whose content hash matches the given
// previous hash for the same path.
func WithSkipUnchanged(hashes map[string]string) ProcessOption {
	return func(o *processOptions) { o.skipHashes = hashes }
}

// ProcessDirectory parses every PDF directly under dir through a pool of
// parse workers and returns per-file outcomes sorted by path. Per-file
// failures are recorded, not returned; the error cases are an unreadable or
// empty directory, cancellation, and every file failing.
func (p *Pipeline) ProcessDirectory(ctx context.Context, dir string, workers int, opts ...ProcessOption) ([]Outcome, error) {
	options := &processOptions{}
	for _, o := range opts {
		o(options)
	}
	if workers <= 0 {
		workers = p.cfg.Workers
	}
	if workers <= 0 {
		workers = 1
	}

	files, err := listPDFs(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("ctecflow: no pdf files in %s", dir)
	}

	slog.Info("batch: starting", "dir", dir, "files", len(files), "workers", workers)

	jobs := make(chan string)
	results := make(chan *Outcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				results <- p.processOne(ctx, path, options.skipHashes)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(files))
	var parsed, failed, skipped int
	for out := range results {
		if !out.Skipped && options.handle != nil {
			if herr := options.handle(ctx, out); herr != nil && out.Err == nil {
				out.Err = herr
			}
		}
		switch {
		case out.Skipped:
			skipped++
		case out.Err != nil:
			failed++
			slog.Warn("batch: file failed", "file", filepath.Base(out.Path), "error", out.Err)
		default:
			parsed++
		}
		outcomes = append(outcomes, *out)
	}

	// Completion order depends on scheduling; sort for stable output.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Path < outcomes[j].Path })

	slog.Info("batch: directory complete",
		"total", len(outcomes), "parsed", parsed, "failed", failed, "skipped", skipped)

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	if failed > 0 && failed == len(outcomes) {
		return outcomes, fmt.Errorf("ctecflow: all %d files failed; first error: %s",
			failed, outcomes[0].Err)
	}
	return outcomes, nil
}

func (p *Pipeline) processOne(ctx context.Context, path string, skipHashes map[string]string) *Outcome {
	out := &Outcome{Path: path}
	start := time.Now()

	hash, err := fileHash(path)
	if err != nil {
		out.Err = fmt.Errorf("hashing file: %w", err)
		out.Elapsed = time.Since(start)
		return out
	}
	out.ContentHash = hash

	if prev, ok := skipHashes[path]; ok && prev == hash {
		out.Skipped = true
		out.Elapsed = time.Since(start)
		slog.Debug("batch: unchanged, skipping", "file", filepath.Base(path))
		return out
	}

	res, err := p.parser.Parse(ctx, path)
	out.Elapsed = time.Since(start)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = res
	slog.Debug("batch: parsed",
		"file", filepath.Base(path), "course", res.CourseInfo.Code,
		"elapsed", out.Elapsed.Round(time.Millisecond))
	return out
}

// listPDFs returns the PDF files directly under dir, sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// --- Retrieval and summaries ---

// EmbedPending embeds stored chunks that have no embedding yet, up to limit
// chunks (0 means all). Returns the number embedded.
func (p *Pipeline) EmbedPending(ctx context.Context, limit int) (int, error) {
	if p.store == nil {
		return 0, ErrStoreNotConfigured
	}
	if p.embed == nil {
		return 0, ErrLLMNotConfigured
	}
	emb := rag.NewEmbedder(p.store, p.embed, p.cfg.Embedding.Model, 0)
	n, err := emb.EmbedPending(ctx, limit)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return n, nil
}

// RefreshSummaries regenerates stale AI summaries.
func (p *Pipeline) RefreshSummaries(ctx context.Context, opts summary.Options) (*summary.Result, error) {
	if p.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if p.chat == nil {
		return nil, ErrLLMNotConfigured
	}
	gen := summary.NewGenerator(p.chat, summary.Config{Model: p.cfg.Chat.Model})
	return summary.NewRefresher(p.store, gen).Run(ctx, opts)
}

// ChunkStats reports how many chunks a rebuild inserted per plane.
type ChunkStats struct {
	Comments    int `json:"comments"`
	Instructors int `json:"instructors"`
	Catalog     int `json:"catalog"`
}

// BuildChunks builds retrieval chunks for all stored comments and catalog
// text. Comment chunks are slot-stable (one per comment, indexed within its
// offering), so existing slots are kept; instructor groups and catalog
// chunks change shape as source data grows, so those planes are replaced
// per entity. Safe to re-run.
func (p *Pipeline) BuildChunks(ctx context.Context) (ChunkStats, error) {
	var stats ChunkStats
	if p.store == nil {
		return stats, ErrStoreNotConfigured
	}

	comments, err := p.store.CommentsWithContext(ctx)
	if err != nil {
		return stats, err
	}
	if len(comments) > 0 {
		if stats.Comments, err = p.store.InsertChunks(ctx, p.chunks.CommentChunks(comments)); err != nil {
			return stats, err
		}

		seen := make(map[string]bool)
		for _, r := range comments {
			if seen[r.InstructorID] {
				continue
			}
			seen[r.InstructorID] = true
			if _, err := p.store.DeleteChunks(ctx, store.EntityInstructor, r.InstructorID, store.ChunkCommentGroup); err != nil {
				return stats, err
			}
		}
		if stats.Instructors, err = p.store.InsertChunks(ctx, p.chunks.InstructorChunks(comments)); err != nil {
			return stats, err
		}
	}

	courses, err := p.store.CoursesWithContent(ctx)
	if err != nil {
		return stats, err
	}
	if len(courses) > 0 {
		for _, c := range courses {
			for _, ct := range []string{store.ChunkCatalogDescription, store.ChunkCatalogPrereqs} {
				if _, err := p.store.DeleteChunks(ctx, store.EntityCourse, c.CourseID, ct); err != nil {
					return stats, err
				}
			}
		}
		if stats.Catalog, err = p.store.InsertChunks(ctx, p.chunks.CatalogChunks(courses)); err != nil {
			return stats, err
		}
	}

	slog.Info("chunks: build complete",
		"comments", stats.Comments, "instructors", stats.Instructors, "catalog", stats.Catalog)
	return stats, nil
}

// --- Catalog ---

// ScrapeCatalog runs the course catalog scraper with the configured knobs.
func (p *Pipeline) ScrapeCatalog(ctx context.Context, opts catalog.Options) (*catalog.Result, error) {
	return catalog.New(p.cfg.Catalog).ScrapeAll(ctx, opts)
}

// CatalogStats reports what a catalog upload wrote.
type CatalogStats struct {
	Departments int `json:"departments"`
	Courses     int `json:"courses"`
	Linked      int `json:"linked"`
}

// UploadCatalog persists scraped departments and courses, then links course
// rows to departments by code prefix.
func (p *Pipeline) UploadCatalog(ctx context.Context, res *catalog.Result) (CatalogStats, error) {
	var stats CatalogStats
	if p.store == nil {
		return stats, ErrStoreNotConfigured
	}

	deps := make([]store.Department, len(res.Departments))
	for i, d := range res.Departments {
		deps[i] = store.Department{Code: d.Code, Name: d.Name}
	}
	var err error
	if stats.Departments, err = p.store.UpsertDepartments(ctx, deps); err != nil {
		return stats, err
	}

	courses := make([]store.CatalogCourse, len(res.Courses))
	for i, c := range res.Courses {
		courses[i] = store.CatalogCourse{
			Code:              c.Code,
			Title:             c.Title,
			Description:       c.Description,
			PrerequisitesText: c.PrerequisitesText,
			DepartmentCode:    c.DepartmentCode,
			Requirements:      c.Requirements,
		}
	}
	if stats.Courses, err = p.store.UpsertCatalogCourses(ctx, courses); err != nil {
		return stats, err
	}
	if stats.Linked, err = p.store.AssignCourseDepartments(ctx); err != nil {
		return stats, err
	}

	slog.Info("catalog: upload complete",
		"departments", stats.Departments, "courses", stats.Courses, "linked", stats.Linked)
	return stats, nil
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
