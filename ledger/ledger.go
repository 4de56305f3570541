// Package ledger tracks batch parse runs in a local SQLite database: which
// PDFs were processed, what each one yielded, and which validation issues or
// errors came up. Evaluation data itself lives in PostgreSQL; the ledger is
// operator tooling, so batches can be audited and re-run selectively without
// querying the main database.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calebgardner/ctecflow/parser"
)

// Document statuses.
const (
	StatusParsed = "parsed"
	StatusFailed = "failed"
)

// BatchRun represents a row in the batch_runs table.
type BatchRun struct {
	ID         int64  `json:"id"`
	SourceDir  string `json:"source_dir"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Total      int    `json:"total"`
	Parsed     int    `json:"parsed"`
	Failed     int    `json:"failed"`
}

// Document represents a row in the documents table: one PDF processed
// during a batch run.
type Document struct {
	ID          int64    `json:"id"`
	RunID       int64    `json:"run_id"`
	Path        string   `json:"path"`
	Filename    string   `json:"filename"`
	ContentHash string   `json:"content_hash"`
	Status      string   `json:"status"`
	Course      string   `json:"course,omitempty"`
	Instructor  string   `json:"instructor,omitempty"`
	Quarter     string   `json:"quarter,omitempty"`
	Year        int      `json:"year,omitempty"`
	Comments    int      `json:"comments"`
	Ratings     int      `json:"ratings"`
	Issues      []string `json:"issues,omitempty"`
	Error       string   `json:"error,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// Ledger wraps the SQLite database tracking batch parse runs.
type Ledger struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS batch_runs (
    id INTEGER PRIMARY KEY,
    source_dir TEXT NOT NULL,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME,
    total INTEGER NOT NULL DEFAULT 0,
    parsed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    run_id INTEGER NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    filename TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    course TEXT,
    instructor TEXT,
    quarter TEXT,
    year INTEGER,
    comments INTEGER NOT NULL DEFAULT 0,
    ratings INTEGER NOT NULL DEFAULT 0,
    issues JSON,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(run_id, status);
`

// New opens (or creates) the ledger database at the given path and
// initialises the schema.
func New(dbPath string) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging ledger: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Ledger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// --- Run operations ---

// StartRun opens a new batch run over a source directory. Returns the run ID.
func (l *Ledger) StartRun(ctx context.Context, sourceDir string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"INSERT INTO batch_runs (source_dir) VALUES (?)", sourceDir)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRun stamps the run finished and rolls up its document counts.
func (l *Ledger) FinishRun(ctx context.Context, runID int64) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE batch_runs SET
			finished_at = CURRENT_TIMESTAMP,
			total = (SELECT COUNT(*) FROM documents WHERE run_id = ?),
			parsed = (SELECT COUNT(*) FROM documents WHERE run_id = ? AND status = ?),
			failed = (SELECT COUNT(*) FROM documents WHERE run_id = ? AND status = ?)
		WHERE id = ?
	`, runID, runID, StatusParsed, runID, StatusFailed, runID)
	return err
}

// Run retrieves a batch run by ID.
func (l *Ledger) Run(ctx context.Context, runID int64) (*BatchRun, error) {
	run := &BatchRun{}
	var finished sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT id, source_dir, started_at, finished_at, total, parsed, failed
		FROM batch_runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.SourceDir, &run.StartedAt, &finished,
		&run.Total, &run.Parsed, &run.Failed)
	if err != nil {
		return nil, err
	}
	run.FinishedAt = finished.String
	return run, nil
}

// --- Document operations ---

// RecordParse writes the outcome of parsing one PDF. When parseErr is nil
// the document is recorded as parsed together with any validation issues;
// otherwise it is recorded as failed. Returns the document ID.
func (l *Ledger) RecordParse(ctx context.Context, runID int64, path, contentHash string, res *parser.Result, parseErr error) (int64, error) {
	doc := Document{
		RunID:       runID,
		Path:        path,
		Filename:    filepath.Base(path),
		ContentHash: contentHash,
		Status:      StatusParsed,
	}
	if parseErr != nil {
		doc.Status = StatusFailed
		doc.Error = parseErr.Error()
	}
	if res != nil {
		doc.Course = res.CourseInfo.Code
		doc.Instructor = res.CourseInfo.Instructor
		doc.Quarter = res.CourseInfo.Quarter
		doc.Year = res.CourseInfo.Year
		doc.Comments = len(res.Comments)
		doc.Ratings = len(res.Distributions)
		if parseErr == nil {
			doc.Issues = Validate(res)
		}
	}

	var issuesJSON any
	if len(doc.Issues) > 0 {
		b, err := json.Marshal(doc.Issues)
		if err != nil {
			return 0, fmt.Errorf("encoding issues: %w", err)
		}
		issuesJSON = string(b)
	}

	out, err := l.db.ExecContext(ctx, `
		INSERT INTO documents (run_id, path, filename, content_hash, status, course, instructor, quarter, year, comments, ratings, issues, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = excluded.status,
			course = excluded.course,
			instructor = excluded.instructor,
			quarter = excluded.quarter,
			year = excluded.year,
			comments = excluded.comments,
			ratings = excluded.ratings,
			issues = excluded.issues,
			error = excluded.error
	`, runID, path, doc.Filename, contentHash, doc.Status,
		nullable(doc.Course), nullable(doc.Instructor), nullable(doc.Quarter),
		nullableInt(doc.Year), doc.Comments, doc.Ratings, issuesJSON, nullable(doc.Error))
	if err != nil {
		return 0, err
	}

	id, err := out.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := l.db.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE run_id = ? AND path = ?", runID, path)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ParsedHashes returns the most recent content hash recorded for each path,
// restricted to paths whose latest record parsed cleanly. Batch callers skip
// files whose current hash still matches.
func (l *Ledger) ParsedHashes(ctx context.Context) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT path, content_hash FROM documents
		WHERE status = ? AND id IN (SELECT MAX(id) FROM documents GROUP BY path)
	`, StatusParsed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// Documents returns all documents of a run, failures first so reports
// surface problems at the top.
func (l *Ledger) Documents(ctx context.Context, runID int64) ([]Document, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, path, filename, content_hash, status, course, instructor, quarter, year, comments, ratings, issues, error, created_at
		FROM documents WHERE run_id = ?
		ORDER BY status = ? DESC, filename
	`, runID, StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var course, instructor, quarter, issues, errText sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&d.ID, &d.RunID, &d.Path, &d.Filename, &d.ContentHash,
			&d.Status, &course, &instructor, &quarter, &year,
			&d.Comments, &d.Ratings, &issues, &errText, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Course = course.String
		d.Instructor = instructor.String
		d.Quarter = quarter.String
		d.Year = int(year.Int64)
		d.Error = errText.String
		if issues.Valid && issues.String != "" {
			if err := json.Unmarshal([]byte(issues.String), &d.Issues); err != nil {
				return nil, fmt.Errorf("decoding issues: %w", err)
			}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Validation ---

// Validate checks a parse result for completeness and returns a list of
// human-readable issues, empty when the result looks whole: course,
// instructor, and term identified; all five rating questions present with a
// full 1-6 scale; and the expected ten distributions extracted.
func Validate(res *parser.Result) []string {
	var issues []string

	if res.CourseInfo.Code == "" {
		issues = append(issues, "missing course code")
	}
	if res.CourseInfo.Instructor == "" {
		issues = append(issues, "missing instructor")
	}
	if res.CourseInfo.Quarter == "" || res.CourseInfo.Year == 0 {
		issues = append(issues, "missing term")
	}

	for _, q := range parser.LikertQuestions {
		dist, ok := res.Distributions[q]
		if !ok {
			issues = append(issues, fmt.Sprintf("no ratings for %q", shorten(q, 40)))
			continue
		}
		for v := 1; v <= 6; v++ {
			if _, ok := dist.Counts[strconv.Itoa(v)]; !ok {
				issues = append(issues, fmt.Sprintf("incomplete 1-6 scale for %q", shorten(q, 40)))
				break
			}
		}
	}

	if n := len(res.Distributions); n < len(parser.StandardQuestions) {
		issues = append(issues, fmt.Sprintf("%d of %d expected distributions", n, len(parser.StandardQuestions)))
	}

	return issues
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
