// Command ctecupload parses CTEC PDF reports and uploads them into the
// evaluation database. Uploads default to the lenient parser profile, so
// documents with unreadable rating tables still land with their comments;
// --strict restores totals validation and fails those files instead.
//
// Usage:
//
//	go run ./cmd/ctecupload --file ./data/ctecs/cs336_fall23.pdf
//	go run ./cmd/ctecupload --dir ./data/ctecs --workers 8
//	go run ./cmd/ctecupload --dir ./data/ctecs --dry-run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/calebgardner/ctecflow"
	"github.com/calebgardner/ctecflow/ledger"
	"github.com/calebgardner/ctecflow/store"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "", "Path to config file (JSON)")
		file        = flag.String("file", "", "Single CTEC PDF to upload")
		dir         = flag.String("dir", "", "Directory of CTEC PDFs to upload")
		databaseURL = flag.String("database-url", "", "Postgres connection string (default from config/env)")
		workers     = flag.Int("workers", 0, "Parse workers for --dir (default from config)")
		strict      = flag.Bool("strict", false, "Use the strict parser profile (validate OCR totals, fail on OCR errors)")
		dryRun      = flag.Bool("dry-run", false, "Parse and report without writing to the database")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if (*file == "") == (*dir == "") {
		slog.Error("exactly one of --file or --dir is required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if !*strict {
		cfg.Parser = ctecflow.UploadParserConfig()
	}
	cfg.Parser.Debug = *debug
	if *databaseURL != "" {
		cfg.DatabaseURL = *databaseURL
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *dryRun {
		// No store, no providers: Upload is never called.
		cfg.DatabaseURL = ""
	} else if cfg.DatabaseURL == "" {
		slog.Error("database URL required: set --database-url, CTECFLOW_DATABASE_URL, or DATABASE_URL")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := ctecflow.New(ctx, cfg)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	if *file != "" {
		if err := uploadOne(ctx, p, *file, *dryRun); err != nil {
			slog.Error("upload failed", "file", filepath.Base(*file), "error", err)
			os.Exit(1)
		}
		return
	}

	var agg aggregate
	outcomes, batchErr := p.ProcessDirectory(ctx, *dir, cfg.Workers,
		ctecflow.WithHandler(func(ctx context.Context, out *ctecflow.Outcome) error {
			if out.Err != nil || *dryRun {
				return nil
			}
			up, err := p.Upload(ctx, out.Result)
			if err != nil {
				return err
			}
			agg.add(up)
			return nil
		}))

	var parsed, failed int
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
		} else {
			parsed++
		}
	}

	fmt.Println("=== Upload Summary ===")
	for _, out := range outcomes {
		if out.Err != nil {
			fmt.Printf("  FAILED  %-40s %v\n", filepath.Base(out.Path), out.Err)
		}
	}
	if *dryRun {
		fmt.Printf("  dry run: %d of %d files would upload\n", parsed, len(outcomes))
	} else {
		fmt.Printf("  %d of %d files uploaded: %d comments, %d ratings, %d distributions\n",
			parsed, len(outcomes), agg.comments, agg.ratings, agg.distributions)
	}

	if batchErr != nil && !errors.Is(batchErr, context.Canceled) {
		slog.Error("batch failed", "error", batchErr)
	}
	if batchErr != nil || failed > 0 {
		os.Exit(1)
	}
}

// aggregate tallies upload stats across a directory batch. The batch handler
// runs on a single goroutine, so plain ints are safe.
type aggregate struct {
	comments      int
	ratings       int
	distributions int
}

func (a *aggregate) add(up store.UploadResult) {
	a.comments += up.CommentsInserted
	a.ratings += up.RatingsInserted
	a.distributions += up.DistributionsInserted
}

// uploadOne handles the --file path: parse, optionally upload, print stats.
func uploadOne(ctx context.Context, p *ctecflow.Pipeline, path string, dryRun bool) error {
	res, err := p.ParseFile(ctx, path)
	if err != nil {
		return err
	}

	info := res.CourseInfo
	fmt.Printf("%s: %s %s (%s %d, %s)\n", filepath.Base(path),
		info.Code, info.Title, info.Quarter, info.Year, info.Instructor)
	fmt.Printf("  %d comments, %d distributions\n", len(res.Comments), len(res.Distributions))
	for _, issue := range ledger.Validate(res) {
		fmt.Printf("  issue: %s\n", issue)
	}
	if dryRun {
		fmt.Println("  dry run: not uploaded")
		return nil
	}

	up, err := p.Upload(ctx, res)
	if err != nil {
		return err
	}
	fmt.Printf("  uploaded: %d comments, %d ratings, %d distributions\n",
		up.CommentsInserted, up.RatingsInserted, up.DistributionsInserted)
	if len(up.SkippedQuestions) > 0 {
		fmt.Printf("  skipped questions: %d\n", len(up.SkippedQuestions))
	}
	return nil
}

// loadConfig returns the file-backed configuration when a path is given,
// defaults otherwise, with environment overrides applied on top.
func loadConfig(path string) (ctecflow.Config, error) {
	cfg := ctecflow.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = ctecflow.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}
