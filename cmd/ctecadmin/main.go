// Command ctecadmin runs the administrative jobs behind the evaluation
// database: schema setup, survey question seeding, retrieval chunk builds,
// embedding backfills, AI summary refreshes, metric recomputes, and the
// course catalog scraper.
//
// Usage:
//
//	go run ./cmd/ctecadmin init
//	go run ./cmd/ctecadmin seed-questions
//	go run ./cmd/ctecadmin build-chunks
//	go run ./cmd/ctecadmin embed --limit 500
//	go run ./cmd/ctecadmin refresh-summaries --entity-type course_offering
//	go run ./cmd/ctecadmin metrics
//	go run ./cmd/ctecadmin scrape-catalog --out catalog.json --upload
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/calebgardner/ctecflow"
	"github.com/calebgardner/ctecflow/catalog"
	"github.com/calebgardner/ctecflow/summary"
)

const usage = `Usage: ctecadmin <command> [flags]

Commands:
  init               Create the database schema (tables, indexes, extensions)
  seed-questions     Insert the standard survey questions and options
  build-chunks       Rebuild retrieval chunks for comments and catalog text
  embed              Embed chunks that have no embedding yet
  refresh-summaries  Regenerate stale AI summaries
  metrics            Recompute per-course aggregate metrics
  scrape-catalog     Scrape the course catalog, optionally uploading it

Run "ctecadmin <command> -h" for command flags.`

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "init":
		err = runInit(ctx, args)
	case "seed-questions":
		err = runSeedQuestions(ctx, args)
	case "build-chunks":
		err = runBuildChunks(ctx, args)
	case "embed":
		err = runEmbed(ctx, args)
	case "refresh-summaries":
		err = runRefreshSummaries(ctx, args)
	case "metrics":
		err = runMetrics(ctx, args)
	case "scrape-catalog":
		err = runScrapeCatalog(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	fs.Parse(args)

	p, err := openPipeline(ctx, *configPath, *databaseURL)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Store().Init(ctx); err != nil {
		return err
	}
	fmt.Println("schema initialized")
	return nil
}

func runSeedQuestions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed-questions", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	fs.Parse(args)

	p, err := openPipeline(ctx, *configPath, *databaseURL)
	if err != nil {
		return err
	}
	defer p.Close()

	n, err := p.Store().SeedSurveyQuestions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d survey questions seeded\n", n)
	return nil
}

func runBuildChunks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build-chunks", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	fs.Parse(args)

	p, err := openPipeline(ctx, *configPath, *databaseURL)
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.BuildChunks(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("chunks inserted: %d comment, %d instructor, %d catalog\n",
		stats.Comments, stats.Instructors, stats.Catalog)
	return nil
}

func runEmbed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	limit := fs.Int("limit", 0, "Max chunks to embed this run (0 = all)")
	fs.Parse(args)

	p, err := openPipeline(ctx, *configPath, *databaseURL)
	if err != nil {
		return err
	}
	defer p.Close()

	n, err := p.EmbedPending(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("%d chunks embedded\n", n)
	return nil
}

func runRefreshSummaries(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("refresh-summaries", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	dryRun := fs.Bool("dry-run", false, "Report stale entities without calling the model")
	entityType := fs.String("entity-type", "", "Restrict to one entity type: course_offering, instructor, course")
	force := fs.Bool("force", false, "Refresh every entity with source material, not just stale ones")
	limit := fs.Int("limit", 0, "Max entities to refresh across all types (0 = all)")
	fs.Parse(args)

	p, err := openPipeline(ctx, *configPath, *databaseURL)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.RefreshSummaries(ctx, summary.Options{
		DryRun:     *dryRun,
		EntityType: *entityType,
		Force:      *force,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}

	verb := "refreshed"
	if *dryRun {
		verb = "stale"
	}
	fmt.Printf("offerings: %d/%d %s\n", res.Offerings.Successful, res.Offerings.Total, verb)
	fmt.Printf("instructors: %d/%d %s\n", res.Instructors.Successful, res.Instructors.Total, verb)
	fmt.Printf("courses: %d/%d %s\n", res.Courses.Successful, res.Courses.Total, verb)
	for _, msg := range append(append(res.Offerings.Errors, res.Instructors.Errors...), res.Courses.Errors...) {
		fmt.Printf("  error: %s\n", msg)
	}
	if res.Failed() > 0 {
		return fmt.Errorf("%d of %d summaries failed", res.Failed(), res.Total())
	}
	return nil
}

func runMetrics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	fs.Parse(args)

	p, err := openPipeline(ctx, *configPath, *databaseURL)
	if err != nil {
		return err
	}
	defer p.Close()

	n, err := p.Store().RefreshCourseMetrics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d course metric rows recomputed\n", n)
	return nil
}

func runScrapeCatalog(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scrape-catalog", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	databaseURL := fs.String("database-url", "", "Postgres connection string (only needed with --upload)")
	outPath := fs.String("out", "", "Write scraped courses as JSON to this path")
	departments := fs.String("departments", "", "Comma-separated department codes (default all)")
	limit := fs.Int("limit", 0, "Max departments to scrape (0 = all)")
	delay := fs.Duration("delay", 0, "Delay between requests (default from config)")
	workers := fs.Int("workers", 0, "Concurrent department fetches (default from config)")
	upload := fs.Bool("upload", false, "Upload scraped departments and courses to the database")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *databaseURL != "" {
		cfg.DatabaseURL = *databaseURL
	}
	if *delay > 0 {
		cfg.Catalog.Delay = *delay
	}
	if *workers > 0 {
		cfg.Catalog.Workers = *workers
	}
	if !*upload {
		cfg.DatabaseURL = ""
	} else if cfg.DatabaseURL == "" {
		return errors.New("--upload requires a database URL: set --database-url, CTECFLOW_DATABASE_URL, or DATABASE_URL")
	}

	p, err := ctecflow.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	opts := catalog.Options{Limit: *limit}
	if *departments != "" {
		for _, code := range strings.Split(*departments, ",") {
			if code = strings.TrimSpace(code); code != "" {
				opts.Departments = append(opts.Departments, code)
			}
		}
	}

	res, err := p.ScrapeCatalog(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Printf("scraped %d departments, %d courses\n", len(res.Departments), len(res.Courses))
	for _, f := range res.Failed {
		fmt.Printf("  failed: %s\n", f)
	}

	if *outPath != "" {
		if err := catalog.SaveJSON(res.Courses, *outPath); err != nil {
			return err
		}
		fmt.Printf("catalog written to %s\n", *outPath)
	}
	if *upload {
		stats, err := p.UploadCatalog(ctx, res)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded: %d departments, %d courses, %d linked\n",
			stats.Departments, stats.Courses, stats.Linked)
	}
	return nil
}

// openPipeline loads configuration and builds a database-backed pipeline.
// databaseURL overrides the configured connection string when non-empty.
func openPipeline(ctx context.Context, configPath, databaseURL string) (*ctecflow.Pipeline, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL required: set --database-url, CTECFLOW_DATABASE_URL, or DATABASE_URL")
	}
	return ctecflow.New(ctx, cfg)
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
