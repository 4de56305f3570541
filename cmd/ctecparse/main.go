// Command ctecparse parses a directory of CTEC PDF reports without touching
// the evaluation database. Every file's outcome lands in a local SQLite
// ledger, unchanged files are skipped based on their last recorded hash, and
// the run can be exported as JSON or a spreadsheet.
//
// Usage:
//
//	go run ./cmd/ctecparse \
//	  --dir ./data/ctecs \
//	  --out report.json \
//	  --xlsx report.xlsx \
//	  --workers 8
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
)

func main() {
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "", "Path to config file (JSON)")
		dir         = flag.String("dir", "", "Directory of CTEC PDFs to parse (required)")
		outPath     = flag.String("out", "", "Write the run report as JSON to this path")
		xlsxPath    = flag.String("xlsx", "", "Write the run report as a spreadsheet to this path")
		ledgerPath  = flag.String("ledger", "", "SQLite ledger path (default from config)")
		workers     = flag.Int("workers", 0, "Parse workers (default from config)")
		validate    = flag.Bool("validate-totals", true, "Validate OCR rating counts against printed totals")
		continueOCR = flag.Bool("continue-on-ocr-errors", false, "Record documents whose rating extraction failed as parsed, without ratings")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *dir == "" {
		slog.Error("missing required flag", "flag", "--dir")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	cfg.Parser.ValidateOCRTotals = *validate
	cfg.Parser.ContinueOnOCRErrors = *continueOCR
	cfg.Parser.Debug = *debug
	if *ledgerPath != "" {
		cfg.LedgerPath = *ledgerPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	led, err := ledger.New(cfg.LedgerPath)
	if err != nil {
		slog.Error("opening ledger", "path", cfg.LedgerPath, "error", err)
		os.Exit(1)
	}
	defer led.Close()

	runID, err := led.StartRun(ctx, *dir)
	if err != nil {
		slog.Error("starting ledger run", "error", err)
		os.Exit(1)
	}

	hashes, err := led.ParsedHashes(ctx)
	if err != nil {
		slog.Warn("reading previous hashes, reparsing everything", "error", err)
		hashes = nil
	}

	p := ctecflow.NewWithStore(cfg, nil, nil, nil)

	outcomes, batchErr := p.ProcessDirectory(ctx, *dir, cfg.Workers,
		ctecflow.WithSkipUnchanged(hashes),
		ctecflow.WithHandler(func(ctx context.Context, out *ctecflow.Outcome) error {
			_, err := led.RecordParse(ctx, runID, out.Path, out.ContentHash, out.Result, out.Err)
			return err
		}))

	if err := led.FinishRun(ctx, runID); err != nil {
		slog.Warn("finishing ledger run", "error", err)
	}
	if *outPath != "" {
		if err := led.WriteJSON(ctx, runID, *outPath); err != nil {
			slog.Error("writing JSON report", "path", *outPath, "error", err)
		}
	}
	if *xlsxPath != "" {
		if err := led.WriteXLSX(ctx, runID, *xlsxPath); err != nil {
			slog.Error("writing spreadsheet report", "path", *xlsxPath, "error", err)
		}
	}

	var parsed, failed, skipped int
	for _, out := range outcomes {
		switch {
		case out.Skipped:
			skipped++
		case out.Err != nil:
			failed++
		default:
			parsed++
		}
	}

	fmt.Println("=== Parse Summary ===")
	for _, out := range outcomes {
		if out.Err != nil {
			fmt.Printf("  FAILED  %-40s %v\n", filepath.Base(out.Path), out.Err)
		}
	}
	fmt.Printf("  %d files: %d parsed, %d failed, %d skipped\n",
		len(outcomes), parsed, failed, skipped)
	fmt.Printf("  ledger run %d recorded in %s\n", runID, cfg.LedgerPath)

	if batchErr != nil && !errors.Is(batchErr, context.Canceled) {
		slog.Error("batch failed", "error", batchErr)
	}
	if batchErr != nil || failed > 0 {
		os.Exit(1)
	}
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
