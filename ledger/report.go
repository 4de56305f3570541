package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Report bundles a run with its documents for export.
type Report struct {
	Run       *BatchRun  `json:"run"`
	Documents []Document `json:"documents"`
}

// BuildReport loads a run and its documents.
func (l *Ledger) BuildReport(ctx context.Context, runID int64) (*Report, error) {
	run, err := l.Run(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", runID, err)
	}
	docs, err := l.Documents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading documents for run %d: %w", runID, err)
	}
	return &Report{Run: run, Documents: docs}, nil
}

// WriteJSON exports a run and its documents as indented JSON.
func (l *Ledger) WriteJSON(ctx context.Context, runID int64, path string) error {
	report, err := l.BuildReport(ctx, runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// reportSheet is the sheet name used in XLSX exports.
const reportSheet = "Batch Report"

var reportHeaders = []string{
	"Filename", "Status", "Course", "Instructor", "Quarter", "Year",
	"Comments", "Ratings", "Issues", "Error",
}

// WriteXLSX exports a run's documents as a spreadsheet, one row per PDF,
// failures first.
func (l *Ledger) WriteXLSX(ctx context.Context, runID int64, path string) error {
	report, err := l.BuildReport(ctx, runID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for r, d := range report.Documents {
		values := []any{
			d.Filename, d.Status, d.Course, d.Instructor, d.Quarter, d.Year,
			d.Comments, d.Ratings, strings.Join(d.Issues, "; "), d.Error,
		}
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return fmt.Errorf("report cell: %w", err)
			}
			if err := f.SetCellValue(reportSheet, cell, v); err != nil {
				return fmt.Errorf("writing row %d: %w", r+2, err)
			}
		}
	}

	if err := f.SetColWidth(reportSheet, "A", "A", 40); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	if err := f.SetColWidth(reportSheet, "I", "J", 50); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}
