package parser

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfTextReader reads the embedded text layer with a pure-Go PDF parser.
type pdfTextReader struct{}

func (pdfTextReader) ReadPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A corrupt text stream reads as an empty page; the caller
			// decides whether a fully empty document is fatal.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// cleanText trims every line, drops empty ones, and joins the rest with
// single spaces, unwrapping the document into one searchable string.
func cleanText(text string) string {
	if text == "" {
		return ""
	}
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
