// Package export renders annotated texts for download: JSON record
// archives, markup documents, and PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatJSON   Format = "json"
	FormatMarkup Format = "markup"
	FormatPDF    Format = "pdf"
)

// Request selects which texts to export and how.
type Request struct {
	From       time.Time
	To         time.Time
	FilterType string // "annotated" or "reviewed"
	Format     Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Stats summarizes corpus progress for a date range.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	Annotations int            `json:"annotations"`
	Agreed      int            `json:"agreed"`
	Disagreed   int            `json:"disagreed"`
}

var (
	// ErrNoTexts indicates the date range matched nothing to export.
	ErrNoTexts = errors.New("export: no texts in range")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
