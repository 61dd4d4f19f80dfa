// Package export renders a lead's reconciled timeline as a PDF or DOCX file.
package export

import (
	"errors"
	"time"

	"leaddesk/api/internal/store"
	"leaddesk/api/internal/timeline"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case FormatPDF, FormatDOCX:
		return Format(value), true
	default:
		return "", false
	}
}

// Request contains everything needed to render one export.
type Request struct {
	Lead        store.Lead
	Stage       string
	Items       []timeline.Interaction
	Warnings    []timeline.Warning
	Format      Format
	GeneratedBy string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
