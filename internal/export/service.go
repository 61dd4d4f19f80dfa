package export

import (
	"context"
	"fmt"
	"time"
)

type converter func(ctx context.Context, html string, title string) (*Result, error)

// Service renders timelines and hands the HTML to a converter.
type Service struct {
	pdf  converter
	docx converter
	now  func() time.Time
}

func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	var convert converter
	switch req.Format {
	case FormatPDF:
		convert = s.pdf
	case FormatDOCX:
		convert = s.docx
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if req.GeneratedAt.IsZero() {
		req.GeneratedAt = s.now()
	}

	html, err := RenderTimelineHTML(buildTemplateData(req))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return convert(ctx, html, req.Lead.Name+" timeline")
}
