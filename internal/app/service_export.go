package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"scriptorium/api/internal/export"
)

func (s *Service) exportService() (*export.Service, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	return s.export, nil
}

func validExportFilter(filterType string) bool {
	return filterType == "annotated" || filterType == "reviewed"
}

func (s *Service) ExportStats(ctx context.Context, from, to time.Time, filterType string) (map[string]any, error) {
	svc, err := s.exportService()
	if err != nil {
		return nil, err
	}
	if !validExportFilter(filterType) {
		return nil, validationError("type must be annotated or reviewed", nil)
	}
	stats, err := svc.Stats(ctx, from, to, filterType)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stats": stats}, nil
}

func (s *Service) ExportArchive(ctx context.Context, from, to time.Time, filterType string, format export.Format) (*export.Result, error) {
	svc, err := s.exportService()
	if err != nil {
		return nil, err
	}
	if !validExportFilter(filterType) {
		return nil, validationError("type must be annotated or reviewed", nil)
	}
	if format != export.FormatJSON && format != export.FormatMarkup {
		return nil, validationError("format must be json or markup", nil)
	}
	result, err := svc.ExportRange(ctx, export.Request{
		From:       from,
		To:         to,
		FilterType: filterType,
		Format:     format,
	})
	if errors.Is(err, export.ErrNoTexts) {
		return nil, notFound("No texts matched the export range")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ExportSingleText(ctx context.Context, textID string, format export.Format) (*export.Result, error) {
	svc, err := s.exportService()
	if err != nil {
		return nil, err
	}
	if format != export.FormatJSON && format != export.FormatMarkup && format != export.FormatPDF {
		return nil, validationError("format must be json, markup, or pdf", nil)
	}
	result, err := svc.ExportText(ctx, textID, format)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is unavailable on this host", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
