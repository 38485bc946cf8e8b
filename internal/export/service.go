package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"scriptorium/api/internal/markup"
	"scriptorium/api/internal/store"
)

// DataStore is the slice of the relational store the export service
// reads from. The Postgres store satisfies it; tests plug in a fake.
type DataStore interface {
	GetText(ctx context.Context, textID string) (store.Text, error)
	ListTextsByDateRange(ctx context.Context, from, to time.Time, filterType string) ([]store.Text, error)
	ListAnnotationsByText(ctx context.Context, textID string) ([]store.Annotation, error)
	CountTextsByStatus(ctx context.Context) (map[string]int, error)
	CountReviewsByText(ctx context.Context, textID string) (agreed, disagreed int, err error)
}

// Uploader mirrors finished archives to object storage. May be nil.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) error
}

// Service provides text export functionality
type Service struct {
	store    DataStore
	uploader Uploader
}

// NewService builds an export service. A nil uploader disables the
// object-storage mirror without changing any export behavior.
func NewService(store DataStore, uploader Uploader) *Service {
	return &Service{store: store, uploader: uploader}
}

// Stats computes corpus progress counters for texts updated in the range.
func (s *Service) Stats(ctx context.Context, from, to time.Time, filterType string) (*Stats, error) {
	byStatus, err := s.store.CountTextsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	stats := &Stats{ByStatus: byStatus}
	for _, n := range byStatus {
		stats.Total += n
	}

	texts, err := s.store.ListTextsByDateRange(ctx, from, to, filterType)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}
	for _, text := range texts {
		annotations, err := s.store.ListAnnotationsByText(ctx, text.ID)
		if err != nil {
			return nil, fmt.Errorf("list annotations for %s: %w", text.ID, err)
		}
		stats.Annotations += len(annotations)

		agreed, disagreed, err := s.store.CountReviewsByText(ctx, text.ID)
		if err != nil {
			return nil, fmt.Errorf("count reviews for %s: %w", text.ID, err)
		}
		stats.Agreed += agreed
		stats.Disagreed += disagreed
	}
	return stats, nil
}

// ExportRange exports every text in the date range as a zip archive, one
// entry per text, in the requested format.
func (s *Service) ExportRange(ctx context.Context, req Request) (*Result, error) {
	texts, err := s.store.ListTextsByDateRange(ctx, req.From, req.To, req.FilterType)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}

	var entries []archiveEntry
	for _, text := range texts {
		annotations, err := s.store.ListAnnotationsByText(ctx, text.ID)
		if err != nil {
			return nil, fmt.Errorf("list annotations for %s: %w", text.ID, err)
		}
		doc, spans := toMarkupInput(text, annotations)

		switch req.Format {
		case FormatMarkup:
			segments, err := markup.ToMarkupSegments(doc.Content, spans)
			if err != nil {
				return nil, fmt.Errorf("segment text %s: %w", text.ID, err)
			}
			entries = append(entries, archiveEntry{
				Name: sanitizeFilename(text.Title) + ".xml",
				Data: []byte(markup.RenderDocument(doc, segments)),
			})
		default:
			record := markup.ToExportRecord(doc, spans)
			data, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("marshal record %s: %w", text.ID, err)
			}
			entries = append(entries, archiveEntry{
				Name: sanitizeFilename(text.Title) + ".json",
				Data: data,
			})
		}
	}

	data, err := buildZip(entries)
	if err != nil {
		return nil, fmt.Errorf("build archive: %w", err)
	}

	result := &Result{
		Data:     data,
		Filename: fmt.Sprintf("texts-%s-%s.zip", req.From.Format("20060102"), req.To.Format("20060102")),
		MimeType: "application/zip",
	}
	s.mirror(ctx, result)
	return result, nil
}

// ExportText exports a single text as a markup document or a PDF.
func (s *Service) ExportText(ctx context.Context, textID string, format Format) (*Result, error) {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("get text: %w", err)
	}
	annotations, err := s.store.ListAnnotationsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	doc, spans := toMarkupInput(text, annotations)

	switch format {
	case FormatPDF:
		segments, err := markup.ToMarkupSegments(doc.Content, spans)
		if err != nil {
			return nil, fmt.Errorf("segment text: %w", err)
		}
		html, err := RenderTextHTML(templateDataFor(text, segments, annotations))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, text.Title)
	case FormatMarkup:
		segments, err := markup.ToMarkupSegments(doc.Content, spans)
		if err != nil {
			return nil, fmt.Errorf("segment text: %w", err)
		}
		return &Result{
			Data:     []byte(markup.RenderDocument(doc, segments)),
			Filename: sanitizeFilename(text.Title) + ".xml",
			MimeType: "application/xml",
		}, nil
	default:
		record := markup.ToExportRecord(doc, spans)
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(text.Title) + ".json",
			MimeType: "application/json",
		}, nil
	}
}

func (s *Service) mirror(ctx context.Context, result *Result) {
	if s.uploader == nil {
		return
	}
	if err := s.uploader.Upload(ctx, result.Filename, result.Data, result.MimeType); err != nil {
		log.Printf("export: mirror %s: %v", result.Filename, err)
	}
}

// toMarkupInput converts stored rows into the serializer's document and
// span shapes.
func toMarkupInput(text store.Text, annotations []store.Annotation) (markup.Document, []markup.Span) {
	doc := markup.Document{
		Title:       text.Title,
		Content:     text.Content,
		Language:    text.Language,
		Source:      text.Source,
		Translation: text.Translation,
	}
	spans := make([]markup.Span, 0, len(annotations))
	for _, a := range annotations {
		confidence := a.Confidence
		spans = append(spans, markup.Span{
			Start:        a.Start,
			End:          a.End,
			Type:         a.Type,
			SelectedText: a.SelectedText,
			Label:        a.Label,
			Name:         a.Name,
			Level:        a.Level,
			Meta:         a.Meta,
			Confidence:   &confidence,
		})
	}
	return doc, spans
}

func templateDataFor(text store.Text, segments []markup.Segment, annotations []store.Annotation) TemplateData {
	data := TemplateData{
		Title:    text.Title,
		Language: text.Language,
		Source:   text.Source,
		Status:   text.Status,
	}
	for _, segment := range segments {
		data.Segments = append(data.Segments, TemplateSegment{
			Text:      segment.Text,
			Annotated: segment.Annotated,
		})
	}
	for _, a := range annotations {
		label := a.Label
		if label == "" {
			label = a.Type
		}
		data.Annotations = append(data.Annotations, TemplateAnnotation{
			Label:        label,
			SelectedText: a.SelectedText,
			Level:        a.Level,
			Confidence:   a.Confidence,
		})
	}
	return data
}
