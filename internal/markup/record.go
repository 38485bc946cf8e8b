package markup

// ExportRecord is the structured export shape consumed by the bulk-upload
// ingestion path. The mapping is lossless: optional fields are present only
// when defined on the source, so a record round-trips field-for-field
// through upload and back.
type ExportRecord struct {
	Text        ExportText         `json:"text"`
	Annotations []ExportAnnotation `json:"annotations"`
}

type ExportText struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Translation string `json:"translation,omitempty"`
	Source      string `json:"source,omitempty"`
	Language    string `json:"language,omitempty"`
}

type ExportAnnotation struct {
	AnnotationType string         `json:"annotation_type"`
	StartPosition  int            `json:"start_position"`
	EndPosition    int            `json:"end_position"`
	Label          string         `json:"label"`
	Name           string         `json:"name,omitempty"`
	Level          string         `json:"level,omitempty"`
	SelectedText   string         `json:"selected_text,omitempty"`
	Confidence     *int           `json:"confidence,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// ToExportRecord maps a document and its full span list 1:1 into the export
// shape. It is pure and total: no reordering, no deduplication, and no
// validation of span offsets (callers are trusted). Label falls back to the
// annotation type so every exported annotation carries one.
func ToExportRecord(doc Document, spans []Span) ExportRecord {
	annotations := make([]ExportAnnotation, 0, len(spans))
	for _, span := range spans {
		label := span.Label
		if label == "" {
			label = span.Type
		}
		annotations = append(annotations, ExportAnnotation{
			AnnotationType: span.Type,
			StartPosition:  span.Start,
			EndPosition:    span.End,
			Label:          label,
			Name:           span.Name,
			Level:          span.Level,
			SelectedText:   span.SelectedText,
			Confidence:     span.Confidence,
			Meta:           span.Meta,
		})
	}
	return ExportRecord{
		Text: ExportText{
			Title:       doc.Title,
			Content:     doc.Content,
			Translation: doc.Translation,
			Source:      doc.Source,
			Language:    doc.Language,
		},
		Annotations: annotations,
	}
}
