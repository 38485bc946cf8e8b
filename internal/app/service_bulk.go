package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"scriptorium/api/internal/markup"
	"scriptorium/api/internal/store"
	"scriptorium/api/internal/util"
)

// BulkFile is one uploaded document: an export record plus the filename it
// arrived under, used only for reporting.
type BulkFile struct {
	Name   string              `json:"name"`
	Record markup.ExportRecord `json:"record"`
}

// BulkFileResult reports the outcome for a single file.
type BulkFileResult struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	OK          bool   `json:"ok"`
	TextID      string `json:"textId,omitempty"`
	Annotations int    `json:"annotations,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BulkUpload ingests a batch of export records. Each file is validated and
// stored independently; one bad file never blocks the rest. A file is
// all-or-nothing: its text and annotations land in a single transaction.
func (s *Service) BulkUpload(ctx context.Context, session Session, files []BulkFile) (map[string]any, error) {
	if len(files) == 0 {
		return nil, validationError("no files in upload", nil)
	}

	results := make([]BulkFileResult, 0, len(files))
	succeeded := 0
	for _, file := range files {
		result := s.ingestFile(ctx, session, file)
		if result.OK {
			succeeded++
		}
		results = append(results, result)
	}

	return map[string]any{
		"results": results,
		"summary": map[string]any{
			"total":     len(files),
			"succeeded": succeeded,
			"failed":    len(files) - succeeded,
		},
	}, nil
}

func (s *Service) ingestFile(ctx context.Context, session Session, file BulkFile) BulkFileResult {
	record := file.Record
	result := BulkFileResult{Name: file.Name, Title: record.Text.Title}

	fail := func(message string) BulkFileResult {
		result.OK = false
		result.Error = message
		return result
	}

	if record.Text.Title == "" {
		return fail("text.title is required")
	}
	if record.Text.Content == "" {
		return fail("text.content is required")
	}
	if _, err := s.store.GetTextByTitle(ctx, record.Text.Title); err == nil {
		return fail("a text with this title already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fail("could not check title uniqueness")
	}

	text := store.Text{
		ID:          util.NewID("txt"),
		Title:       record.Text.Title,
		Content:     record.Text.Content,
		Source:      record.Text.Source,
		Language:    record.Text.Language,
		Translation: record.Text.Translation,
		Status:      store.StatusInitialized,
		UploadedBy:  &session.UserID,
	}

	annotations := make([]store.Annotation, 0, len(record.Annotations))
	for i, ann := range record.Annotations {
		converted, err := convertUploadAnnotation(text, ann)
		if err != nil {
			return fail(fmt.Sprintf("annotation %d: %v", i, err))
		}
		annotations = append(annotations, converted)
	}
	if len(annotations) > 0 {
		text.Status = store.StatusAnnotated
	}

	if err := s.store.InsertTextWithAnnotations(ctx, text, annotations); err != nil {
		return fail("could not store text")
	}
	s.indexText(text)
	for _, ann := range annotations {
		s.indexAnnotation(ann, text.Language)
	}

	result.OK = true
	result.TextID = text.ID
	result.Annotations = len(annotations)
	return result
}

// convertUploadAnnotation validates one uploaded annotation against its text
// and maps it to the storage shape. Bounds checking reuses the serializer's
// span validation so upload and export agree on what a legal span is.
func convertUploadAnnotation(text store.Text, ann markup.ExportAnnotation) (store.Annotation, error) {
	if ann.AnnotationType == "" {
		return store.Annotation{}, fmt.Errorf("annotation_type is required")
	}
	span := markup.Span{Start: ann.StartPosition, End: ann.EndPosition}
	if _, err := markup.ToMarkupSegments(text.Content, []markup.Span{span}); err != nil {
		return store.Annotation{}, err
	}

	actual := text.Content[ann.StartPosition:ann.EndPosition]
	if ann.SelectedText != "" && ann.SelectedText != actual {
		return store.Annotation{}, fmt.Errorf("selected_text does not match content at [%d,%d)", ann.StartPosition, ann.EndPosition)
	}

	confidence := 100
	if ann.Confidence != nil {
		confidence = *ann.Confidence
	}
	if confidence < 0 || confidence > 100 {
		return store.Annotation{}, fmt.Errorf("confidence must be between 0 and 100")
	}
	if !validLevel(ann.Level) {
		return store.Annotation{}, fmt.Errorf("level must be minor, major, or critical")
	}

	label := ann.Label
	if label == "" {
		label = ann.AnnotationType
	}

	return store.Annotation{
		ID:           util.NewID("ann"),
		TextID:       text.ID,
		Type:         ann.AnnotationType,
		Start:        ann.StartPosition,
		End:          ann.EndPosition,
		SelectedText: actual,
		Label:        label,
		Name:         ann.Name,
		Level:        ann.Level,
		Meta:         ann.Meta,
		Confidence:   confidence,
	}, nil
}

func validLevel(level string) bool {
	switch level {
	case "", "minor", "major", "critical":
		return true
	default:
		return false
	}
}
