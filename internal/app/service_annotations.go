package app

import (
	"context"
	"fmt"

	"scriptorium/api/internal/search"
	"scriptorium/api/internal/store"
	"scriptorium/api/internal/util"
)

// AnnotationInput carries a new or updated annotation.
type AnnotationInput struct {
	Type         string
	Start        int
	End          int
	SelectedText string
	Label        string
	Name         string
	Level        string
	Meta         map[string]any
	Confidence   *int
}

func (s *Service) ListAnnotations(ctx context.Context, textID string) (map[string]any, error) {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return nil, err
	}
	items, err := s.store.ListAnnotationsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return map[string]any{"annotations": annotationPayloads(items)}, nil
}

func (s *Service) CreateAnnotation(ctx context.Context, session Session, textID string, in AnnotationInput) (map[string]any, error) {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}

	item, err := s.buildAnnotation(text, in)
	if err != nil {
		return nil, err
	}
	item.ID = util.NewID("ann")
	item.TextID = textID
	item.AnnotatorID = &session.UserID

	if err := s.store.InsertAnnotation(ctx, item); err != nil {
		return nil, fmt.Errorf("create annotation: %w", err)
	}

	// First annotation on a fresh text moves it into progress.
	if text.Status == store.StatusInitialized {
		if err := s.store.UpdateTextStatus(ctx, textID, store.StatusProgress); err != nil {
			return nil, fmt.Errorf("advance text status: %w", err)
		}
	}

	s.indexAnnotation(item, text.Language)
	return map[string]any{"annotation": annotationPayload(item)}, nil
}

func (s *Service) UpdateAnnotation(ctx context.Context, session Session, annotationID string, in AnnotationInput) (map[string]any, error) {
	current, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if !s.canEditAnnotation(session, current) {
		return nil, forbidden("You can only edit your own annotations")
	}
	text, err := s.store.GetText(ctx, current.TextID)
	if err != nil {
		return nil, err
	}

	item, err := s.buildAnnotation(text, in)
	if err != nil {
		return nil, err
	}
	item.ID = current.ID
	item.TextID = current.TextID
	item.AnnotatorID = current.AnnotatorID

	if err := s.store.UpdateAnnotation(ctx, item); err != nil {
		return nil, fmt.Errorf("update annotation: %w", err)
	}
	s.indexAnnotation(item, text.Language)
	return map[string]any{"annotation": annotationPayload(item)}, nil
}

func (s *Service) DeleteAnnotation(ctx context.Context, session Session, annotationID string) error {
	current, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return err
	}
	if !s.canEditAnnotation(session, current) {
		return forbidden("You can only delete your own annotations")
	}
	if err := s.store.DeleteAnnotation(ctx, annotationID); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if s.search != nil {
		s.search.DeleteAnnotation(annotationID)
	}
	return nil
}

// ClearAnnotations drops all of the caller's annotations on a text, for
// starting an annotation pass over.
func (s *Service) ClearAnnotations(ctx context.Context, session Session, textID string) (map[string]any, error) {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteAnnotationsByTextAndAnnotator(ctx, textID, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("clear annotations: %w", err)
	}
	return map[string]any{"deleted": deleted}, nil
}

// PositionSpan is one offset pair submitted for validation.
type PositionSpan struct {
	Start        int    `json:"startPosition"`
	End          int    `json:"endPosition"`
	SelectedText string `json:"selectedText"`
}

// ValidatePositions checks submitted spans against the text without storing
// anything. Clients use it to verify offsets survived copy-paste.
func (s *Service) ValidatePositions(ctx context.Context, textID string, spans []PositionSpan) (map[string]any, error) {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(spans))
	allValid := true
	for i, span := range spans {
		entry := map[string]any{"index": i, "valid": true}
		switch {
		case span.Start < 0 || span.Start > span.End || span.End > len(text.Content):
			entry["valid"] = false
			entry["error"] = "offsets out of range"
		case span.SelectedText != "" && span.SelectedText != text.Content[span.Start:span.End]:
			entry["valid"] = false
			entry["error"] = "selected text does not match content"
			entry["expected"] = text.Content[span.Start:span.End]
		}
		if entry["valid"] == false {
			allValid = false
		}
		results = append(results, entry)
	}

	return map[string]any{"valid": allValid, "spans": results}, nil
}

func (s *Service) buildAnnotation(text store.Text, in AnnotationInput) (store.Annotation, error) {
	if in.Type == "" {
		return store.Annotation{}, validationError("annotationType is required", nil)
	}
	if in.Start < 0 || in.Start > in.End || in.End > len(text.Content) {
		return store.Annotation{}, validationError("annotation offsets out of range", map[string]any{
			"startPosition": in.Start,
			"endPosition":   in.End,
			"contentLength": len(text.Content),
		})
	}
	if !validLevel(in.Level) {
		return store.Annotation{}, validationError("level must be minor, major, or critical", nil)
	}
	confidence := 100
	if in.Confidence != nil {
		confidence = *in.Confidence
	}
	if confidence < 0 || confidence > 100 {
		return store.Annotation{}, validationError("confidence must be between 0 and 100", nil)
	}

	actual := text.Content[in.Start:in.End]
	if in.SelectedText != "" && in.SelectedText != actual {
		return store.Annotation{}, validationError("selectedText does not match content at the given offsets", map[string]any{
			"expected": actual,
		})
	}

	label := in.Label
	if label == "" {
		label = in.Type
	}

	return store.Annotation{
		Type:         in.Type,
		Start:        in.Start,
		End:          in.End,
		SelectedText: actual,
		Label:        label,
		Name:         in.Name,
		Level:        in.Level,
		Meta:         in.Meta,
		Confidence:   confidence,
	}, nil
}

func (s *Service) canEditAnnotation(session Session, item store.Annotation) bool {
	if session.Role == "admin" {
		return true
	}
	return item.AnnotatorID != nil && *item.AnnotatorID == session.UserID
}

func (s *Service) indexAnnotation(item store.Annotation, language string) {
	if s.search == nil {
		return
	}
	s.search.IndexAnnotation(search.AnnotationRecord{
		ID:           item.ID,
		SelectedText: item.SelectedText,
		Label:        item.Label,
		Name:         item.Name,
		Type:         item.Type,
		TextID:       item.TextID,
		Language:     language,
	})
}
