package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"scriptorium/api/internal/search"
	"scriptorium/api/internal/store"
	"scriptorium/api/internal/util"
)

// CreateTextInput carries a new corpus text.
type CreateTextInput struct {
	Title       string
	Content     string
	Source      string
	Language    string
	Translation string
}

// validTransitions is the text lifecycle. Admins may jump states; everyone
// else follows the graph.
var validTransitions = map[string][]string{
	store.StatusInitialized:   {store.StatusProgress, store.StatusSkipped},
	store.StatusProgress:      {store.StatusAnnotated, store.StatusSkipped, store.StatusInitialized},
	store.StatusAnnotated:     {store.StatusReviewed, store.StatusNeedsRevision, store.StatusProgress},
	store.StatusNeedsRevision: {store.StatusProgress, store.StatusAnnotated},
	store.StatusReviewed:      {},
	store.StatusSkipped:       {store.StatusInitialized},
}

func canTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *Service) CreateText(ctx context.Context, session Session, in CreateTextInput) (map[string]any, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, validationError("title is required", nil)
	}
	if in.Content == "" {
		return nil, validationError("content is required", nil)
	}
	if _, err := s.store.GetTextByTitle(ctx, in.Title); err == nil {
		return nil, conflict("TITLE_EXISTS", "A text with this title already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check title: %w", err)
	}

	text := store.Text{
		ID:          util.NewID("txt"),
		Title:       in.Title,
		Content:     in.Content,
		Source:      in.Source,
		Language:    in.Language,
		Translation: in.Translation,
		Status:      store.StatusInitialized,
		UploadedBy:  &session.UserID,
	}
	if err := s.store.InsertText(ctx, text); err != nil {
		return nil, fmt.Errorf("create text: %w", err)
	}
	s.indexText(text)

	return map[string]any{"text": textPayload(text)}, nil
}

func (s *Service) GetTextDetail(ctx context.Context, textID string) (map[string]any, error) {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}
	annotations, err := s.store.ListAnnotationsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return map[string]any{
		"text":        textPayload(text),
		"annotations": annotationPayloads(annotations),
	}, nil
}

func (s *Service) ListTexts(ctx context.Context, filter store.TextFilter) (map[string]any, error) {
	if filter.Status != "" && !store.IsValidStatus(filter.Status) {
		return nil, validationError("unknown status filter", map[string]any{"status": filter.Status})
	}
	items, err := s.store.ListTexts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}
	return map[string]any{"texts": textPayloads(items)}, nil
}

// UpdateTextInput is a partial update; nil fields are untouched. ReviewerID
// uses a double pointer so explicit null clears the assignment.
type UpdateTextInput struct {
	Title       *string
	Content     *string
	Source      *string
	Language    *string
	Translation *string
	Status      *string
	ReviewerID  **string
}

func (s *Service) UpdateText(ctx context.Context, session Session, textID string, in UpdateTextInput) (map[string]any, error) {
	current, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil && *in.Title != current.Title {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, validationError("title is required", nil)
		}
		if _, err := s.store.GetTextByTitle(ctx, *in.Title); err == nil {
			return nil, conflict("TITLE_EXISTS", "A text with this title already exists")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check title: %w", err)
		}
	}
	if in.Status != nil {
		if !store.IsValidStatus(*in.Status) {
			return nil, validationError("unknown status", map[string]any{"status": *in.Status})
		}
		if session.Role != "admin" && !canTransition(current.Status, *in.Status) {
			return nil, conflict("INVALID_STATUS_TRANSITION",
				fmt.Sprintf("cannot move text from %s to %s", current.Status, *in.Status))
		}
	}
	if in.ReviewerID != nil && *in.ReviewerID != nil {
		if _, err := s.store.GetUserByID(ctx, **in.ReviewerID); err != nil {
			return nil, validationError("reviewer does not exist", nil)
		}
	}

	if err := s.store.UpdateText(ctx, textID, in.Title, in.Content, in.Source, in.Language, in.Translation, in.Status, in.ReviewerID); err != nil {
		return nil, fmt.Errorf("update text: %w", err)
	}

	updated, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}
	s.indexText(updated)
	return map[string]any{"text": textPayload(updated)}, nil
}

func (s *Service) DeleteText(ctx context.Context, textID string) error {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteText(ctx, textID); err != nil {
		return fmt.Errorf("delete text: %w", err)
	}
	if s.search != nil {
		s.search.DeleteText(textID)
	}
	return nil
}

// NextTask claims the next unassigned text for the caller. A nil text in
// the payload means the queue is empty.
func (s *Service) NextTask(ctx context.Context, session Session) (map[string]any, error) {
	text, err := s.store.NextTaskText(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("next task: %w", err)
	}
	if text == nil {
		return map[string]any{"text": nil}, nil
	}
	return map[string]any{"text": textPayload(*text)}, nil
}

// RejectTask records the caller never wants this text and releases any
// claim they hold on it.
func (s *Service) RejectTask(ctx context.Context, session Session, textID string) error {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return err
	}
	if err := s.store.RejectText(ctx, session.UserID, textID); err != nil {
		return fmt.Errorf("reject task: %w", err)
	}
	return nil
}

func (s *Service) AssignReviewer(ctx context.Context, textID, reviewerID string) (map[string]any, error) {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return nil, err
	}
	reviewer, err := s.store.GetUserByID(ctx, reviewerID)
	if err != nil {
		return nil, validationError("reviewer does not exist", nil)
	}
	if reviewer.Role != "reviewer" && reviewer.Role != "admin" {
		return nil, validationError("user is not a reviewer", map[string]any{"role": reviewer.Role})
	}
	if err := s.store.AssignReviewer(ctx, textID, reviewerID); err != nil {
		return nil, fmt.Errorf("assign reviewer: %w", err)
	}
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": textPayload(text)}, nil
}

func (s *Service) ReviewQueue(ctx context.Context, session Session, offset, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.store.ListTextsForReview(ctx, session.UserID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("review queue: %w", err)
	}
	return map[string]any{"texts": textPayloads(items)}, nil
}

func (s *Service) StatusCounts(ctx context.Context) (map[string]any, error) {
	counts, err := s.store.CountTextsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	return map[string]any{"counts": counts}, nil
}

func (s *Service) indexText(t store.Text) {
	if s.search == nil {
		return
	}
	s.search.IndexText(search.TextRecord{
		ID:       t.ID,
		Title:    t.Title,
		Content:  t.Content,
		Language: t.Language,
		Status:   t.Status,
	})
}
