package app

import (
	"context"
	"fmt"
	"log"

	"scriptorium/api/internal/store"
	"scriptorium/api/internal/util"
)

// StartReviewSession claims an annotated text for the caller and returns
// everything a review pass needs: the text, its annotations with any prior
// decisions, and the progress counters.
func (s *Service) StartReviewSession(ctx context.Context, session Session, textID string) (map[string]any, error) {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}
	if text.Status != store.StatusAnnotated {
		return nil, conflict("TEXT_NOT_REVIEWABLE", "Text is not ready for review")
	}
	if text.AnnotatorID != nil && *text.AnnotatorID == session.UserID {
		return nil, forbidden("You cannot review your own annotations")
	}
	if text.ReviewerID != nil && *text.ReviewerID != session.UserID {
		return nil, conflict("TEXT_CLAIMED", "Another reviewer already claimed this text")
	}
	if text.ReviewerID == nil {
		if err := s.store.AssignReviewer(ctx, textID, session.UserID); err != nil {
			return nil, fmt.Errorf("claim review: %w", err)
		}
		text.ReviewerID = &session.UserID
	}

	annotations, err := s.store.ListAnnotationsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	progress, err := s.reviewProgress(ctx, textID, len(annotations))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"text":        textPayload(text),
		"annotations": annotationPayloads(annotations),
		"progress":    progress,
	}, nil
}

// SubmitReview records an agree/disagree decision on one annotation. A
// repeated decision by the same reviewer replaces the earlier one.
func (s *Service) SubmitReview(ctx context.Context, session Session, annotationID, decision, comment string) (map[string]any, error) {
	if decision != store.DecisionAgree && decision != store.DecisionDisagree {
		return nil, validationError("decision must be agree or disagree", nil)
	}
	annotation, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if annotation.AnnotatorID != nil && *annotation.AnnotatorID == session.UserID {
		return nil, forbidden("You cannot review your own annotations")
	}
	if decision == store.DecisionDisagree && comment == "" {
		return nil, validationError("a disagree decision needs a comment", nil)
	}

	review := store.Review{
		ID:           util.NewID("rev"),
		AnnotationID: annotationID,
		ReviewerID:   session.UserID,
		Decision:     decision,
		Comment:      comment,
	}
	if err := s.store.UpsertReview(ctx, review); err != nil {
		return nil, fmt.Errorf("submit review: %w", err)
	}
	return map[string]any{"review": reviewPayload(review)}, nil
}

// ReviewProgress reports how far the review of a text has come.
func (s *Service) ReviewProgress(ctx context.Context, textID string) (map[string]any, error) {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return nil, err
	}
	total, err := s.store.CountAnnotationsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("count annotations: %w", err)
	}
	progress, err := s.reviewProgress(ctx, textID, total)
	if err != nil {
		return nil, err
	}
	return map[string]any{"progress": progress}, nil
}

// FinishReview closes the review of a text. Full agreement marks it
// reviewed; any disagreement sends it back to the annotator for revision,
// with an email nudge when mail is configured.
func (s *Service) FinishReview(ctx context.Context, session Session, textID string) (map[string]any, error) {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return nil, err
	}
	if text.Status != store.StatusAnnotated {
		return nil, conflict("TEXT_NOT_REVIEWABLE", "Text is not under review")
	}
	if text.ReviewerID == nil || *text.ReviewerID != session.UserID {
		return nil, forbidden("Only the claiming reviewer can finish this review")
	}

	total, err := s.store.CountAnnotationsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("count annotations: %w", err)
	}
	agreed, disagreed, err := s.store.CountReviewsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}
	if agreed+disagreed < total {
		return nil, conflict("REVIEW_INCOMPLETE",
			fmt.Sprintf("%d of %d annotations reviewed", agreed+disagreed, total))
	}

	status := store.StatusReviewed
	if disagreed > 0 {
		status = store.StatusNeedsRevision
	}
	if err := s.store.UpdateTextStatus(ctx, textID, status); err != nil {
		return nil, fmt.Errorf("finish review: %w", err)
	}

	if status == store.StatusNeedsRevision {
		s.notifyRevisionRequested(ctx, text)
	}

	return map[string]any{
		"status":    status,
		"agreed":    agreed,
		"disagreed": disagreed,
	}, nil
}

// ListReviews returns every decision recorded against a text's annotations.
func (s *Service) ListReviews(ctx context.Context, textID string) (map[string]any, error) {
	if _, err := s.store.GetText(ctx, textID); err != nil {
		return nil, err
	}
	reviews, err := s.store.ListReviewsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	payloads := make([]map[string]any, 0, len(reviews))
	for _, review := range reviews {
		payloads = append(payloads, reviewPayload(review))
	}
	return map[string]any{"reviews": payloads}, nil
}

func (s *Service) reviewProgress(ctx context.Context, textID string, total int) (map[string]any, error) {
	agreed, disagreed, err := s.store.CountReviewsByText(ctx, textID)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}
	return map[string]any{
		"total":     total,
		"reviewed":  agreed + disagreed,
		"agreed":    agreed,
		"disagreed": disagreed,
	}, nil
}

func (s *Service) notifyRevisionRequested(ctx context.Context, text store.Text) {
	if s.email == nil || !s.email.IsConfigured() || text.AnnotatorID == nil {
		return
	}
	annotator, err := s.store.GetUserByID(ctx, *text.AnnotatorID)
	if err != nil {
		log.Printf("revision email: load annotator %s: %v", *text.AnnotatorID, err)
		return
	}
	name := annotator.FullName
	if name == "" {
		name = annotator.Username
	}
	if err := s.email.SendRevisionRequestedEmail(annotator.Email, name, text.Title); err != nil {
		log.Printf("revision email to %s: %v", annotator.Email, err)
	}
}
