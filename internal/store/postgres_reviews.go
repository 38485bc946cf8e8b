package store

import (
	"context"
	"fmt"
)

// UpsertReview records a reviewer's decision on an annotation. A reviewer
// re-reviewing the same annotation replaces their earlier decision.
func (s *PostgresStore) UpsertReview(ctx context.Context, item Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotation_reviews (id, annotation_id, reviewer_id, decision, comment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (annotation_id, reviewer_id)
		DO UPDATE SET decision=EXCLUDED.decision, comment=EXCLUDED.comment, created_at=NOW()
	`, item.ID, item.AnnotationID, item.ReviewerID, item.Decision, item.Comment)
	if err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewsByText(ctx context.Context, textID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.annotation_id, r.reviewer_id, r.decision, r.comment, r.created_at
		FROM annotation_reviews r
		JOIN annotations a ON a.id = r.annotation_id
		WHERE a.text_id=$1
		ORDER BY r.created_at
	`, textID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.AnnotationID, &item.ReviewerID, &item.Decision, &item.Comment, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountReviewsByText(ctx context.Context, textID string) (agreed, disagreed int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE r.decision='agree'),
			COUNT(*) FILTER (WHERE r.decision='disagree')
		FROM annotation_reviews r
		JOIN annotations a ON a.id = r.annotation_id
		WHERE a.text_id=$1
	`, textID).Scan(&agreed, &disagreed)
	if err != nil {
		return 0, 0, fmt.Errorf("count reviews: %w", err)
	}
	return agreed, disagreed, nil
}

func (s *PostgresStore) CountReviewsByReviewer(ctx context.Context, reviewerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotation_reviews WHERE reviewer_id=$1`, reviewerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reviews by reviewer: %w", err)
	}
	return count, nil
}
