package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const textColumns = `t.id, t.title, t.content, t.source, t.language, t.translation, t.status,
	t.annotator_id, t.reviewer_id, t.uploaded_by, t.deleted_at, t.created_at, t.updated_at`

func scanText(scanner interface{ Scan(...any) error }) (Text, error) {
	var item Text
	err := scanner.Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.Source,
		&item.Language,
		&item.Translation,
		&item.Status,
		&item.AnnotatorID,
		&item.ReviewerID,
		&item.UploadedBy,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertText(ctx context.Context, item Text) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO texts (id, title, content, source, language, translation, status, annotator_id, reviewer_id, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.Title, item.Content, item.Source, item.Language, item.Translation, item.Status, item.AnnotatorID, item.ReviewerID, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// InsertTextWithAnnotations stores a text and its annotations atomically,
// so a failed bulk-upload file leaves nothing behind.
func (s *PostgresStore) InsertTextWithAnnotations(ctx context.Context, item Text, annotations []Annotation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert text: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO texts (id, title, content, source, language, translation, status, annotator_id, reviewer_id, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.Title, item.Content, item.Source, item.Language, item.Translation, item.Status, item.AnnotatorID, item.ReviewerID, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert text: %w", err)
	}

	for _, ann := range annotations {
		meta, err := metaJSON(ann.Meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO annotations (id, text_id, annotator_id, annotation_type, start_position, end_position,
				selected_text, label, name, level, meta, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, ann.ID, ann.TextID, ann.AnnotatorID, ann.Type, ann.Start, ann.End,
			ann.SelectedText, ann.Label, ann.Name, ann.Level, meta, ann.Confidence)
		if err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert text: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetText(ctx context.Context, textID string) (Text, error) {
	return scanText(s.db.QueryRowContext(ctx, `
		SELECT `+textColumns+` FROM texts t WHERE t.id=$1 AND t.deleted_at IS NULL
	`, textID))
}

func (s *PostgresStore) GetTextByTitle(ctx context.Context, title string) (Text, error) {
	return scanText(s.db.QueryRowContext(ctx, `
		SELECT `+textColumns+` FROM texts t WHERE t.title=$1 AND t.deleted_at IS NULL
	`, title))
}

func (s *PostgresStore) ListTexts(ctx context.Context, filter TextFilter) ([]Text, error) {
	query := `
		SELECT ` + textColumns + `, COUNT(a.id)
		FROM texts t
		LEFT JOIN annotations a ON a.text_id = t.id
		WHERE t.deleted_at IS NULL
	`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if filter.Status != "" {
		query += ` AND t.status = ` + arg(filter.Status)
	}
	if filter.Language != "" {
		query += ` AND t.language = ` + arg(filter.Language)
	}
	if filter.ReviewerID != "" {
		query += ` AND t.reviewer_id = ` + arg(filter.ReviewerID)
	}
	if filter.UploadedBy != "" {
		query += ` AND t.uploaded_by = ` + arg(filter.UploadedBy)
	}
	query += ` GROUP BY t.id ORDER BY t.created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` OFFSET ` + arg(filter.Offset) + ` LIMIT ` + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list texts: %w", err)
	}
	defer rows.Close()

	items := make([]Text, 0)
	for rows.Next() {
		var item Text
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Content,
			&item.Source,
			&item.Language,
			&item.Translation,
			&item.Status,
			&item.AnnotatorID,
			&item.ReviewerID,
			&item.UploadedBy,
			&item.DeletedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.AnnotationCount,
		); err != nil {
			return nil, fmt.Errorf("scan text: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate texts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateText(ctx context.Context, textID string, title, content, source, language, translation, status *string, reviewerID **string) error {
	// One column at a time avoids building a dynamic SET clause.
	set := func(column string, value any) error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE texts SET %s=$2, updated_at=NOW() WHERE id=$1`, column), textID, value)
		if err != nil {
			return fmt.Errorf("update text %s: %w", column, err)
		}
		return nil
	}
	if title != nil {
		if err := set("title", *title); err != nil {
			return err
		}
	}
	if content != nil {
		if err := set("content", *content); err != nil {
			return err
		}
	}
	if source != nil {
		if err := set("source", *source); err != nil {
			return err
		}
	}
	if language != nil {
		if err := set("language", *language); err != nil {
			return err
		}
	}
	if translation != nil {
		if err := set("translation", *translation); err != nil {
			return err
		}
	}
	if status != nil {
		if err := set("status", *status); err != nil {
			return err
		}
	}
	if reviewerID != nil {
		if err := set("reviewer_id", *reviewerID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) UpdateTextStatus(ctx context.Context, textID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE texts SET status=$2, updated_at=NOW() WHERE id=$1`, textID, status)
	if err != nil {
		return fmt.Errorf("update text status: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssignAnnotator(ctx context.Context, textID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE texts SET annotator_id=$2, status=$3, updated_at=NOW() WHERE id=$1
	`, textID, userID, StatusProgress)
	if err != nil {
		return fmt.Errorf("assign annotator: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssignReviewer(ctx context.Context, textID, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE texts SET reviewer_id=$2, updated_at=NOW() WHERE id=$1`, textID, userID)
	if err != nil {
		return fmt.Errorf("assign reviewer: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteText(ctx context.Context, textID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE texts SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, textID)
	if err != nil {
		return fmt.Errorf("soft delete text: %w", err)
	}
	return nil
}

// NextTaskText hands the caller the oldest unassigned initialized text the
// user has not rejected, claiming it atomically so two annotators cannot
// pull the same task.
func (s *PostgresStore) NextTaskText(ctx context.Context, userID string) (*Text, error) {
	const query = `
		UPDATE texts SET annotator_id=$1, status=$2, updated_at=NOW()
		WHERE id = (
			SELECT t.id FROM texts t
			WHERE t.status=$3 AND t.annotator_id IS NULL AND t.deleted_at IS NULL
				AND NOT EXISTS (SELECT 1 FROM rejected_texts r WHERE r.text_id = t.id AND r.user_id = $1)
			ORDER BY t.created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + textColumnsUnqualified
	item, err := scanText(s.db.QueryRowContext(ctx, query, userID, StatusProgress, StatusInitialized))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next task text: %w", err)
	}
	return &item, nil
}

const textColumnsUnqualified = `id, title, content, source, language, translation, status,
	annotator_id, reviewer_id, uploaded_by, deleted_at, created_at, updated_at`

func (s *PostgresStore) RejectText(ctx context.Context, userID, textID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rejected_texts (user_id, text_id) VALUES ($1, $2)
		ON CONFLICT (user_id, text_id) DO NOTHING
	`, userID, textID)
	if err != nil {
		return fmt.Errorf("reject text: %w", err)
	}
	// Release the claim so someone else can pick the text up.
	_, err = s.db.ExecContext(ctx, `
		UPDATE texts SET annotator_id=NULL, status=$2, updated_at=NOW()
		WHERE id=$1 AND annotator_id=$3
	`, textID, StatusInitialized, userID)
	if err != nil {
		return fmt.Errorf("release rejected text: %w", err)
	}
	return nil
}

// ListTextsForReview returns annotated texts either unclaimed or already
// claimed by this reviewer, never the reviewer's own annotations.
func (s *PostgresStore) ListTextsForReview(ctx context.Context, reviewerID string, offset, limit int) ([]Text, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+textColumns+`, COUNT(a.id)
		FROM texts t
		LEFT JOIN annotations a ON a.text_id = t.id
		WHERE t.deleted_at IS NULL
			AND t.status=$1
			AND (t.reviewer_id IS NULL OR t.reviewer_id=$2)
			AND (t.annotator_id IS NULL OR t.annotator_id <> $2)
		GROUP BY t.id
		ORDER BY t.created_at
		OFFSET $3 LIMIT $4
	`, StatusAnnotated, reviewerID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list texts for review: %w", err)
	}
	defer rows.Close()

	items := make([]Text, 0)
	for rows.Next() {
		var item Text
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Content,
			&item.Source,
			&item.Language,
			&item.Translation,
			&item.Status,
			&item.AnnotatorID,
			&item.ReviewerID,
			&item.UploadedBy,
			&item.DeletedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.AnnotationCount,
		); err != nil {
			return nil, fmt.Errorf("scan review text: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review texts: %w", err)
	}
	return items, nil
}

// ListTextsByDateRange selects export candidates created inside [from,to]
// whose status matches the filter ("annotated" includes reviewed states).
func (s *PostgresStore) ListTextsByDateRange(ctx context.Context, from, to time.Time, filterType string) ([]Text, error) {
	statuses := []any{StatusReviewed}
	clause := `t.status = $3`
	if filterType == "annotated" {
		statuses = []any{StatusAnnotated, StatusReviewed, StatusNeedsRevision}
		clause = `t.status IN ($3, $4, $5)`
	}
	args := append([]any{from, to}, statuses...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+textColumns+`
		FROM texts t
		WHERE t.deleted_at IS NULL
			AND t.created_at >= $1 AND t.created_at < $2
			AND `+clause+`
		ORDER BY t.created_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list texts by date range: %w", err)
	}
	defer rows.Close()

	items := make([]Text, 0)
	for rows.Next() {
		item, err := scanText(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export text: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export texts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountTextsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM texts WHERE deleted_at IS NULL GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count texts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}
