package store

import (
	"context"
	"fmt"
)

const annotationColumns = `a.id, a.text_id, a.annotator_id, a.annotation_type, a.start_position, a.end_position,
	a.selected_text, a.label, a.name, a.level, a.meta, a.confidence, a.created_at, a.updated_at`

func (s *PostgresStore) InsertAnnotation(ctx context.Context, item Annotation) error {
	meta, err := metaJSON(item.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, text_id, annotator_id, annotation_type, start_position, end_position,
			selected_text, label, name, level, meta, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.TextID, item.AnnotatorID, item.Type, item.Start, item.End,
		item.SelectedText, item.Label, item.Name, item.Level, meta, item.Confidence)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+annotationColumns+` FROM annotations a WHERE a.id=$1
	`, annotationID)

	var item Annotation
	var rawMeta []byte
	err := row.Scan(
		&item.ID,
		&item.TextID,
		&item.AnnotatorID,
		&item.Type,
		&item.Start,
		&item.End,
		&item.SelectedText,
		&item.Label,
		&item.Name,
		&item.Level,
		&rawMeta,
		&item.Confidence,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Annotation{}, err
	}
	if item.Meta, err = unmarshalMeta(rawMeta); err != nil {
		return Annotation{}, err
	}
	return item, nil
}

// ListAnnotationsByText returns a text's annotations in position order,
// each joined with its agreed/disagreed review state when one exists.
func (s *PostgresStore) ListAnnotationsByText(ctx context.Context, textID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`,
			(SELECT r.decision='agree' FROM annotation_reviews r WHERE r.annotation_id = a.id ORDER BY r.created_at DESC LIMIT 1)
		FROM annotations a
		WHERE a.text_id=$1
		ORDER BY a.start_position, a.created_at
	`, textID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		var item Annotation
		var rawMeta []byte
		if err := rows.Scan(
			&item.ID,
			&item.TextID,
			&item.AnnotatorID,
			&item.Type,
			&item.Start,
			&item.End,
			&item.SelectedText,
			&item.Label,
			&item.Name,
			&item.Level,
			&rawMeta,
			&item.Confidence,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.IsAgreed,
		); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		if item.Meta, err = unmarshalMeta(rawMeta); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, item Annotation) error {
	meta, err := metaJSON(item.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE annotations
		SET annotation_type=$2, start_position=$3, end_position=$4, selected_text=$5,
			label=$6, name=$7, level=$8, meta=$9, confidence=$10, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Type, item.Start, item.End, item.SelectedText,
		item.Label, item.Name, item.Level, meta, item.Confidence)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, annotationID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnotationsByTextAndAnnotator(ctx context.Context, textID, annotatorID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM annotations WHERE text_id=$1 AND annotator_id=$2
	`, textID, annotatorID)
	if err != nil {
		return 0, fmt.Errorf("delete annotations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete annotations rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) CountAnnotationsByAnnotator(ctx context.Context, annotatorID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations WHERE annotator_id=$1`, annotatorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count annotations: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountAnnotationsByText(ctx context.Context, textID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations WHERE text_id=$1`, textID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count annotations by text: %w", err)
	}
	return count, nil
}
