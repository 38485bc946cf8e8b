package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertAnnotationType(ctx context.Context, item AnnotationType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotation_types (id, name, uploader_id) VALUES ($1, $2, $3)
	`, item.ID, item.Name, item.UploaderID)
	if err != nil {
		return fmt.Errorf("insert annotation type: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnnotationType(ctx context.Context, typeID string) (AnnotationType, error) {
	var item AnnotationType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, uploader_id, created_at, updated_at FROM annotation_types WHERE id=$1
	`, typeID).Scan(&item.ID, &item.Name, &item.UploaderID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return AnnotationType{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetAnnotationTypeByName(ctx context.Context, name string) (AnnotationType, error) {
	var item AnnotationType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, uploader_id, created_at, updated_at FROM annotation_types WHERE name=$1
	`, name).Scan(&item.ID, &item.Name, &item.UploaderID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return AnnotationType{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAnnotationTypes(ctx context.Context) ([]AnnotationType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, uploader_id, created_at, updated_at FROM annotation_types ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list annotation types: %w", err)
	}
	defer rows.Close()

	items := make([]AnnotationType, 0)
	for rows.Next() {
		var item AnnotationType
		if err := rows.Scan(&item.ID, &item.Name, &item.UploaderID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation type: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation types: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateAnnotationType(ctx context.Context, typeID, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE annotation_types SET name=$2, updated_at=NOW() WHERE id=$1`, typeID, name)
	if err != nil {
		return fmt.Errorf("update annotation type: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnotationType(ctx context.Context, typeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM annotation_types WHERE id=$1`, typeID)
	if err != nil {
		return fmt.Errorf("delete annotation type: %w", err)
	}
	return nil
}

// InsertTypologyItems writes a whole uploaded typology in one transaction
// so a half-imported tree never becomes visible.
func (s *PostgresStore) InsertTypologyItems(ctx context.Context, items []TypologyItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin typology tx: %w", err)
	}
	for _, item := range items {
		meta, err := metaJSON(item.Meta)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_list_items (id, type_id, parent_id, title, description, meta, sort_order, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.TypeID, item.ParentID, item.Title, item.Description, meta, item.SortOrder, item.CreatedBy); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert typology item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit typology tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTypologyItems(ctx context.Context, typeID string) ([]TypologyItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type_id, parent_id, title, description, meta, sort_order, created_by, created_at, updated_at
		FROM annotation_list_items
		WHERE type_id=$1
		ORDER BY sort_order, created_at
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("list typology items: %w", err)
	}
	defer rows.Close()

	items := make([]TypologyItem, 0)
	for rows.Next() {
		var item TypologyItem
		var rawMeta []byte
		if err := rows.Scan(
			&item.ID,
			&item.TypeID,
			&item.ParentID,
			&item.Title,
			&item.Description,
			&rawMeta,
			&item.SortOrder,
			&item.CreatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan typology item: %w", err)
		}
		if item.Meta, err = unmarshalMeta(rawMeta); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate typology items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTypologyItem(ctx context.Context, itemID string) (TypologyItem, error) {
	var item TypologyItem
	var rawMeta []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type_id, parent_id, title, description, meta, sort_order, created_by, created_at, updated_at
		FROM annotation_list_items WHERE id=$1
	`, itemID).Scan(
		&item.ID,
		&item.TypeID,
		&item.ParentID,
		&item.Title,
		&item.Description,
		&rawMeta,
		&item.SortOrder,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return TypologyItem{}, err
	}
	if item.Meta, err = unmarshalMeta(rawMeta); err != nil {
		return TypologyItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateTypologyItem(ctx context.Context, itemID, title, description string, meta map[string]any) error {
	raw, err := metaJSON(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE annotation_list_items SET title=$2, description=$3, meta=$4, updated_at=NOW() WHERE id=$1
	`, itemID, title, description, raw)
	if err != nil {
		return fmt.Errorf("update typology item: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTypologyItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM annotation_list_items WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("delete typology item: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTypologyItemsByType(ctx context.Context, typeID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM annotation_list_items WHERE type_id=$1`, typeID)
	if err != nil {
		return 0, fmt.Errorf("delete typology items: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete typology rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) CountTypologyChildren(ctx context.Context, itemID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotation_list_items WHERE parent_id=$1`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count typology children: %w", err)
	}
	return count, nil
}
