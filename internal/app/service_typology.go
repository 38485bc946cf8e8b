package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scriptorium/api/internal/store"
	"scriptorium/api/internal/typology"
)

func (s *Service) CreateAnnotationType(ctx context.Context, session Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	if _, err := s.store.GetAnnotationTypeByName(ctx, name); err == nil {
		return nil, conflict("TYPE_EXISTS", "An annotation type with this name already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check type name: %w", err)
	}

	item := store.AnnotationType{
		ID:         uuid.NewString(),
		Name:       name,
		UploaderID: session.UserID,
	}
	if err := s.store.InsertAnnotationType(ctx, item); err != nil {
		return nil, fmt.Errorf("create annotation type: %w", err)
	}
	return map[string]any{"annotationType": annotationTypePayload(item)}, nil
}

func (s *Service) ListAnnotationTypes(ctx context.Context) (map[string]any, error) {
	items, err := s.store.ListAnnotationTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list annotation types: %w", err)
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, annotationTypePayload(item))
	}
	return map[string]any{"annotationTypes": payloads}, nil
}

func (s *Service) UpdateAnnotationType(ctx context.Context, typeID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	current, err := s.store.GetAnnotationType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if name != current.Name {
		if _, err := s.store.GetAnnotationTypeByName(ctx, name); err == nil {
			return nil, conflict("TYPE_EXISTS", "An annotation type with this name already exists")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check type name: %w", err)
		}
	}
	if err := s.store.UpdateAnnotationType(ctx, typeID, name); err != nil {
		return nil, fmt.Errorf("update annotation type: %w", err)
	}
	current.Name = name
	return map[string]any{"annotationType": annotationTypePayload(current)}, nil
}

// DeleteAnnotationType removes a type and its entire typology.
func (s *Service) DeleteAnnotationType(ctx context.Context, typeID string) (map[string]any, error) {
	if _, err := s.store.GetAnnotationType(ctx, typeID); err != nil {
		return nil, err
	}
	removed, err := s.store.DeleteTypologyItemsByType(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("delete typology items: %w", err)
	}
	if err := s.store.DeleteAnnotationType(ctx, typeID); err != nil {
		return nil, fmt.Errorf("delete annotation type: %w", err)
	}
	return map[string]any{"ok": true, "itemsRemoved": removed}, nil
}

// UploadTypology ingests a hierarchical typology under the named annotation
// type, creating the type when it does not exist yet. A re-upload replaces
// the stored tree wholesale.
func (s *Service) UploadTypology(ctx context.Context, session Session, upload typology.Typology) (map[string]any, error) {
	if strings.TrimSpace(upload.Title) == "" {
		return nil, validationError("title is required", nil)
	}
	if len(upload.Categories) == 0 {
		return nil, validationError("categories are required", nil)
	}

	annotationType, err := s.store.GetAnnotationTypeByName(ctx, upload.Title)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up annotation type: %w", err)
	}
	if err != nil {
		annotationType = store.AnnotationType{
			ID:         uuid.NewString(),
			Name:       upload.Title,
			UploaderID: session.UserID,
		}
		if err := s.store.InsertAnnotationType(ctx, annotationType); err != nil {
			return nil, fmt.Errorf("create annotation type: %w", err)
		}
	} else {
		if _, err := s.store.DeleteTypologyItemsByType(ctx, annotationType.ID); err != nil {
			return nil, fmt.Errorf("replace typology: %w", err)
		}
	}

	rows := typology.FlattenTree(upload.Categories, annotationType.ID, nil)
	items := make([]store.TypologyItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, store.TypologyItem{
			ID:          row.ID,
			TypeID:      row.TypeID,
			ParentID:    row.ParentID,
			Title:       row.Title,
			Description: row.Description,
			Meta:        row.Meta,
			SortOrder:   row.SortOrder,
			CreatedBy:   session.UserID,
		})
	}
	if err := s.store.InsertTypologyItems(ctx, items); err != nil {
		return nil, fmt.Errorf("store typology: %w", err)
	}

	return map[string]any{
		"annotationType": annotationTypePayload(annotationType),
		"items":          len(items),
	}, nil
}

// GetTypology returns a type's stored typology, hierarchical by default or
// flattened to selectable leaves on request.
func (s *Service) GetTypology(ctx context.Context, typeID string, flat bool) (map[string]any, error) {
	annotationType, err := s.store.GetAnnotationType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.ListTypologyItems(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("list typology items: %w", err)
	}

	rows := make([]typology.Row, 0, len(stored))
	for _, item := range stored {
		rows = append(rows, typology.Row{
			ID:          item.ID,
			TypeID:      item.TypeID,
			ParentID:    item.ParentID,
			Title:       item.Title,
			Description: item.Description,
			Meta:        item.Meta,
			SortOrder:   item.SortOrder,
		})
	}
	forest := typology.BuildTree(rows)

	payload := map[string]any{
		"annotationType": annotationTypePayload(annotationType),
	}
	if flat {
		payload["leaves"] = typology.FlattenLeaves(forest)
	} else {
		payload["categories"] = forest
	}
	return payload, nil
}

func (s *Service) UpdateTypologyItem(ctx context.Context, itemID, title, description string, meta map[string]any) (map[string]any, error) {
	if strings.TrimSpace(title) == "" {
		return nil, validationError("title is required", nil)
	}
	if _, err := s.store.GetTypologyItem(ctx, itemID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTypologyItem(ctx, itemID, title, description, meta); err != nil {
		return nil, fmt.Errorf("update typology item: %w", err)
	}
	item, err := s.store.GetTypologyItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": typologyItemPayload(item)}, nil
}

// DeleteTypologyItem removes a single node. Nodes with children are
// refused; delete or move the subtree first.
func (s *Service) DeleteTypologyItem(ctx context.Context, itemID string) error {
	if _, err := s.store.GetTypologyItem(ctx, itemID); err != nil {
		return err
	}
	children, err := s.store.CountTypologyChildren(ctx, itemID)
	if err != nil {
		return fmt.Errorf("count children: %w", err)
	}
	if children > 0 {
		return conflict("ITEM_HAS_CHILDREN",
			fmt.Sprintf("item has %d child categories", children))
	}
	if err := s.store.DeleteTypologyItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete typology item: %w", err)
	}
	return nil
}
