package app

import (
	"time"

	"scriptorium/api/internal/store"
)

// Response shaping. Handlers return camelCase JSON maps; nullable columns
// surface as null rather than zero values.

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":              u.ID,
		"username":        u.Username,
		"email":           u.Email,
		"fullName":        u.FullName,
		"role":            u.Role,
		"isActive":        u.IsActive,
		"isEmailVerified": u.IsEmailVerified,
		"createdAt":       u.CreatedAt.Format(time.RFC3339),
	}
}

func textPayload(t store.Text) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"title":           t.Title,
		"content":         t.Content,
		"source":          t.Source,
		"language":        t.Language,
		"translation":     t.Translation,
		"status":          t.Status,
		"annotatorId":     t.AnnotatorID,
		"reviewerId":      t.ReviewerID,
		"uploadedBy":      t.UploadedBy,
		"annotationCount": t.AnnotationCount,
		"createdAt":       t.CreatedAt.Format(time.RFC3339),
	}
}

func annotationPayload(a store.Annotation) map[string]any {
	payload := map[string]any{
		"id":             a.ID,
		"textId":         a.TextID,
		"annotatorId":    a.AnnotatorID,
		"annotationType": a.Type,
		"startPosition":  a.Start,
		"endPosition":    a.End,
		"selectedText":   a.SelectedText,
		"label":          a.Label,
		"name":           a.Name,
		"level":          a.Level,
		"confidence":     a.Confidence,
		"createdAt":      a.CreatedAt.Format(time.RFC3339),
	}
	if a.Meta != nil {
		payload["meta"] = a.Meta
	}
	if a.IsAgreed != nil {
		payload["isAgreed"] = *a.IsAgreed
	}
	return payload
}

func annotationPayloads(items []store.Annotation) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, annotationPayload(item))
	}
	return payloads
}

func textPayloads(items []store.Text) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, textPayload(item))
	}
	return payloads
}

func reviewPayload(r store.Review) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"annotationId": r.AnnotationID,
		"reviewerId":   r.ReviewerID,
		"decision":     r.Decision,
		"comment":      r.Comment,
		"createdAt":    r.CreatedAt.Format(time.RFC3339),
	}
}

func annotationTypePayload(t store.AnnotationType) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"uploaderId": t.UploaderID,
		"createdAt":  t.CreatedAt.Format(time.RFC3339),
	}
}

func typologyItemPayload(item store.TypologyItem) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"typeId":      item.TypeID,
		"parentId":    item.ParentID,
		"title":       item.Title,
		"description": item.Description,
		"sortOrder":   item.SortOrder,
	}
	if item.Meta != nil {
		payload["meta"] = item.Meta
	}
	return payload
}
