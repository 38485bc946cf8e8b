package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"scriptorium/api/internal/openpecha"
)

// openPechaCatalog is the slice of the OpenPecha client the service
// uses. Tests plug in a fake.
type openPechaCatalog interface {
	ListExpressions(ctx context.Context, filterType string) ([]openpecha.Expression, error)
	ListInstances(ctx context.Context, expressionID string) ([]openpecha.Instance, error)
	GetInstanceText(ctx context.Context, instanceID string) (map[string]any, error)
}

var openPechaFilterTypes = map[string]bool{
	"root":         true,
	"commentary":   true,
	"translations": true,
}

// OpenPechaExpressions lists catalog entries, optionally filtered by
// type (root, commentary, translations).
func (s *Service) OpenPechaExpressions(ctx context.Context, filterType string) (map[string]any, error) {
	if s.openpecha == nil {
		return nil, openPechaUnavailable()
	}
	if filterType != "" && !openPechaFilterTypes[filterType] {
		return nil, validationError("type must be root, commentary, or translations",
			map[string]any{"type": filterType})
	}

	expressions, err := s.openpecha.ListExpressions(ctx, filterType)
	if err != nil {
		return nil, mapOpenPechaError(err)
	}
	payloads := make([]map[string]any, 0, len(expressions))
	for _, expr := range expressions {
		payloads = append(payloads, map[string]any{
			"id":       expr.ID,
			"title":    expr.Title,
			"language": expr.Language,
		})
	}
	return map[string]any{"expressions": payloads}, nil
}

// OpenPechaInstances lists the manifestations of one catalog entry.
func (s *Service) OpenPechaInstances(ctx context.Context, expressionID string) (map[string]any, error) {
	if s.openpecha == nil {
		return nil, openPechaUnavailable()
	}

	instances, err := s.openpecha.ListInstances(ctx, expressionID)
	if err != nil {
		return nil, mapOpenPechaError(err)
	}
	if len(instances) == 0 {
		return nil, notFound("Expression not found")
	}
	payloads := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		payloads = append(payloads, map[string]any{
			"id":           inst.ID,
			"expressionId": inst.ExpressionID,
			"annotations":  inst.Annotations,
			"type":         inst.Type,
		})
	}
	return map[string]any{"instances": payloads}, nil
}

// OpenPechaInstanceText fetches one instance's serialized content. The
// upstream document is passed through unchanged for the client to
// import from.
func (s *Service) OpenPechaInstanceText(ctx context.Context, instanceID string) (map[string]any, error) {
	if s.openpecha == nil {
		return nil, openPechaUnavailable()
	}

	doc, err := s.openpecha.GetInstanceText(ctx, instanceID)
	if err != nil {
		return nil, mapOpenPechaError(err)
	}
	if len(doc) == 0 {
		return nil, notFound("Instance not found")
	}
	return doc, nil
}

func openPechaUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, "OPENPECHA_UNAVAILABLE",
		"OpenPecha catalog not configured", nil)
}

func mapOpenPechaError(err error) error {
	switch {
	case errors.Is(err, openpecha.ErrNotFound):
		return notFound("Not found in OpenPecha catalog")
	case errors.Is(err, openpecha.ErrUnavailable):
		return domainError(http.StatusServiceUnavailable, "OPENPECHA_UNAVAILABLE",
			"OpenPecha catalog unreachable", nil)
	default:
		return fmt.Errorf("openpecha request: %w", err)
	}
}
