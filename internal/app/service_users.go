package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"scriptorium/api/internal/rbac"
)

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

func (s *Service) UpdateMe(ctx context.Context, session Session, fullName, email string) (map[string]any, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, validationError("email is required", nil)
	}
	current, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(email, current.Email) {
		if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
			return nil, conflict("EMAIL_EXISTS", "Email already registered")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check email: %w", err)
		}
	}
	if err := s.store.UpdateUserProfile(ctx, session.UserID, fullName, email); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

func (s *Service) ListUsers(ctx context.Context, offset, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	users, err := s.store.ListUsers(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	payloads := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payloads = append(payloads, userPayload(user))
	}
	return map[string]any{"users": payloads}, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (map[string]any, error) {
	if rbac.Normalize(role) != rbac.Role(role) {
		return nil, validationError("role must be annotator, reviewer, or admin", nil)
	}
	if userID == session.UserID {
		return nil, conflict("CANNOT_CHANGE_OWN_ROLE", "You cannot change your own role")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

func (s *Service) SetUserActive(ctx context.Context, session Session, userID string, active bool) (map[string]any, error) {
	if userID == session.UserID && !active {
		return nil, conflict("CANNOT_DEACTIVATE_SELF", "You cannot deactivate your own account")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		return nil, fmt.Errorf("set user active: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

// UserStats summarizes one user's annotation and review output.
func (s *Service) UserStats(ctx context.Context, userID string) (map[string]any, error) {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	annotations, err := s.store.CountAnnotationsByAnnotator(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count annotations: %w", err)
	}
	reviews, err := s.store.CountReviewsByReviewer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}
	return map[string]any{
		"stats": map[string]any{
			"annotations": annotations,
			"reviews":     reviews,
		},
	}, nil
}
