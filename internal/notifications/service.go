package notifications

import (
	"context"
	"fmt"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
)

// RepositoryPort defines data access methods for notifications.
type RepositoryPort interface {
	Create(ctx context.Context, input CreateNotificationInput) (*Notification, error)
	ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, id, userID int64) (*Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// Service manages per-user notification delivery and read state.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Notify records an in-app notification for a user. Used by the reminder job
// and any other producer of user-facing events.
func (s *Service) Notify(ctx context.Context, input CreateNotificationInput) (*Notification, error) {
	if input.UserID <= 0 {
		return nil, fmt.Errorf("notification recipient is required: %w", httpx.ErrValidation)
	}
	if input.Title == "" {
		return nil, fmt.Errorf("notification title is required: %w", httpx.ErrValidation)
	}
	if input.Type == "" {
		input.Type = TypeSystem
	}
	return s.repo.Create(ctx, input)
}

// List returns the user's notifications, optionally unread only.
func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly)
}

// UnreadCount returns the user's unread badge count.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead flags one of the user's notifications as read. A notification
// belonging to someone else reads as not found.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) (*Notification, error) {
	return s.repo.MarkRead(ctx, id, userID)
}

// MarkAllRead clears the user's unread set.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
