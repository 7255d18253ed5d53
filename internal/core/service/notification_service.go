package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/port"
)

var ErrNotificationNotFound = fmt.Errorf("notification %w", domain.ErrNotFound)

// NotificationService is the append-only per-user message log.
type NotificationService struct {
	notifications port.NotificationRepository
}

func NewNotificationService(notifications port.NotificationRepository) *NotificationService {
	return &NotificationService{notifications: notifications}
}

func (s *NotificationService) Append(ctx context.Context, userID, typ, title, message string) (*domain.Notification, error) {
	n := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
		Read:      false,
	}
	if err := s.notifications.Append(ctx, n); err != nil {
		return nil, fmt.Errorf("append notification: %w", err)
	}
	return &n, nil
}

// MarkRead flips read to true. Marking an already-read notification again is
// fine; marking one that does not belong to the user is not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ok, err := s.notifications.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.notifications.ListByUser(ctx, userID)
}
