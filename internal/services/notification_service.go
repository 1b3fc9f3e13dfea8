package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/repositories"
)

// NotificationServiceDeps bundles collaborators for the inbox service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	repo   repositories.NotificationRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService constructs the recipient inbox service.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationService{
		repo:   deps.Notifications,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *notificationService) List(ctx context.Context, actor Actor, filter NotificationListFilter) (domain.Page[domain.Notification], error) {
	if !actor.Authenticated() {
		return domain.Page[domain.Notification]{}, ErrUnauthorized
	}
	page, err := s.repo.List(ctx, repositories.NotificationListFilter{
		RecipientIDs: actor.NotificationRecipients(),
		UnreadOnly:   filter.UnreadOnly,
		Page:         filter.Page.Normalize(),
	})
	if err != nil {
		return domain.Page[domain.Notification]{}, mapRepositoryError(err, "notifications")
	}
	return page, nil
}

func (s *notificationService) MarkRead(ctx context.Context, actor Actor, notificationID string) (domain.Notification, error) {
	notification, err := s.owned(ctx, actor, notificationID)
	if err != nil {
		return domain.Notification{}, err
	}
	if notification.Read {
		return notification, nil
	}
	now := s.clock()
	if err := s.repo.MarkRead(ctx, notification.ID, now); err != nil {
		return domain.Notification{}, mapRepositoryError(err, "notification "+notification.ID)
	}
	notification.Read = true
	notification.ReadAt = &now
	return notification, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, actor Actor) (int, error) {
	if !actor.Authenticated() {
		return 0, ErrUnauthorized
	}
	count, err := s.repo.MarkAllRead(ctx, actor.NotificationRecipients(), s.clock())
	if err != nil {
		return 0, mapRepositoryError(err, "notifications")
	}
	s.logger(ctx, "notification.read_all", map[string]any{"recipientId": actor.ID, "count": count})
	return count, nil
}

func (s *notificationService) Delete(ctx context.Context, actor Actor, notificationID string) error {
	notification, err := s.owned(ctx, actor, notificationID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, notification.ID); err != nil {
		return mapRepositoryError(err, "notification "+notification.ID)
	}
	return nil
}

// owned loads a notification the actor may act on: their own, or an admin broadcast for staff.
func (s *notificationService) owned(ctx context.Context, actor Actor, notificationID string) (domain.Notification, error) {
	if !actor.Authenticated() {
		return domain.Notification{}, ErrUnauthorized
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return domain.Notification{}, &ValidationError{Fields: map[string]string{"id": "is required"}}
	}
	notification, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		return domain.Notification{}, mapRepositoryError(err, "notification "+notificationID)
	}
	if !slices.Contains(actor.NotificationRecipients(), notification.RecipientID) {
		return domain.Notification{}, ErrForbidden
	}
	return notification, nil
}
