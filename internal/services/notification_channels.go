package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/repositories"
)

// NotificationMessage is the payload published for out-of-process email and SMS workers.
type NotificationMessage struct {
	Type       string         `json:"type"`
	Recipients []string       `json:"recipients"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// NotificationPublisher publishes notification messages to the fan-out topic.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) (string, error)
}

// InAppChannel stores one inbox entry per recipient.
type InAppChannel struct {
	repo  repositories.NotificationRepository
	clock func() time.Time
	newID func() string
}

// NewInAppChannel builds the inbox channel.
func NewInAppChannel(repo repositories.NotificationRepository, clock func() time.Time) (*InAppChannel, error) {
	if repo == nil {
		return nil, errors.New("in-app channel: notification repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &InAppChannel{
		repo:  repo,
		clock: clock,
		newID: func() string { return "ntf_" + ulid.Make().String() },
	}, nil
}

func (c *InAppChannel) Name() string { return "in_app" }

// Deliver inserts a notification for every recipient and joins the failures.
func (c *InAppChannel) Deliver(ctx context.Context, event NotificationEvent) error {
	createdAt := event.OccurredAt
	if createdAt.IsZero() {
		createdAt = c.clock()
	}
	var errs []error
	for _, recipient := range event.Recipients {
		if recipient == "" {
			continue
		}
		err := c.repo.Insert(ctx, domain.Notification{
			ID:          c.newID(),
			RecipientID: recipient,
			Type:        event.Type,
			Title:       event.Title,
			Message:     event.Message,
			Data:        maps.Clone(event.Data),
			CreatedAt:   createdAt.UTC(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

// PublisherChannel forwards events to a NotificationPublisher.
type PublisherChannel struct {
	publisher NotificationPublisher
}

// NewPublisherChannel builds the fan-out channel.
func NewPublisherChannel(publisher NotificationPublisher) (*PublisherChannel, error) {
	if publisher == nil {
		return nil, errors.New("publisher channel: publisher is required")
	}
	return &PublisherChannel{publisher: publisher}, nil
}

func (c *PublisherChannel) Name() string { return "pubsub" }

// Deliver publishes the event once for all recipients.
func (c *PublisherChannel) Deliver(ctx context.Context, event NotificationEvent) error {
	_, err := c.publisher.PublishNotification(ctx, NotificationMessage{
		Type:       string(event.Type),
		Recipients: append([]string(nil), event.Recipients...),
		Title:      event.Title,
		Message:    event.Message,
		Data:       maps.Clone(event.Data),
		OccurredAt: event.OccurredAt.UTC(),
	})
	return err
}
