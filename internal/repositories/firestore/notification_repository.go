package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"

	domain "github.com/lacehouse/store-api/internal/domain"
	pfirestore "github.com/lacehouse/store-api/internal/platform/firestore"
	"github.com/lacehouse/store-api/internal/repositories"
)

const notificationsCollection = "notifications"

// Firestore caps "in" filters at 30 values.
const maxInFilterValues = 30

type notificationDocument struct {
	RecipientID string         `firestore:"recipientId"`
	Type        string         `firestore:"type"`
	Title       string         `firestore:"title"`
	Message     string         `firestore:"message"`
	Data        map[string]any `firestore:"data,omitempty"`
	Read        bool           `firestore:"read"`
	ReadAt      *time.Time     `firestore:"readAt,omitempty"`
	CreatedAt   time.Time      `firestore:"createdAt"`
}

// NotificationRepository implements repositories.NotificationRepository on Firestore.
type NotificationRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[notificationDocument]
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[notificationDocument](provider, notificationsCollection),
	}, nil
}

// Insert stores a new notification.
func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("notification id is required")
	}
	return r.base.Create(ctx, n.ID, notificationDocument{
		RecipientID: n.RecipientID,
		Type:        string(n.Type),
		Title:       n.Title,
		Message:     n.Message,
		Data:        n.Data,
		Read:        n.Read,
		ReadAt:      cloneTime(n.ReadAt),
		CreatedAt:   n.CreatedAt.UTC(),
	})
}

// FindByID loads one notification.
func (r *NotificationRepository) FindByID(ctx context.Context, notificationID string) (domain.Notification, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(notificationID))
	if err != nil {
		return domain.Notification{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns notifications for any of the recipients, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.Page[domain.Notification], error) {
	page := filter.Page.Normalize()
	recipients := normaliseRecipients(filter.RecipientIDs)
	if len(recipients) == 0 {
		return domain.NewPage[domain.Notification](nil, page, 0), nil
	}
	build := recipientQuery(recipients, filter.UnreadOnly)
	order := func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc)
	}
	docs, total, err := r.base.Page(ctx, build, order, page.Offset(), page.Limit)
	if err != nil {
		return domain.Page[domain.Notification]{}, err
	}
	items := lo.Map(docs, func(doc pfirestore.Document[notificationDocument], _ int) domain.Notification {
		return doc.Data.toDomain(doc.ID)
	})
	return domain.NewPage(items, page, total), nil
}

// MarkRead flags one notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string, readAt time.Time) error {
	return r.base.Update(ctx, strings.TrimSpace(notificationID), []firestore.Update{
		{Path: "read", Value: true},
		{Path: "readAt", Value: readAt.UTC()},
	}, firestore.Exists)
}

// MarkAllRead flags every unread notification of the recipients and returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientIDs []string, readAt time.Time) (int, error) {
	recipients := normaliseRecipients(recipientIDs)
	if len(recipients) == 0 {
		return 0, nil
	}
	docs, err := r.base.Query(ctx, recipientQuery(recipients, true))
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		ref, err := r.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			writer.End()
			return 0, err
		}
		job, err := writer.Update(ref, []firestore.Update{
			{Path: "read", Value: true},
			{Path: "readAt", Value: readAt.UTC()},
		})
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("notifications.markAllRead", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	updated := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return updated, pfirestore.WrapError("notifications.markAllRead", err)
		}
		updated++
	}
	return updated, nil
}

// Delete removes one notification.
func (r *NotificationRepository) Delete(ctx context.Context, notificationID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(notificationID))
}

func recipientQuery(recipients []string, unreadOnly bool) pfirestore.QueryBuilder {
	return func(q firestore.Query) firestore.Query {
		if len(recipients) == 1 {
			q = q.Where("recipientId", "==", recipients[0])
		} else {
			q = q.Where("recipientId", "in", recipients)
		}
		if unreadOnly {
			q = q.Where("read", "==", false)
		}
		return q
	}
}

func normaliseRecipients(ids []string) []string {
	out := lo.Uniq(lo.Compact(lo.Map(ids, func(id string, _ int) string { return strings.TrimSpace(id) })))
	if len(out) > maxInFilterValues {
		out = out[:maxInFilterValues]
	}
	return out
}

func (d notificationDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:          id,
		RecipientID: d.RecipientID,
		Type:        domain.NotificationType(d.Type),
		Title:       d.Title,
		Message:     d.Message,
		Data:        d.Data,
		Read:        d.Read,
		ReadAt:      cloneTime(d.ReadAt),
		CreatedAt:   d.CreatedAt.UTC(),
	}
}
