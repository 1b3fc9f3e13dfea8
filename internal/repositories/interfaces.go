package repositories

import (
	"context"
	"time"

	domain "github.com/lacehouse/store-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Notifications() NotificationRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	Statuses []domain.ProductStatus
	Page     domain.PageRequest
}

// ProductRepository persists catalog products and owns the stock counters of their variants.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs loads products in one batch. Missing ids are absent from the result map.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.Page[domain.Product], error)
	// AdjustStock applies every adjustment atomically. A decrement that would take a variant
	// below zero rejects the whole batch with a *StockError. Increments for products or
	// variants that no longer exist are skipped.
	AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.VariantStock, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID        string
	Status        *domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	CreatedBefore *time.Time
	Page          domain.PageRequest
	// Skip drops that many leading matches before Page is applied.
	Skip int
}

// OrderRepository persists order ledger documents.
type OrderRepository interface {
	// Insert persists a new order and claims its payment reference atomically. A reference
	// held by another order fails with ErrPaymentReferenceInUse.
	Insert(ctx context.Context, order domain.Order) error
	// Update replaces the stored order when its stored UpdatedAt still equals expectedUpdatedAt.
	// Otherwise it fails with a conflict RepositoryError.
	Update(ctx context.Context, order domain.Order, expectedUpdatedAt time.Time) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
}

// NotificationListFilter narrows inbox listings.
type NotificationListFilter struct {
	RecipientIDs []string
	UnreadOnly   bool
	Page         domain.PageRequest
}

// NotificationRepository persists in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	FindByID(ctx context.Context, notificationID string) (domain.Notification, error)
	List(ctx context.Context, filter NotificationListFilter) (domain.Page[domain.Notification], error)
	MarkRead(ctx context.Context, notificationID string, readAt time.Time) error
	MarkAllRead(ctx context.Context, recipientIDs []string, readAt time.Time) (int, error)
	Delete(ctx context.Context, notificationID string) error
}

// CounterRepository manages sequential counters stored in the backing datastore.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository performs lightweight dependency checks for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
