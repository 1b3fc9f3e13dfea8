package services

import (
	"context"
	"time"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/payments"
)

// CatalogService exposes public product reads and the pre-flight stock check.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, page domain.PageRequest) (domain.Page[domain.Product], error)
	CheckStock(ctx context.Context, cmd CheckStockCommand) (StockCheck, error)
}

// OrderService implements placement, reads, cancellation, admin transitions, and payment
// reconciliation for orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error)
	ListMyOrders(ctx context.Context, actor Actor, page domain.PageRequest) (domain.Page[domain.Order], error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.Page[domain.Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
	InitializePayment(ctx context.Context, actor Actor, orderID string) (PaymentSession, error)
	VerifyPayment(ctx context.Context, actor Actor, reference string) (domain.Order, error)
	HandlePaymentEvent(ctx context.Context, event payments.Event) error
	ExpireUnpaid(ctx context.Context) (ExpireUnpaidResult, error)
}

// NotificationService serves the recipient inbox.
type NotificationService interface {
	List(ctx context.Context, actor Actor, filter NotificationListFilter) (domain.Page[domain.Notification], error)
	MarkRead(ctx context.Context, actor Actor, notificationID string) (domain.Notification, error)
	MarkAllRead(ctx context.Context, actor Actor) (int, error)
	Delete(ctx context.Context, actor Actor, notificationID string) error
}

// NotificationDispatcher delivers events best-effort. Dispatch never blocks on delivery and
// never reports failure to the caller.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event NotificationEvent)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PaymentGateway is the subset of payments.Manager used by the order service.
type PaymentGateway interface {
	InitializeSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.SessionRequest) (payments.Session, error)
	Verify(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// CheckStockCommand asks whether a quantity of one variant can be ordered.
type CheckStockCommand struct {
	ProductID string
	Variant   domain.VariantSelector
	Quantity  int
}

// StockCheck is the pre-flight answer. It does not reserve anything.
type StockCheck struct {
	IsAvailable       bool
	AvailableStock    int
	RequestedQuantity int
}

// PlaceOrderItem is one requested line.
type PlaceOrderItem struct {
	ProductID string
	Variant   domain.VariantSelector
	Quantity  int
}

// PlaceOrderCommand carries everything needed to place an order.
type PlaceOrderCommand struct {
	Actor            Actor
	Items            []PlaceOrderItem
	ShippingAddress  domain.Address
	BillingAddress   *domain.Address
	PaymentReference string
	PaymentMethod    string
	Notes            string
}

// OrderListFilter narrows the admin order listing.
type OrderListFilter struct {
	Status *domain.OrderStatus
	Page   domain.PageRequest
}

// CancelOrderCommand is a customer cancellation request.
type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// UpdateOrderStatusCommand is an admin transition request.
type UpdateOrderStatusCommand struct {
	Actor          Actor
	OrderID        string
	Status         string
	TrackingNumber string
	Carrier        string
	Reason         string
}

// PaymentSession is returned to the client to continue on the provider's hosted page.
type PaymentSession struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// ExpireUnpaidResult summarises one expiry sweep.
type ExpireUnpaidResult struct {
	Scanned   int
	Cancelled []string
	Failed    []string
}

// NotificationListFilter narrows inbox listings.
type NotificationListFilter struct {
	UnreadOnly bool
	Page       domain.PageRequest
}

// NotificationEvent is a rendered message addressed to one or more recipients.
type NotificationEvent struct {
	Type       domain.NotificationType
	Recipients []string
	Title      string
	Message    string
	Data       map[string]any
	OccurredAt time.Time
}

// SystemHealthReport extends the dependency report with build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	Environment string
	Uptime      time.Duration
}
