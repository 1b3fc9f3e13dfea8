package domain

import (
	"slices"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// orderTransitions lists, for every status, the statuses it may move to.
// Statuses without an entry are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
}

// ParseOrderStatus validates a raw status value.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(raw)
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return status, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition is accepted from the status.
func (s OrderStatus) IsTerminal() bool {
	_, ok := orderTransitions[s]
	return !ok
}

// CanTransitionTo reports whether the transition table allows moving to target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return slices.Contains(orderTransitions[s], target)
}

// CustomerCancellable reports whether the owner may still cancel an order in this status.
func (s OrderStatus) CustomerCancellable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// PaymentStatus is the state of the payment sub-document.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// FulfillmentStatus tracks physical shipment completeness separately from the lifecycle status.
type FulfillmentStatus string

const (
	FulfillmentStatusUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentStatusShipped     FulfillmentStatus = "shipped"
	FulfillmentStatusFulfilled   FulfillmentStatus = "fulfilled"
	FulfillmentStatusReturned    FulfillmentStatus = "returned"
)

// Order is the ledger entry produced by order placement.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	CustomerEmail     string
	Items             []OrderItem
	Subtotal          int64
	ShippingCost      int64
	Discount          int64
	Tax               int64
	Total             int64
	Currency          string
	ShippingAddress   Address
	BillingAddress    Address
	Payment           OrderPayment
	Status            OrderStatus
	FulfillmentStatus FulfillmentStatus
	TrackingNumber    *string
	Carrier           *string
	Notes             string
	CancelReason      *string
	History           []OrderStatusChange
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	Timestamped
}

// OrderItem is a snapshot of a purchased product variant taken at order time.
type OrderItem struct {
	ProductID string
	Name      string
	Image     string
	SKU       string
	Color     string
	Unit      string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// OrderPayment captures provider correlation and settlement state.
type OrderPayment struct {
	Method           string
	Provider         string
	Reference        string
	SessionID        string
	TransactionID    string
	AuthorizationURL string
	Status           PaymentStatus
	Amount           int64
	PaidAt           *time.Time
	RefundedAt       *time.Time
}

// OrderStatusChange records one accepted transition.
type OrderStatusChange struct {
	From    OrderStatus
	To      OrderStatus
	ActorID string
	Reason  string
	At      time.Time
}

// Paid reports whether payment has settled. Items and totals are frozen once it has.
func (o Order) Paid() bool {
	return o.Payment.Status == PaymentStatusCompleted
}

// StockRestorations returns the increments that undo the order's stock decrements.
func (o Order) StockRestorations() []StockAdjustment {
	out := make([]StockAdjustment, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			continue
		}
		out = append(out, StockAdjustment{
			ProductID: item.ProductID,
			Variant:   VariantSelector{SKU: item.SKU, Color: item.Color},
			Delta:     item.Quantity,
		})
	}
	return out
}
