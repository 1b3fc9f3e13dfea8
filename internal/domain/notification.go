package domain

import "time"

// AdminRecipient addresses a notification to every staff and admin account.
const AdminRecipient = "admins"

// NotificationType names the event a notification reports.
type NotificationType string

const (
	NotificationOrderPlaced        NotificationType = "order_placed"
	NotificationPaymentReceived    NotificationType = "payment_received"
	NotificationPaymentFailed      NotificationType = "payment_failed"
	NotificationOrderStatusChanged NotificationType = "order_status_changed"
	NotificationOrderShipped       NotificationType = "order_shipped"
	NotificationOrderDelivered     NotificationType = "order_delivered"
	NotificationOrderCancelled     NotificationType = "order_cancelled"
	NotificationOrderRefunded      NotificationType = "order_refunded"
	NotificationLowStock           NotificationType = "low_stock"
)

// Notification is an in-app message addressed to a user or to the admin group.
type Notification struct {
	ID          string
	RecipientID string
	Type        NotificationType
	Title       string
	Message     string
	Data        map[string]any
	Read        bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}
