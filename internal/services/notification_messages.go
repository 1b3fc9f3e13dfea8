package services

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/lacehouse/store-api/internal/domain"
)

// messageRenderer builds notification copy for one locale.
type messageRenderer struct {
	tag     language.Tag
	printer *message.Printer
}

func newMessageRenderer(tag language.Tag) messageRenderer {
	if tag == language.Und {
		tag = language.English
	}
	return messageRenderer{tag: tag, printer: message.NewPrinter(tag)}
}

func (r messageRenderer) money(amount int64, code string) string {
	return domain.FormatMoney(amount, code, r.tag)
}

func orderData(order domain.Order) map[string]any {
	return map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
		"total":       order.Total,
		"currency":    order.Currency,
	}
}

func (r messageRenderer) orderPlaced(order domain.Order, now time.Time) []NotificationEvent {
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	customer := NotificationEvent{
		Type:       domain.NotificationOrderPlaced,
		Recipients: []string{order.UserID},
		Title:      "Order placed",
		Message: r.printer.Sprintf("Your order %s for %s has been received. Complete payment to start processing.",
			order.OrderNumber, r.money(order.Total, order.Currency)),
		Data:       orderData(order),
		OccurredAt: now,
	}
	admin := NotificationEvent{
		Type:       domain.NotificationOrderPlaced,
		Recipients: []string{domain.AdminRecipient},
		Title:      r.printer.Sprintf("New order %s", order.OrderNumber),
		Message: r.printer.Sprintf("%s ordered %d units across %d lines, total %s.",
			order.ShippingAddress.FullName, items, len(order.Items), r.money(order.Total, order.Currency)),
		Data:       orderData(order),
		OccurredAt: now,
	}
	return []NotificationEvent{customer, admin}
}

func (r messageRenderer) paymentReceived(order domain.Order, now time.Time) NotificationEvent {
	data := orderData(order)
	data["reference"] = order.Payment.Reference
	return NotificationEvent{
		Type:       domain.NotificationPaymentReceived,
		Recipients: []string{order.UserID, domain.AdminRecipient},
		Title:      "Payment received",
		Message: r.printer.Sprintf("Payment of %s for order %s was confirmed.",
			r.money(order.Payment.Amount, order.Currency), order.OrderNumber),
		Data:       data,
		OccurredAt: now,
	}
}

func (r messageRenderer) paymentFailed(order domain.Order, now time.Time) NotificationEvent {
	data := orderData(order)
	data["reference"] = order.Payment.Reference
	return NotificationEvent{
		Type:       domain.NotificationPaymentFailed,
		Recipients: []string{order.UserID},
		Title:      "Payment failed",
		Message:    r.printer.Sprintf("We could not confirm payment for order %s. You can try again from your orders page.", order.OrderNumber),
		Data:       data,
		OccurredAt: now,
	}
}

func (r messageRenderer) statusChanged(order domain.Order, from domain.OrderStatus, now time.Time) NotificationEvent {
	data := orderData(order)
	data["previousStatus"] = string(from)
	event := NotificationEvent{
		Type:       domain.NotificationOrderStatusChanged,
		Recipients: []string{order.UserID},
		Title:      "Order updated",
		Message:    r.printer.Sprintf("Order %s is now %s.", order.OrderNumber, string(order.Status)),
		Data:       data,
		OccurredAt: now,
	}
	switch order.Status {
	case domain.OrderStatusShipped:
		event.Type = domain.NotificationOrderShipped
		event.Title = "Order shipped"
		if order.TrackingNumber != nil {
			data["trackingNumber"] = *order.TrackingNumber
			carrier := "the carrier"
			if order.Carrier != nil {
				carrier = *order.Carrier
				data["carrier"] = carrier
			}
			event.Message = r.printer.Sprintf("Order %s has shipped with %s, tracking number %s.", order.OrderNumber, carrier, *order.TrackingNumber)
		} else {
			event.Message = r.printer.Sprintf("Order %s has shipped.", order.OrderNumber)
		}
	case domain.OrderStatusDelivered:
		event.Type = domain.NotificationOrderDelivered
		event.Title = "Order delivered"
		event.Message = r.printer.Sprintf("Order %s has been delivered. Thank you for shopping with us.", order.OrderNumber)
	case domain.OrderStatusCancelled:
		event.Type = domain.NotificationOrderCancelled
		event.Title = "Order cancelled"
		event.Recipients = []string{order.UserID, domain.AdminRecipient}
		event.Message = r.printer.Sprintf("Order %s was cancelled.", order.OrderNumber)
		if order.CancelReason != nil {
			data["reason"] = *order.CancelReason
		}
	case domain.OrderStatusRefunded:
		event.Type = domain.NotificationOrderRefunded
		event.Title = "Order refunded"
		event.Message = r.printer.Sprintf("A refund of %s for order %s has been issued.",
			r.money(order.Payment.Amount, order.Currency), order.OrderNumber)
	}
	return event
}

func (r messageRenderer) lowStock(stock domain.VariantStock, now time.Time) NotificationEvent {
	variant := firstNonEmpty(stock.Color, stock.SKU)
	return NotificationEvent{
		Type:       domain.NotificationLowStock,
		Recipients: []string{domain.AdminRecipient},
		Title:      r.printer.Sprintf("Low stock: %s", stock.ProductName),
		Message:    r.printer.Sprintf("%s (%s) has %d left in stock.", stock.ProductName, variant, stock.Stock),
		Data: map[string]any{
			"productId": stock.ProductID,
			"sku":       stock.SKU,
			"color":     stock.Color,
			"stock":     stock.Stock,
		},
		OccurredAt: now,
	}
}
