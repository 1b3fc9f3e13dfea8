package handlers

import (
	"strings"

	domain "github.com/lacehouse/store-api/internal/domain"
)

type orderResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Order   orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string                `json:"id"`
	OrderNumber       string                `json:"orderNumber"`
	UserID            string                `json:"userId"`
	CustomerEmail     string                `json:"customerEmail,omitempty"`
	Items             []orderItemPayload    `json:"items"`
	Subtotal          int64                 `json:"subtotal"`
	ShippingCost      int64                 `json:"shippingCost"`
	Discount          int64                 `json:"discount"`
	Tax               int64                 `json:"tax"`
	Total             int64                 `json:"total"`
	Currency          string                `json:"currency"`
	ShippingAddress   addressPayload        `json:"shippingAddress"`
	BillingAddress    addressPayload        `json:"billingAddress"`
	Payment           orderPaymentPayload   `json:"payment"`
	Status            string                `json:"status"`
	FulfillmentStatus string                `json:"fulfillmentStatus"`
	TrackingNumber    string                `json:"trackingNumber,omitempty"`
	Carrier           string                `json:"carrier,omitempty"`
	Notes             string                `json:"notes,omitempty"`
	CancelReason      string                `json:"cancelReason,omitempty"`
	History           []statusChangePayload `json:"statusHistory,omitempty"`
	ShippedAt         string                `json:"shippedAt,omitempty"`
	DeliveredAt       string                `json:"deliveredAt,omitempty"`
	CancelledAt       string                `json:"cancelledAt,omitempty"`
	CreatedAt         string                `json:"createdAt"`
	UpdatedAt         string                `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Color     string `json:"color,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type orderPaymentPayload struct {
	Method           string `json:"method,omitempty"`
	Provider         string `json:"provider,omitempty"`
	Reference        string `json:"reference"`
	TransactionID    string `json:"transactionId,omitempty"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	PaidAt           string `json:"paidAt,omitempty"`
	RefundedAt       string `json:"refundedAt,omitempty"`
}

type statusChangePayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	ActorID string `json:"actorId,omitempty"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

type addressPayload struct {
	FullName   string  `json:"fullName"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	Country    string  `json:"country"`
	Phone      string  `json:"phone"`
	Email      *string `json:"email,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		FullName:   strings.TrimSpace(a.FullName),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      trimmedPointer(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      trimmedPointer(a.State),
		PostalCode: trimmedPointer(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
		Phone:      strings.TrimSpace(a.Phone),
		Email:      trimmedPointer(a.Email),
	}
}

func newAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			SKU:       item.SKU,
			Color:     item.Color,
			Unit:      item.Unit,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	var history []statusChangePayload
	for _, change := range order.History {
		history = append(history, statusChangePayload{
			From:    string(change.From),
			To:      string(change.To),
			ActorID: change.ActorID,
			Reason:  change.Reason,
			At:      formatTime(change.At),
		})
	}
	return orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		CustomerEmail:   order.CustomerEmail,
		Items:           items,
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		Discount:        order.Discount,
		Tax:             order.Tax,
		Total:           order.Total,
		Currency:        strings.ToUpper(order.Currency),
		ShippingAddress: newAddressPayload(order.ShippingAddress),
		BillingAddress:  newAddressPayload(order.BillingAddress),
		Payment: orderPaymentPayload{
			Method:           order.Payment.Method,
			Provider:         order.Payment.Provider,
			Reference:        order.Payment.Reference,
			TransactionID:    order.Payment.TransactionID,
			AuthorizationURL: order.Payment.AuthorizationURL,
			Status:           string(order.Payment.Status),
			Amount:           order.Payment.Amount,
			PaidAt:           formatTimePtr(order.Payment.PaidAt),
			RefundedAt:       formatTimePtr(order.Payment.RefundedAt),
		},
		Status:            string(order.Status),
		FulfillmentStatus: string(order.FulfillmentStatus),
		TrackingNumber:    derefString(order.TrackingNumber),
		Carrier:           derefString(order.Carrier),
		Notes:             order.Notes,
		CancelReason:      derefString(order.CancelReason),
		History:           history,
		ShippedAt:         formatTimePtr(order.ShippedAt),
		DeliveredAt:       formatTimePtr(order.DeliveredAt),
		CancelledAt:       formatTimePtr(order.CancelledAt),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
}
