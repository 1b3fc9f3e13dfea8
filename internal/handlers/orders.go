package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/platform/auth"
	"github.com/lacehouse/store-api/internal/platform/httpx"
	"github.com/lacehouse/store-api/internal/platform/observability"
	"github.com/lacehouse/store-api/internal/services"
)

const (
	maxPlaceOrderBodySize  = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
	maxOrderStatusBodySize = 4 * 1024
)

// OrderHandlers exposes order placement, lifecycle, and payment endpoints.
type OrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	placeOrder []func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithPlaceOrderMiddlewares wraps only the order placement endpoint, e.g. with idempotency.
func WithPlaceOrderMiddlewares(mw ...func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.placeOrder = append(h.placeOrder, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(), observability.CaptureIdentity)
	}
	placeOrder := make([]func(http.Handler) http.Handler, 0, len(h.placeOrder))
	for _, mw := range h.placeOrder {
		if mw != nil {
			placeOrder = append(placeOrder, mw)
		}
	}
	r.With(placeOrder...).Post("/", h.placeOrderHandler)
	r.Get("/", h.listOrders)
	r.Get("/my-orders", h.listMyOrders)
	r.Post("/verify-payment", h.verifyPayment)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/cancel", h.cancelOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/initialize-payment", h.initializePayment)
}

type placeOrderItemRequest struct {
	Product   string `json:"product"`
	ProductID string `json:"productId"`
	Variant   struct {
		Color string `json:"color"`
		SKU   string `json:"sku"`
	} `json:"variant"`
	Quantity int `json:"quantity"`
}

type placeOrderRequest struct {
	Items            []placeOrderItemRequest `json:"items"`
	ShippingAddress  addressPayload          `json:"shippingAddress"`
	BillingAddress   *addressPayload         `json:"billingAddress"`
	PaymentReference string                  `json:"paymentReference"`
	PaymentMethod    string                  `json:"paymentMethod"`
	Notes            string                  `json:"notes"`
}

func (h *OrderHandlers) placeOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxPlaceOrderBodySize, false, &req) {
		return
	}

	items := make([]services.PlaceOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID := item.ProductID
		if strings.TrimSpace(productID) == "" {
			productID = item.Product
		}
		items = append(items, services.PlaceOrderItem{
			ProductID: strings.TrimSpace(productID),
			Variant:   domain.VariantSelector{SKU: strings.TrimSpace(item.Variant.SKU), Color: strings.TrimSpace(item.Variant.Color)},
			Quantity:  item.Quantity,
		})
	}
	cmd := services.PlaceOrderCommand{
		Actor:            actor,
		Items:            items,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		PaymentMethod:    strings.TrimSpace(req.PaymentMethod),
		Notes:            req.Notes,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{
		Success: true,
		Message: "order placed",
		Order:   buildOrderPayload(order),
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.OrderListFilter{Page: page}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(strings.ToLower(raw))
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		filter.Status = &status
	}
	result, err := h.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderPage(w, result)
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	result, err := h.orders.ListMyOrders(ctx, actor, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderPage(w, result)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, actor, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderCancelBodySize, true, &req) {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		Actor:   actor,
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{
		Success: true,
		Message: "order cancelled",
		Order:   buildOrderPayload(order),
	})
}

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	Reason         string `json:"reason"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxOrderStatusBodySize, false, &req) {
		return
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		Actor:          actor,
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:         strings.ToLower(strings.TrimSpace(req.Status)),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Carrier:        strings.TrimSpace(req.Carrier),
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{
		Success: true,
		Message: "order status updated",
		Order:   buildOrderPayload(order),
	})
}

type paymentSessionResponse struct {
	Success          bool   `json:"success"`
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
	Reference        string `json:"reference"`
}

func (h *OrderHandlers) initializePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	session, err := h.orders.InitializePayment(ctx, actor, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentSessionResponse{
		Success:          true,
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
		Reference:        session.Reference,
	})
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if !decodeJSONBody(w, r, maxOrderStatusBodySize, false, &req) {
		return
	}
	order, err := h.orders.VerifyPayment(ctx, actor, strings.TrimSpace(req.Reference))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func writeOrderPage(w http.ResponseWriter, page domain.Page[domain.Order]) {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, pagePayload[orderPayload]{
		Success:    true,
		Items:      items,
		Pagination: buildPagination(page.Page, page.Limit, page.Total, page.TotalPages),
	})
}
