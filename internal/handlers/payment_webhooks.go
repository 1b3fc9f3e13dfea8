package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lacehouse/store-api/internal/payments"
	"github.com/lacehouse/store-api/internal/platform/httpx"
	"github.com/lacehouse/store-api/internal/platform/observability"
	"github.com/lacehouse/store-api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	stripeWebhookProvider = "stripe"
)

// WebhookParser verifies and decodes provider callbacks. payments.Manager satisfies it.
type WebhookParser interface {
	ParseWebhook(provider string, payload []byte, signature string) (payments.Event, error)
}

// PaymentWebhookHandlers receives signed payment provider callbacks.
type PaymentWebhookHandlers struct {
	parser WebhookParser
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(parser WebhookParser, orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{parser: parser, orders: orders}
}

// Routes registers the /payments endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhook", h.stripe)
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
}

func (h *PaymentWebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.orders == nil {
		serviceUnavailable(ctx, w, "payment_webhook")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	logger := observability.FromContext(ctx)
	event, err := h.parser.ParseWebhook(stripeWebhookProvider, body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			logger.Warn("payment webhook rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to parse webhook payload", http.StatusBadRequest))
		return
	}

	if err := h.orders.HandlePaymentEvent(ctx, event); err != nil {
		logger.Error("payment webhook processing failed", zap.String("event_id", event.ID), zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, EventID: event.ID})
}
