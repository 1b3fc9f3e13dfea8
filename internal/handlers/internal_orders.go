package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lacehouse/store-api/internal/platform/observability"
	"github.com/lacehouse/store-api/internal/services"
)

// InternalOrderHandlers exposes maintenance endpoints invoked by the scheduler.
// Callers are authenticated by the OIDC middleware applied to the /internal group.
type InternalOrderHandlers struct {
	orders services.OrderService
}

// NewInternalOrderHandlers constructs maintenance handlers.
func NewInternalOrderHandlers(orders services.OrderService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/expire-unpaid", h.expireUnpaid)
}

type expireUnpaidResponse struct {
	Success   bool     `json:"success"`
	Scanned   int      `json:"scanned"`
	Cancelled []string `json:"cancelled"`
	Failed    []string `json:"failed,omitempty"`
}

func (h *InternalOrderHandlers) expireUnpaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	result, err := h.orders.ExpireUnpaid(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if len(result.Failed) > 0 {
		observability.FromContext(ctx).Warn("unpaid order expiry incomplete",
			zap.Int("scanned", result.Scanned),
			zap.Strings("failed", result.Failed))
	}
	cancelled := result.Cancelled
	if cancelled == nil {
		cancelled = []string{}
	}
	writeJSONResponse(w, http.StatusOK, expireUnpaidResponse{
		Success:   true,
		Scanned:   result.Scanned,
		Cancelled: cancelled,
		Failed:    result.Failed,
	})
}
