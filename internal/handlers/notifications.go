package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/platform/auth"
	"github.com/lacehouse/store-api/internal/platform/httpx"
	"github.com/lacehouse/store-api/internal/platform/observability"
	"github.com/lacehouse/store-api/internal/services"
)

// NotificationHandlers exposes the caller's in-app notification inbox.
type NotificationHandlers struct {
	authn         *auth.Authenticator
	notifications services.NotificationService
}

// NewNotificationHandlers constructs inbox handlers.
func NewNotificationHandlers(authn *auth.Authenticator, notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{authn: authn, notifications: notifications}
}

// Routes registers the /notifications endpoints.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(), observability.CaptureIdentity)
	}
	r.Get("/", h.list)
	r.Patch("/read-all", h.markAllRead)
	r.Patch("/{notificationID}/read", h.markRead)
	r.Delete("/{notificationID}", h.delete)
}

type notificationPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	ReadAt    string         `json:"readAt,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func buildNotificationPayload(n domain.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		ReadAt:    formatTimePtr(n.ReadAt),
		CreatedAt: formatTime(n.CreatedAt),
	}
}

func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
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
	filter := services.NotificationListFilter{Page: page}
	if raw := strings.TrimSpace(r.URL.Query().Get("unread")); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unread must be a boolean", http.StatusBadRequest))
			return
		}
		filter.UnreadOnly = unread
	}
	result, err := h.notifications.List(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]notificationPayload, 0, len(result.Items))
	for _, n := range result.Items {
		items = append(items, buildNotificationPayload(n))
	}
	writeJSONResponse(w, http.StatusOK, pagePayload[notificationPayload]{
		Success:    true,
		Items:      items,
		Pagination: buildPagination(result.Page, result.Limit, result.Total, result.TotalPages),
	})
}

type notificationResponse struct {
	Success      bool                `json:"success"`
	Notification notificationPayload `json:"notification"`
}

func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.MarkRead(ctx, actor, strings.TrimSpace(chi.URLParam(r, "notificationID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, notificationResponse{Success: true, Notification: buildNotificationPayload(n)})
}

type markAllReadResponse struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

func (h *NotificationHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	updated, err := h.notifications.MarkAllRead(ctx, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, markAllReadResponse{Success: true, Updated: updated})
}

func (h *NotificationHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.notifications.Delete(ctx, actor, strings.TrimSpace(chi.URLParam(r, "notificationID"))); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
