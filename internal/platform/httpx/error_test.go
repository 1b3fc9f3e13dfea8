package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("validation_error", "invalid input\nsecond line", http.StatusBadRequest).
		WithFields(map[string]string{"items[0].quantity": "must be at least 1"}).
		WithDetails(map[string]any{"available": 2}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %s", ct)
	}
	var body struct {
		Success   bool              `json:"success"`
		Error     string            `json:"error"`
		Message   string            `json:"message"`
		Status    int               `json:"status"`
		Errors    map[string]string `json:"errors"`
		Details   map[string]any    `json:"details"`
		RequestID string            `json:"request_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error != "validation_error" || body.Status != http.StatusBadRequest {
		t.Fatalf("unexpected envelope %#v", body)
	}
	if body.Message != "invalid input second line" {
		t.Fatalf("expected sanitized message, got %q", body.Message)
	}
	if body.Errors["items[0].quantity"] != "must be at least 1" || body.Details["available"] != float64(2) {
		t.Fatalf("unexpected fields %#v %#v", body.Errors, body.Details)
	}
	if body.RequestID != "req-1" {
		t.Fatalf("expected request id from context, got %q", body.RequestID)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if got := NewError("x", "y", 0).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", got)
	}
}
