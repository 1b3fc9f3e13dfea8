package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{"not found", status.Error(codes.NotFound, "missing"), true, false, false},
		{"already exists", status.Error(codes.AlreadyExists, "dup"), false, true, false},
		{"aborted", status.Error(codes.Aborted, "contention"), false, true, false},
		{"failed precondition", status.Error(codes.FailedPrecondition, "stale"), false, true, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), false, false, true},
		{"exhausted", status.Error(codes.ResourceExhausted, "quota"), false, false, true},
		{"unknown", errors.New("boom"), false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("orders.get", tc.err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification %+v", repoErr)
			}
		})
	}
}

func TestWrapErrorPassesCancellation(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestExplicitConstructors(t *testing.T) {
	var repoErr *Error
	if !errors.As(Conflict("orders.update", "stale write"), &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error")
	}
	if !errors.As(NotFound("orders.get", "missing"), &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error")
	}
}
