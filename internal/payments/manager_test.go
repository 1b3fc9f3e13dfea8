package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	session Session
	payment PaymentDetails
	event   Event
	err     error
}

func (f *fakeProvider) InitializeSession(ctx context.Context, req SessionRequest) (Session, error) {
	f.lastOp = "initialize"
	return f.session, f.err
}

func (f *fakeProvider) Verify(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	f.lastOp = "verify"
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func (f *fakeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	f.lastOp = "webhook"
	return f.event, f.err
}

func TestManagerInitializeSessionUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: Session{ID: "cs_stripe"}}
	paystack := &fakeProvider{session: Session{ID: "ps_session"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe":   stripe,
		"paystack": paystack,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.InitializeSession(ctx, PaymentContext{PreferredProvider: "Paystack"}, SessionRequest{Reference: "LH-PAY-1", Currency: "NGN"})
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}
	if session.Provider != "paystack" {
		t.Fatalf("expected provider 'paystack', got %q", session.Provider)
	}
	if session.Reference != "LH-PAY-1" {
		t.Fatalf("expected reference to default from request, got %q", session.Reference)
	}
	if paystack.lastOp != "initialize" || stripe.lastOp != "" {
		t.Fatalf("expected only paystack to handle the call")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Status: StatusSucceeded}}
	paystack := &fakeProvider{payment: PaymentDetails{Status: StatusPending}}

	mgr, err := NewManager(
		map[string]Provider{"stripe": stripe, "paystack": paystack},
		WithCurrencyRoutes(map[string]string{"ngn": "paystack"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Verify(ctx, PaymentContext{Currency: "NGN"}, VerifyRequest{SessionID: "s"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if details.Provider != "paystack" || paystack.lastOp != "verify" {
		t.Fatalf("expected NGN to route to paystack, got %+v", details)
	}

	if _, err := mgr.Verify(ctx, PaymentContext{Currency: "USD"}, VerifyRequest{SessionID: "s"}); err != nil {
		t.Fatalf("verify usd: %v", err)
	}
	if stripe.lastOp != "verify" {
		t.Fatalf("expected USD to fall back to stripe default")
	}
}

func TestManagerRejectsUnknownPreferredProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.ParseWebhook("paypal", nil, ""); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerPropagatesProviderErrors(t *testing.T) {
	boom := errors.New("boom")
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{err: boom}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Refund(context.Background(), PaymentContext{}, RefundRequest{TransactionID: "pi_1"}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestNewManagerValidatesRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty providers")
	}
	if _, err := NewManager(map[string]Provider{" ": &fakeProvider{}}); err == nil {
		t.Fatalf("expected error for blank key")
	}
}
