package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	metadataReference = "payment_reference"
	metadataOrderID   = "order_id"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements Provider on Stripe Checkout.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// InitializeSession opens a Stripe Checkout session carrying the payment reference.
func (p *StripeProvider) InitializeSession(ctx context.Context, req SessionRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("stripe: provider is nil")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return Session{}, errors.New("stripe: payment reference is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))

	metadata := map[string]string{
		metadataReference: reference,
		metadataOrderID:   req.OrderID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(reference),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	// A single line for the order total keeps shipping and tax inside the charged amount.
	name := "Order"
	if req.OrderID != "" {
		name = "Order " + req.OrderID
	}
	params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(req.Amount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name:        stripe.String(name),
				Description: stripe.String(describeItems(req.Items)),
			},
		},
	}}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"reference": reference,
		"currency":  session.Currency,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Session{
		ID:               session.ID,
		Provider:         "stripe",
		Reference:        reference,
		AuthorizationURL: session.URL,
		ExpiresAt:        expiresAt,
	}, nil
}

// Verify loads the checkout session and reports its settlement state.
func (p *StripeProvider) Verify(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return PaymentDetails{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.api.sessions.Get(sessionID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	details := sessionDetails(session)
	if details.Reference == "" {
		details.Reference = strings.TrimSpace(req.Reference)
	}
	p.logger(ctx, "payments.stripe.session.verified", map[string]any{
		"sessionId": session.ID,
		"status":    string(details.Status),
	})
	return details, nil
}

// Refund refunds the payment intent in full unless Amount is set.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.TransactionID)
	if intentID == "" {
		return PaymentDetails{}, errors.New("stripe: transaction id is required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	refund, err := p.api.refunds.New(params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": intentID,
		"refundId":      refund.ID,
		"status":        string(refund.Status),
	})

	status := StatusRefunded
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		status = StatusFailed
	}
	refundedAt := p.clock()
	if refund.Created != 0 {
		refundedAt = time.Unix(refund.Created, 0).UTC()
	}
	return PaymentDetails{
		Provider:      "stripe",
		TransactionID: intentID,
		RefundID:      refund.ID,
		Status:        status,
		Amount:        refund.Amount,
		Currency:      strings.ToUpper(string(refund.Currency)),
		RefundedAt:    &refundedAt,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps checkout events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	if p == nil {
		return Event{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type), Kind: EventIgnored}
	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
	default:
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return Event{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
	}
	out.Payment = sessionDetails(&session)

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		out.Payment.Status = StatusFailed
		out.Kind = EventPaymentFailed
	default:
		if out.Payment.Status == StatusSucceeded {
			out.Kind = EventPaymentSucceeded
		}
	}
	return out, nil
}

func sessionDetails(session *stripe.CheckoutSession) PaymentDetails {
	if session == nil {
		return PaymentDetails{}
	}
	details := PaymentDetails{
		Provider:  "stripe",
		SessionID: session.ID,
		Reference: strings.TrimSpace(session.ClientReferenceID),
		Status:    StatusPending,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
	}
	if details.Reference == "" && session.Metadata != nil {
		details.Reference = strings.TrimSpace(session.Metadata[metadataReference])
	}

	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		details.Status = StatusSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		details.Status = StatusFailed
	}

	if intent := session.PaymentIntent; intent != nil {
		details.TransactionID = intent.ID
		switch intent.Status {
		case stripe.PaymentIntentStatusSucceeded:
			details.Status = StatusSucceeded
		case stripe.PaymentIntentStatusCanceled:
			details.Status = StatusFailed
		}
		if charge := intent.LatestCharge; charge != nil {
			if details.Status == StatusSucceeded && charge.Created != 0 {
				paidAt := time.Unix(charge.Created, 0).UTC()
				details.PaidAt = &paidAt
			}
			if charge.Refunded && charge.Amount > 0 && charge.AmountRefunded >= charge.Amount {
				details.Status = StatusRefunded
			}
		}
	}
	return details
}

func describeItems(items []LineItem) string {
	if len(items) == 0 {
		return "Fabric order"
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		label := item.Name
		if item.SKU != "" {
			label = fmt.Sprintf("%s (%s)", item.Name, item.SKU)
		}
		parts = append(parts, fmt.Sprintf("%d x %s", item.Quantity, label))
	}
	return strings.Join(parts, ", ")
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
