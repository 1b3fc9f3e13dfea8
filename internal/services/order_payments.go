package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/payments"
	"github.com/lacehouse/store-api/internal/repositories"
)

type paymentOutcome int

const (
	paymentUnchanged paymentOutcome = iota
	paymentSucceeded
	paymentRejected
)

func (s *orderService) InitializePayment(ctx context.Context, actor Actor, orderID string) (PaymentSession, error) {
	if s.payments == nil {
		return PaymentSession{}, fmt.Errorf("%w: payments are not configured", ErrUnavailable)
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return PaymentSession{}, err
	}
	if err := s.policy.Authorize(actor, OrderActionPay, order); err != nil {
		return PaymentSession{}, err
	}
	if order.Paid() {
		return PaymentSession{}, fmt.Errorf("%w: order %s is already paid", ErrConflict, order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentSession{}, fmt.Errorf("%w: order %s is %s and cannot be paid", ErrConflict, order.OrderNumber, order.Status)
	}

	reference := order.Payment.Reference
	session, err := s.payments.InitializeSession(ctx, s.paymentContext(order), payments.SessionRequest{
		Reference:     reference,
		OrderID:       order.ID,
		Amount:        order.Total,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		SuccessURL:    expandReference(s.settings.PaymentSuccessURL, reference),
		CancelURL:     expandReference(s.settings.PaymentCancelURL, reference),
		Items: lo.Map(order.Items, func(item domain.OrderItem, _ int) payments.LineItem {
			return payments.LineItem{Name: item.Name, SKU: item.SKU, Quantity: int64(item.Quantity), Amount: item.UnitPrice}
		}),
		Metadata: map[string]string{"order_number": order.OrderNumber},
		// A new key per order revision lets a client retry after a failed attempt.
		IdempotencyKey: "session_" + order.ID + "_" + strconv.FormatInt(order.UpdatedAt.UnixNano(), 10),
	})
	if err != nil {
		return PaymentSession{}, s.paymentError(ctx, order, "initialize", err)
	}

	updated := cloneOrder(order)
	updated.Payment.Provider = session.Provider
	updated.Payment.SessionID = session.ID
	updated.Payment.AuthorizationURL = session.AuthorizationURL
	updated.Payment.Status = domain.PaymentStatusProcessing
	updated.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, updated, order.UpdatedAt); err != nil {
		return PaymentSession{}, mapRepositoryError(err, "order "+order.ID)
	}

	s.logger(ctx, "payment.initialized", map[string]any{
		"orderId":   order.ID,
		"reference": reference,
		"provider":  session.Provider,
		"sessionId": session.ID,
	})
	return PaymentSession{
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.ID,
		Reference:        reference,
	}, nil
}

// VerifyPayment reconciles the order behind reference with the provider. An order whose payment
// already completed is returned unchanged without contacting the provider.
func (s *orderService) VerifyPayment(ctx context.Context, actor Actor, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, &ValidationError{Fields: map[string]string{"reference": "is required"}}
	}
	order, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, "order with payment reference "+reference)
	}
	if err := s.policy.Authorize(actor, OrderActionPay, order); err != nil {
		return domain.Order{}, err
	}
	if order.Paid() {
		return order, nil
	}
	if order.Payment.SessionID == "" {
		return domain.Order{}, fmt.Errorf("%w: payment for order %s has not been initialised", ErrInvalidInput, order.OrderNumber)
	}
	if s.payments == nil {
		return domain.Order{}, fmt.Errorf("%w: payments are not configured", ErrUnavailable)
	}

	details, err := s.payments.Verify(ctx, s.paymentContext(order), payments.VerifyRequest{
		SessionID: order.Payment.SessionID,
		Reference: reference,
	})
	if err != nil {
		return domain.Order{}, s.paymentError(ctx, order, "verify", err)
	}
	return s.applyPaymentResult(ctx, order, details)
}

// HandlePaymentEvent applies a verified provider callback. Events for unknown references or
// already settled orders are acknowledged without changes.
func (s *orderService) HandlePaymentEvent(ctx context.Context, event payments.Event) error {
	if event.Kind == payments.EventIgnored {
		return nil
	}
	reference := strings.TrimSpace(event.Payment.Reference)
	if reference == "" {
		s.logger(ctx, "payment.webhook.unmatched", map[string]any{"eventId": event.ID, "type": event.Type})
		return nil
	}
	order, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "payment.webhook.unmatched", map[string]any{
				"eventId":   event.ID,
				"type":      event.Type,
				"reference": reference,
			})
			return nil
		}
		return mapRepositoryError(err, "order with payment reference "+reference)
	}
	if order.Paid() {
		return nil
	}
	// A stale session expiring must not fail the payment of a newer session.
	if event.Kind == payments.EventPaymentFailed && event.Payment.SessionID != "" &&
		order.Payment.SessionID != "" && event.Payment.SessionID != order.Payment.SessionID {
		return nil
	}
	_, err = s.applyPaymentResult(ctx, order, event.Payment)
	return err
}

// applyPaymentResult writes the provider outcome onto order. A concurrent writer causes one
// re-read, after which an already settled order is returned as is.
func (s *orderService) applyPaymentResult(ctx context.Context, order domain.Order, details payments.PaymentDetails) (domain.Order, error) {
	for attempt := 0; ; attempt++ {
		now := s.clock()
		updated, outcome := s.reconcilePayment(ctx, order, details, now)
		if outcome == paymentUnchanged {
			return order, nil
		}
		err := s.orders.Update(ctx, updated, order.UpdatedAt)
		if err == nil {
			s.afterPayment(ctx, order, updated, outcome, now)
			return updated, nil
		}
		if attempt > 0 || !isRepoConflict(err) {
			return domain.Order{}, mapRepositoryError(err, "order "+order.ID)
		}
		fresh, ferr := s.orders.FindByID(ctx, order.ID)
		if ferr != nil {
			return domain.Order{}, mapRepositoryError(ferr, "order "+order.ID)
		}
		if fresh.Paid() {
			return fresh, nil
		}
		order = fresh
	}
}

func (s *orderService) reconcilePayment(ctx context.Context, order domain.Order, details payments.PaymentDetails, now time.Time) (domain.Order, paymentOutcome) {
	if order.Paid() {
		return order, paymentUnchanged
	}
	updated := cloneOrder(order)
	if details.Provider != "" {
		updated.Payment.Provider = details.Provider
	}
	if details.SessionID != "" && updated.Payment.SessionID == "" {
		updated.Payment.SessionID = details.SessionID
	}
	if details.TransactionID != "" {
		updated.Payment.TransactionID = details.TransactionID
	}

	switch details.Status {
	case payments.StatusSucceeded:
		currencyMismatch := details.Currency != "" && !strings.EqualFold(details.Currency, order.Currency)
		if details.Amount != order.Total || currencyMismatch {
			s.logger(ctx, "payment.amount_mismatch", map[string]any{
				"orderId":   order.ID,
				"reference": order.Payment.Reference,
				"expected":  order.Total,
				"paid":      details.Amount,
				"currency":  details.Currency,
			})
			updated.Payment.Status = domain.PaymentStatusFailed
			updated.UpdatedAt = now
			return updated, paymentRejected
		}
		paidAt := now
		if details.PaidAt != nil && !details.PaidAt.IsZero() {
			paidAt = details.PaidAt.UTC()
		}
		updated.Payment.Status = domain.PaymentStatusCompleted
		updated.Payment.Amount = details.Amount
		updated.Payment.PaidAt = &paidAt
		// A cancelled order keeps its status. The payment is only recorded.
		if order.Status == domain.OrderStatusPending {
			updated.Status = domain.OrderStatusProcessing
			updated.History = append(updated.History, domain.OrderStatusChange{
				From:    order.Status,
				To:      domain.OrderStatusProcessing,
				ActorID: SystemActorID,
				Reason:  "payment_completed",
				At:      now,
			})
		}
		updated.UpdatedAt = now
		return updated, paymentSucceeded
	case payments.StatusFailed:
		if order.Payment.Status == domain.PaymentStatusFailed {
			return order, paymentUnchanged
		}
		updated.Payment.Status = domain.PaymentStatusFailed
		updated.UpdatedAt = now
		return updated, paymentRejected
	default:
		return order, paymentUnchanged
	}
}

func (s *orderService) afterPayment(ctx context.Context, before, after domain.Order, outcome paymentOutcome, now time.Time) {
	fields := map[string]any{
		"orderId":   after.ID,
		"reference": after.Payment.Reference,
		"provider":  after.Payment.Provider,
		"status":    string(after.Payment.Status),
	}
	switch outcome {
	case paymentSucceeded:
		s.notify(ctx, s.messages.paymentReceived(after, now))
		if before.Status != after.Status {
			fields["orderStatus"] = string(after.Status)
		}
		s.logger(ctx, "payment.verified", fields)
	case paymentRejected:
		s.notify(ctx, s.messages.paymentFailed(after, now))
		s.logger(ctx, "payment.failed", fields)
	}
}

// refund asks the provider to return the captured payment of order.
func (s *orderService) refund(ctx context.Context, order domain.Order, reason string) (payments.PaymentDetails, error) {
	if !order.Paid() {
		return payments.PaymentDetails{}, fmt.Errorf("%w: order %s has no completed payment to refund", ErrConflict, order.OrderNumber)
	}
	if s.payments == nil {
		return payments.PaymentDetails{}, fmt.Errorf("%w: payments are not configured", ErrUnavailable)
	}
	details, err := s.payments.Refund(ctx, s.paymentContext(order), payments.RefundRequest{
		TransactionID:  order.Payment.TransactionID,
		Reason:         reason,
		IdempotencyKey: "refund_" + order.ID,
	})
	if err != nil {
		return payments.PaymentDetails{}, s.paymentError(ctx, order, "refund", err)
	}
	if details.Status == payments.StatusFailed {
		return payments.PaymentDetails{}, fmt.Errorf("%w: refund for order %s was declined by the provider", ErrConflict, order.OrderNumber)
	}
	return details, nil
}

func (s *orderService) paymentContext(order domain.Order) payments.PaymentContext {
	return payments.PaymentContext{
		PreferredProvider: firstNonEmpty(order.Payment.Provider, s.settings.PaymentProvider),
		Currency:          order.Currency,
	}
}

func (s *orderService) paymentError(ctx context.Context, order domain.Order, op string, err error) error {
	s.logger(ctx, "payment."+op+".failed", map[string]any{
		"orderId":   order.ID,
		"reference": order.Payment.Reference,
		"error":     err.Error(),
	})
	if errors.Is(err, payments.ErrUnsupportedProvider) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: payment provider %s failed: %v", ErrUnavailable, op, err)
}

func expandReference(rawURL, reference string) string {
	return strings.ReplaceAll(rawURL, "{reference}", url.QueryEscape(reference))
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
