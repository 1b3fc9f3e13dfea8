package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/payments"
)

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

var (
	customer      = Actor{ID: "user-1", Email: "ada@example.com", Roles: []string{RoleCustomer}}
	otherCustomer = Actor{ID: "user-2", Email: "bola@example.com", Roles: []string{RoleCustomer}}
	admin         = Actor{ID: "admin-1", Email: "ops@example.com", Roles: []string{RoleAdmin}}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so every write gets a distinct UpdatedAt.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type orderHarness struct {
	store    *memoryStore
	notifier *recordingDispatcher
	gateway  *stubGateway
	clock    *testClock
	svc      OrderService

	mu     sync.Mutex
	events []string
}

func defaultOrderSettings() OrderSettings {
	return OrderSettings{
		Currency:          "NGN",
		FlatShippingRate:  2500,
		PaymentSuccessURL: "https://shop.example.com/checkout/success?ref={reference}",
		PaymentCancelURL:  "https://shop.example.com/checkout/cancel",
	}
}

func newOrderHarness(t testing.TB, settings OrderSettings, products ...domain.Product) *orderHarness {
	t.Helper()
	store := newMemoryStore(products...)
	h := &orderHarness{
		store:    store,
		notifier: &recordingDispatcher{},
		gateway:  &stubGateway{},
		clock:    &testClock{now: fixedNow},
	}
	var seq atomic.Int64
	svc, err := NewOrderService(OrderServiceDeps{
		Products: store,
		Orders:   memoryOrders{store},
		Counters: memoryCounters{store},
		Payments: h.gateway,
		Notifier: h.notifier,
		Settings: settings,
		Clock:    h.clock.Now,
		IDGenerator: func() string {
			return fmt.Sprintf("ord_%d", seq.Add(1))
		},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	h.svc = svc
	return h
}

func (h *orderHarness) logged(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

func (h *orderHarness) place(t *testing.T, actor Actor, items ...PlaceOrderItem) domain.Order {
	t.Helper()
	order, err := h.svc.PlaceOrder(context.Background(), placeCmd(actor, items...))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return order
}

func (h *orderHarness) stored(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := memoryOrders{h.store}.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find stored order: %v", err)
	}
	return order
}

func (h *orderHarness) payOrder(t *testing.T, actor Actor, order domain.Order) domain.Order {
	t.Helper()
	ctx := context.Background()
	session, err := h.svc.InitializePayment(ctx, actor, order.ID)
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	h.gateway.verifyFn = func(_ context.Context, _ payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
		paidAt := fixedNow.Add(time.Minute)
		return payments.PaymentDetails{
			Provider:      "stripe",
			SessionID:     req.SessionID,
			TransactionID: "pi_123",
			Reference:     req.Reference,
			Status:        payments.StatusSucceeded,
			Amount:        order.Total,
			Currency:      "NGN",
			PaidAt:        &paidAt,
		}, nil
	}
	paid, err := h.svc.VerifyPayment(ctx, actor, session.Reference)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	return paid
}

func laceProduct() domain.Product {
	return domain.Product{
		ID:               "prod_lace",
		Name:             "French Chantilly Lace",
		Images:           []string{"https://cdn.example.com/lace.jpg"},
		BasePrice:        15000,
		Currency:         "NGN",
		Unit:             "yard",
		MinOrderQuantity: 1,
		MaxOrderQuantity: 20,
		TotalStock:       13,
		Status:           domain.ProductStatusActive,
		Variants: []domain.ProductVariant{
			{SKU: "LACE-RED", Color: "Red", Stock: 5, Available: true},
			{SKU: "LACE-BLU", Color: "Blue", Stock: 8, Available: true},
		},
	}
}

func georgetteProduct() domain.Product {
	sale := int64(9000)
	override := int64(9500)
	return domain.Product{
		ID:         "prod_georgette",
		Name:       "Silk Georgette",
		BasePrice:  12000,
		SalePrice:  &sale,
		Currency:   "NGN",
		Unit:       "yard",
		TotalStock: 30,
		Status:     domain.ProductStatusActive,
		Variants: []domain.ProductVariant{
			{SKU: "GEO-IVR", Color: "Ivory", Stock: 10, Available: true},
			{SKU: "GEO-GLD", Color: "Gold", Stock: 20, Available: true, PriceOverride: &override},
		},
	}
}

func lagosAddress() domain.Address {
	return domain.Address{
		FullName: "Ada Obi",
		Line1:    "12 Marina Road",
		City:     "Lagos",
		Country:  "ng",
		Phone:    "+2348000000000",
	}
}

func line(productID, color string, quantity int) PlaceOrderItem {
	return PlaceOrderItem{ProductID: productID, Variant: domain.VariantSelector{Color: color}, Quantity: quantity}
}

func placeCmd(actor Actor, items ...PlaceOrderItem) PlaceOrderCommand {
	return PlaceOrderCommand{
		Actor:           actor,
		Items:           items,
		ShippingAddress: lagosAddress(),
	}
}

func TestPlaceOrderDecrementsStockAndComputesTotals(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())

	order := h.place(t, customer, line("prod_lace", "red", 3))

	if got := h.store.variantStock("prod_lace", 0); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}
	if got := h.store.product("prod_lace").TotalStock; got != 10 {
		t.Fatalf("expected total stock 10, got %d", got)
	}
	if order.Status != domain.OrderStatusPending || order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected statuses %s/%s", order.Status, order.Payment.Status)
	}
	if order.Subtotal != 45000 || order.ShippingCost != 2500 || order.Total != 47500 {
		t.Fatalf("unexpected totals subtotal=%d shipping=%d total=%d", order.Subtotal, order.ShippingCost, order.Total)
	}
	if order.OrderNumber != "LH-2026-000001" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if !strings.HasPrefix(order.Payment.Reference, "LH-PAY-") {
		t.Fatalf("expected generated payment reference, got %s", order.Payment.Reference)
	}
	if order.ShippingAddress.Country != "NG" || order.BillingAddress.FullName != "Ada Obi" {
		t.Fatalf("unexpected address snapshot %#v / %#v", order.ShippingAddress, order.BillingAddress)
	}

	want := []domain.OrderItem{{
		ProductID: "prod_lace",
		Name:      "French Chantilly Lace",
		Image:     "https://cdn.example.com/lace.jpg",
		SKU:       "LACE-RED",
		Color:     "Red",
		Unit:      "yard",
		Quantity:  3,
		UnitPrice: 15000,
		LineTotal: 45000,
	}}
	if diff := cmp.Diff(want, order.Items); diff != "" {
		t.Fatalf("item snapshot mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(order, h.stored(t, order.ID)); diff != "" {
		t.Fatalf("stored order differs (-returned +stored):\n%s", diff)
	}
	if got := len(h.notifier.ofType(domain.NotificationOrderPlaced)); got != 2 {
		t.Fatalf("expected customer and admin order_placed events, got %d", got)
	}
	if got := len(h.notifier.ofType(domain.NotificationLowStock)); got != 1 {
		t.Fatalf("expected one low_stock event, got %d", got)
	}
	if !h.logged("order.placed") {
		t.Fatalf("expected order.placed log")
	}
}

func TestPlaceOrderInsufficientStockLeavesStateUntouched(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())

	_, err := h.svc.PlaceOrder(context.Background(), placeCmd(customer, line("prod_lace", "Red", 10)))
	if !errors.Is(err, ErrInsufficientStock) || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected *StockError, got %T", err)
	}
	if stockErr.Available != 5 || stockErr.Requested != 10 || stockErr.ProductName != "French Chantilly Lace" {
		t.Fatalf("unexpected stock error %#v", stockErr)
	}
	if !strings.Contains(err.Error(), "only 5 available") {
		t.Fatalf("expected available stock in message, got %q", err.Error())
	}
	if got := h.store.variantStock("prod_lace", 0); got != 5 {
		t.Fatalf("expected stock 5, got %d", got)
	}
	if h.store.orderCount() != 0 || h.store.adjustCalls != 0 {
		t.Fatalf("expected no order and no stock write, got %d orders, %d adjusts", h.store.orderCount(), h.store.adjustCalls)
	}
}

func TestPlaceOrderFailingLaterLineWritesNothing(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct(), georgetteProduct())

	_, err := h.svc.PlaceOrder(context.Background(), placeCmd(customer,
		line("prod_georgette", "Ivory", 2),
		line("prod_lace", "Blue", 1),
		line("prod_lace", "Red", 6),
	))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if h.store.variantStock("prod_georgette", 0) != 10 || h.store.variantStock("prod_lace", 1) != 8 {
		t.Fatalf("earlier lines must not be decremented")
	}
	if h.store.orderCount() != 0 {
		t.Fatalf("expected no order")
	}
}

func TestPlaceOrderAccumulatesRepeatedVariantDemand(t *testing.T) {
	t.Run("exceeds", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		_, err := h.svc.PlaceOrder(context.Background(), placeCmd(customer,
			line("prod_lace", "Red", 3),
			PlaceOrderItem{ProductID: "prod_lace", Variant: domain.VariantSelector{SKU: "lace-red"}, Quantity: 3},
		))
		var stockErr *StockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected stock error, got %v", err)
		}
		if stockErr.Requested != 6 || stockErr.Available != 5 {
			t.Fatalf("expected cumulative demand 6 against 5, got %#v", stockErr)
		}
	})

	t.Run("fits", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.place(t, customer, line("prod_lace", "Red", 2), line("prod_lace", "red", 2))
		if len(order.Items) != 2 {
			t.Fatalf("expected separate snapshot lines, got %d", len(order.Items))
		}
		if got := h.store.variantStock("prod_lace", 0); got != 1 {
			t.Fatalf("expected stock 1, got %d", got)
		}
	})
}

func TestPlaceOrderPricing(t *testing.T) {
	settings := defaultOrderSettings()
	settings.FreeShippingThreshold = 50000
	settings.TaxRate = decimal.RequireFromString("7.5")

	cases := []struct {
		name         string
		items        []PlaceOrderItem
		wantUnit     []int64
		wantShipping int64
		wantTax      int64
		wantTotal    int64
	}{
		{
			name:         "sale price below free shipping",
			items:        []PlaceOrderItem{line("prod_georgette", "Ivory", 2)},
			wantUnit:     []int64{9000},
			wantShipping: 2500,
			wantTax:      1350,
			wantTotal:    18000 + 2500 + 1350,
		},
		{
			name:         "variant override reaches free shipping",
			items:        []PlaceOrderItem{line("prod_georgette", "Gold", 4), line("prod_lace", "Blue", 1)},
			wantUnit:     []int64{9500, 15000},
			wantShipping: 0,
			wantTax:      3975,
			wantTotal:    53000 + 3975,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newOrderHarness(t, settings, laceProduct(), georgetteProduct())
			order := h.place(t, customer, tc.items...)
			for i, want := range tc.wantUnit {
				if order.Items[i].UnitPrice != want {
					t.Fatalf("item %d: expected unit price %d, got %d", i, want, order.Items[i].UnitPrice)
				}
			}
			if order.ShippingCost != tc.wantShipping || order.Tax != tc.wantTax || order.Total != tc.wantTotal {
				t.Fatalf("unexpected shipping=%d tax=%d total=%d", order.ShippingCost, order.Tax, order.Total)
			}
			if order.Total != order.Subtotal+order.ShippingCost+order.Tax-order.Discount {
				t.Fatalf("total identity broken: %#v", order)
			}
		})
	}
}

func TestPlaceOrderRejectsInvalidRequests(t *testing.T) {
	draft := laceProduct()
	draft.ID = "prod_draft"
	draft.Status = domain.ProductStatusDraft
	bulk := georgetteProduct()
	bulk.ID = "prod_bulk"
	bulk.MinOrderQuantity = 3
	unavailable := laceProduct()
	unavailable.ID = "prod_paused"
	unavailable.Variants[0].Available = false

	cases := []struct {
		name    string
		cmd     PlaceOrderCommand
		wantErr error
		field   string
	}{
		{name: "unauthenticated", cmd: placeCmd(Actor{}, line("prod_lace", "Red", 1)), wantErr: ErrUnauthorized},
		{name: "empty cart", cmd: placeCmd(customer), wantErr: ErrInvalidInput, field: "items"},
		{name: "zero quantity", cmd: placeCmd(customer, line("prod_lace", "Red", 0)), wantErr: ErrInvalidInput, field: "items[0].quantity"},
		{name: "missing selector", cmd: placeCmd(customer, line("prod_lace", "", 1)), wantErr: ErrInvalidInput, field: "items[0].variant"},
		{name: "missing product", cmd: placeCmd(customer, line("prod_missing", "Red", 1)), wantErr: ErrNotFound},
		{name: "draft product", cmd: placeCmd(customer, line("prod_draft", "Red", 1)), wantErr: ErrNotFound},
		{name: "missing variant", cmd: placeCmd(customer, line("prod_lace", "Green", 1)), wantErr: ErrNotFound},
		{name: "below minimum", cmd: placeCmd(customer, line("prod_bulk", "Ivory", 2)), wantErr: ErrInvalidInput, field: "items[0].quantity"},
		{name: "above maximum", cmd: placeCmd(customer, line("prod_lace", "Blue", 21)), wantErr: ErrInvalidInput, field: "items[0].quantity"},
		{name: "unavailable variant", cmd: placeCmd(customer, line("prod_paused", "Red", 1)), wantErr: ErrInsufficientStock},
		{
			name: "incomplete address",
			cmd: PlaceOrderCommand{
				Actor:           customer,
				Items:           []PlaceOrderItem{line("prod_lace", "Red", 1)},
				ShippingAddress: domain.Address{FullName: "Ada Obi", City: "<script>x</script>"},
			},
			wantErr: ErrInvalidInput,
			field:   "shippingAddress.line1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newOrderHarness(t, defaultOrderSettings(), laceProduct(), draft, bulk, unavailable)
			_, err := h.svc.PlaceOrder(context.Background(), tc.cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.field != "" {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected validation error, got %T", err)
				}
				if _, ok := vErr.FieldErrors()[tc.field]; !ok {
					t.Fatalf("expected field %s in %v", tc.field, vErr.FieldErrors())
				}
			}
			if h.store.orderCount() != 0 || h.store.adjustCalls != 0 {
				t.Fatalf("rejected request must not write")
			}
		})
	}
}

func TestPlaceOrderRejectsDuplicatePaymentReference(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	cmd := placeCmd(customer, line("prod_lace", "Red", 1))
	cmd.PaymentReference = "  ref-001 "
	first, err := h.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if first.Payment.Reference != "ref-001" {
		t.Fatalf("expected trimmed reference, got %q", first.Payment.Reference)
	}

	if _, err := h.svc.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := h.store.variantStock("prod_lace", 0); got != 4 {
		t.Fatalf("second placement must not decrement, stock %d", got)
	}
}

func TestPlaceOrderConcurrentDuplicatePaymentReference(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	// Both placements pass the early reference lookup before either one inserts.
	var barrier sync.WaitGroup
	barrier.Add(2)
	h.store.counterHook = func() {
		barrier.Done()
		barrier.Wait()
	}

	cmd := placeCmd(customer, line("prod_lace", "Red", 1))
	cmd.PaymentReference = "client-ref-1"
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := range errs {
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = h.svc.PlaceOrder(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("expected one order and one conflict, got %d and %d", succeeded, conflicted)
	}
	if got := h.store.orderCount(); got != 1 {
		t.Fatalf("expected one persisted order, got %d", got)
	}
	if got := h.store.variantStock("prod_lace", 0); got != 4 {
		t.Fatalf("expected the losing placement to restore stock, got %d", got)
	}
}

func TestPlaceOrderRestoresStockWhenPersistenceFails(t *testing.T) {
	t.Run("order insert", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		h.store.insertErr = &testRepoError{msg: "deadline exceeded", unavailable: true}

		_, err := h.svc.PlaceOrder(context.Background(), placeCmd(customer, line("prod_lace", "Red", 3)))
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
		if got := h.store.variantStock("prod_lace", 0); got != 5 {
			t.Fatalf("expected stock restored to 5, got %d", got)
		}
		if !h.logged("order.stock.restored") {
			t.Fatalf("expected compensation log")
		}
	})

	t.Run("order number", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		h.store.counterErr = &testRepoError{msg: "aborted", unavailable: true}

		if _, err := h.svc.PlaceOrder(context.Background(), placeCmd(customer, line("prod_lace", "Red", 3))); err == nil {
			t.Fatalf("expected error")
		}
		if got := h.store.variantStock("prod_lace", 0); got != 5 {
			t.Fatalf("expected stock restored to 5, got %d", got)
		}
		if h.store.orderCount() != 0 {
			t.Fatalf("expected no order")
		}
	})
}

func TestPlaceOrderSanitisesFreeText(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	cmd := placeCmd(customer, line("prod_lace", "Red", 1))
	cmd.Notes = "<b>Leave</b> with the gateman & call <a href=\"x\">me</a>"
	cmd.ShippingAddress.Line1 = "12 Marina <img src=x onerror=alert(1)>Road"

	order, err := h.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Notes != "Leave with the gateman & call me" {
		t.Fatalf("unexpected notes %q", order.Notes)
	}
	if order.ShippingAddress.Line1 != "12 Marina Road" {
		t.Fatalf("unexpected line1 %q", order.ShippingAddress.Line1)
	}
}

func TestOrderNumbersAreSequential(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	first := h.place(t, customer, line("prod_lace", "Blue", 1))
	second := h.place(t, customer, line("prod_lace", "Blue", 1))
	if first.OrderNumber != "LH-2026-000001" || second.OrderNumber != "LH-2026-000002" {
		t.Fatalf("unexpected numbers %s, %s", first.OrderNumber, second.OrderNumber)
	}
}

func TestVerifyPaymentCompletesOrderOnce(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 3))

	var sessionReq payments.SessionRequest
	h.gateway.initFn = func(_ context.Context, _ payments.PaymentContext, req payments.SessionRequest) (payments.Session, error) {
		sessionReq = req
		return payments.Session{ID: "cs_test_1", Provider: "stripe", Reference: req.Reference, AuthorizationURL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
	}
	session, err := h.svc.InitializePayment(ctx, customer, order.ID)
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	if session.AccessCode != "cs_test_1" || session.Reference != order.Payment.Reference {
		t.Fatalf("unexpected session %#v", session)
	}
	if sessionReq.Amount != order.Total || len(sessionReq.Items) != 1 {
		t.Fatalf("unexpected session request %#v", sessionReq)
	}
	if !strings.Contains(sessionReq.SuccessURL, "ref="+order.Payment.Reference) {
		t.Fatalf("expected reference in success url, got %s", sessionReq.SuccessURL)
	}
	if got := h.stored(t, order.ID).Payment.Status; got != domain.PaymentStatusProcessing {
		t.Fatalf("expected payment processing after initialise, got %s", got)
	}

	h.gateway.verifyFn = func(_ context.Context, _ payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
		if req.SessionID != "cs_test_1" {
			t.Fatalf("unexpected session id %s", req.SessionID)
		}
		return payments.PaymentDetails{
			Provider:      "stripe",
			SessionID:     req.SessionID,
			TransactionID: "pi_123",
			Reference:     req.Reference,
			Status:        payments.StatusSucceeded,
			Amount:        order.Total,
			Currency:      "ngn",
		}, nil
	}

	verified, err := h.svc.VerifyPayment(ctx, customer, session.Reference)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if verified.Payment.Status != domain.PaymentStatusCompleted || verified.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected statuses %s/%s", verified.Payment.Status, verified.Status)
	}
	if verified.Payment.TransactionID != "pi_123" || verified.Payment.PaidAt == nil {
		t.Fatalf("expected transaction id and paid at, got %#v", verified.Payment)
	}

	again, err := h.svc.VerifyPayment(ctx, customer, session.Reference)
	if err != nil {
		t.Fatalf("second VerifyPayment: %v", err)
	}
	if diff := cmp.Diff(verified, again); diff != "" {
		t.Fatalf("second verification changed the order (-first +second):\n%s", diff)
	}
	if h.gateway.verifyCalls != 1 {
		t.Fatalf("expected provider to be called once, got %d", h.gateway.verifyCalls)
	}
	if got := len(h.notifier.ofType(domain.NotificationPaymentReceived)); got != 1 {
		t.Fatalf("expected one payment_received event, got %d", got)
	}
	if _, err := h.svc.InitializePayment(ctx, customer, order.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict when paying twice, got %v", err)
	}
}

func TestVerifyPaymentOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		details     func(order domain.Order) payments.PaymentDetails
		wantPayment domain.PaymentStatus
		wantLog     string
	}{
		{
			name: "provider failure keeps order pending",
			details: func(order domain.Order) payments.PaymentDetails {
				return payments.PaymentDetails{Status: payments.StatusFailed}
			},
			wantPayment: domain.PaymentStatusFailed,
			wantLog:     "payment.failed",
		},
		{
			name: "amount mismatch is rejected",
			details: func(order domain.Order) payments.PaymentDetails {
				return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: order.Total - 100, Currency: "NGN"}
			},
			wantPayment: domain.PaymentStatusFailed,
			wantLog:     "payment.amount_mismatch",
		},
		{
			name: "still pending changes nothing",
			details: func(order domain.Order) payments.PaymentDetails {
				return payments.PaymentDetails{Status: payments.StatusPending}
			},
			wantPayment: domain.PaymentStatusProcessing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
			ctx := context.Background()
			order := h.place(t, customer, line("prod_lace", "Red", 1))
			if _, err := h.svc.InitializePayment(ctx, customer, order.ID); err != nil {
				t.Fatalf("InitializePayment: %v", err)
			}
			h.gateway.verifyFn = func(context.Context, payments.PaymentContext, payments.VerifyRequest) (payments.PaymentDetails, error) {
				return tc.details(order), nil
			}
			got, err := h.svc.VerifyPayment(ctx, customer, order.Payment.Reference)
			if err != nil {
				t.Fatalf("VerifyPayment: %v", err)
			}
			if got.Payment.Status != tc.wantPayment || got.Status != domain.OrderStatusPending {
				t.Fatalf("unexpected statuses %s/%s", got.Payment.Status, got.Status)
			}
			if tc.wantLog != "" && !h.logged(tc.wantLog) {
				t.Fatalf("expected %s log", tc.wantLog)
			}
		})
	}
}

func TestVerifyPaymentGuards(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 1))

	if _, err := h.svc.VerifyPayment(ctx, customer, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank reference, got %v", err)
	}
	if _, err := h.svc.VerifyPayment(ctx, customer, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.svc.VerifyPayment(ctx, customer, order.Payment.Reference); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input before initialise, got %v", err)
	}
	if _, err := h.svc.VerifyPayment(ctx, otherCustomer, order.Payment.Reference); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for another customer, got %v", err)
	}
	if _, err := h.svc.InitializePayment(ctx, otherCustomer, order.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden initialise, got %v", err)
	}
}

func TestHandlePaymentEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("success settles order", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.place(t, customer, line("prod_lace", "Red", 1))
		if _, err := h.svc.InitializePayment(ctx, customer, order.ID); err != nil {
			t.Fatalf("InitializePayment: %v", err)
		}
		event := payments.Event{ID: "evt_1", Kind: payments.EventPaymentSucceeded, Payment: payments.PaymentDetails{
			Provider: "stripe", SessionID: "cs_test_" + order.ID, TransactionID: "pi_9", Reference: order.Payment.Reference,
			Status: payments.StatusSucceeded, Amount: order.Total, Currency: "NGN",
		}}
		if err := h.svc.HandlePaymentEvent(ctx, event); err != nil {
			t.Fatalf("HandlePaymentEvent: %v", err)
		}
		if err := h.svc.HandlePaymentEvent(ctx, event); err != nil {
			t.Fatalf("redelivered HandlePaymentEvent: %v", err)
		}
		stored := h.stored(t, order.ID)
		if !stored.Paid() || stored.Status != domain.OrderStatusProcessing {
			t.Fatalf("expected paid processing order, got %s/%s", stored.Payment.Status, stored.Status)
		}
		if got := len(h.notifier.ofType(domain.NotificationPaymentReceived)); got != 1 {
			t.Fatalf("expected one payment_received event, got %d", got)
		}
	})

	t.Run("stale session failure ignored", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.place(t, customer, line("prod_lace", "Red", 1))
		if _, err := h.svc.InitializePayment(ctx, customer, order.ID); err != nil {
			t.Fatalf("InitializePayment: %v", err)
		}
		event := payments.Event{Kind: payments.EventPaymentFailed, Payment: payments.PaymentDetails{
			SessionID: "cs_old", Reference: order.Payment.Reference, Status: payments.StatusFailed,
		}}
		if err := h.svc.HandlePaymentEvent(ctx, event); err != nil {
			t.Fatalf("HandlePaymentEvent: %v", err)
		}
		if got := h.stored(t, order.ID).Payment.Status; got != domain.PaymentStatusProcessing {
			t.Fatalf("expected processing, got %s", got)
		}
	})

	t.Run("unknown reference acknowledged", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		event := payments.Event{ID: "evt_2", Kind: payments.EventPaymentSucceeded, Payment: payments.PaymentDetails{Reference: "nope", Status: payments.StatusSucceeded}}
		if err := h.svc.HandlePaymentEvent(ctx, event); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if !h.logged("payment.webhook.unmatched") {
			t.Fatalf("expected unmatched log")
		}
	})

	t.Run("payment after cancellation is recorded only", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.place(t, customer, line("prod_lace", "Red", 1))
		if _, err := h.svc.InitializePayment(ctx, customer, order.ID); err != nil {
			t.Fatalf("InitializePayment: %v", err)
		}
		if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{Actor: customer, OrderID: order.ID}); err != nil {
			t.Fatalf("CancelOrder: %v", err)
		}
		event := payments.Event{Kind: payments.EventPaymentSucceeded, Payment: payments.PaymentDetails{
			Reference: order.Payment.Reference, Status: payments.StatusSucceeded, Amount: order.Total,
		}}
		if err := h.svc.HandlePaymentEvent(ctx, event); err != nil {
			t.Fatalf("HandlePaymentEvent: %v", err)
		}
		stored := h.stored(t, order.ID)
		if stored.Status != domain.OrderStatusCancelled || !stored.Paid() {
			t.Fatalf("expected cancelled order with recorded payment, got %s/%s", stored.Status, stored.Payment.Status)
		}
	})
}

func TestCancelOrderRestoresStock(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	order := h.place(t, customer, line("prod_lace", "Red", 3), line("prod_lace", "Blue", 2))

	cancelled, err := h.svc.CancelOrder(context.Background(), CancelOrderCommand{Actor: customer, OrderID: order.ID, Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled with timestamp, got %#v", cancelled)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "changed my mind" {
		t.Fatalf("expected reason recorded")
	}
	if h.store.variantStock("prod_lace", 0) != 5 || h.store.variantStock("prod_lace", 1) != 8 {
		t.Fatalf("expected stock restored, got red=%d blue=%d", h.store.variantStock("prod_lace", 0), h.store.variantStock("prod_lace", 1))
	}
	last := cancelled.History[len(cancelled.History)-1]
	if last.From != domain.OrderStatusPending || last.To != domain.OrderStatusCancelled || last.ActorID != customer.ID {
		t.Fatalf("unexpected history entry %#v", last)
	}
	if got := len(h.notifier.ofType(domain.NotificationOrderCancelled)); got != 1 {
		t.Fatalf("expected order_cancelled event, got %d", got)
	}
}

func TestCancelOrderRejectsShippedOrder(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 3))
	shipped, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "shipped"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	_, err = h.svc.CancelOrder(ctx, CancelOrderCommand{Actor: customer, OrderID: order.ID})
	if !errors.Is(err, ErrConflict) || !strings.Contains(err.Error(), "cannot be cancelled") {
		t.Fatalf("expected cannot-cancel conflict, got %v", err)
	}
	if diff := cmp.Diff(shipped, h.stored(t, order.ID)); diff != "" {
		t.Fatalf("order changed (-before +after):\n%s", diff)
	}
	if got := h.store.variantStock("prod_lace", 0); got != 2 {
		t.Fatalf("stock must stay decremented, got %d", got)
	}
}

func TestCancelOrderAuthorization(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 1))

	for _, actor := range []Actor{otherCustomer, admin} {
		if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{Actor: actor, OrderID: order.ID}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("%s: expected forbidden, got %v", actor.ID, err)
		}
	}
	if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{Actor: Actor{}, OrderID: order.ID}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestConcurrentCancelRestoresStockOnce(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 3))
	stale := order

	if _, err := h.svc.CancelOrder(ctx, CancelOrderCommand{Actor: customer, OrderID: order.ID}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	impl := h.svc.(*orderService)
	_, err := impl.transition(ctx, stale, transitionRequest{target: domain.OrderStatusCancelled, actorID: admin.ID})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for stale writer, got %v", err)
	}
	if got := h.store.variantStock("prod_lace", 0); got != 5 {
		t.Fatalf("expected stock 5 after one restore, got %d", got)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 2))

	shipped, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{
		Actor: admin, OrderID: order.ID, Status: "Shipped", TrackingNumber: " GIG-4471 ", Carrier: "GIG Logistics",
	})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.ShippedAt == nil || shipped.TrackingNumber == nil || *shipped.TrackingNumber != "GIG-4471" {
		t.Fatalf("expected shipping effects, got %#v", shipped)
	}
	if shipped.Carrier == nil || *shipped.Carrier != "GIG Logistics" || shipped.FulfillmentStatus != domain.FulfillmentStatusShipped {
		t.Fatalf("unexpected carrier/fulfillment")
	}
	if events := h.notifier.ofType(domain.NotificationOrderShipped); len(events) != 1 || events[0].Data["trackingNumber"] != "GIG-4471" {
		t.Fatalf("expected order_shipped with tracking, got %#v", events)
	}

	delivered, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "delivered"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.DeliveredAt == nil || delivered.FulfillmentStatus != domain.FulfillmentStatusFulfilled {
		t.Fatalf("expected delivery effects, got %#v", delivered)
	}
	if len(delivered.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(delivered.History))
	}

	for _, target := range []string{"pending", "processing", "shipped", "cancelled", "refunded"} {
		if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: target}); !errors.Is(err, ErrConflict) {
			t.Fatalf("delivered -> %s: expected conflict, got %v", target, err)
		}
	}
}

func TestUpdateStatusAdminCancelRestoresStock(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 4))
	if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "shipped"}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "cancelled", Reason: "lost in transit"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.store.variantStock("prod_lace", 0); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
}

func TestUpdateStatusRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("requires completed payment", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.place(t, customer, line("prod_lace", "Red", 1))
		if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "processing"}); err != nil {
			t.Fatalf("processing: %v", err)
		}
		if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "refunded"}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("refunds through provider", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.payOrder(t, customer, h.place(t, customer, line("prod_lace", "Red", 1)))

		var got payments.RefundRequest
		h.gateway.refundFn = func(_ context.Context, pc payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
			got = req
			if pc.PreferredProvider != "stripe" {
				t.Fatalf("expected stripe provider, got %q", pc.PreferredProvider)
			}
			return payments.PaymentDetails{Status: payments.StatusRefunded}, nil
		}
		refunded, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "refunded", Reason: "damaged"})
		if err != nil {
			t.Fatalf("refund: %v", err)
		}
		if got.TransactionID != "pi_123" || got.IdempotencyKey != "refund_"+order.ID {
			t.Fatalf("unexpected refund request %#v", got)
		}
		if refunded.Payment.Status != domain.PaymentStatusRefunded || refunded.Payment.RefundedAt == nil {
			t.Fatalf("expected refunded payment, got %#v", refunded.Payment)
		}
	})

	t.Run("records refund after concurrent write", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.payOrder(t, customer, h.place(t, customer, line("prod_lace", "Red", 1)))
		h.gateway.refundFn = func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
			h.store.mu.Lock()
			defer h.store.mu.Unlock()
			stored := h.store.orders[order.ID]
			stored.Notes = "customer called about the return"
			stored.UpdatedAt = stored.UpdatedAt.Add(time.Minute)
			h.store.orders[order.ID] = stored
			return payments.PaymentDetails{Status: payments.StatusRefunded, RefundID: "re_1"}, nil
		}
		if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "refunded"}); err != nil {
			t.Fatalf("refund: %v", err)
		}
		stored := h.stored(t, order.ID)
		if stored.Status != domain.OrderStatusRefunded || stored.Payment.Status != domain.PaymentStatusRefunded {
			t.Fatalf("expected refund recorded, got %s/%s", stored.Status, stored.Payment.Status)
		}
		if stored.Notes != "customer called about the return" {
			t.Fatalf("concurrent change lost, notes %q", stored.Notes)
		}
		if h.logged("order.refund.unrecorded") {
			t.Fatalf("unexpected unrecorded refund log")
		}
	})

	t.Run("logs refund the order can no longer record", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.payOrder(t, customer, h.place(t, customer, line("prod_lace", "Red", 1)))
		h.gateway.refundFn = func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
			h.store.mu.Lock()
			defer h.store.mu.Unlock()
			stored := h.store.orders[order.ID]
			stored.Status = domain.OrderStatusDelivered
			stored.UpdatedAt = stored.UpdatedAt.Add(time.Minute)
			h.store.orders[order.ID] = stored
			return payments.PaymentDetails{Status: payments.StatusRefunded, RefundID: "re_2"}, nil
		}
		if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "refunded"}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if !h.logged("order.refund.unrecorded") {
			t.Fatalf("expected unrecorded refund to be logged")
		}
	})

	t.Run("declined refund leaves order", func(t *testing.T) {
		h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
		order := h.payOrder(t, customer, h.place(t, customer, line("prod_lace", "Red", 1)))
		h.gateway.refundFn = func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusFailed}, nil
		}
		if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "refunded"}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if got := h.stored(t, order.ID).Status; got != domain.OrderStatusProcessing {
			t.Fatalf("expected processing, got %s", got)
		}
	})
}

func TestUpdateStatusValidation(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	order := h.place(t, customer, line("prod_lace", "Red", 1))

	if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: customer, OrderID: order.ID, Status: "shipped"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for customer, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "lost"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: order.ID, Status: "pending"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for self transition, got %v", err)
	}
	if _, err := h.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{Actor: admin, OrderID: "missing", Status: "shipped"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetAndListOrders(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()
	mine := h.place(t, customer, line("prod_lace", "Red", 1))
	h.place(t, otherCustomer, line("prod_lace", "Blue", 1))

	if _, err := h.svc.GetOrder(ctx, customer, mine.ID); err != nil {
		t.Fatalf("owner GetOrder: %v", err)
	}
	if _, err := h.svc.GetOrder(ctx, admin, mine.ID); err != nil {
		t.Fatalf("admin GetOrder: %v", err)
	}
	if _, err := h.svc.GetOrder(ctx, otherCustomer, mine.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	page, err := h.svc.ListMyOrders(ctx, customer, domain.PageRequest{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("ListMyOrders: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != mine.ID {
		t.Fatalf("unexpected my orders %#v", page)
	}

	pending := domain.OrderStatusPending
	all, err := h.svc.ListOrders(ctx, admin, OrderListFilter{Status: &pending})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("expected 2 orders, got %d", all.Total)
	}
	if _, err := h.svc.ListOrders(ctx, customer, OrderListFilter{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden list, got %v", err)
	}
}

func TestExpireUnpaidCancelsStaleOrders(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), laceProduct())
	ctx := context.Background()

	h.clock.Set(fixedNow.Add(-72 * time.Hour))
	stale := h.place(t, customer, line("prod_lace", "Red", 2))
	h.clock.Set(fixedNow)
	fresh := h.place(t, customer, line("prod_lace", "Red", 1))

	result, err := h.svc.ExpireUnpaid(ctx)
	if err != nil {
		t.Fatalf("ExpireUnpaid: %v", err)
	}
	if diff := cmp.Diff([]string{stale.ID}, result.Cancelled); diff != "" {
		t.Fatalf("cancelled mismatch (-want +got):\n%s", diff)
	}
	if result.Scanned != 1 || len(result.Failed) != 0 {
		t.Fatalf("unexpected result %#v", result)
	}
	expired := h.stored(t, stale.ID)
	if expired.Status != domain.OrderStatusCancelled || expired.CancelReason == nil || *expired.CancelReason != cancelReasonPaymentTimeout {
		t.Fatalf("expected payment timeout cancellation, got %#v", expired)
	}
	if h.stored(t, fresh.ID).Status != domain.OrderStatusPending {
		t.Fatalf("fresh order must stay pending")
	}
	if got := h.store.variantStock("prod_lace", 0); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}
}

func TestExpireUnpaidReachesOrdersBehindFailures(t *testing.T) {
	h := newOrderHarness(t, defaultOrderSettings(), swatchProduct([]int{100, 100, 100}))
	ctx := context.Background()

	const failing, older = expireBatchSize, 5
	stuck := make(map[string]bool)
	var want []string
	for i := 0; i < failing+older; i++ {
		h.clock.Set(fixedNow.Add(-72 * time.Hour).Add(-time.Duration(i) * time.Minute))
		order := h.place(t, customer, line("prod_swatch", "Ivory", 1))
		if i < failing {
			stuck[order.ID] = true
		} else {
			want = append(want, order.ID)
		}
	}
	h.clock.Set(fixedNow)
	h.store.updateErr = func(order domain.Order) error {
		if stuck[order.ID] {
			return &testRepoError{msg: "deadline exceeded", unavailable: true}
		}
		return nil
	}

	result, err := h.svc.ExpireUnpaid(ctx)
	if err != nil {
		t.Fatalf("ExpireUnpaid: %v", err)
	}
	if diff := cmp.Diff(want, result.Cancelled); diff != "" {
		t.Fatalf("cancelled mismatch (-want +got):\n%s", diff)
	}
	if len(result.Failed) != failing || result.Scanned != failing+older {
		t.Fatalf("unexpected result: scanned %d failed %d", result.Scanned, len(result.Failed))
	}
	if got := h.store.variantStock("prod_swatch", 0); got != 100-failing {
		t.Fatalf("expected stock of expired orders restored, got %d", got)
	}
}

func TestNewOrderServiceValidatesDeps(t *testing.T) {
	store := newMemoryStore()
	if _, err := NewOrderService(OrderServiceDeps{Orders: memoryOrders{store}, Counters: memoryCounters{store}}); err == nil {
		t.Fatalf("expected error without product repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{
		Products: store, Orders: memoryOrders{store}, Counters: memoryCounters{store},
		Settings: OrderSettings{TaxRate: decimal.NewFromInt(-1)},
	}); err == nil {
		t.Fatalf("expected error for negative tax rate")
	}
}
