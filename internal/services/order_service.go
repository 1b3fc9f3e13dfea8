package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/payments"
	"github.com/lacehouse/store-api/internal/repositories"
)

const (
	defaultOrderNumberPrefix = "LH"
	defaultLowStockThreshold = 5
	defaultUnpaidOrderTTL    = 48 * time.Hour
	defaultPaymentMethod     = "card"
	paymentReferencePrefix   = "LH-PAY-"

	maxOrderLines          = 50
	maxNotesLength         = 1000
	maxPaymentReferenceLen = 128
	expireBatchSize        = 50

	cancelReasonPaymentTimeout = "payment_timeout"
)

// OrderSettings holds the deployment pricing and lifecycle rules.
type OrderSettings struct {
	Currency              string
	FlatShippingRate      int64
	FreeShippingThreshold int64
	// TaxRate is a percentage of the subtotal, e.g. 7.5.
	TaxRate           decimal.Decimal
	OrderNumberPrefix string
	LowStockThreshold int
	UnpaidOrderTTL    time.Duration
	PaymentProvider   string
	PaymentSuccessURL string
	PaymentCancelURL  string
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Products           repositories.ProductRepository
	Orders             repositories.OrderRepository
	Counters           repositories.CounterRepository
	Payments           PaymentGateway
	Notifier           NotificationDispatcher
	Settings           OrderSettings
	Clock              func() time.Time
	IDGenerator        func() string
	ReferenceGenerator func() string
	Locale             language.Tag
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	products     repositories.ProductRepository
	orders       repositories.OrderRepository
	counters     repositories.CounterRepository
	payments     PaymentGateway
	notifier     NotificationDispatcher
	settings     OrderSettings
	policy       OrderPolicy
	messages     messageRenderer
	clock        func() time.Time
	newID        func() string
	newReference func() string
	logger       func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, NotificationEvent) {}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Settings.FlatShippingRate < 0 || deps.Settings.FreeShippingThreshold < 0 {
		return nil, errors.New("order service: shipping amounts must not be negative")
	}
	if deps.Settings.TaxRate.IsNegative() {
		return nil, errors.New("order service: tax rate must not be negative")
	}

	settings := deps.Settings
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	if settings.Currency == "" {
		settings.Currency = domain.DefaultCurrency
	}
	if strings.TrimSpace(settings.OrderNumberPrefix) == "" {
		settings.OrderNumberPrefix = defaultOrderNumberPrefix
	}
	if settings.LowStockThreshold <= 0 {
		settings.LowStockThreshold = defaultLowStockThreshold
	}
	if settings.UnpaidOrderTTL <= 0 {
		settings.UnpaidOrderTTL = defaultUnpaidOrderTTL
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	refGen := deps.ReferenceGenerator
	if refGen == nil {
		refGen = func() string {
			return paymentReferencePrefix + uuid.NewString()
		}
	}

	var notifier NotificationDispatcher = noopDispatcher{}
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		products: deps.Products,
		orders:   deps.Orders,
		counters: deps.Counters,
		payments: deps.Payments,
		notifier: notifier,
		settings: settings,
		messages: newMessageRenderer(deps.Locale),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		newReference: refGen,
		logger:       logger,
	}, nil
}

// pricedLine is a validated request line with its snapshot and stock decrement.
type pricedLine struct {
	item       domain.OrderItem
	adjustment domain.StockAdjustment
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	if !cmd.Actor.Authenticated() {
		return domain.Order{}, ErrUnauthorized
	}
	cmd, err := normalizePlaceOrder(cmd)
	if err != nil {
		return domain.Order{}, err
	}

	ids := lo.Uniq(lo.Map(cmd.Items, func(item PlaceOrderItem, _ int) string { return item.ProductID }))
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, "products")
	}

	lines, err := priceLines(cmd.Items, products)
	if err != nil {
		return domain.Order{}, err
	}

	reference := cmd.PaymentReference
	if reference == "" {
		reference = s.newReference()
	} else if err := s.ensureReferenceUnused(ctx, reference); err != nil {
		return domain.Order{}, err
	}

	// Nothing has been written so far. From here on a failure must give the stock back.
	decrements := lo.Map(lines, func(l pricedLine, _ int) domain.StockAdjustment { return l.adjustment })
	stocks, err := s.products.AdjustStock(ctx, decrements)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, "stock")
	}

	now := s.clock()
	order := s.buildOrder(cmd, lines, reference, now)

	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		s.restoreStock(ctx, invertAdjustments(decrements), order.ID, "order_number_failed")
		return domain.Order{}, err
	}
	order.OrderNumber = number

	if err := s.orders.Insert(ctx, order); err != nil {
		s.restoreStock(ctx, invertAdjustments(decrements), order.ID, "order_insert_failed")
		if errors.Is(err, repositories.ErrPaymentReferenceInUse) {
			return domain.Order{}, fmt.Errorf("%w: payment reference %s is already in use", ErrConflict, reference)
		}
		return domain.Order{}, mapRepositoryError(err, "order "+order.ID)
	}

	s.notify(ctx, s.messages.orderPlaced(order, now)...)
	for _, stock := range stocks {
		threshold := stock.LowStockThreshold
		if threshold <= 0 {
			threshold = s.settings.LowStockThreshold
		}
		if stock.Stock <= threshold {
			s.notify(ctx, s.messages.lowStock(stock, now))
		}
	}

	s.logger(ctx, "order.placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"lines":       len(order.Items),
		"total":       order.Total,
		"currency":    order.Currency,
	})
	return order, nil
}

func normalizePlaceOrder(cmd PlaceOrderCommand) (PlaceOrderCommand, error) {
	errs := fieldErrors{}
	switch {
	case len(cmd.Items) == 0:
		errs.add("items", "must contain at least one item")
	case len(cmd.Items) > maxOrderLines:
		errs.add("items", fmt.Sprintf("must contain at most %d items", maxOrderLines))
	}

	items := make([]PlaceOrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		field := fmt.Sprintf("items[%d]", i)
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Variant = domain.VariantSelector{
			SKU:   strings.TrimSpace(item.Variant.SKU),
			Color: strings.TrimSpace(item.Variant.Color),
		}
		if item.ProductID == "" {
			errs.add(field+".product", "is required")
		}
		if item.Variant.IsZero() {
			errs.add(field+".variant", "color or sku is required")
		}
		if item.Quantity <= 0 {
			errs.add(field+".quantity", "must be a positive integer")
		}
		items = append(items, item)
	}
	cmd.Items = items

	cmd.ShippingAddress = cleanAddress(cmd.ShippingAddress)
	validateAddress("shippingAddress", cmd.ShippingAddress, errs)
	if cmd.BillingAddress != nil {
		billing := cleanAddress(*cmd.BillingAddress)
		validateAddress("billingAddress", billing, errs)
		cmd.BillingAddress = &billing
	}

	cmd.Notes = cleanText(cmd.Notes)
	if len([]rune(cmd.Notes)) > maxNotesLength {
		errs.add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	cmd.PaymentReference = cleanText(cmd.PaymentReference)
	if len(cmd.PaymentReference) > maxPaymentReferenceLen {
		errs.add("paymentReference", fmt.Sprintf("must be at most %d characters", maxPaymentReferenceLen))
	}
	cmd.PaymentMethod = strings.ToLower(cleanText(cmd.PaymentMethod))
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = defaultPaymentMethod
	}

	if err := errs.err(); err != nil {
		return PlaceOrderCommand{}, err
	}
	return cmd, nil
}

// priceLines validates every line against the fetched products before anything is written.
// Repeated product and variant pairs accumulate demand against the same counter.
func priceLines(items []PlaceOrderItem, products map[string]domain.Product) ([]pricedLine, error) {
	demand := make(map[string]int, len(items))
	lines := make([]pricedLine, 0, len(items))
	for i, line := range items {
		product, ok := products[line.ProductID]
		if !ok || !product.Sellable() {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, line.ProductID)
		}
		idx, ok := product.FindVariant(line.Variant)
		if !ok {
			return nil, fmt.Errorf("%w: variant %s of product %s", ErrNotFound,
				firstNonEmpty(line.Variant.SKU, line.Variant.Color), product.Name)
		}

		field := fmt.Sprintf("items[%d].quantity", i)
		if minQty := max(product.MinOrderQuantity, 1); line.Quantity < minQty {
			return nil, &ValidationError{Fields: map[string]string{
				field: fmt.Sprintf("minimum order quantity for %s is %d", product.Name, minQty),
			}}
		}
		if product.MaxOrderQuantity > 0 && line.Quantity > product.MaxOrderQuantity {
			return nil, &ValidationError{Fields: map[string]string{
				field: fmt.Sprintf("maximum order quantity for %s is %d", product.Name, product.MaxOrderQuantity),
			}}
		}

		variant := product.Variants[idx]
		key := fmt.Sprintf("%s#%d", product.ID, idx)
		demand[key] += line.Quantity
		if !variant.Available || variant.Stock < demand[key] {
			available := max(variant.Stock, 0)
			if !variant.Available {
				available = 0
			}
			return nil, &StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				SKU:         variant.SKU,
				Color:       variant.Color,
				Requested:   demand[key],
				Available:   available,
			}
		}

		unitPrice := product.UnitPrice(idx)
		image := ""
		if len(product.Images) > 0 {
			image = product.Images[0]
		}
		lines = append(lines, pricedLine{
			item: domain.OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				Image:     image,
				SKU:       variant.SKU,
				Color:     variant.Color,
				Unit:      product.Unit,
				Quantity:  line.Quantity,
				UnitPrice: unitPrice,
				LineTotal: unitPrice * int64(line.Quantity),
			},
			adjustment: domain.StockAdjustment{
				ProductID: product.ID,
				Variant:   domain.VariantSelector{SKU: variant.SKU, Color: variant.Color},
				Delta:     -line.Quantity,
			},
		})
	}
	return lines, nil
}

func (s *orderService) buildOrder(cmd PlaceOrderCommand, lines []pricedLine, reference string, now time.Time) domain.Order {
	items := lo.Map(lines, func(l pricedLine, _ int) domain.OrderItem { return l.item })
	subtotal := lo.SumBy(items, func(item domain.OrderItem) int64 { return item.LineTotal })
	shipping := s.shippingFor(subtotal)
	tax := domain.PercentOf(subtotal, s.settings.TaxRate)
	var discount int64
	total := subtotal + shipping + tax - discount

	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}

	return domain.Order{
		ID:              s.newID(),
		UserID:          cmd.Actor.ID,
		CustomerEmail:   strings.TrimSpace(cmd.Actor.Email),
		Items:           items,
		Subtotal:        subtotal,
		ShippingCost:    shipping,
		Discount:        discount,
		Tax:             tax,
		Total:           total,
		Currency:        s.settings.Currency,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		Payment: domain.OrderPayment{
			Method:    cmd.PaymentMethod,
			Reference: reference,
			Status:    domain.PaymentStatusPending,
			Amount:    total,
		},
		Status:            domain.OrderStatusPending,
		FulfillmentStatus: domain.FulfillmentStatusUnfulfilled,
		Notes:             cmd.Notes,
		History: []domain.OrderStatusChange{{
			To:      domain.OrderStatusPending,
			ActorID: cmd.Actor.ID,
			At:      now,
		}},
		Timestamped: domain.Timestamped{CreatedAt: now, UpdatedAt: now},
	}
}

func (s *orderService) shippingFor(subtotal int64) int64 {
	if s.settings.FreeShippingThreshold > 0 && subtotal >= s.settings.FreeShippingThreshold {
		return 0
	}
	return s.settings.FlatShippingRate
}

func (s *orderService) ensureReferenceUnused(ctx context.Context, reference string) error {
	existing, err := s.orders.FindByPaymentReference(ctx, reference)
	switch {
	case err == nil:
		return fmt.Errorf("%w: payment reference %s is already used by order %s", ErrConflict, reference, existing.OrderNumber)
	case isRepoNotFound(err):
		return nil
	default:
		return mapRepositoryError(err, "payment reference")
	}
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	value, err := s.counters.Next(ctx, fmt.Sprintf("orders:%d", year), 1)
	if err != nil {
		return "", mapRepositoryError(err, "order number counter")
	}
	return fmt.Sprintf("%s-%d-%06d", s.settings.OrderNumberPrefix, year, value), nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.policy.Authorize(actor, OrderActionView, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) ListMyOrders(ctx context.Context, actor Actor, page domain.PageRequest) (domain.Page[domain.Order], error) {
	if !actor.Authenticated() {
		return domain.Page[domain.Order]{}, ErrUnauthorized
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: actor.ID,
		Page:   page.Normalize(),
	})
	if err != nil {
		return domain.Page[domain.Order]{}, mapRepositoryError(err, "orders")
	}
	return result, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.Page[domain.Order], error) {
	if err := s.policy.Authorize(actor, OrderActionList, domain.Order{}); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status: filter.Status,
		Page:   filter.Page.Normalize(),
	})
	if err != nil {
		return domain.Page[domain.Order]{}, mapRepositoryError(err, "orders")
	}
	return result, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.policy.Authorize(cmd.Actor, OrderActionCancel, order); err != nil {
		return domain.Order{}, err
	}
	if !order.Status.CustomerCancellable() {
		return domain.Order{}, fmt.Errorf("%w: order %s cannot be cancelled once %s", ErrConflict, order.OrderNumber, order.Status)
	}
	return s.transition(ctx, order, transitionRequest{
		target:  domain.OrderStatusCancelled,
		actorID: cmd.Actor.ID,
		reason:  cleanText(cmd.Reason),
	})
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	if err := s.policy.Authorize(cmd.Actor, OrderActionTransition, domain.Order{}); err != nil {
		return domain.Order{}, err
	}
	target, ok := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if !ok {
		return domain.Order{}, &ValidationError{Fields: map[string]string{
			"status": "must be one of pending, processing, shipped, delivered, cancelled, refunded",
		}}
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, order, transitionRequest{
		target:         target,
		actorID:        cmd.Actor.ID,
		reason:         cleanText(cmd.Reason),
		trackingNumber: cleanText(cmd.TrackingNumber),
		carrier:        cleanText(cmd.Carrier),
	})
}

// ExpireUnpaid cancels pending orders whose payment never completed within the unpaid TTL.
func (s *orderService) ExpireUnpaid(ctx context.Context) (ExpireUnpaidResult, error) {
	cutoff := s.clock().Add(-s.settings.UnpaidOrderTTL)
	pending := domain.OrderStatusPending
	filter := repositories.OrderListFilter{
		Status:        &pending,
		PaymentStatus: []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusProcessing, domain.PaymentStatusFailed},
		CreatedBefore: &cutoff,
		Page:          domain.PageRequest{Page: 1, Limit: expireBatchSize},
	}

	result := ExpireUnpaidResult{}
	skipped := make(map[string]struct{})
	for {
		// Cancelled orders drop out of the filter while skipped ones stay ahead of the
		// unseen ones, so the next batch starts after every skipped order.
		filter.Skip = len(skipped)
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return result, mapRepositoryError(err, "orders")
		}
		fresh := 0
		for _, order := range page.Items {
			if _, seen := skipped[order.ID]; seen {
				continue
			}
			fresh++
			result.Scanned++
			if order.Paid() {
				skipped[order.ID] = struct{}{}
				continue
			}
			_, err := s.transition(ctx, order, transitionRequest{
				target:  domain.OrderStatusCancelled,
				actorID: SystemActorID,
				reason:  cancelReasonPaymentTimeout,
			})
			if err != nil {
				skipped[order.ID] = struct{}{}
				result.Failed = append(result.Failed, order.ID)
				s.logger(ctx, "order.expire.failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
				continue
			}
			result.Cancelled = append(result.Cancelled, order.ID)
		}
		if fresh == 0 || len(page.Items) < expireBatchSize {
			break
		}
	}

	s.logger(ctx, "order.expire.completed", map[string]any{
		"scanned":   result.Scanned,
		"cancelled": len(result.Cancelled),
		"failed":    len(result.Failed),
		"cutoff":    cutoff,
	})
	return result, nil
}

type transitionRequest struct {
	target         domain.OrderStatus
	actorID        string
	reason         string
	trackingNumber string
	carrier        string
}

// transition moves order along the transition table, runs the effects tied to the target
// status, and persists the result guarded by the order's UpdatedAt.
func (s *orderService) transition(ctx context.Context, order domain.Order, req transitionRequest) (domain.Order, error) {
	if order.Status.IsTerminal() {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s and can no longer change", ErrConflict, order.OrderNumber, order.Status)
	}
	if !order.Status.CanTransitionTo(req.target) {
		return domain.Order{}, fmt.Errorf("%w: order %s cannot move from %s to %s", ErrConflict, order.OrderNumber, order.Status, req.target)
	}

	var refund *payments.PaymentDetails
	if req.target == domain.OrderStatusRefunded {
		details, err := s.refund(ctx, order, req.reason)
		if err != nil {
			return domain.Order{}, err
		}
		refund = &details
	}

	now := s.clock()
	updated := applyTransition(order, req, refund, now)
	err := s.orders.Update(ctx, updated, order.UpdatedAt)
	if err != nil && refund != nil && isRepoConflict(err) {
		// The provider has already returned the money, so record it on the current revision.
		fresh, ferr := s.orders.FindByID(ctx, order.ID)
		switch {
		case ferr != nil:
			err = ferr
		case fresh.Payment.Status == domain.PaymentStatusRefunded:
			return fresh, nil
		case fresh.Paid() && fresh.Status.CanTransitionTo(domain.OrderStatusRefunded):
			now = s.clock()
			order, updated = fresh, applyTransition(fresh, req, refund, now)
			err = s.orders.Update(ctx, updated, order.UpdatedAt)
		}
	}
	if err != nil {
		if refund != nil {
			s.logger(ctx, "order.refund.unrecorded", map[string]any{
				"orderId":       order.ID,
				"transactionId": refund.TransactionID,
				"refundId":      refund.RefundID,
				"error":         err.Error(),
			})
		}
		return domain.Order{}, mapRepositoryError(err, "order "+order.ID)
	}

	// The guarded update above succeeds at most once per order, so stock is restored once.
	if req.target == domain.OrderStatusCancelled {
		s.restoreStock(ctx, order.StockRestorations(), order.ID, "order_cancelled")
	}

	s.notify(ctx, s.messages.statusChanged(updated, order.Status, now))
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": order.ID,
		"from":    string(order.Status),
		"to":      string(req.target),
		"actorId": req.actorID,
		"reason":  req.reason,
	})
	return updated, nil
}

// applyTransition returns order moved to req.target with the fields that status stamps.
func applyTransition(order domain.Order, req transitionRequest, refund *payments.PaymentDetails, now time.Time) domain.Order {
	updated := cloneOrder(order)
	switch req.target {
	case domain.OrderStatusCancelled:
		updated.CancelledAt = &now
		if req.reason != "" {
			reason := req.reason
			updated.CancelReason = &reason
		}
	case domain.OrderStatusShipped:
		updated.ShippedAt = &now
		updated.FulfillmentStatus = domain.FulfillmentStatusShipped
		if req.trackingNumber != "" {
			tracking := req.trackingNumber
			updated.TrackingNumber = &tracking
		}
		if req.carrier != "" {
			carrier := req.carrier
			updated.Carrier = &carrier
		}
	case domain.OrderStatusDelivered:
		updated.DeliveredAt = &now
		updated.FulfillmentStatus = domain.FulfillmentStatusFulfilled
	case domain.OrderStatusRefunded:
		if refund != nil {
			refundedAt := now
			if refund.RefundedAt != nil && !refund.RefundedAt.IsZero() {
				refundedAt = refund.RefundedAt.UTC()
			}
			updated.Payment.Status = domain.PaymentStatusRefunded
			updated.Payment.RefundedAt = &refundedAt
		}
		if order.Status == domain.OrderStatusShipped {
			updated.FulfillmentStatus = domain.FulfillmentStatusReturned
		}
	}
	updated.Status = req.target
	updated.History = append(updated.History, domain.OrderStatusChange{
		From:    order.Status,
		To:      req.target,
		ActorID: req.actorID,
		Reason:  req.reason,
		At:      now,
	})
	updated.UpdatedAt = now
	return updated
}

// restoreStock gives stock back best-effort. Products or variants removed since the order was
// placed are skipped by the repository; any other failure is logged and not returned.
func (s *orderService) restoreStock(ctx context.Context, adjustments []domain.StockAdjustment, orderID, reason string) {
	if len(adjustments) == 0 {
		return
	}
	if _, err := s.products.AdjustStock(context.WithoutCancel(ctx), adjustments); err != nil {
		s.logger(ctx, "order.stock.restore_failed", map[string]any{
			"orderId": orderID,
			"reason":  reason,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "order.stock.restored", map[string]any{
		"orderId": orderID,
		"reason":  reason,
		"lines":   len(adjustments),
	})
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, &ValidationError{Fields: map[string]string{"id": "is required"}}
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, "order "+orderID)
	}
	return order, nil
}

func (s *orderService) notify(ctx context.Context, events ...NotificationEvent) {
	for _, event := range events {
		event.Recipients = lo.Compact(event.Recipients)
		if len(event.Recipients) == 0 {
			continue
		}
		s.notifier.Dispatch(ctx, event)
	}
}

func invertAdjustments(adjustments []domain.StockAdjustment) []domain.StockAdjustment {
	return lo.Map(adjustments, func(adj domain.StockAdjustment, _ int) domain.StockAdjustment {
		adj.Delta = -adj.Delta
		return adj
	})
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = slices.Clone(order.Items)
	out.History = slices.Clone(order.History)
	return out
}
