package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/payments"
	"github.com/lacehouse/store-api/internal/repositories"
)

type testRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return e.msg }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

func errNotFound(what string) error { return &testRepoError{msg: what + " not found", notFound: true} }
func errConflict(what string) error { return &testRepoError{msg: what + " conflict", conflict: true} }

// memoryStore is an in-process stand-in for the Firestore repositories with the same
// atomicity guarantees: stock batches are all-or-nothing and order updates are guarded.
type memoryStore struct {
	mu            sync.Mutex
	products      map[string]domain.Product
	orders        map[string]domain.Order
	counters      map[string]int64
	notifications map[string]domain.Notification

	adjustCalls int
	insertErr   error
	counterErr  error
	// counterHook runs before each counter increment, outside the lock.
	counterHook func()
	// updateErr, when set, can fail an order update before it is applied.
	updateErr func(order domain.Order) error
}

func newMemoryStore(products ...domain.Product) *memoryStore {
	store := &memoryStore{
		products:      make(map[string]domain.Product),
		orders:        make(map[string]domain.Order),
		counters:      make(map[string]int64),
		notifications: make(map[string]domain.Notification),
	}
	for _, p := range products {
		store.products[p.ID] = cloneProduct(p)
	}
	return store
}

func cloneProduct(p domain.Product) domain.Product {
	p.Variants = slices.Clone(p.Variants)
	p.Images = slices.Clone(p.Images)
	return p
}

func (m *memoryStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneProduct(m.products[id])
}

func (m *memoryStore) variantStock(productID string, idx int) int {
	return m.product(productID).Variants[idx].Stock
}

func (m *memoryStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// products

func (m *memoryStore) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return domain.Product{}, errNotFound("product")
	}
	return cloneProduct(p), nil
}

func (m *memoryStore) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := m.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

func (m *memoryStore) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []domain.Product
	for _, p := range m.products {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, p.Status) {
			continue
		}
		if p.DeletedAt != nil {
			continue
		}
		items = append(items, cloneProduct(p))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return paginate(items, filter.Page), nil
}

func (m *memoryStore) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.VariantStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustCalls++

	type key struct {
		productID string
		idx       int
	}
	net := make(map[key]int)
	var order []key
	working := make(map[string]domain.Product)
	for _, adj := range adjustments {
		p, ok := working[adj.ProductID]
		if !ok {
			stored, exists := m.products[adj.ProductID]
			if !exists || stored.DeletedAt != nil {
				if adj.Delta < 0 {
					return nil, &repositories.StockError{Code: repositories.StockErrorProductNotFound, ProductID: adj.ProductID}
				}
				continue
			}
			p = cloneProduct(stored)
			working[adj.ProductID] = p
		}
		if adj.Delta < 0 && !p.Sellable() {
			return nil, &repositories.StockError{Code: repositories.StockErrorProductNotFound, ProductID: p.ID, ProductName: p.Name}
		}
		idx, ok := p.FindVariant(adj.Variant)
		if !ok {
			if adj.Delta < 0 {
				return nil, &repositories.StockError{Code: repositories.StockErrorVariantNotFound, ProductID: adj.ProductID, SKU: adj.Variant.SKU, Color: adj.Variant.Color}
			}
			continue
		}
		k := key{adj.ProductID, idx}
		if _, seen := net[k]; !seen {
			order = append(order, k)
		}
		net[k] += adj.Delta
	}

	for _, k := range order {
		p := working[k.productID]
		v := p.Variants[k.idx]
		if net[k] < 0 && !v.Available {
			return nil, &repositories.StockError{
				Code:        repositories.StockErrorInsufficient,
				ProductID:   p.ID,
				ProductName: p.Name,
				SKU:         v.SKU,
				Color:       v.Color,
				Requested:   -net[k],
			}
		}
		if v.Stock+net[k] < 0 {
			return nil, &repositories.StockError{
				Code:        repositories.StockErrorInsufficient,
				ProductID:   p.ID,
				ProductName: p.Name,
				SKU:         v.SKU,
				Color:       v.Color,
				Requested:   -net[k],
				Available:   v.Stock,
			}
		}
		p.Variants[k.idx].Stock += net[k]
	}

	out := make([]domain.VariantStock, 0, len(order))
	for _, k := range order {
		p := working[k.productID]
		v := p.Variants[k.idx]
		out = append(out, domain.VariantStock{
			ProductID:         p.ID,
			ProductName:       p.Name,
			SKU:               v.SKU,
			Color:             v.Color,
			Stock:             v.Stock,
			LowStockThreshold: p.LowStockThreshold,
		})
	}
	for id, p := range working {
		p.RecountStock()
		m.products[id] = p
	}
	return out, nil
}

// orders

type memoryOrders struct{ *memoryStore }

func (m memoryOrders) Insert(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, exists := m.orders[order.ID]; exists {
		return errConflict("order")
	}
	for _, stored := range m.orders {
		if stored.Payment.Reference == order.Payment.Reference {
			return fmt.Errorf("%w: %w", repositories.ErrPaymentReferenceInUse, errConflict("payment reference"))
		}
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m memoryOrders) Update(ctx context.Context, order domain.Order, expectedUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		if err := m.updateErr(order); err != nil {
			return err
		}
	}
	stored, ok := m.orders[order.ID]
	if !ok {
		return errNotFound("order")
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return errConflict("order")
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m memoryOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, errNotFound("order")
	}
	return cloneOrder(order), nil
}

func (m memoryOrders) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Payment.Reference == reference {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, errNotFound("order")
}

func (m memoryOrders) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []domain.Order
	for _, order := range m.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if len(filter.PaymentStatus) > 0 && !slices.Contains(filter.PaymentStatus, order.Payment.Status) {
			continue
		}
		if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		items = append(items, cloneOrder(order))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	items = items[min(max(filter.Skip, 0), len(items)):]
	return paginate(items, filter.Page), nil
}

// counters

type memoryCounters struct{ *memoryStore }

func (m memoryCounters) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if m.counterHook != nil {
		m.counterHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counterErr != nil {
		return 0, m.counterErr
	}
	if step == 0 {
		step = 1
	}
	m.counters[counterID] += step
	return m.counters[counterID], nil
}

// notifications

type memoryNotifications struct{ *memoryStore }

func (m memoryNotifications) Insert(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m memoryNotifications) FindByID(ctx context.Context, id string) (domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.Notification{}, errNotFound("notification")
	}
	return n, nil
}

func (m memoryNotifications) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.Page[domain.Notification], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []domain.Notification
	for _, n := range m.notifications {
		if !slices.Contains(filter.RecipientIDs, n.RecipientID) {
			continue
		}
		if filter.UnreadOnly && n.Read {
			continue
		}
		items = append(items, n)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return paginate(items, filter.Page), nil
}

func (m memoryNotifications) MarkRead(ctx context.Context, id string, readAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return errNotFound("notification")
	}
	n.Read = true
	n.ReadAt = &readAt
	m.notifications[id] = n
	return nil
}

func (m memoryNotifications) MarkAllRead(ctx context.Context, recipientIDs []string, readAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, n := range m.notifications {
		if n.Read || !slices.Contains(recipientIDs, n.RecipientID) {
			continue
		}
		n.Read = true
		n.ReadAt = &readAt
		m.notifications[id] = n
		count++
	}
	return count, nil
}

func (m memoryNotifications) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[id]; !ok {
		return errNotFound("notification")
	}
	delete(m.notifications, id)
	return nil
}

func paginate[T any](items []T, req domain.PageRequest) domain.Page[T] {
	req = req.Normalize()
	start := min(req.Offset(), len(items))
	end := min(start+req.Limit, len(items))
	return domain.NewPage(items[start:end], req, int64(len(items)))
}

// collaborators

type recordingDispatcher struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event NotificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) ofType(t domain.NotificationType) []NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []NotificationEvent
	for _, e := range d.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type stubGateway struct {
	initFn   func(context.Context, payments.PaymentContext, payments.SessionRequest) (payments.Session, error)
	verifyFn func(context.Context, payments.PaymentContext, payments.VerifyRequest) (payments.PaymentDetails, error)
	refundFn func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error)

	verifyCalls int
}

func (g *stubGateway) InitializeSession(ctx context.Context, pc payments.PaymentContext, req payments.SessionRequest) (payments.Session, error) {
	if g.initFn != nil {
		return g.initFn(ctx, pc, req)
	}
	return payments.Session{
		ID:               "cs_test_" + req.OrderID,
		Provider:         "stripe",
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.stripe.com/c/pay/cs_test_" + req.OrderID,
	}, nil
}

func (g *stubGateway) Verify(ctx context.Context, pc payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
	g.verifyCalls++
	if g.verifyFn != nil {
		return g.verifyFn(ctx, pc, req)
	}
	return payments.PaymentDetails{}, fmt.Errorf("verify not stubbed")
}

func (g *stubGateway) Refund(ctx context.Context, pc payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	if g.refundFn != nil {
		return g.refundFn(ctx, pc, req)
	}
	return payments.PaymentDetails{Status: payments.StatusRefunded}, nil
}
