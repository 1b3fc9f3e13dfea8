package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lacehouse/store-api/internal/domain"
	pfirestore "github.com/lacehouse/store-api/internal/platform/firestore"
	"github.com/lacehouse/store-api/internal/repositories"
)

const (
	ordersCollection            = "orders"
	paymentReferencesCollection = "paymentReferences"
)

type orderDocument struct {
	OrderNumber       string                 `firestore:"orderNumber"`
	UserID            string                 `firestore:"userId"`
	CustomerEmail     string                 `firestore:"customerEmail,omitempty"`
	Items             []orderItemDocument    `firestore:"items"`
	Subtotal          int64                  `firestore:"subtotal"`
	ShippingCost      int64                  `firestore:"shippingCost"`
	Discount          int64                  `firestore:"discount"`
	Tax               int64                  `firestore:"tax"`
	Total             int64                  `firestore:"total"`
	Currency          string                 `firestore:"currency"`
	ShippingAddress   addressDocument        `firestore:"shippingAddress"`
	BillingAddress    addressDocument        `firestore:"billingAddress"`
	Payment           paymentDocument        `firestore:"payment"`
	Status            string                 `firestore:"status"`
	FulfillmentStatus string                 `firestore:"fulfillmentStatus"`
	TrackingNumber    *string                `firestore:"trackingNumber,omitempty"`
	Carrier           *string                `firestore:"carrier,omitempty"`
	Notes             string                 `firestore:"notes,omitempty"`
	CancelReason      *string                `firestore:"cancelReason,omitempty"`
	History           []statusChangeDocument `firestore:"statusHistory,omitempty"`
	ShippedAt         *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time             `firestore:"cancelledAt,omitempty"`
	CreatedAt         time.Time              `firestore:"createdAt"`
	UpdatedAt         time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Image     string `firestore:"image,omitempty"`
	SKU       string `firestore:"sku,omitempty"`
	Color     string `firestore:"color,omitempty"`
	Unit      string `firestore:"unit,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"price"`
	LineTotal int64  `firestore:"total"`
}

type addressDocument struct {
	FullName   string  `firestore:"fullName"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode *string `firestore:"postalCode,omitempty"`
	Country    string  `firestore:"country"`
	Phone      string  `firestore:"phone"`
	Email      *string `firestore:"email,omitempty"`
}

type paymentDocument struct {
	Method           string     `firestore:"method,omitempty"`
	Provider         string     `firestore:"provider,omitempty"`
	Reference        string     `firestore:"reference,omitempty"`
	SessionID        string     `firestore:"sessionId,omitempty"`
	TransactionID    string     `firestore:"transactionId,omitempty"`
	AuthorizationURL string     `firestore:"authorizationUrl,omitempty"`
	Status           string     `firestore:"status"`
	Amount           int64      `firestore:"amount"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt       *time.Time `firestore:"refundedAt,omitempty"`
}

type paymentReferenceDocument struct {
	Reference string    `firestore:"reference"`
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type statusChangeDocument struct {
	From    string    `firestore:"from"`
	To      string    `firestore:"to"`
	ActorID string    `firestore:"actorId,omitempty"`
	Reason  string    `firestore:"reason,omitempty"`
	At      time.Time `firestore:"at"`
}

// OrderRepository implements repositories.OrderRepository on Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document together with a paymentReferences claim in one
// transaction, so a reference can never be persisted on two orders.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	reference := strings.TrimSpace(order.Payment.Reference)
	if reference == "" {
		return errors.New("order payment reference is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	claimRef := client.Collection(paymentReferencesCollection).Doc(referenceClaimID(reference))

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(claimRef)
		switch {
		case err == nil:
			var claim paymentReferenceDocument
			_ = snap.DataTo(&claim)
			return referenceInUse(reference, claim.OrderID)
		case status.Code(err) != codes.NotFound:
			return pfirestore.WrapError("orders.insert", err)
		}
		if err := tx.Create(claimRef, paymentReferenceDocument{
			Reference: reference,
			OrderID:   order.ID,
			CreatedAt: order.CreatedAt.UTC(),
		}); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return tx.Create(orderRef, orderToDocument(order))
	})
	// A claim committed by a concurrent transaction surfaces as AlreadyExists at commit.
	if err != nil && !errors.Is(err, repositories.ErrPaymentReferenceInUse) && status.Code(err) == codes.AlreadyExists {
		return referenceInUse(reference, "")
	}
	return err
}

func referenceInUse(reference, orderID string) error {
	msg := fmt.Sprintf("payment reference %s is already in use", reference)
	if orderID != "" {
		msg += " by order " + orderID
	}
	return fmt.Errorf("%w: %w", repositories.ErrPaymentReferenceInUse, pfirestore.Conflict("orders.insert", msg))
}

// referenceClaimID hashes the reference because client references may contain '/'.
func referenceClaimID(reference string) string {
	sum := sha256.Sum256([]byte(reference))
	return hex.EncodeToString(sum[:])
}

// Update overwrites the order when the stored updatedAt matches expectedUpdatedAt.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedUpdatedAt time.Time) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", order.ID, err)
		}
		if !sameInstant(current.UpdatedAt, expectedUpdatedAt) {
			return pfirestore.Conflict("orders.update", fmt.Sprintf("order %s was modified concurrently", order.ID))
		}
		return tx.Set(ref, orderToDocument(order))
	})
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByPaymentReference resolves the order a payment reference was issued for.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, pfirestore.NotFound("orders.byReference", "payment reference is empty")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.reference", "==", reference).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.byReference", fmt.Sprintf("no order for payment reference %s", reference))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	page := filter.Page.Normalize()
	build := func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		if len(filter.PaymentStatus) > 0 {
			q = q.Where("payment.status", "in", lo.Map(filter.PaymentStatus, func(s domain.PaymentStatus, _ int) string {
				return string(s)
			}))
		}
		if filter.CreatedBefore != nil {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}
		return q
	}
	order := func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc)
	}
	docs, total, err := r.base.Page(ctx, build, order, page.Offset()+max(filter.Skip, 0), page.Limit)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	items := lo.Map(docs, func(doc pfirestore.Document[orderDocument], _ int) domain.Order {
		return doc.Data.toDomain(doc.ID)
	})
	return domain.NewPage(items, page, total), nil
}

// Firestore stores microsecond precision.
func sameInstant(stored, expected time.Time) bool {
	return stored.UTC().Truncate(time.Microsecond).Equal(expected.UTC().Truncate(time.Microsecond))
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                id,
		OrderNumber:       d.OrderNumber,
		UserID:            d.UserID,
		CustomerEmail:     d.CustomerEmail,
		Subtotal:          d.Subtotal,
		ShippingCost:      d.ShippingCost,
		Discount:          d.Discount,
		Tax:               d.Tax,
		Total:             d.Total,
		Currency:          d.Currency,
		ShippingAddress:   d.ShippingAddress.toDomain(),
		BillingAddress:    d.BillingAddress.toDomain(),
		Status:            domain.OrderStatus(d.Status),
		FulfillmentStatus: domain.FulfillmentStatus(d.FulfillmentStatus),
		TrackingNumber:    cloneString(d.TrackingNumber),
		Carrier:           cloneString(d.Carrier),
		Notes:             d.Notes,
		CancelReason:      cloneString(d.CancelReason),
		ShippedAt:         cloneTime(d.ShippedAt),
		DeliveredAt:       cloneTime(d.DeliveredAt),
		CancelledAt:       cloneTime(d.CancelledAt),
		Payment: domain.OrderPayment{
			Method:           d.Payment.Method,
			Provider:         d.Payment.Provider,
			Reference:        d.Payment.Reference,
			SessionID:        d.Payment.SessionID,
			TransactionID:    d.Payment.TransactionID,
			AuthorizationURL: d.Payment.AuthorizationURL,
			Status:           domain.PaymentStatus(d.Payment.Status),
			Amount:           d.Payment.Amount,
			PaidAt:           cloneTime(d.Payment.PaidAt),
			RefundedAt:       cloneTime(d.Payment.RefundedAt),
		},
		Timestamped: domain.Timestamped{
			CreatedAt: d.CreatedAt.UTC(),
			UpdatedAt: d.UpdatedAt.UTC(),
		},
	}
	order.Items = lo.Map(d.Items, func(item orderItemDocument, _ int) domain.OrderItem {
		return domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			SKU:       item.SKU,
			Color:     item.Color,
			Unit:      item.Unit,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
	})
	order.History = lo.Map(d.History, func(h statusChangeDocument, _ int) domain.OrderStatusChange {
		return domain.OrderStatusChange{
			From:    domain.OrderStatus(h.From),
			To:      domain.OrderStatus(h.To),
			ActorID: h.ActorID,
			Reason:  h.Reason,
			At:      h.At.UTC(),
		}
	})
	return order
}

func orderToDocument(o domain.Order) orderDocument {
	return orderDocument{
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		CustomerEmail: o.CustomerEmail,
		Items: lo.Map(o.Items, func(item domain.OrderItem, _ int) orderItemDocument {
			return orderItemDocument{
				ProductID: item.ProductID,
				Name:      item.Name,
				Image:     item.Image,
				SKU:       item.SKU,
				Color:     item.Color,
				Unit:      item.Unit,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				LineTotal: item.LineTotal,
			}
		}),
		Subtotal:        o.Subtotal,
		ShippingCost:    o.ShippingCost,
		Discount:        o.Discount,
		Tax:             o.Tax,
		Total:           o.Total,
		Currency:        o.Currency,
		ShippingAddress: addressToDocument(o.ShippingAddress),
		BillingAddress:  addressToDocument(o.BillingAddress),
		Payment: paymentDocument{
			Method:           o.Payment.Method,
			Provider:         o.Payment.Provider,
			Reference:        o.Payment.Reference,
			SessionID:        o.Payment.SessionID,
			TransactionID:    o.Payment.TransactionID,
			AuthorizationURL: o.Payment.AuthorizationURL,
			Status:           string(o.Payment.Status),
			Amount:           o.Payment.Amount,
			PaidAt:           cloneTime(o.Payment.PaidAt),
			RefundedAt:       cloneTime(o.Payment.RefundedAt),
		},
		Status:            string(o.Status),
		FulfillmentStatus: string(o.FulfillmentStatus),
		TrackingNumber:    cloneString(o.TrackingNumber),
		Carrier:           cloneString(o.Carrier),
		Notes:             o.Notes,
		CancelReason:      cloneString(o.CancelReason),
		History: lo.Map(o.History, func(h domain.OrderStatusChange, _ int) statusChangeDocument {
			return statusChangeDocument{
				From:    string(h.From),
				To:      string(h.To),
				ActorID: h.ActorID,
				Reason:  h.Reason,
				At:      h.At.UTC(),
			}
		}),
		ShippedAt:   cloneTime(o.ShippedAt),
		DeliveredAt: cloneTime(o.DeliveredAt),
		CancelledAt: cloneTime(o.CancelledAt),
		CreatedAt:   o.CreatedAt.UTC(),
		UpdatedAt:   o.UpdatedAt.UTC(),
	}
}

func (a addressDocument) toDomain() domain.Address {
	return domain.Address{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      cloneString(a.Line2),
		City:       a.City,
		State:      cloneString(a.State),
		PostalCode: cloneString(a.PostalCode),
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      cloneString(a.Email),
	}
}

func addressToDocument(a domain.Address) addressDocument {
	return addressDocument{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      cloneString(a.Line2),
		City:       a.City,
		State:      cloneString(a.State),
		PostalCode: cloneString(a.PostalCode),
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      cloneString(a.Email),
	}
}
