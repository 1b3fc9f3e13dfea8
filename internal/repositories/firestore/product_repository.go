package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"

	domain "github.com/lacehouse/store-api/internal/domain"
	pfirestore "github.com/lacehouse/store-api/internal/platform/firestore"
	"github.com/lacehouse/store-api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name              string            `firestore:"name"`
	Slug              string            `firestore:"slug"`
	Description       string            `firestore:"description,omitempty"`
	Images            []string          `firestore:"images,omitempty"`
	BasePrice         int64             `firestore:"basePrice"`
	SalePrice         *int64            `firestore:"salePrice,omitempty"`
	Currency          string            `firestore:"currency"`
	Unit              string            `firestore:"unit"`
	MinOrderQuantity  int               `firestore:"minOrderQuantity"`
	MaxOrderQuantity  int               `firestore:"maxOrderQuantity,omitempty"`
	TotalStock        int               `firestore:"totalStock"`
	LowStockThreshold int               `firestore:"lowStockThreshold,omitempty"`
	Status            string            `firestore:"status"`
	Variants          []variantDocument `firestore:"variants"`
	Deleted           bool              `firestore:"deleted"`
	DeletedAt         *time.Time        `firestore:"deletedAt,omitempty"`
	CreatedAt         time.Time         `firestore:"createdAt"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	SKU           string `firestore:"sku"`
	Color         string `firestore:"color"`
	Stock         int    `firestore:"stock"`
	Available     bool   `firestore:"isAvailable"`
	PriceOverride *int64 `firestore:"price,omitempty"`
}

// ProductRepository implements repositories.ProductRepository on Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
	clock    func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		clock:    time.Now,
	}, nil
}

// FindByID loads one product, including soft-deleted ones.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs fetches every product in a single batched read.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := lo.Uniq(lo.Compact(lo.Map(productIDs, func(id string, _ int) string { return strings.TrimSpace(id) })))
	docs, err := r.base.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// List returns non-deleted products, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	page := filter.Page.Normalize()
	build := func(q firestore.Query) firestore.Query {
		q = q.Where("deleted", "==", false)
		switch len(filter.Statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(filter.Statuses[0]))
		default:
			q = q.Where("status", "in", lo.Map(filter.Statuses, func(s domain.ProductStatus, _ int) string {
				return string(s)
			}))
		}
		return q
	}
	order := func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc)
	}
	docs, total, err := r.base.Page(ctx, build, order, page.Offset(), page.Limit)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	items := lo.Map(docs, func(doc pfirestore.Document[productDocument], _ int) domain.Product {
		return doc.Data.toDomain(doc.ID)
	})
	return domain.NewPage(items, page, total), nil
}

// AdjustStock re-reads every affected product inside one transaction, checks each decrement
// against the current counter and writes all products or none.
func (r *ProductRepository) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.VariantStock, error) {
	if len(adjustments) == 0 {
		return nil, nil
	}
	grouped := lo.GroupBy(adjustments, func(a domain.StockAdjustment) string { return strings.TrimSpace(a.ProductID) })
	productIDs := lo.Uniq(lo.Map(adjustments, func(a domain.StockAdjustment, _ int) string { return strings.TrimSpace(a.ProductID) }))

	var result []domain.VariantStock
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = result[:0]
		refs := make([]*firestore.DocumentRef, 0, len(productIDs))
		for _, id := range productIDs {
			ref, err := r.base.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		now := r.clock().UTC()
		writes := make(map[*firestore.DocumentRef]productDocument, len(snaps))
		for i, snap := range snaps {
			productID := productIDs[i]
			if !snap.Exists() {
				if err := skipOrReject(grouped[productID], &repositories.StockError{
					Code:      repositories.StockErrorProductNotFound,
					ProductID: productID,
				}); err != nil {
					return err
				}
				continue
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			product := doc.toDomain(productID)
			changed, stocks, err := applyAdjustments(&product, grouped[productID])
			if err != nil {
				return err
			}
			result = append(result, stocks...)
			if !changed {
				continue
			}
			product.RecountStock()
			product.UpdatedAt = now
			writes[refs[i]] = productToDocument(product)
		}
		for ref, doc := range writes {
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return nil, stockErr
		}
		return nil, err
	}
	return result, nil
}

// applyAdjustments mutates product in place. Net demand per variant is checked so that
// duplicate lines for the same variant cannot individually pass and jointly overdraw.
// Decrements are rejected for products that stopped selling and for disabled variants;
// restorations still apply to both.
func applyAdjustments(product *domain.Product, adjustments []domain.StockAdjustment) (bool, []domain.VariantStock, error) {
	if !product.Sellable() && lo.SomeBy(adjustments, func(a domain.StockAdjustment) bool { return a.Delta < 0 }) {
		return false, nil, &repositories.StockError{
			Code:        repositories.StockErrorProductNotFound,
			ProductID:   product.ID,
			ProductName: product.Name,
		}
	}
	net := make(map[int]int)
	order := make([]int, 0, len(adjustments))
	for _, adj := range adjustments {
		idx, ok := product.FindVariant(adj.Variant)
		if !ok {
			if adj.Delta < 0 {
				return false, nil, &repositories.StockError{
					Code:        repositories.StockErrorVariantNotFound,
					ProductID:   product.ID,
					ProductName: product.Name,
					SKU:         adj.Variant.SKU,
					Color:       adj.Variant.Color,
				}
			}
			continue
		}
		if _, seen := net[idx]; !seen {
			order = append(order, idx)
		}
		net[idx] += adj.Delta
	}

	var (
		changed bool
		stocks  []domain.VariantStock
	)
	for _, idx := range order {
		delta := net[idx]
		variant := &product.Variants[idx]
		if delta < 0 && (!variant.Available || variant.Stock+delta < 0) {
			available := variant.Stock
			if !variant.Available {
				available = 0
			}
			return false, nil, &repositories.StockError{
				Code:        repositories.StockErrorInsufficient,
				ProductID:   product.ID,
				ProductName: product.Name,
				SKU:         variant.SKU,
				Color:       variant.Color,
				Requested:   -delta,
				Available:   available,
			}
		}
		if delta != 0 {
			variant.Stock += delta
			changed = true
		}
		stocks = append(stocks, domain.VariantStock{
			ProductID:         product.ID,
			ProductName:       product.Name,
			SKU:               variant.SKU,
			Color:             variant.Color,
			Stock:             variant.Stock,
			LowStockThreshold: product.LowStockThreshold,
		})
	}
	return changed, stocks, nil
}

// skipOrReject rejects a batch containing a decrement for a missing product and
// silently skips restorations for it.
func skipOrReject(adjustments []domain.StockAdjustment, err *repositories.StockError) error {
	for _, adj := range adjustments {
		if adj.Delta < 0 {
			return err
		}
	}
	return nil
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:                id,
		Name:              d.Name,
		Slug:              d.Slug,
		Description:       d.Description,
		Images:            append([]string(nil), d.Images...),
		BasePrice:         d.BasePrice,
		SalePrice:         cloneInt64(d.SalePrice),
		Currency:          d.Currency,
		Unit:              d.Unit,
		MinOrderQuantity:  d.MinOrderQuantity,
		MaxOrderQuantity:  d.MaxOrderQuantity,
		TotalStock:        d.TotalStock,
		LowStockThreshold: d.LowStockThreshold,
		Status:            domain.ProductStatus(d.Status),
		DeletedAt:         cloneTime(d.DeletedAt),
		Timestamped: domain.Timestamped{
			CreatedAt: d.CreatedAt.UTC(),
			UpdatedAt: d.UpdatedAt.UTC(),
		},
	}
	if d.Deleted && product.DeletedAt == nil {
		deleted := d.UpdatedAt.UTC()
		product.DeletedAt = &deleted
	}
	product.Variants = make([]domain.ProductVariant, 0, len(d.Variants))
	for _, v := range d.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant{
			SKU:           v.SKU,
			Color:         v.Color,
			Stock:         v.Stock,
			Available:     v.Available,
			PriceOverride: cloneInt64(v.PriceOverride),
		})
	}
	return product
}

func productToDocument(p domain.Product) productDocument {
	doc := productDocument{
		Name:              p.Name,
		Slug:              p.Slug,
		Description:       p.Description,
		Images:            append([]string(nil), p.Images...),
		BasePrice:         p.BasePrice,
		SalePrice:         cloneInt64(p.SalePrice),
		Currency:          p.Currency,
		Unit:              p.Unit,
		MinOrderQuantity:  p.MinOrderQuantity,
		MaxOrderQuantity:  p.MaxOrderQuantity,
		TotalStock:        p.TotalStock,
		LowStockThreshold: p.LowStockThreshold,
		Status:            string(p.Status),
		Deleted:           p.DeletedAt != nil,
		DeletedAt:         cloneTime(p.DeletedAt),
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
	doc.Variants = make([]variantDocument, 0, len(p.Variants))
	for _, v := range p.Variants {
		doc.Variants = append(doc.Variants, variantDocument{
			SKU:           v.SKU,
			Color:         v.Color,
			Stock:         v.Stock,
			Available:     v.Available,
			PriceOverride: cloneInt64(v.PriceOverride),
		})
	}
	return doc
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := v.UTC()
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
