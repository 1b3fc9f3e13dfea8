package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/repositories"
)

// publicProductStatuses are the statuses shown on the storefront.
var publicProductStatuses = []domain.ProductStatus{domain.ProductStatusActive, domain.ProductStatusOutOfStock}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
}

type catalogService struct {
	products repositories.ProductRepository
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	return &catalogService{products: deps.Products}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, &ValidationError{Fields: map[string]string{"id": "is required"}}
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, mapRepositoryError(err, "product "+productID)
	}
	if !product.Sellable() {
		return domain.Product{}, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, page domain.PageRequest) (domain.Page[domain.Product], error) {
	result, err := s.products.List(ctx, repositories.ProductListFilter{
		Statuses: publicProductStatuses,
		Page:     page.Normalize(),
	})
	if err != nil {
		return domain.Page[domain.Product]{}, mapRepositoryError(err, "products")
	}
	return result, nil
}

// CheckStock answers whether quantity can be ordered right now. Nothing is reserved.
func (s *catalogService) CheckStock(ctx context.Context, cmd CheckStockCommand) (StockCheck, error) {
	errs := fieldErrors{}
	if strings.TrimSpace(cmd.ProductID) == "" {
		errs.add("productId", "is required")
	}
	if cmd.Variant.IsZero() {
		errs.add("color", "color or sku is required")
	}
	if cmd.Quantity <= 0 {
		errs.add("quantity", "must be a positive integer")
	}
	if err := errs.err(); err != nil {
		return StockCheck{}, err
	}

	product, err := s.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		return StockCheck{}, err
	}
	idx, ok := product.FindVariant(cmd.Variant)
	if !ok {
		return StockCheck{}, fmt.Errorf("%w: variant %s of product %s", ErrNotFound,
			firstNonEmpty(cmd.Variant.SKU, cmd.Variant.Color), product.Name)
	}
	variant := product.Variants[idx]
	available := max(variant.Stock, 0)
	if !variant.Available {
		available = 0
	}
	return StockCheck{
		IsAvailable:       variant.Available && variant.Stock >= cmd.Quantity,
		AvailableStock:    available,
		RequestedQuantity: cmd.Quantity,
	}, nil
}
