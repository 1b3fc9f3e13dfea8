package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lacehouse/store-api/internal/domain"
	"github.com/lacehouse/store-api/internal/platform/httpx"
	"github.com/lacehouse/store-api/internal/services"
)

const maxCheckStockBodySize = 2 * 1024

// ProductHandlers exposes the public catalog endpoints.
type ProductHandlers struct {
	catalog services.CatalogService
	limiter rateLimiter
}

// ProductOption customises ProductHandlers.
type ProductOption func(*ProductHandlers)

// WithCheckStockRateLimit throttles the stock pre-flight endpoint per client IP.
func WithCheckStockRateLimit(perSecond float64, burst int) ProductOption {
	return func(h *ProductHandlers) {
		h.limiter = newKeyedRateLimiter(perSecond, burst, nil)
	}
}

// NewProductHandlers constructs catalog handlers.
func NewProductHandlers(catalog services.CatalogService, opts ...ProductOption) *ProductHandlers {
	h := &ProductHandlers{catalog: catalog}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
	r.With(rateLimitByClientIP(h.limiter)).Post("/{productID}/check-stock", h.checkStock)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	result, err := h.catalog.ListProducts(ctx, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(result.Items))
	for _, product := range result.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, pagePayload[productPayload]{
		Success:    true,
		Items:      items,
		Pagination: buildPagination(result.Page, result.Limit, result.Total, result.TotalPages),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	product, err := h.catalog.GetProduct(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Success: true, Product: buildProductPayload(product)})
}

type checkStockRequest struct {
	Color    string `json:"color"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type checkStockResponse struct {
	Success           bool `json:"success"`
	IsAvailable       bool `json:"isAvailable"`
	AvailableStock    int  `json:"availableStock"`
	RequestedQuantity int  `json:"requestedQuantity"`
}

func (h *ProductHandlers) checkStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	var req checkStockRequest
	if !decodeJSONBody(w, r, maxCheckStockBodySize, false, &req) {
		return
	}
	result, err := h.catalog.CheckStock(ctx, services.CheckStockCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Variant:   domain.VariantSelector{SKU: strings.TrimSpace(req.SKU), Color: strings.TrimSpace(req.Color)},
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkStockResponse{
		Success:           true,
		IsAvailable:       result.IsAvailable,
		AvailableStock:    result.AvailableStock,
		RequestedQuantity: result.RequestedQuantity,
	})
}

type productResponse struct {
	Success bool           `json:"success"`
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Slug             string           `json:"slug,omitempty"`
	Description      string           `json:"description,omitempty"`
	Images           []string         `json:"images,omitempty"`
	BasePrice        int64            `json:"basePrice"`
	SalePrice        *int64           `json:"salePrice,omitempty"`
	Currency         string           `json:"currency"`
	Unit             string           `json:"unit,omitempty"`
	MinOrderQuantity int              `json:"minOrderQuantity,omitempty"`
	MaxOrderQuantity int              `json:"maxOrderQuantity,omitempty"`
	TotalStock       int              `json:"totalStock"`
	Status           string           `json:"status"`
	Variants         []variantPayload `json:"variants"`
	CreatedAt        string           `json:"createdAt,omitempty"`
	UpdatedAt        string           `json:"updatedAt,omitempty"`
}

type variantPayload struct {
	SKU       string `json:"sku,omitempty"`
	Color     string `json:"color,omitempty"`
	Stock     int    `json:"stock"`
	Available bool   `json:"isAvailable"`
	Price     int64  `json:"price"`
}

func buildProductPayload(product domain.Product) productPayload {
	variants := make([]variantPayload, 0, len(product.Variants))
	for i, v := range product.Variants {
		variants = append(variants, variantPayload{
			SKU:       v.SKU,
			Color:     v.Color,
			Stock:     max(v.Stock, 0),
			Available: v.Available && v.Stock > 0,
			Price:     product.UnitPrice(i),
		})
	}
	return productPayload{
		ID:               product.ID,
		Name:             product.Name,
		Slug:             product.Slug,
		Description:      product.Description,
		Images:           product.Images,
		BasePrice:        product.BasePrice,
		SalePrice:        product.SalePrice,
		Currency:         strings.ToUpper(product.Currency),
		Unit:             product.Unit,
		MinOrderQuantity: product.MinOrderQuantity,
		MaxOrderQuantity: product.MaxOrderQuantity,
		TotalStock:       product.TotalStock,
		Status:           string(product.Status),
		Variants:         variants,
		CreatedAt:        formatTime(product.CreatedAt),
		UpdatedAt:        formatTime(product.UpdatedAt),
	}
}

type pagePayload[T any] struct {
	Success    bool              `json:"success"`
	Items      []T               `json:"items"`
	Pagination paginationPayload `json:"pagination"`
}

type paginationPayload struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func buildPagination(page, limit int, total int64, totalPages int) paginationPayload {
	return paginationPayload{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
