package domain

import (
	"strings"
	"time"
)

// ProductStatus is the catalog lifecycle state of a product.
type ProductStatus string

const (
	ProductStatusDraft      ProductStatus = "draft"
	ProductStatusActive     ProductStatus = "active"
	ProductStatusArchived   ProductStatus = "archived"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
)

// Product is a sellable fabric or lace item. Prices are expressed in minor currency units.
type Product struct {
	ID                string
	Name              string
	Slug              string
	Description       string
	Images            []string
	BasePrice         int64
	SalePrice         *int64
	Currency          string
	Unit              string
	MinOrderQuantity  int
	MaxOrderQuantity  int
	TotalStock        int
	LowStockThreshold int
	Status            ProductStatus
	Variants          []ProductVariant
	DeletedAt         *time.Time
	Timestamped
}

// ProductVariant is a colour/SKU level subdivision of a product with its own stock counter.
type ProductVariant struct {
	SKU           string
	Color         string
	Stock         int
	Available     bool
	PriceOverride *int64
}

// VariantSelector identifies a variant either by SKU or by colour.
type VariantSelector struct {
	SKU   string
	Color string
}

// Key returns a stable identifier for the selector, preferring SKU.
func (s VariantSelector) Key() string {
	if sku := strings.TrimSpace(s.SKU); sku != "" {
		return "sku:" + strings.ToLower(sku)
	}
	return "color:" + strings.ToLower(strings.TrimSpace(s.Color))
}

// IsZero reports whether neither SKU nor colour was supplied.
func (s VariantSelector) IsZero() bool {
	return strings.TrimSpace(s.SKU) == "" && strings.TrimSpace(s.Color) == ""
}

// Sellable reports whether the product may currently be ordered.
func (p Product) Sellable() bool {
	if p.DeletedAt != nil {
		return false
	}
	return p.Status == ProductStatusActive || p.Status == ProductStatusOutOfStock
}

// FindVariant resolves a variant by SKU (exact, case-insensitive) or colour.
func (p Product) FindVariant(sel VariantSelector) (int, bool) {
	if sku := strings.TrimSpace(sel.SKU); sku != "" {
		for i, v := range p.Variants {
			if strings.EqualFold(v.SKU, sku) {
				return i, true
			}
		}
		return -1, false
	}
	color := strings.TrimSpace(sel.Color)
	if color == "" {
		return -1, false
	}
	for i, v := range p.Variants {
		if strings.EqualFold(strings.TrimSpace(v.Color), color) {
			return i, true
		}
	}
	return -1, false
}

// UnitPrice resolves the charged price for the variant at index idx.
func (p Product) UnitPrice(idx int) int64 {
	if idx >= 0 && idx < len(p.Variants) {
		if override := p.Variants[idx].PriceOverride; override != nil && *override > 0 {
			return *override
		}
	}
	if p.SalePrice != nil && *p.SalePrice > 0 {
		return *p.SalePrice
	}
	return p.BasePrice
}

// RecountStock recomputes TotalStock from the variant counters and flips the
// active/out_of_stock status to match.
func (p *Product) RecountStock() {
	total := 0
	for _, v := range p.Variants {
		if v.Stock > 0 {
			total += v.Stock
		}
	}
	p.TotalStock = total
	switch {
	case total == 0 && p.Status == ProductStatusActive:
		p.Status = ProductStatusOutOfStock
	case total > 0 && p.Status == ProductStatusOutOfStock:
		p.Status = ProductStatusActive
	}
}

// StockAdjustment is a signed change applied to one variant's stock.
// Negative deltas are decrements and must never drive stock below zero.
type StockAdjustment struct {
	ProductID string
	Variant   VariantSelector
	Delta     int
}

// VariantStock reports a variant counter after an adjustment.
type VariantStock struct {
	ProductID         string
	ProductName       string
	SKU               string
	Color             string
	Stock             int
	LowStockThreshold int
}
