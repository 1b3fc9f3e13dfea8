package repositories

import (
	"errors"
	"fmt"
)

// ErrPaymentReferenceInUse reports that another order already holds the payment reference.
var ErrPaymentReferenceInUse = errors.New("payment reference already in use")

// StockErrorCode classifies stock adjustment failures.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates a decrement exceeded the variant's current stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product does not exist or was deleted.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorVariantNotFound indicates the selector matched no variant.
	StockErrorVariantNotFound StockErrorCode = "stock_variant_not_found"
)

// StockError reports why an atomic stock adjustment was rejected. Available carries the
// stock observed inside the transaction.
type StockError struct {
	Code        StockErrorCode
	ProductID   string
	ProductName string
	SKU         string
	Color       string
	Requested   int
	Available   int
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case StockErrorProductNotFound:
		return fmt.Sprintf("product %s not found", e.ProductID)
	case StockErrorVariantNotFound:
		return fmt.Sprintf("variant %s not found on product %s", firstNonEmpty(e.SKU, e.Color), e.ProductID)
	default:
		return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d",
			firstNonEmpty(e.ProductName, e.ProductID), firstNonEmpty(e.Color, e.SKU), e.Requested, e.Available)
	}
}

// CounterError reports invalid counter usage.
type CounterError struct {
	CounterID string
	Message   string
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("counter %q: %s", e.CounterID, e.Message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
