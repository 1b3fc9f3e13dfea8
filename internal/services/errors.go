package services

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/lacehouse/store-api/internal/repositories"
)

var (
	// ErrNotFound indicates a product, variant, order, or notification does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a malformed request or a value outside accepted bounds.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates the request collides with current state, such as a disallowed
	// status transition, a duplicate payment reference, or a concurrent modification.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock indicates a variant cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrForbidden indicates the caller lacks ownership or role for the resource.
	ErrForbidden = errors.New("no permission")
	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable indicates a backing dependency failed transiently.
	ErrUnavailable = errors.New("service unavailable")
)

// StockError reports an insufficient-stock failure with enough context for the client.
// It matches both ErrInsufficientStock and ErrInvalidInput.
type StockError struct {
	ProductID   string
	ProductName string
	SKU         string
	Color       string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	variant := e.Color
	if variant == "" {
		variant = e.SKU
	}
	if variant != "" {
		name = fmt.Sprintf("%s (%s)", name, variant)
	}
	return fmt.Sprintf("insufficient stock for %s: only %d available, %d requested", name, e.Available, e.Requested)
}

// Is lets errors.Is match the taxonomy sentinels.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == ErrInvalidInput
}

// ValidationError carries per-field messages for malformed requests. It matches ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// FieldErrors returns a copy of the field messages.
func (e *ValidationError) FieldErrors() map[string]string {
	return maps.Clone(e.Fields)
}

type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, exists := f[field]; !exists {
		f[field] = message
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: maps.Clone(f)}
}

// mapRepositoryError translates repository categorisation into the service taxonomy.
func mapRepositoryError(err error, subject string) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: product %s", ErrNotFound, stockErr.ProductID)
		case repositories.StockErrorVariantNotFound:
			return fmt.Errorf("%w: variant %s of product %s", ErrNotFound, firstNonEmpty(stockErr.SKU, stockErr.Color), stockErr.ProductID)
		default:
			return &StockError{
				ProductID:   stockErr.ProductID,
				ProductName: stockErr.ProductName,
				SKU:         stockErr.SKU,
				Color:       stockErr.Color,
				Requested:   stockErr.Requested,
				Available:   stockErr.Available,
			}
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, subject)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s was modified concurrently: %v", ErrConflict, subject, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
