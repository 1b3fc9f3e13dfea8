package domain

import (
	"time"
)

const (
	// DefaultPageLimit is used when list callers omit a limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps page sizes for offset based listings.
	MaxPageLimit = 100
)

// PageRequest describes offset pagination inputs (1-based page numbers).
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize clamps the request into the supported range.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset returns the number of records to skip for the request.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// Page packages offset paginated results together with totals.
type Page[T any] struct {
	Items      []T
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

// NewPage builds a page, deriving TotalPages from total and limit.
func NewPage[T any](items []T, req PageRequest, total int64) Page[T] {
	req = req.Normalize()
	pages := 0
	if total > 0 {
		pages = int((total + int64(req.Limit) - 1) / int64(req.Limit))
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Page:       req.Page,
		Limit:      req.Limit,
		Total:      total,
		TotalPages: pages,
	}
}

// Address is a postal address snapshot copied onto orders.
type Address struct {
	FullName   string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode *string
	Country    string
	Phone      string
	Email      *string
}

// Timestamped is embedded by aggregates that track creation and mutation times.
type Timestamped struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of a single dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
