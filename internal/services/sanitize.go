package services

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/lacehouse/store-api/internal/domain"
)

// textPolicy strips every tag. Customer supplied text is stored as plain text.
var textPolicy = bluemonday.StrictPolicy()

func cleanText(value string) string {
	cleaned := textPolicy.Sanitize(strings.TrimSpace(value))
	// bluemonday escapes entities; stored text keeps the literal characters.
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

func cleanOptional(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := cleanText(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func cleanAddress(addr domain.Address) domain.Address {
	return domain.Address{
		FullName:   cleanText(addr.FullName),
		Line1:      cleanText(addr.Line1),
		Line2:      cleanOptional(addr.Line2),
		City:       cleanText(addr.City),
		State:      cleanOptional(addr.State),
		PostalCode: cleanOptional(addr.PostalCode),
		Country:    strings.ToUpper(cleanText(addr.Country)),
		Phone:      cleanText(addr.Phone),
		Email:      cleanOptional(addr.Email),
	}
}

func validateAddress(prefix string, addr domain.Address, errs fieldErrors) {
	required := map[string]string{
		"fullName": addr.FullName,
		"line1":    addr.Line1,
		"city":     addr.City,
		"country":  addr.Country,
		"phone":    addr.Phone,
	}
	for field, value := range required {
		if value == "" {
			errs.add(prefix+"."+field, "is required")
		}
	}
}
