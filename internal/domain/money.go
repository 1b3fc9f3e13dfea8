package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is the deployment currency when none is configured.
const DefaultCurrency = "NGN"

var hundred = decimal.NewFromInt(100)

// PercentOf returns round(amount * percent / 100) in minor units, rounding half away from zero.
func PercentOf(amount int64, percent decimal.Decimal) int64 {
	if amount == 0 || percent.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

// MinorToMajor converts a minor-unit amount to a decimal in major units for the currency.
func MinorToMajor(amount int64, code string) decimal.Decimal {
	return decimal.New(amount, -int32(currencyScale(code)))
}

// FormatMoney renders a minor-unit amount with the currency symbol, e.g. "₦ 12,500.00".
func FormatMoney(amount int64, code string, tag language.Tag) string {
	unit, err := currency.ParseISO(normalizeCurrency(code))
	if err != nil {
		return MinorToMajor(amount, code).StringFixed(2) + " " + normalizeCurrency(code)
	}
	major := MinorToMajor(amount, code).InexactFloat64()
	printer := message.NewPrinter(tag)
	return printer.Sprint(currency.Symbol(unit.Amount(major)))
}

func currencyScale(code string) int {
	unit, err := currency.ParseISO(normalizeCurrency(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}
