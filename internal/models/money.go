package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance for treating a monetary value as zero. Balances,
// share sums and transfer amounts within one cent of zero are considered
// settled.
var Epsilon = decimal.RequireFromString("0.01")

// CurrencyInfo describes a supported ISO 4217 currency.
type CurrencyInfo struct {
	Symbol     string
	Name       string
	MinorUnits int32
}

// supportedCurrencies is the set of currencies the engine accepts for groups
// and expenses. MinorUnits drives rounding: most currencies carry two decimal
// places, JPY and KRW none.
var supportedCurrencies = map[string]CurrencyInfo{
	"USD": {Symbol: "$", Name: "US Dollar", MinorUnits: 2},
	"EUR": {Symbol: "€", Name: "Euro", MinorUnits: 2},
	"GBP": {Symbol: "£", Name: "British Pound", MinorUnits: 2},
	"JPY": {Symbol: "¥", Name: "Japanese Yen", MinorUnits: 0},
	"CAD": {Symbol: "C$", Name: "Canadian Dollar", MinorUnits: 2},
	"AUD": {Symbol: "A$", Name: "Australian Dollar", MinorUnits: 2},
	"CHF": {Symbol: "CHF", Name: "Swiss Franc", MinorUnits: 2},
	"CNY": {Symbol: "¥", Name: "Chinese Yuan", MinorUnits: 2},
	"SEK": {Symbol: "kr", Name: "Swedish Krona", MinorUnits: 2},
	"NOK": {Symbol: "kr", Name: "Norwegian Krone", MinorUnits: 2},
	"DKK": {Symbol: "kr", Name: "Danish Krone", MinorUnits: 2},
	"PLN": {Symbol: "zł", Name: "Polish Złoty", MinorUnits: 2},
	"CZK": {Symbol: "Kč", Name: "Czech Koruna", MinorUnits: 2},
	"HUF": {Symbol: "Ft", Name: "Hungarian Forint", MinorUnits: 2},
	"BRL": {Symbol: "R$", Name: "Brazilian Real", MinorUnits: 2},
	"MXN": {Symbol: "$", Name: "Mexican Peso", MinorUnits: 2},
	"INR": {Symbol: "₹", Name: "Indian Rupee", MinorUnits: 2},
	"KRW": {Symbol: "₩", Name: "South Korean Won", MinorUnits: 0},
	"SGD": {Symbol: "S$", Name: "Singapore Dollar", MinorUnits: 2},
	"HKD": {Symbol: "HK$", Name: "Hong Kong Dollar", MinorUnits: 2},
	"NZD": {Symbol: "NZ$", Name: "New Zealand Dollar", MinorUnits: 2},
}

// IsSupportedCurrency reports whether code names a currency the engine
// accepts. Codes are matched case-insensitively.
func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[strings.ToUpper(code)]
	return ok
}

// CurrencyMinorUnits returns the number of decimal places for a currency.
// Unknown currencies default to two, matching common practice.
func CurrencyMinorUnits(code string) int32 {
	if info, ok := supportedCurrencies[strings.ToUpper(code)]; ok {
		return info.MinorUnits
	}
	return 2
}

// Currency returns the info record for a supported currency code.
func Currency(code string) (CurrencyInfo, bool) {
	info, ok := supportedCurrencies[strings.ToUpper(code)]
	return info, ok
}

// RoundToMinor rounds an amount to the currency's minor-unit precision with
// ties going away from zero (half-up).
func RoundToMinor(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyMinorUnits(currency))
}

// MinorUnitStep returns the smallest representable increment for a currency,
// e.g. 0.01 for USD and 1 for JPY.
func MinorUnitStep(currency string) decimal.Decimal {
	return decimal.New(1, -CurrencyMinorUnits(currency))
}

// IsZeroAmount reports whether amount is within Epsilon of zero.
func IsZeroAmount(amount decimal.Decimal) bool {
	return amount.Abs().LessThanOrEqual(Epsilon)
}

// FormatAmount renders an amount with its currency symbol at minor-unit
// precision, e.g. "$12.50" or "¥1200".
func FormatAmount(amount decimal.Decimal, currency string) string {
	code := strings.ToUpper(currency)
	info, ok := supportedCurrencies[code]
	if !ok {
		return amount.StringFixed(2) + " " + code
	}
	return info.Symbol + amount.StringFixed(info.MinorUnits)
}
