package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal place counts per ISO 4217 currency. Anything absent from both sets
// uses the default of two decimal places.
var (
	zeroDecimalCurrencies = map[string]struct{}{
		"BYR": {}, "CLP": {}, "CVE": {}, "DJF": {}, "GNF": {}, "IDR": {},
		"ISK": {}, "JPY": {}, "KMF": {}, "KRW": {}, "PYG": {}, "RWF": {},
		"UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
	}
	threeDecimalCurrencies = map[string]struct{}{
		"BHD": {}, "IQD": {}, "JOD": {}, "KWD": {}, "LYD": {}, "OMR": {}, "TND": {},
	}
)

// Decimals returns the number of minor-unit decimal places for the currency.
func Decimals(code string) int32 {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := zeroDecimalCurrencies[normalized]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[normalized]; ok {
		return 3
	}
	return 2
}

// MinorUnits converts a major-unit decimal amount into an integer count of
// minor units for the given currency. Excess decimal places are truncated,
// never rounded: 19.999 EUR is 1999 cents.
func MinorUnits(amount decimal.Decimal, code string) int64 {
	return amount.Shift(Decimals(code)).Truncate(0).IntPart()
}

// ParseMinorUnits parses a decimal string and converts it to minor units.
func ParseMinorUnits(amount, code string) (int64, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, err
	}
	return MinorUnits(parsed, code), nil
}
