// Package currency holds the minor-unit conversion rules shared by all
// provider adapters.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies charged in whole units. Everything else is two-decimal and
// converted at x100.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"DJF": {},
	"GNF": {},
	"JPY": {},
	"KMF": {},
	"KRW": {},
	"MGA": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"VUV": {},
	"XAF": {},
	"XOF": {},
	"XPF": {},
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(code string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(code)]
	return ok
}

// DecimalPlaces returns the number of minor-unit digits for the currency.
func DecimalPlaces(code string) int32 {
	if IsZeroDecimal(code) {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to the provider's integer minor
// units, rounding half-up. The arithmetic is exact decimal, never float.
func ToMinorUnits(amount decimal.Decimal, code string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative, got %s", amount)
	}

	// Round half away from zero, which is half-up for the non-negative
	// amounts accepted here.
	return amount.Shift(DecimalPlaces(code)).Round(0).IntPart(), nil
}

// FromMinorUnits converts a provider-reported integer minor-unit amount back
// to major units.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-DecimalPlaces(code))
}
