package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = money.EUR

// ParseDecimalToCents converts a decimal string to minor units with half-up
// rounding on the third decimal place.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Signs, zero
// and values that do not fit an int64 are rejected.
//
//	ParseDecimalToCents("12.34")  -> 1234
//	ParseDecimalToCents("12.345") -> 1235
func ParseDecimalToCents(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if strings.Contains(fracPart, ".") {
		return 0, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if iv > (math.MaxInt64-99)/100 {
		return 0, ErrInvalidAmount
	}
	var frac uint64
	if len(fracPart) > 0 {
		frac = uint64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			frac += uint64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}
	cents := iv*100 + frac
	if cents == 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// FormatAmount renders minor units in the given ISO 4217 currency. Unknown
// codes fall back to DefaultCurrency.
func FormatAmount(amount uint64, currency string) string {
	if money.GetCurrency(currency) == nil {
		currency = DefaultCurrency
	}
	if amount > math.MaxInt64 {
		amount = math.MaxInt64
	}
	return money.New(int64(amount), currency).Display()
}

// KnownCurrency reports whether code is an ISO 4217 currency go-money knows.
func KnownCurrency(code string) bool {
	return money.GetCurrency(code) != nil
}

// MajorUnits converts minor units to a float in the currency's major unit,
// for sinks that want a plain number.
func MajorUnits(amount uint64, currency string) float64 {
	if money.GetCurrency(currency) == nil {
		currency = DefaultCurrency
	}
	if amount > math.MaxInt64 {
		amount = math.MaxInt64
	}
	return money.New(int64(amount), currency).AsMajorUnits()
}
