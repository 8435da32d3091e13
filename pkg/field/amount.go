package field

import (
	"math/big"
	"strings"
)

// Decimals is the fixed scale between the display unit and the smallest
// transferable unit (1 display unit = 10^18 smallest units).
const Decimals = 18

// DisplayDigits is how many fractional digits FormatAmount keeps.
const DisplayDigits = 4

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ParseAmount converts a display amount such as "1.5" into the smallest-unit
// integer string "1500000000000000000".
//
// Fractional digits beyond 18 are truncated. Anything that is not a
// non-negative decimal, including a malformed fractional part, fails with
// ErrInvalidAmount rather than degrading to "0".
func ParseAmount(display string) (string, error) {
	s := strings.TrimSpace(display)
	if s == "" {
		return "", invalidAmount(display, "empty amount")
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && strings.Contains(fracPart, ".") {
		return "", invalidAmount(display, "more than one decimal point")
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		fracPart = "0"
	}
	if !IsDecimal(intPart) {
		return "", invalidAmount(display, "integer part is not numeric")
	}
	if !IsDecimal(fracPart) {
		return "", invalidAmount(display, "fractional part is not numeric")
	}

	if len(fracPart) > Decimals {
		fracPart = fracPart[:Decimals]
	} else {
		fracPart += strings.Repeat("0", Decimals-len(fracPart))
	}

	whole, _ := new(big.Int).SetString(intPart, 10)
	frac, _ := new(big.Int).SetString(fracPart, 10)
	whole.Mul(whole, unit)
	return whole.Add(whole, frac).String(), nil
}

// ParseDisplay is the approximate inverse of FormatAmount.
func ParseDisplay(display string) (string, error) {
	return ParseAmount(display)
}

// FormatAmount renders a smallest-unit integer string with four fractional
// digits, truncating the rest. Input that is not a non-negative integer is
// returned unchanged; the value is for display only.
func FormatAmount(smallest string) string {
	if !IsDecimal(smallest) {
		return smallest
	}
	n, _ := new(big.Int).SetString(smallest, 10)
	q, r := new(big.Int).QuoRem(n, unit, new(big.Int))

	frac := r.String()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return q.String() + "." + frac[:DisplayDigits]
}

// FormatAmountExact renders a smallest-unit integer string with every
// significant fractional digit, so ParseAmount(FormatAmountExact(x)) == x.
// Trailing fractional zeros and a bare decimal point are dropped.
func FormatAmountExact(smallest string) string {
	if !IsDecimal(smallest) {
		return smallest
	}
	n, _ := new(big.Int).SetString(smallest, 10)
	q, r := new(big.Int).QuoRem(n, unit, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}

	frac := r.String()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}

// ValidateAmount checks that smallest is a non-negative base-10 integer.
func ValidateAmount(smallest string) error {
	if !IsDecimal(smallest) {
		return invalidAmount(smallest, "amount must be a non-negative integer in smallest units")
	}
	return nil
}
