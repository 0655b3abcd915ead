package domain

import (
	"math"
	"strconv"
	"strings"

	dErrors "receiv3/pkg/domain-errors"
)

// Amount is a quantity of the payment asset in its smallest unit.
type Amount int64

// Decimals is the payment asset's fractional precision.
const Decimals = 6

// Unit is one whole token expressed in minor units.
const Unit Amount = 1_000_000

// BasisPoints is a rate out of 10000.
type BasisPoints uint32

// BPSDenominator is 100%.
const BPSDenominator = 10_000

// Units converts whole tokens to minor units.
func Units(whole int64) Amount {
	return Amount(whole) * Unit
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a > 0 }

// String renders a with six fractional digits, trailing zeros trimmed.
func (a Amount) String() string {
	return FormatAmount(a)
}

// FormatAmount renders a as a decimal token quantity ("8000", "0.25").
func FormatAmount(a Amount) string {
	neg := a < 0
	u := uint64(a)
	if neg {
		u = uint64(-a)
	}
	whole := u / uint64(Unit)
	frac := u % uint64(Unit)
	s := strconv.FormatUint(whole, 10)
	if frac != 0 {
		f := strconv.FormatUint(frac, 10)
		f = strings.Repeat("0", Decimals-len(f)) + f
		s += "." + strings.TrimRight(f, "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// ParseAmount parses a non-negative decimal token quantity with at most six
// fractional digits.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeValidation, "amount is required")
	}
	wholePart, fracPart, hasFrac := strings.Cut(s, ".")
	if wholePart == "" || (hasFrac && fracPart == "") {
		return 0, dErrors.New(dErrors.CodeValidation, "amount is malformed")
	}
	if len(fracPart) > Decimals {
		return 0, dErrors.New(dErrors.CodeValidation, "amount has more than 6 decimal places")
	}
	whole, err := strconv.ParseUint(wholePart, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeValidation, "amount is malformed")
	}
	var frac uint64
	if fracPart != "" {
		frac, err = strconv.ParseUint(fracPart+strings.Repeat("0", Decimals-len(fracPart)), 10, 64)
		if err != nil {
			return 0, dErrors.New(dErrors.CodeValidation, "amount is malformed")
		}
	}
	if whole > uint64(math.MaxInt64/int64(Unit)) || Amount(whole)*Unit > math.MaxInt64-Amount(frac) {
		return 0, dErrors.New(dErrors.CodeValidation, "amount is too large")
	}
	return Amount(whole)*Unit + Amount(frac), nil
}
