package domain

import (
	"encoding/hex"
	"strings"

	dErrors "receiv3/pkg/domain-errors"
)

// Address identifies an account: an exporter, investor, operator, the
// platform wallet, or the pool engine's own custody account. The canonical
// form is "0x" followed by 40 lower-case hex digits.
type Address string

// ZeroAddress is the null address. It never holds a role and is never a
// valid recipient.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

const addressHexLen = 40

// ParseAddress validates and canonicalises s.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "address is required")
	}
	body, ok := strings.CutPrefix(s, "0x")
	if !ok {
		body, ok = strings.CutPrefix(s, "0X")
	}
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "address must start with 0x")
	}
	if len(body) != addressHexLen {
		return "", dErrors.New(dErrors.CodeValidation, "address must have 40 hex digits")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "address must be hexadecimal")
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is empty or the null address.
func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

func (a Address) String() string {
	return string(a)
}
