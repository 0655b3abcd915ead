package domain

import (
	"strconv"

	dErrors "receiv3/pkg/domain-errors"
)

// InvoiceID is the registry's sequential identity, starting at 1.
type InvoiceID uint64

// PoolID equals the id of the invoice the pool funds.
type PoolID uint64

func (id InvoiceID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id PoolID) String() string    { return strconv.FormatUint(uint64(id), 10) }

// PoolFor returns the pool identity for an invoice.
func PoolFor(id InvoiceID) PoolID { return PoolID(id) }

// Invoice returns the invoice a pool funds.
func (id PoolID) Invoice() InvoiceID { return InvoiceID(id) }

// ParseInvoiceID parses a positive decimal id.
func ParseInvoiceID(s string) (InvoiceID, error) {
	n, err := parsePositiveID(s)
	if err != nil {
		return 0, err
	}
	return InvoiceID(n), nil
}

// ParsePoolID parses a positive decimal id.
func ParsePoolID(s string) (PoolID, error) {
	n, err := parsePositiveID(s)
	if err != nil {
		return 0, err
	}
	return PoolID(n), nil
}

func parsePositiveID(s string) (uint64, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "id is required")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "id must be a positive integer")
	}
	if n == 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "id must be a positive integer")
	}
	return n, nil
}
