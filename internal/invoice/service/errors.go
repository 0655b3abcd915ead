package service

import (
	"errors"

	"receiv3/pkg/platform/keylock"
)

// Precise registry failures. Each is returned wrapped in a coded error and
// stays matchable with errors.Is.
var (
	ErrDuplicateInvoice        = errors.New("invoice already exists")
	ErrAlreadyVerified         = errors.New("already verified")
	ErrInvoiceNotSettled       = errors.New("invoice must be repaid or defaulted")
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNotInvoiceOwner         = errors.New("caller is not the invoice owner")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrReentrantCall           = keylock.ErrReentrant
)
