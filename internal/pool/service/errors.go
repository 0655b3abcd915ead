package service

import (
	"errors"

	"receiv3/internal/access"
	"receiv3/pkg/platform/keylock"
)

// Precise engine failures. Each is returned wrapped in a coded error and
// stays matchable with errors.Is.
var (
	ErrInvoiceNotFundable = errors.New("invoice not fundable")
	ErrPoolAlreadyExists  = errors.New("pool already exists")
	ErrPoolNotFound       = errors.New("pool does not exist")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrPoolNotOpen        = errors.New("pool not open")
	ErrCapacityExceeded   = errors.New("amount exceeds remaining capacity")
	ErrInvalidPoolState   = errors.New("invalid pool state")
	ErrFeeTooHigh         = errors.New("fee too high")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrInvoiceOutOfSync   = errors.New("invoice status out of sync")
	ErrLedgerMismatch     = errors.New("investment log does not match funded amount")
	ErrConcurrentUpdate   = errors.New("pool changed concurrently")
	ErrPaused             = access.ErrPaused
	ErrReentrantCall      = keylock.ErrReentrant
)
