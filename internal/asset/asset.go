// Package asset implements the fungible payment token the pool engine
// escrows: balances, allowances, transfers and a capped test faucet.
package asset

import (
	"context"
	"errors"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

const (
	Name     = "USD Coin (Mock)"
	Symbol   = "USDC"
	Decimals = domain.Decimals
)

// InitialSupply is minted to the owner when a ledger is created.
var InitialSupply = domain.Units(1_000_000)

// FaucetLimit caps a single faucet request.
var FaucetLimit = domain.Units(10_000)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("caller is not the asset owner")
	ErrFaucetLimit           = errors.New("max 10000 USDC per request")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrNegativeAmount        = errors.New("amount must not be negative")
)

// Payout is one leg of a batch transfer.
type Payout struct {
	To     domain.Address
	Amount domain.Amount
}

// Ledger is the payment asset. Transfers are all-or-nothing; TransferBatch
// moves every leg or none.
type Ledger interface {
	Symbol() string
	Decimals() int
	TotalSupply(ctx context.Context) (domain.Amount, error)
	BalanceOf(ctx context.Context, account domain.Address) (domain.Amount, error)
	Allowance(ctx context.Context, owner, spender domain.Address) (domain.Amount, error)
	Approve(ctx context.Context, owner, spender domain.Address, amount domain.Amount) error
	Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error
	TransferFrom(ctx context.Context, spender, from, to domain.Address, amount domain.Amount) error
	TransferBatch(ctx context.Context, from domain.Address, payouts []Payout) error
	Mint(ctx context.Context, caller, to domain.Address, amount domain.Amount) error
	Faucet(ctx context.Context, caller domain.Address, amount domain.Amount) error
}

// TransferHook runs after a transfer committed, outside any ledger lock. It
// stands in for a recipient callback and lets tests drive re-entrant calls.
type TransferHook func(ctx context.Context, from, to domain.Address, amount domain.Amount)

type config struct {
	hook TransferHook
}

type Option func(*config)

func WithTransferHook(hook TransferHook) Option {
	return func(c *config) {
		c.hook = hook
	}
}

func validateTransfer(to domain.Address, amount domain.Amount) error {
	if to.IsZero() {
		return dErrors.Wrap(ErrInvalidRecipient, dErrors.CodeValidation, "invalid address")
	}
	if amount < 0 {
		return dErrors.Wrap(ErrNegativeAmount, dErrors.CodeValidation, "transfer amount "+amount.String())
	}
	return nil
}

func validateFaucet(caller domain.Address, amount domain.Amount) error {
	if caller.IsZero() {
		return dErrors.Wrap(ErrInvalidRecipient, dErrors.CodeValidation, "invalid address")
	}
	if amount <= 0 {
		return dErrors.Wrap(ErrNegativeAmount, dErrors.CodeValidation, "faucet amount must be positive")
	}
	if amount > FaucetLimit {
		return dErrors.Wrap(ErrFaucetLimit, dErrors.CodeValidation, "faucet")
	}
	return nil
}

func insufficientBalance(account domain.Address) error {
	return dErrors.Wrap(ErrInsufficientBalance, dErrors.CodeValidation, "transfer from "+account.String())
}

func insufficientAllowance(owner, spender domain.Address) error {
	return dErrors.Wrap(ErrInsufficientAllowance, dErrors.CodeValidation,
		"spender "+spender.String()+" on "+owner.String())
}

func notOwner(caller domain.Address) error {
	return dErrors.Wrap(ErrNotOwner, dErrors.CodeForbidden, "mint by "+caller.String())
}
