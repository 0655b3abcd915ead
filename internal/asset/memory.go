package asset

import (
	"context"
	"math"
	"sync"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

type allowanceKey struct {
	owner   domain.Address
	spender domain.Address
}

// MemoryLedger keeps balances in process.
type MemoryLedger struct {
	mu         sync.Mutex
	owner      domain.Address
	balances   map[domain.Address]domain.Amount
	allowances map[allowanceKey]domain.Amount
	supply     domain.Amount
	cfg        config
}

// NewMemoryLedger creates a ledger owned by owner holding InitialSupply.
func NewMemoryLedger(owner domain.Address, opts ...Option) *MemoryLedger {
	l := &MemoryLedger{
		owner:      owner,
		balances:   make(map[domain.Address]domain.Amount),
		allowances: make(map[allowanceKey]domain.Amount),
	}
	for _, opt := range opts {
		opt(&l.cfg)
	}
	l.balances[owner] = InitialSupply
	l.supply = InitialSupply
	return l
}

func (l *MemoryLedger) Symbol() string { return Symbol }
func (l *MemoryLedger) Decimals() int  { return Decimals }

func (l *MemoryLedger) TotalSupply(context.Context) (domain.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply, nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, account domain.Address) (domain.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

func (l *MemoryLedger) Allowance(_ context.Context, owner, spender domain.Address) (domain.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{owner, spender}], nil
}

func (l *MemoryLedger) Approve(_ context.Context, owner, spender domain.Address, amount domain.Amount) error {
	if err := validateTransfer(spender, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error {
	if err := validateTransfer(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	if l.balances[from] < amount {
		l.mu.Unlock()
		return insufficientBalance(from)
	}
	l.move(from, to, amount)
	l.mu.Unlock()

	l.notify(ctx, from, to, amount)
	return nil
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, spender, from, to domain.Address, amount domain.Amount) error {
	if err := validateTransfer(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	k := allowanceKey{from, spender}
	if l.allowances[k] < amount {
		l.mu.Unlock()
		return insufficientAllowance(from, spender)
	}
	if l.balances[from] < amount {
		l.mu.Unlock()
		return insufficientBalance(from)
	}
	l.allowances[k] -= amount
	l.move(from, to, amount)
	l.mu.Unlock()

	l.notify(ctx, from, to, amount)
	return nil
}

func (l *MemoryLedger) TransferBatch(ctx context.Context, from domain.Address, payouts []Payout) error {
	var total domain.Amount
	for _, p := range payouts {
		if err := validateTransfer(p.To, p.Amount); err != nil {
			return err
		}
		if total > math.MaxInt64-p.Amount {
			return insufficientBalance(from)
		}
		total += p.Amount
	}
	l.mu.Lock()
	if l.balances[from] < total {
		l.mu.Unlock()
		return insufficientBalance(from)
	}
	for _, p := range payouts {
		l.move(from, p.To, p.Amount)
	}
	l.mu.Unlock()

	for _, p := range payouts {
		l.notify(ctx, from, p.To, p.Amount)
	}
	return nil
}

// Mint creates new supply. Only the ledger owner may mint.
func (l *MemoryLedger) Mint(_ context.Context, caller, to domain.Address, amount domain.Amount) error {
	if caller != l.owner {
		return notOwner(caller)
	}
	if err := validateTransfer(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mint(to, amount)
}

// Faucet lets anyone mint up to FaucetLimit to themselves.
func (l *MemoryLedger) Faucet(_ context.Context, caller domain.Address, amount domain.Amount) error {
	if err := validateFaucet(caller, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mint(caller, amount)
}

func (l *MemoryLedger) mint(to domain.Address, amount domain.Amount) error {
	if l.supply > math.MaxInt64-amount {
		return dErrors.New(dErrors.CodeValidation, "mint would overflow total supply")
	}
	l.supply += amount
	l.balances[to] += amount
	return nil
}

func (l *MemoryLedger) move(from, to domain.Address, amount domain.Amount) {
	l.balances[from] -= amount
	l.balances[to] += amount
}

func (l *MemoryLedger) notify(ctx context.Context, from, to domain.Address, amount domain.Amount) {
	if l.cfg.hook != nil {
		l.cfg.hook(ctx, from, to, amount)
	}
}
