package models

import (
	"strconv"
	"strings"
	"time"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

// Status is the pool lifecycle position. Every transition moves exactly one
// step forward.
type Status uint8

const (
	StatusOpen Status = iota
	StatusFilled
	StatusDisbursed
	StatusClosed
)

var statusNames = [...]string{"Open", "Filled", "Disbursed", "Closed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// ParseStatus accepts a status name in any case.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, strings.TrimSpace(v)) {
			return Status(i), nil
		}
	}
	return 0, dErrors.New(dErrors.CodeValidation, "unknown pool status "+v)
}

// Pool is the escrow and investment ledger for one invoice. Its id equals the
// invoice id.
type Pool struct {
	ID              domain.PoolID
	Exporter        domain.Address
	TargetAmount    domain.Amount
	FundedAmount    domain.Amount
	InterestRateBps domain.BasisPoints
	InvestorCount   int
	Status          Status
	CreatedAt       time.Time
	FilledAt        time.Time
	DisbursedAt     time.Time
	ClosedAt        time.Time

	// Version counts committed writes. Stores reject a write whose Version
	// no longer matches the stored row and bump it on success.
	Version uint64
}

// RemainingCapacity is the amount still accepted, zero unless Open.
func (p *Pool) RemainingCapacity() domain.Amount {
	if p.Status != StatusOpen {
		return 0
	}
	return p.TargetAmount - p.FundedAmount
}

func (p *Pool) Clone() *Pool {
	c := *p
	return &c
}

// Investment is one entry in a pool's append-only log. An investor may have
// several.
type Investment struct {
	Seq            uint64
	PoolID         domain.PoolID
	Investor       domain.Address
	Amount         domain.Amount
	ExpectedReturn domain.Amount
	InvestedAt     time.Time
}

// InvestorReturn is the payout for one investment record.
type InvestorReturn struct {
	Investor domain.Address `json:"investor"`
	Invested domain.Amount  `json:"invested"`
	Payout   domain.Amount  `json:"payout"`
}

// Repayment records how a repayment was split when the pool closed.
type Repayment struct {
	PoolID      domain.PoolID
	Payer       domain.Address
	Total       domain.Amount
	FeeBps      domain.BasisPoints
	Fee         domain.Amount
	Net         domain.Amount
	Distributed domain.Amount
	Residual    domain.Amount
	FeeWallet   domain.Address
	ProcessedAt time.Time
	Returns     []InvestorReturn
}

// Settings are the engine-wide administrative values.
type Settings struct {
	PlatformFeeBps domain.BasisPoints
	PlatformWallet domain.Address
	Paused         bool
}

// MaxPlatformFeeBps is the 10% ceiling on the platform fee.
const MaxPlatformFeeBps domain.BasisPoints = 1000
