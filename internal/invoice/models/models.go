package models

import (
	"strconv"
	"strings"
	"time"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

const (
	CollectionName   = "Receiv3 Invoice NFT"
	CollectionSymbol = "R3INV"
)

// Status is the invoice lifecycle position. The numeric order is the
// lifecycle order.
type Status uint8

const (
	StatusPending Status = iota
	StatusFunded
	StatusDisbursed
	StatusRepaid
	StatusDefaulted
)

var statusNames = [...]string{"Pending", "Funded", "Disbursed", "Repaid", "Defaulted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

func (s Status) Valid() bool { return int(s) < len(statusNames) }

// Settled reports whether the invoice has reached an end state.
func (s Status) Settled() bool {
	return s == StatusRepaid || s == StatusDefaulted
}

// CanAdvanceTo reports whether next is a legal successor: strictly later in
// the lifecycle and not leaving a settled state.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && !s.Settled() && next > s
}

// ParseStatus accepts a status name (any case) or its ordinal.
func ParseStatus(v string) (Status, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n >= 0 && n < len(statusNames) {
			return Status(n), nil
		}
	}
	for i, name := range statusNames {
		if strings.EqualFold(name, v) {
			return Status(i), nil
		}
	}
	return 0, dErrors.New(dErrors.CodeValidation, "unknown invoice status "+v)
}

// Invoice is the registry record for one trade receivable.
type Invoice struct {
	ID               domain.InvoiceID
	Number           string
	Exporter         domain.Address
	Owner            domain.Address
	Amount           domain.Amount
	AdvanceAmount    domain.Amount
	InterestRateBps  domain.BasisPoints
	IssueDate        time.Time
	DueDate          time.Time
	BuyerCountry     string
	DocumentHash     string
	URI              string
	Status           Status
	ShipmentVerified bool
	MintedAt         time.Time
	UpdatedAt        time.Time
	BurnedAt         *time.Time
}

// IsFundable is true for a verified invoice that has not left Pending.
func (i *Invoice) IsFundable() bool {
	return i.BurnedAt == nil && i.ShipmentVerified && i.Status == StatusPending
}

func (i *Invoice) Burned() bool { return i.BurnedAt != nil }

// Clone returns a deep copy.
func (i *Invoice) Clone() *Invoice {
	c := *i
	if i.BurnedAt != nil {
		t := *i.BurnedAt
		c.BurnedAt = &t
	}
	return &c
}

// MintRequest carries the attributes of a new invoice.
type MintRequest struct {
	Exporter        domain.Address
	Number          string
	Amount          domain.Amount
	AdvanceAmount   domain.Amount
	InterestRateBps domain.BasisPoints
	IssueDate       time.Time
	DueDate         time.Time
	BuyerCountry    string
	DocumentHash    string
	URI             string
}

// Normalize trims free-text fields.
func (r *MintRequest) Normalize() {
	r.Number = strings.TrimSpace(r.Number)
	r.BuyerCountry = strings.TrimSpace(r.BuyerCountry)
	r.DocumentHash = strings.TrimSpace(r.DocumentHash)
	r.URI = strings.TrimSpace(r.URI)
}

// Validate checks the invariants of a new invoice.
func (r *MintRequest) Validate() error {
	switch {
	case r.Exporter.IsZero():
		return dErrors.New(dErrors.CodeValidation, "invalid address")
	case r.Number == "":
		return dErrors.New(dErrors.CodeValidation, "invoice number is required")
	case !r.Amount.IsPositive():
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	case !r.AdvanceAmount.IsPositive():
		return dErrors.New(dErrors.CodeValidation, "advance amount must be positive")
	case r.AdvanceAmount > r.Amount:
		return dErrors.New(dErrors.CodeValidation, "advance amount must not exceed invoice amount")
	case r.InterestRateBps > domain.BPSDenominator:
		return dErrors.New(dErrors.CodeValidation, "interest rate must be at most 10000 bps")
	case !r.DueDate.After(r.IssueDate):
		return dErrors.New(dErrors.CodeValidation, "due date must be after issue date")
	}
	return nil
}
