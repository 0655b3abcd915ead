package handler

import (
	"time"

	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
)

type PoolResponse struct {
	ID              uint64     `json:"id"`
	InvoiceID       uint64     `json:"invoice_id"`
	Exporter        string     `json:"exporter"`
	TargetAmount    string     `json:"target_amount"`
	FundedAmount    string     `json:"funded_amount"`
	Remaining       string     `json:"remaining_capacity"`
	InterestRateBps uint32     `json:"interest_rate_bps"`
	InvestorCount   int        `json:"investor_count"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

func toPoolResponse(p *models.Pool) PoolResponse {
	return PoolResponse{
		ID:              uint64(p.ID),
		InvoiceID:       uint64(p.ID.Invoice()),
		Exporter:        p.Exporter.String(),
		TargetAmount:    p.TargetAmount.String(),
		FundedAmount:    p.FundedAmount.String(),
		Remaining:       p.RemainingCapacity().String(),
		InterestRateBps: uint32(p.InterestRateBps),
		InvestorCount:   p.InvestorCount,
		Status:          p.Status.String(),
		CreatedAt:       p.CreatedAt,
		FilledAt:        optionalTime(p.FilledAt),
		DisbursedAt:     optionalTime(p.DisbursedAt),
		ClosedAt:        optionalTime(p.ClosedAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type InvestmentResponse struct {
	Seq            uint64    `json:"seq"`
	PoolID         uint64    `json:"pool_id"`
	Investor       string    `json:"investor"`
	Amount         string    `json:"amount"`
	ExpectedReturn string    `json:"expected_return"`
	InvestedAt     time.Time `json:"invested_at"`
}

func toInvestmentResponse(inv *models.Investment) InvestmentResponse {
	return InvestmentResponse{
		Seq:            inv.Seq,
		PoolID:         uint64(inv.PoolID),
		Investor:       inv.Investor.String(),
		Amount:         inv.Amount.String(),
		ExpectedReturn: inv.ExpectedReturn.String(),
		InvestedAt:     inv.InvestedAt,
	}
}

type InvestmentsResponse struct {
	Investments []InvestmentResponse `json:"investments"`
}

type InvestorReturnResponse struct {
	Investor string `json:"investor"`
	Invested string `json:"invested"`
	Payout   string `json:"payout"`
}

type RepaymentResponse struct {
	PoolID      uint64                   `json:"pool_id"`
	Payer       string                   `json:"payer"`
	Total       string                   `json:"total"`
	FeeBps      uint32                   `json:"fee_bps"`
	Fee         string                   `json:"fee"`
	Net         string                   `json:"net"`
	Distributed string                   `json:"distributed"`
	Residual    string                   `json:"residual"`
	FeeWallet   string                   `json:"fee_wallet"`
	ProcessedAt time.Time                `json:"processed_at"`
	Returns     []InvestorReturnResponse `json:"returns"`
}

func toRepaymentResponse(rep *models.Repayment) RepaymentResponse {
	returns := make([]InvestorReturnResponse, len(rep.Returns))
	for i, r := range rep.Returns {
		returns[i] = InvestorReturnResponse{
			Investor: r.Investor.String(),
			Invested: r.Invested.String(),
			Payout:   r.Payout.String(),
		}
	}
	return RepaymentResponse{
		PoolID:      uint64(rep.PoolID),
		Payer:       rep.Payer.String(),
		Total:       rep.Total.String(),
		FeeBps:      uint32(rep.FeeBps),
		Fee:         rep.Fee.String(),
		Net:         rep.Net.String(),
		Distributed: rep.Distributed.String(),
		Residual:    rep.Residual.String(),
		FeeWallet:   rep.FeeWallet.String(),
		ProcessedAt: rep.ProcessedAt,
		Returns:     returns,
	}
}

type PoolIDsResponse struct {
	PoolIDs []uint64 `json:"pool_ids"`
}

func toPoolIDs(ids []domain.PoolID) PoolIDsResponse {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return PoolIDsResponse{PoolIDs: out}
}

type AmountResponse struct {
	Amount string `json:"amount"`
}

type PlatformResponse struct {
	Address        string `json:"address"`
	PlatformFeeBps uint32 `json:"platform_fee_bps"`
	PlatformWallet string `json:"platform_wallet"`
	Paused         bool   `json:"paused"`
	CustodyBalance string `json:"custody_balance"`
}
