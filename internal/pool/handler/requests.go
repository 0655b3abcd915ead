package handler

import (
	"strings"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

type CreatePoolRequest struct {
	InvoiceID uint64 `json:"invoice_id"`
}

func (r *CreatePoolRequest) Validate() error {
	if r.InvoiceID == 0 {
		return dErrors.New(dErrors.CodeValidation, "invoice_id is required")
	}
	return nil
}

// AmountRequest is the body of invest and repay. Amount is a decimal token
// quantity.
type AmountRequest struct {
	Amount string `json:"amount"`
}

func (r *AmountRequest) Parse() (domain.Amount, error) {
	return domain.ParseAmount(r.Amount)
}

type SetFeeRequest struct {
	FeeBps *uint32 `json:"fee_bps"`
}

func (r *SetFeeRequest) Validate() error {
	if r.FeeBps == nil {
		return dErrors.New(dErrors.CodeValidation, "fee_bps is required")
	}
	return nil
}

type SetWalletRequest struct {
	Wallet string `json:"wallet"`
}

type EmergencyWithdrawRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Parse returns the upper-cased asset symbol and the amount.
func (r *EmergencyWithdrawRequest) Parse() (string, domain.Amount, error) {
	symbol := strings.ToUpper(strings.TrimSpace(r.Asset))
	if symbol == "" {
		return "", 0, dErrors.New(dErrors.CodeValidation, "asset is required")
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return "", 0, err
	}
	return symbol, amount, nil
}
