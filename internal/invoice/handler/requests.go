package handler

import (
	"strings"
	"time"

	"receiv3/internal/invoice/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

// MintInvoiceRequest is the body of POST /invoices. Amounts are decimal
// token quantities ("8000.5").
type MintInvoiceRequest struct {
	Exporter        string    `json:"exporter"`
	InvoiceNumber   string    `json:"invoice_number"`
	Amount          string    `json:"amount"`
	AdvanceAmount   string    `json:"advance_amount"`
	InterestRateBps uint32    `json:"interest_rate_bps"`
	IssueDate       time.Time `json:"issue_date"`
	DueDate         time.Time `json:"due_date"`
	BuyerCountry    string    `json:"buyer_country"`
	DocumentHash    string    `json:"document_hash"`
	URI             string    `json:"uri"`
}

// ToModel parses addresses and amounts into a MintRequest.
func (r *MintInvoiceRequest) ToModel() (models.MintRequest, error) {
	exporter, err := domain.ParseAddress(r.Exporter)
	if err != nil {
		return models.MintRequest{}, err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return models.MintRequest{}, err
	}
	advance, err := domain.ParseAmount(r.AdvanceAmount)
	if err != nil {
		return models.MintRequest{}, err
	}
	return models.MintRequest{
		Exporter:        exporter,
		Number:          r.InvoiceNumber,
		Amount:          amount,
		AdvanceAmount:   advance,
		InterestRateBps: domain.BasisPoints(r.InterestRateBps),
		IssueDate:       r.IssueDate,
		DueDate:         r.DueDate,
		BuyerCountry:    r.BuyerCountry,
		DocumentHash:    r.DocumentHash,
		URI:             r.URI,
	}, nil
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type BurnInvoiceRequest struct {
	Reason string `json:"reason"`
}

func (r *BurnInvoiceRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "burn reason is required")
	}
	return nil
}

type TransferInvoiceRequest struct {
	To string `json:"to"`
}
