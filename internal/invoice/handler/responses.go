package handler

import (
	"time"

	"receiv3/internal/invoice/models"
	"receiv3/pkg/domain"
)

type InvoiceResponse struct {
	ID               uint64     `json:"id"`
	InvoiceNumber    string     `json:"invoice_number"`
	Exporter         string     `json:"exporter"`
	Owner            string     `json:"owner"`
	Amount           string     `json:"amount"`
	AdvanceAmount    string     `json:"advance_amount"`
	InterestRateBps  uint32     `json:"interest_rate_bps"`
	IssueDate        time.Time  `json:"issue_date"`
	DueDate          time.Time  `json:"due_date"`
	BuyerCountry     string     `json:"buyer_country"`
	DocumentHash     string     `json:"document_hash"`
	URI              string     `json:"uri"`
	Status           string     `json:"status"`
	ShipmentVerified bool       `json:"shipment_verified"`
	MintedAt         time.Time  `json:"minted_at"`
	BurnedAt         *time.Time `json:"burned_at,omitempty"`
}

func toInvoiceResponse(inv *models.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:               uint64(inv.ID),
		InvoiceNumber:    inv.Number,
		Exporter:         inv.Exporter.String(),
		Owner:            inv.Owner.String(),
		Amount:           inv.Amount.String(),
		AdvanceAmount:    inv.AdvanceAmount.String(),
		InterestRateBps:  uint32(inv.InterestRateBps),
		IssueDate:        inv.IssueDate,
		DueDate:          inv.DueDate,
		BuyerCountry:     inv.BuyerCountry,
		DocumentHash:     inv.DocumentHash,
		URI:              inv.URI,
		Status:           inv.Status.String(),
		ShipmentVerified: inv.ShipmentVerified,
		MintedAt:         inv.MintedAt,
		BurnedAt:         inv.BurnedAt,
	}
}

type InvoiceIDsResponse struct {
	InvoiceIDs []uint64 `json:"invoice_ids"`
}

func toIDs(ids []domain.InvoiceID) InvoiceIDsResponse {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return InvoiceIDsResponse{InvoiceIDs: out}
}

type CollectionResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalMinted uint64 `json:"total_minted"`
}
