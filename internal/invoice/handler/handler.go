package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"receiv3/internal/invoice/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/httputil"
	"receiv3/pkg/requestcontext"
)

// Service is the registry surface exposed over HTTP.
type Service interface {
	Name() string
	Symbol() string
	MintInvoice(ctx context.Context, caller domain.Address, req models.MintRequest) (*models.Invoice, error)
	VerifyShipment(ctx context.Context, caller domain.Address, id domain.InvoiceID) error
	IsFundable(ctx context.Context, id domain.InvoiceID) (bool, error)
	UpdateStatus(ctx context.Context, caller domain.Address, id domain.InvoiceID, next models.Status) error
	BurnInvoice(ctx context.Context, caller domain.Address, id domain.InvoiceID, reason string) error
	TransferInvoice(ctx context.Context, caller domain.Address, id domain.InvoiceID, to domain.Address) error
	GetInvoice(ctx context.Context, id domain.InvoiceID) (*models.Invoice, error)
	GetExporterInvoices(ctx context.Context, exporter domain.Address) ([]domain.InvoiceID, error)
	GetTokenIDByInvoiceNumber(ctx context.Context, number string) (domain.InvoiceID, error)
	OwnerOf(ctx context.Context, id domain.InvoiceID) (domain.Address, error)
	TotalMinted(ctx context.Context) (uint64, error)
}

// Handler serves the invoice registry endpoints.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the registry routes on r. Callers are expected to run the
// auth middleware in front of mutating routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/invoices", h.handleCollection)
	r.Post("/invoices", h.handleMint)
	r.Get("/invoices/by-number/{number}", h.handleByNumber)
	r.Get("/invoices/{id}", h.handleGet)
	r.Get("/invoices/{id}/owner", h.handleOwner)
	r.Get("/invoices/{id}/fundable", h.handleFundable)
	r.Post("/invoices/{id}/verify", h.handleVerify)
	r.Post("/invoices/{id}/status", h.handleUpdateStatus)
	r.Post("/invoices/{id}/burn", h.handleBurn)
	r.Post("/invoices/{id}/transfer", h.handleTransfer)
	r.Get("/exporters/{address}/invoices", h.handleExporterInvoices)
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	total, err := h.svc.TotalMinted(r.Context())
	if err != nil {
		h.fail(w, r, "total minted", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CollectionResponse{
		Name:        h.svc.Name(),
		Symbol:      h.svc.Symbol(),
		TotalMinted: total,
	})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "mint invoice", err)
		return
	}
	mintReq, err := req.ToModel()
	if err != nil {
		h.fail(w, r, "mint invoice", err)
		return
	}
	inv, err := h.svc.MintInvoice(r.Context(), requestcontext.Caller(r.Context()), mintReq)
	if err != nil {
		h.fail(w, r, "mint invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) handleByNumber(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.GetTokenIDByInvoiceNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, "invoice by number", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]uint64{"id": uint64(id)})
}

func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	owner, err := h.svc.OwnerOf(r.Context(), id)
	if err != nil {
		h.fail(w, r, "owner of", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"owner": owner.String()})
}

func (h *Handler) handleFundable(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	fundable, err := h.svc.IsFundable(r.Context(), id)
	if err != nil {
		h.fail(w, r, "is fundable", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"fundable": fundable})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if err := h.svc.VerifyShipment(r.Context(), requestcontext.Caller(r.Context()), id); err != nil {
		h.fail(w, r, "verify shipment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "update status", err)
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		h.fail(w, r, "update status", err)
		return
	}
	if err := h.svc.UpdateStatus(r.Context(), requestcontext.Caller(r.Context()), id, status); err != nil {
		h.fail(w, r, "update status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBurn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req BurnInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "burn invoice", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, "burn invoice", err)
		return
	}
	if err := h.svc.BurnInvoice(r.Context(), requestcontext.Caller(r.Context()), id, req.Reason); err != nil {
		h.fail(w, r, "burn invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req TransferInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "transfer invoice", err)
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		h.fail(w, r, "transfer invoice", err)
		return
	}
	if err := h.svc.TransferInvoice(r.Context(), requestcontext.Caller(r.Context()), id, to); err != nil {
		h.fail(w, r, "transfer invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExporterInvoices(w http.ResponseWriter, r *http.Request) {
	exporter, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, "exporter invoices", dErrors.Wrap(err, dErrors.CodeBadRequest, "exporter address"))
		return
	}
	ids, err := h.svc.GetExporterInvoices(r.Context(), exporter)
	if err != nil {
		h.fail(w, r, "exporter invoices", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIDs(ids))
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (domain.InvoiceID, bool) {
	id, err := domain.ParseInvoiceID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "parse invoice id", err)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, operation+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, operation+" rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
