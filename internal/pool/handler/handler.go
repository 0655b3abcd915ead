package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/httputil"
	"receiv3/pkg/requestcontext"
)

// Service is the funding pool engine surface exposed over HTTP.
type Service interface {
	CreatePool(ctx context.Context, caller domain.Address, invoiceID domain.InvoiceID) (*models.Pool, error)
	Invest(ctx context.Context, investor domain.Address, id domain.PoolID, amount domain.Amount) (*models.Investment, error)
	Disburse(ctx context.Context, caller domain.Address, id domain.PoolID) (*models.Pool, error)
	ProcessRepayment(ctx context.Context, caller domain.Address, id domain.PoolID, total domain.Amount) (*models.Repayment, error)
	SetPlatformFee(ctx context.Context, caller domain.Address, bps domain.BasisPoints) error
	SetPlatformWallet(ctx context.Context, caller domain.Address, wallet domain.Address) error
	Pause(ctx context.Context, caller domain.Address) error
	Unpause(ctx context.Context, caller domain.Address) error
	EmergencyWithdraw(ctx context.Context, caller domain.Address, symbol string, amount domain.Amount) error

	GetPool(ctx context.Context, id domain.PoolID) (*models.Pool, error)
	GetPoolInvestments(ctx context.Context, id domain.PoolID) ([]models.Investment, error)
	GetInvestorPools(ctx context.Context, investor domain.Address) ([]domain.PoolID, error)
	GetInvestorContribution(ctx context.Context, id domain.PoolID, investor domain.Address) (domain.Amount, error)
	GetRemainingCapacity(ctx context.Context, id domain.PoolID) (domain.Amount, error)
	GetRepayment(ctx context.Context, id domain.PoolID) (*models.Repayment, error)
	CustodyBalance(ctx context.Context) (domain.Amount, error)
	Address() domain.Address
	Settings(ctx context.Context) (models.Settings, error)
}

// Handler serves the funding pool endpoints.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the engine routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/pools", h.handleCreate)
	r.Get("/pools/{id}", h.handleGet)
	r.Post("/pools/{id}/invest", h.handleInvest)
	r.Post("/pools/{id}/disburse", h.handleDisburse)
	r.Post("/pools/{id}/repay", h.handleRepay)
	r.Get("/pools/{id}/investments", h.handleInvestments)
	r.Get("/pools/{id}/capacity", h.handleCapacity)
	r.Get("/pools/{id}/repayment", h.handleRepayment)
	r.Get("/pools/{id}/investors/{address}", h.handleContribution)
	r.Get("/investors/{address}/pools", h.handleInvestorPools)

	r.Get("/platform", h.handlePlatform)
	r.Post("/platform/fee", h.handleSetFee)
	r.Post("/platform/wallet", h.handleSetWallet)
	r.Post("/platform/pause", h.handlePause)
	r.Post("/platform/unpause", h.handleUnpause)
	r.Post("/platform/emergency-withdraw", h.handleEmergencyWithdraw)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create pool", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, "create pool", err)
		return
	}
	p, err := h.svc.CreatePool(r.Context(), requestcontext.Caller(r.Context()), domain.InvoiceID(req.InvoiceID))
	if err != nil {
		h.fail(w, r, "create pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPoolResponse(p))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPool(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPoolResponse(p))
}

func (h *Handler) handleInvest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invest", err)
		return
	}
	amount, err := req.Parse()
	if err != nil {
		h.fail(w, r, "invest", err)
		return
	}
	inv, err := h.svc.Invest(r.Context(), requestcontext.Caller(r.Context()), id, amount)
	if err != nil {
		h.fail(w, r, "invest", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toInvestmentResponse(inv))
}

func (h *Handler) handleDisburse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Disburse(r.Context(), requestcontext.Caller(r.Context()), id)
	if err != nil {
		h.fail(w, r, "disburse", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPoolResponse(p))
}

func (h *Handler) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "process repayment", err)
		return
	}
	total, err := req.Parse()
	if err != nil {
		h.fail(w, r, "process repayment", err)
		return
	}
	rep, err := h.svc.ProcessRepayment(r.Context(), requestcontext.Caller(r.Context()), id, total)
	if err != nil {
		h.fail(w, r, "process repayment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRepaymentResponse(rep))
}

func (h *Handler) handleInvestments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	log, err := h.svc.GetPoolInvestments(r.Context(), id)
	if err != nil {
		h.fail(w, r, "pool investments", err)
		return
	}
	resp := InvestmentsResponse{Investments: make([]InvestmentResponse, len(log))}
	for i := range log {
		resp.Investments[i] = toInvestmentResponse(&log[i])
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	remaining, err := h.svc.GetRemainingCapacity(r.Context(), id)
	if err != nil {
		h.fail(w, r, "remaining capacity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: remaining.String()})
}

func (h *Handler) handleRepayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.GetRepayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get repayment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRepaymentResponse(rep))
}

func (h *Handler) handleContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poolID(w, r)
	if !ok {
		return
	}
	investor, ok := h.address(w, r, "investor contribution")
	if !ok {
		return
	}
	total, err := h.svc.GetInvestorContribution(r.Context(), id, investor)
	if err != nil {
		h.fail(w, r, "investor contribution", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: total.String()})
}

func (h *Handler) handleInvestorPools(w http.ResponseWriter, r *http.Request) {
	investor, ok := h.address(w, r, "investor pools")
	if !ok {
		return
	}
	ids, err := h.svc.GetInvestorPools(r.Context(), investor)
	if err != nil {
		h.fail(w, r, "investor pools", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPoolIDs(ids))
}

func (h *Handler) handlePlatform(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		h.fail(w, r, "platform", err)
		return
	}
	custody, err := h.svc.CustodyBalance(r.Context())
	if err != nil {
		h.fail(w, r, "platform", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PlatformResponse{
		Address:        h.svc.Address().String(),
		PlatformFeeBps: uint32(settings.PlatformFeeBps),
		PlatformWallet: settings.PlatformWallet.String(),
		Paused:         settings.Paused,
		CustodyBalance: custody.String(),
	})
}

func (h *Handler) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req SetFeeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "set platform fee", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, "set platform fee", err)
		return
	}
	if err := h.svc.SetPlatformFee(r.Context(), requestcontext.Caller(r.Context()), domain.BasisPoints(*req.FeeBps)); err != nil {
		h.fail(w, r, "set platform fee", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetWallet(w http.ResponseWriter, r *http.Request) {
	var req SetWalletRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "set platform wallet", err)
		return
	}
	wallet, err := domain.ParseAddress(req.Wallet)
	if err != nil {
		h.fail(w, r, "set platform wallet", err)
		return
	}
	if err := h.svc.SetPlatformWallet(r.Context(), requestcontext.Caller(r.Context()), wallet); err != nil {
		h.fail(w, r, "set platform wallet", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Pause(r.Context(), requestcontext.Caller(r.Context())); err != nil {
		h.fail(w, r, "pause", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unpause(r.Context(), requestcontext.Caller(r.Context())); err != nil {
		h.fail(w, r, "unpause", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req EmergencyWithdrawRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "emergency withdraw", err)
		return
	}
	symbol, amount, err := req.Parse()
	if err != nil {
		h.fail(w, r, "emergency withdraw", err)
		return
	}
	if err := h.svc.EmergencyWithdraw(r.Context(), requestcontext.Caller(r.Context()), symbol, amount); err != nil {
		h.fail(w, r, "emergency withdraw", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) poolID(w http.ResponseWriter, r *http.Request) (domain.PoolID, bool) {
	id, err := domain.ParsePoolID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "parse pool id", err)
		return 0, false
	}
	return id, true
}

func (h *Handler) address(w http.ResponseWriter, r *http.Request, operation string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, operation, dErrors.Wrap(err, dErrors.CodeBadRequest, "address"))
		return domain.ZeroAddress, false
	}
	return addr, true
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
