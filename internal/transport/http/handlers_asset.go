package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"receiv3/internal/asset"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/httputil"
	"receiv3/pkg/requestcontext"
)

type assetInfoResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals"`
	TotalSupply string `json:"total_supply"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

// transferRequest is shared by approve, transfer and mint. Account is the
// spender for approve and the recipient otherwise.
type transferRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (r *transferRequest) parse() (domain.Address, domain.Amount, error) {
	account, err := domain.ParseAddress(r.Account)
	if err != nil {
		return domain.ZeroAddress, 0, err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return domain.ZeroAddress, 0, err
	}
	return account, amount, nil
}

type faucetRequest struct {
	Amount string `json:"amount"`
}

type assetHandler struct {
	ledger      asset.Ledger
	faucetLimit func(http.Handler) http.Handler
	logger      *slog.Logger
}

func newAssetHandler(ledger asset.Ledger, faucetLimit func(http.Handler) http.Handler, logger *slog.Logger) *assetHandler {
	return &assetHandler{ledger: ledger, faucetLimit: faucetLimit, logger: logger}
}

func (h *assetHandler) Register(r chi.Router) {
	r.Get("/asset", h.handleInfo)
	r.Get("/asset/balances/{address}", h.handleBalance)
	r.Get("/asset/allowances/{owner}/{spender}", h.handleAllowance)
	r.Post("/asset/approve", h.handleApprove)
	r.Post("/asset/transfer", h.handleTransfer)
	r.Post("/asset/mint", h.handleMint)
	r.With(h.faucetLimit).Post("/asset/faucet", h.handleFaucet)
}

func (h *assetHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	supply, err := h.ledger.TotalSupply(r.Context())
	if err != nil {
		fail(h.logger, w, r, "total supply", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assetInfoResponse{
		Name:        asset.Name,
		Symbol:      h.ledger.Symbol(),
		Decimals:    h.ledger.Decimals(),
		TotalSupply: supply.String(),
	})
}

func (h *assetHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(h.logger, w, r, "address")
	if !ok {
		return
	}
	bal, err := h.ledger.BalanceOf(r.Context(), account)
	if err != nil {
		fail(h.logger, w, r, "balance of", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, amountResponse{Amount: bal.String()})
}

func (h *assetHandler) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(h.logger, w, r, "owner")
	if !ok {
		return
	}
	spender, ok := addressParam(h.logger, w, r, "spender")
	if !ok {
		return
	}
	allowance, err := h.ledger.Allowance(r.Context(), owner, spender)
	if err != nil {
		fail(h.logger, w, r, "allowance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, amountResponse{Amount: allowance.String()})
}

func (h *assetHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "approve", func(caller, spender domain.Address, amount domain.Amount) error {
		return h.ledger.Approve(r.Context(), caller, spender, amount)
	})
}

func (h *assetHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "transfer", func(caller, to domain.Address, amount domain.Amount) error {
		return h.ledger.Transfer(r.Context(), caller, to, amount)
	})
}

func (h *assetHandler) handleMint(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "mint", func(caller, to domain.Address, amount domain.Amount) error {
		return h.ledger.Mint(r.Context(), caller, to, amount)
	})
}

func (h *assetHandler) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		fail(h.logger, w, r, "faucet", err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		fail(h.logger, w, r, "faucet", err)
		return
	}
	if err := h.ledger.Faucet(r.Context(), requestcontext.Caller(r.Context()), amount); err != nil {
		fail(h.logger, w, r, "faucet", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *assetHandler) move(w http.ResponseWriter, r *http.Request, operation string,
	apply func(caller, account domain.Address, amount domain.Amount) error,
) {
	var req transferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		fail(h.logger, w, r, operation, err)
		return
	}
	account, amount, err := req.parse()
	if err != nil {
		fail(h.logger, w, r, operation, err)
		return
	}
	if err := apply(requestcontext.Caller(r.Context()), account, amount); err != nil {
		fail(h.logger, w, r, operation, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func addressParam(logger *slog.Logger, w http.ResponseWriter, r *http.Request, name string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		fail(logger, w, r, "parse "+name, dErrors.Wrap(err, dErrors.CodeBadRequest, name))
		return domain.ZeroAddress, false
	}
	return addr, true
}

func fail(logger *slog.Logger, w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		logger.ErrorContext(ctx, operation+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	} else {
		logger.WarnContext(ctx, operation+" rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
