package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"receiv3/internal/access"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/httputil"
	"receiv3/pkg/requestcontext"
)

type roleRequest struct {
	Account string `json:"account"`
}

type membersResponse struct {
	Component string   `json:"component"`
	Role      string   `json:"role"`
	Members   []string `json:"members"`
}

type rolesHandler struct {
	controllers map[access.Component]*access.Controller
	logger      *slog.Logger
}

func newRolesHandler(controllers map[access.Component]*access.Controller, logger *slog.Logger) *rolesHandler {
	return &rolesHandler{controllers: controllers, logger: logger}
}

func (h *rolesHandler) Register(r chi.Router) {
	r.Get("/roles/{component}/{role}", h.handleMembers)
	r.Get("/roles/{component}/{role}/{address}", h.handleHasRole)
	r.Post("/roles/{component}/{role}/grant", h.handleGrant)
	r.Post("/roles/{component}/{role}/revoke", h.handleRevoke)
	r.Post("/roles/{component}/{role}/renounce", h.handleRenounce)
}

func (h *rolesHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	c, role, ok := h.target(w, r)
	if !ok {
		return
	}
	members, err := c.Members(r.Context(), role)
	if err != nil {
		fail(h.logger, w, r, "list role members", err)
		return
	}
	resp := membersResponse{Component: string(c.Component()), Role: string(role), Members: make([]string, len(members))}
	for i, m := range members {
		resp.Members[i] = m.String()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *rolesHandler) handleHasRole(w http.ResponseWriter, r *http.Request) {
	c, role, ok := h.target(w, r)
	if !ok {
		return
	}
	account, ok := addressParam(h.logger, w, r, "address")
	if !ok {
		return
	}
	has, err := c.HasRole(r.Context(), role, account)
	if err != nil {
		fail(h.logger, w, r, "has role", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"has_role": has})
}

func (h *rolesHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "grant role", func(c *access.Controller, role access.Role, caller, account domain.Address) error {
		return c.Grant(r.Context(), caller, role, account)
	})
}

func (h *rolesHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "revoke role", func(c *access.Controller, role access.Role, caller, account domain.Address) error {
		return c.Revoke(r.Context(), caller, role, account)
	})
}

func (h *rolesHandler) handleRenounce(w http.ResponseWriter, r *http.Request) {
	c, role, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := c.Renounce(r.Context(), requestcontext.Caller(r.Context()), role); err != nil {
		fail(h.logger, w, r, "renounce role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *rolesHandler) mutate(w http.ResponseWriter, r *http.Request, operation string,
	apply func(c *access.Controller, role access.Role, caller, account domain.Address) error,
) {
	c, role, ok := h.target(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		fail(h.logger, w, r, operation, err)
		return
	}
	account, err := domain.ParseAddress(req.Account)
	if err != nil {
		fail(h.logger, w, r, operation, err)
		return
	}
	if err := apply(c, role, requestcontext.Caller(r.Context()), account); err != nil {
		fail(h.logger, w, r, operation, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *rolesHandler) target(w http.ResponseWriter, r *http.Request) (*access.Controller, access.Role, bool) {
	c, ok := h.controllers[access.Component(chi.URLParam(r, "component"))]
	if !ok || c == nil {
		fail(h.logger, w, r, "resolve component", dErrors.New(dErrors.CodeNotFound, "unknown component "+chi.URLParam(r, "component")))
		return nil, "", false
	}
	role, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		fail(h.logger, w, r, "resolve role", dErrors.Wrap(err, dErrors.CodeBadRequest, "role"))
		return nil, "", false
	}
	return c, role, true
}
