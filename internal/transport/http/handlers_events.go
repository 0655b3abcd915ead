package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/httputil"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type eventResponse struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Actor        string    `json:"actor,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Old          string    `json:"old,omitempty"`
	New          string    `json:"new,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

func toEventResponse(e audit.Event) eventResponse {
	resp := eventResponse{
		ID:         e.ID.String(),
		Category:   string(e.Category),
		Timestamp:  e.Timestamp,
		Action:     string(e.Action),
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		Old:        e.Old,
		New:        e.New,
		Reason:     e.Reason,
		RequestID:  e.RequestID,
	}
	if !e.Actor.IsZero() {
		resp.Actor = e.Actor.String()
	}
	if !e.Counterparty.IsZero() {
		resp.Counterparty = e.Counterparty.String()
	}
	if e.Amount != 0 {
		resp.Amount = e.Amount.String()
	}
	return resp
}

type eventsHandler struct {
	events EventReader
	logger *slog.Logger
}

func newEventsHandler(events EventReader, logger *slog.Logger) *eventsHandler {
	return &eventsHandler{events: events, logger: logger}
}

func (h *eventsHandler) Register(r chi.Router) {
	r.Get("/events", h.handleList)
}

// handleList returns the trail of one entity when entity_type and entity_id
// are given, otherwise the most recent events.
func (h *eventsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType, entityID := q.Get("entity_type"), q.Get("entity_id")

	var (
		events []audit.Event
		err    error
	)
	switch {
	case entityType != "" && entityID != "":
		events, err = h.events.ListByEntity(r.Context(), audit.EntityType(entityType), entityID)
	case entityType != "" || entityID != "":
		err = dErrors.New(dErrors.CodeBadRequest, "entity_type and entity_id must be given together")
	default:
		limit := defaultEventLimit
		if raw := q.Get("limit"); raw != "" {
			n, perr := strconv.Atoi(raw)
			if perr != nil || n <= 0 || n > maxEventLimit {
				fail(h.logger, w, r, "list events", dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
				return
			}
			limit = n
		}
		events, err = h.events.ListRecent(r.Context(), limit)
	}
	if err != nil {
		fail(h.logger, w, r, "list events", err)
		return
	}

	resp := eventsResponse{Events: make([]eventResponse, len(events))}
	for i, e := range events {
		resp.Events[i] = toEventResponse(e)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
