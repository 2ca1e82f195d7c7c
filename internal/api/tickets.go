package api

import (
	"net/http"
	"strings"
)

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/tickets/")
	t, err := h.tickets.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// ListTickets returns the tickets of ?order_id=.
func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	ts, err := h.tickets.ByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ts)
}

// ValidateTicket admits a ticket at the gate.
func (h *Handlers) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/tickets/"), "/validate")
	t, err := h.tickets.Validate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}
