package api

import (
	"net/http"
	"strings"

	"github.com/example/ticketing-saga/internal/events"
)

type createOrderRequest struct {
	UserID string             `json:"user_id"`
	Lines  []events.OrderLine `json:"lines"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CreateOrder starts a saga. The user comes from the token when one is
// present, otherwise from the body.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID := getUserID(r)
	if userID == "" {
		userID = req.UserID
	}

	o, err := h.orders.Create(r.Context(), userID, req.Lines)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, o)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/cancel")

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	o, err := h.orders.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
