package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

type ledgerResponse struct {
	Entry  ledger.Entry  `json:"entry"`
	Report ledger.Report `json:"report"`
}

type initializeRequest struct {
	Quantity int `json:"quantity"`
}

type adjustRequest struct {
	Delta       int    `json:"delta"`
	CausationID string `json:"causation_id"`
}

// ledgerPath splits /ledger/{eventId}/{sessionId}/{tierId}[/action].
func ledgerPath(path string) (ledger.Key, string, error) {
	parts := strings.Split(extractPathParam(path, "/ledger/"), "/")
	if len(parts) < 3 || len(parts) > 4 {
		return ledger.Key{}, "", fmt.Errorf("%w: expected /ledger/{eventId}/{sessionId}/{tierId}", sagaerr.ErrValidation)
	}
	key := ledger.Key{EventID: parts[0], SessionID: parts[1], TierID: parts[2]}
	if len(parts) == 4 {
		return key, parts[3], nil
	}
	return key, "", nil
}

// GetLedger returns the entry together with a reconciliation report.
func (h *Handlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	key, _, err := ledgerPath(r.URL.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.ledger.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.ledger.Reconcile(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ledgerResponse{Entry: entry, Report: report})
}

func (h *Handlers) InitializeLedger(w http.ResponseWriter, r *http.Request) {
	key, _, err := ledgerPath(r.URL.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.ledger.Initialize(r.Context(), key, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result == ledger.AlreadyExists {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{"key": key, "result": result})
}

// AdjustLedger applies a manual correction. Without a causation id every
// call is a new adjustment.
func (h *Handlers) AdjustLedger(w http.ResponseWriter, r *http.Request) {
	key, _, err := ledgerPath(r.URL.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CausationID == "" {
		req.CausationID = uuid.NewString()
	}

	if err := h.ledger.Adjust(r.Context(), key, req.Delta, req.CausationID); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.ledger.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// ListReservations returns the holds of ?order_id=.
func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	rs, err := h.reservations.ByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rs)
}
