package api

import (
	"net/http"
	"strings"

	"github.com/example/ticketing-saga/internal/api/middleware"
	"github.com/example/ticketing-saga/internal/domain/payment"
)

type paymentResponse struct {
	payment.Payment
	Log []payment.LogEntry `json:"log"`
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/payments/")
	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log, err := h.payments.Log(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, paymentResponse{Payment: p, Log: log})
}

// CancelPayment voids a captured payment. Operator only.
func (h *Handlers) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/payments/"), "/cancel")

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "voided by " + middleware.GetUserID(r.Context())
	}

	p, err := h.payments.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
