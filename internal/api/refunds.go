package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/example/ticketing-saga/internal/api/middleware"
	"github.com/example/ticketing-saga/internal/domain/refund"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type decideRefundRequest struct {
	Decision events.DecisionType `json:"decision"`
	Note     string              `json:"note"`
}

// SubmitRefund opens a request for the authenticated user.
func (h *Handlers) SubmitRefund(w http.ResponseWriter, r *http.Request) {
	var in refund.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.UserID = middleware.GetUserID(r.Context())

	req, err := h.refunds.Submit(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, req)
}

func (h *Handlers) GetRefund(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/refunds/")
	req, err := h.refunds.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims, _ := middleware.GetUserFromContext(r.Context())
	if !claims.IsOperator() && middleware.GetUserID(r.Context()) != req.UserID {
		writeError(w, r, fmt.Errorf("refund request %s: %w", id, sagaerr.ErrNotFound))
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// DecideRefund records the operator's decision. decidedBy is the token subject.
func (h *Handlers) DecideRefund(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/refunds/"), "/decision")

	var body decideRefundRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := h.refunds.Decide(r.Context(), id, body.Decision, middleware.GetUserID(r.Context()), body.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}
