// Package api exposes the HTTP triggers and read endpoints of the saga
// participants. Each binary builds a Handlers with the components it owns;
// routes for missing components are not registered.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ticketing-saga/internal/api/middleware"
	"github.com/example/ticketing-saga/internal/auth"
	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/domain/order"
	"github.com/example/ticketing-saga/internal/domain/payment"
	"github.com/example/ticketing-saga/internal/domain/refund"
	"github.com/example/ticketing-saga/internal/domain/reservation"
	"github.com/example/ticketing-saga/internal/domain/ticket"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/projection"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type Dependencies struct {
	Orders       *order.Service
	Payments     *payment.Processor
	Ledger       *ledger.Ledger
	Reservations *reservation.Manager
	Tickets      *ticket.Issuer
	Refunds      *refund.Arbiter
	Sagas        *projection.Projector
	// JWT is required by the refund and operator endpoints.
	JWT *auth.JWTService
	// StuckAfter is the default age for GET /sagas/stuck.
	StuckAfter time.Duration
}

type Handlers struct {
	orders       *order.Service
	payments     *payment.Processor
	ledger       *ledger.Ledger
	reservations *reservation.Manager
	tickets      *ticket.Issuer
	refunds      *refund.Arbiter
	sagas        *projection.Projector
	jwt          *auth.JWTService
	stuckAfter   time.Duration
}

func NewHandlers(deps Dependencies) *Handlers {
	if deps.StuckAfter <= 0 {
		deps.StuckAfter = 10 * time.Minute
	}
	return &Handlers{
		orders:       deps.Orders,
		payments:     deps.Payments,
		ledger:       deps.Ledger,
		reservations: deps.Reservations,
		tickets:      deps.Tickets,
		refunds:      deps.Refunds,
		sagas:        deps.Sagas,
		jwt:          deps.JWT,
		stuckAfter:   deps.StuckAfter,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the shared error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sagaerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, sagaerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sagaerr.ErrInvalidTransition),
		errors.Is(err, sagaerr.ErrInvalidRefund),
		errors.Is(err, sagaerr.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, sagaerr.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sagaerr.ErrTransientConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, sagaerr.ErrExternalProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("[API] Request failed")
		if status == http.StatusInternalServerError {
			respondError(w, status, "internal error")
			return
		}
	}
	respondError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", sagaerr.ErrValidation, err)
	}
	return nil
}

func extractPathParam(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

// getUserID prefers the authenticated user and falls back to the X-User-ID
// header used by internal callers.
func getUserID(r *http.Request) string {
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		return userID
	}
	return r.Header.Get("X-User-ID")
}
