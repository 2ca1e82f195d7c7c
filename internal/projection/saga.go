package projection

import (
	"context"
	"slices"
	"time"
)

type Step string

const (
	StepAwaitingPayment     Step = "AwaitingPayment"
	StepAwaitingReservation Step = "AwaitingReservation"
	StepAwaitingIssuance    Step = "AwaitingIssuance"
	StepCompleted           Step = "Completed"
	StepCompensating        Step = "Compensating"
	StepCompensated         Step = "Compensated"
)

// Finished reports whether no further events are expected.
func (s Step) Finished() bool {
	return s == StepCompleted || s == StepCompensated
}

// SagaState is what the projector knows about one order's saga. Every field
// is a fact from some event, so events may arrive in any order and more
// than once; Step is derived from the facts.
type SagaState struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Lines     int    `json:"lines"`
	Step      Step   `json:"step"`

	Created           bool `json:"created"`
	Captured          bool `json:"captured"`
	PaymentFailed     bool `json:"payment_failed"`
	Paid              bool `json:"paid"`
	ReservationFailed bool `json:"reservation_failed"`
	RefundApproved    bool `json:"refund_approved"`
	Cancelled         bool `json:"cancelled"`
	Refunded          bool `json:"refunded"`
	RefundFailed      bool `json:"refund_failed"`

	Reservations         []string `json:"reservations"`
	ReleasedReservations []string `json:"released_reservations"`
	Tickets              []string `json:"tickets"`
	CancelledTickets     []string `json:"cancelled_tickets"`

	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func (s *SagaState) compensating() bool {
	return s.ReservationFailed || s.RefundApproved || s.Cancelled
}

// recompute derives Step from the recorded facts.
func (s *SagaState) recompute() {
	switch {
	case s.compensating():
		if s.compensated() {
			s.Step = StepCompensated
		} else {
			s.Step = StepCompensating
		}
	case s.PaymentFailed:
		s.Step = StepCompensated
	case !s.Paid:
		s.Step = StepAwaitingPayment
	case s.Lines == 0 || len(s.Reservations) < s.Lines:
		s.Step = StepAwaitingReservation
	case len(s.Tickets) < len(s.Reservations):
		s.Step = StepAwaitingIssuance
	default:
		s.Step = StepCompleted
	}
}

// compensated holds once money is back and nothing is still held.
// A refund that failed keeps the saga compensating for an operator.
func (s *SagaState) compensated() bool {
	paymentSettled := !s.Captured || s.Refunded
	return paymentSettled &&
		containsAll(s.ReleasedReservations, s.Reservations) &&
		containsAll(s.CancelledTickets, s.Tickets)
}

func containsAll(set, subset []string) bool {
	for _, id := range subset {
		if !slices.Contains(set, id) {
			return false
		}
	}
	return true
}

func addID(ids []string, id string) []string {
	if id == "" || slices.Contains(ids, id) {
		return ids
	}
	ids = append(ids, id)
	slices.Sort(ids)
	return ids
}

type Repository interface {
	// Update applies fn to the state of orderID, starting from an empty
	// state when none exists, and stores the result.
	Update(ctx context.Context, orderID string, fn func(s *SagaState)) (SagaState, error)
	Get(ctx context.Context, orderID string) (SagaState, error)
	// FindStuck lists unfinished sagas whose last update is before cutoff.
	FindStuck(ctx context.Context, cutoff time.Time) ([]SagaState, error)
}
