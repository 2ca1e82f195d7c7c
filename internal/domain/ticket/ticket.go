package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type Status string

const (
	StatusIssued    Status = "ISSUED"
	StatusValidated Status = "VALIDATED"
	StatusCancelled Status = "CANCELLED"
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusIssued:    {StatusValidated, StatusCancelled},
	StatusValidated: {StatusCancelled},
	StatusCancelled: {}, // terminal state
}

func (t *Ticket) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[t.Status] {
		if s == target {
			return true
		}
	}
	return false
}

type Ticket struct {
	ID            string     `json:"id"`
	ReservationID string     `json:"reservation_id"`
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	EventID       string     `json:"event_id"`
	SessionID     string     `json:"session_id"`
	TierID        string     `json:"tier_id"`
	Quantity      int        `json:"quantity"`
	Status        Status     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	Version       int64      `json:"version"`
}

func (t *Ticket) transition(target Status, at time.Time) error {
	if !t.CanTransitionTo(target) {
		return fmt.Errorf("%w: ticket %s cannot move from %s to %s", sagaerr.ErrInvalidTransition, t.ID, t.Status, target)
	}
	t.Status = target
	switch target {
	case StatusValidated:
		t.ValidatedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	}
	return nil
}

type UpdateFunc func(t *Ticket) ([]events.Event, error)

type Repository interface {
	// Issue stores t unless its reservation already has a ticket, in which
	// case the existing ticket is returned.
	Issue(ctx context.Context, t Ticket, evs ...events.Event) (Ticket, bool, error)
	Get(ctx context.Context, id string) (Ticket, error)
	ByOrder(ctx context.Context, orderID string) ([]Ticket, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Ticket, error)
	MarkOrderCancelled(ctx context.Context, orderID string, at time.Time) error
	IsOrderCancelled(ctx context.Context, orderID string) (bool, error)
}
