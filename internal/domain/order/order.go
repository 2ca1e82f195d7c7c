package order

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaid           Status = "PAID"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusCancelled      Status = "CANCELLED"
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusCreated:        {StatusPaymentPending, StatusPaid, StatusPaymentFailed, StatusCancelled},
	StatusPaymentPending: {StatusPaid, StatusPaymentFailed, StatusCancelled},
	StatusPaid:           {StatusCancelled},
	StatusPaymentFailed:  {}, // terminal state
	StatusCancelled:      {}, // terminal state
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

type Order struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Lines     []events.OrderLine `json:"lines"`
	Total     int64              `json:"total"`
	Status    Status             `json:"status"`
	PaymentID string             `json:"payment_id,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Version   int64              `json:"version"`
}

// transition moves o to target. It reports false without error when o is
// already there, so redelivered events are no-ops.
func (o *Order) transition(target Status, at time.Time) (bool, error) {
	if o.Status == target {
		return false, nil
	}
	if !o.CanTransitionTo(target) {
		return false, fmt.Errorf("%w: order %s cannot move from %s to %s", sagaerr.ErrInvalidTransition, o.ID, o.Status, target)
	}
	o.Status = target
	o.UpdatedAt = at
	return true, nil
}

// UpdateFunc mutates an order and returns the events to publish with the change.
type UpdateFunc func(o *Order) ([]events.Event, error)

// Repository persists orders together with their outbox rows.
type Repository interface {
	Create(ctx context.Context, o Order, evs ...events.Event) error
	Get(ctx context.Context, id string) (Order, error)
	// Update loads the order, applies fn and stores the result with the
	// events fn returned, atomically. Nothing is written when fn fails.
	Update(ctx context.Context, id string, fn UpdateFunc) (Order, error)
}
