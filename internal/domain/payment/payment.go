package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusCaptured     Status = "CAPTURED"
	StatusFailed       Status = "FAILED"
	StatusRefunded     Status = "REFUNDED"
	StatusRefundFailed Status = "REFUND_FAILED"
	StatusCanceled     Status = "CANCELED"
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusCaptured, StatusFailed},
	StatusCaptured:     {StatusRefunded, StatusRefundFailed, StatusCanceled},
	StatusFailed:       {}, // terminal state
	StatusRefunded:     {}, // terminal state
	StatusRefundFailed: {}, // terminal state
	StatusCanceled:     {}, // terminal state
}

func (p *Payment) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[p.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// EntryType names a step in a payment's write-ahead log. Each type appears at
// most once per payment.
type EntryType string

const (
	EntryInitiated        EntryType = "INITIATED"
	EntryCaptureAttempted EntryType = "CAPTURE_ATTEMPTED"
	EntryCaptured         EntryType = "CAPTURED"
	EntryFailed           EntryType = "FAILED"
	EntryCancelRequested  EntryType = "CANCEL_REQUESTED"
	EntryCanceled         EntryType = "CANCELED"
	EntryRefundRequested  EntryType = "REFUND_REQUESTED"
	EntryRefunded         EntryType = "REFUNDED"
	EntryRefundFailed     EntryType = "REFUND_FAILED"
)

type LogEntry struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Type      EntryType `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Payment struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Status      Status    `json:"status"`
	Provider    string    `json:"provider,omitempty"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	RefundRef   string    `json:"refund_ref,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

func (p *Payment) transition(target Status, at time.Time) error {
	if !p.CanTransitionTo(target) {
		return fmt.Errorf("%w: payment %s cannot move from %s to %s", sagaerr.ErrInvalidTransition, p.ID, p.Status, target)
	}
	p.Status = target
	p.UpdatedAt = at
	return nil
}

// ErrDuplicateEntry is returned when a log entry of the same type already exists.
var ErrDuplicateEntry = errors.New("payment log entry already recorded")

// UpdateFunc mutates a payment and returns the events to publish with it.
type UpdateFunc func(p *Payment) ([]events.Event, error)

type Repository interface {
	// Create stores p with its INITIATED entry unless the order already has
	// a payment, in which case the existing one is returned.
	Create(ctx context.Context, p Payment, evs ...events.Event) (Payment, bool, error)
	Get(ctx context.Context, id string) (Payment, error)
	ByOrder(ctx context.Context, orderID string) (Payment, error)
	// Record applies fn and appends a log entry of typ together with the
	// returned events, atomically. It fails with ErrDuplicateEntry when the
	// entry exists, before fn runs.
	Record(ctx context.Context, id string, entry LogEntry, fn UpdateFunc) (Payment, error)
	Log(ctx context.Context, id string) ([]LogEntry, error)
}
