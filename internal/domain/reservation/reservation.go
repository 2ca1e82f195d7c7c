package reservation

import (
	"context"
	"time"

	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	// StatusRejected records a line that could not be reserved.
	StatusRejected Status = "REJECTED"
	StatusReleased Status = "RELEASED"
	// StatusExpiring is held by a sweeper between claiming a hold and releasing its stock.
	StatusExpiring Status = "EXPIRING"
	StatusExpired  Status = "EXPIRED"
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusReleased, StatusExpiring},
	StatusConfirmed: {StatusReleased},
	StatusExpiring:  {StatusExpired},
	StatusRejected:  {}, // terminal state
	StatusReleased:  {}, // terminal state
	StatusExpired:   {}, // terminal state
}

// CanTransition checks if a reservation may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Reservation struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	OrderID     string     `json:"order_id"`
	EventID     string     `json:"event_id"`
	SessionID   string     `json:"session_id"`
	TierID      string     `json:"tier_id"`
	Quantity    int        `json:"quantity"`
	Status      Status     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Version     int64      `json:"version"`
}

func (r Reservation) LedgerKey() ledger.Key {
	return ledger.Key{EventID: r.EventID, SessionID: r.SessionID, TierID: r.TierID}
}

// applyTransition mutates r for a move to status at the given time.
func (r *Reservation) applyTransition(to Status, at time.Time, reason string) {
	r.Status = to
	r.UpdatedAt = at
	if reason != "" {
		r.Reason = reason
	}
	switch to {
	case StatusConfirmed:
		r.ConfirmedAt = &at
	case StatusReleased, StatusExpired:
		r.ReleasedAt = &at
	}
	r.Version++
}

var idNamespace = uuid.MustParse("6f1c7a0e-3a54-4f63-9a43-0d3f3c8a5b21")

// ID derives the reservation id from its idempotency key.
func ID(orderID, tierID string) string {
	return uuid.NewSHA1(idNamespace, []byte(orderID+"/"+tierID)).String()
}

type Repository interface {
	// Claim inserts r unless a reservation for (r.OrderID, r.TierID) exists.
	// It returns the stored reservation and whether it was created.
	Claim(ctx context.Context, r Reservation) (Reservation, bool, error)
	Get(ctx context.Context, id string) (Reservation, error)
	ByOrder(ctx context.Context, orderID string) ([]Reservation, error)
	// Transition moves id from one status to another if it is still in from.
	Transition(ctx context.Context, id string, from, to Status, at time.Time, reason string) (bool, error)
	// ClaimExpired moves up to limit PENDING reservations whose hold ended
	// before now to EXPIRING and returns them.
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	MarkOrderCancelled(ctx context.Context, orderID string, at time.Time) error
	IsOrderCancelled(ctx context.Context, orderID string) (bool, error)
}
