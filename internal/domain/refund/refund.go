package refund

import (
	"context"
	"time"

	"github.com/example/ticketing-saga/internal/events"
)

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

type Decision struct {
	Type      events.DecisionType `json:"type"`
	DecidedBy string              `json:"decided_by"`
	Note      string              `json:"note,omitempty"`
	DecidedAt time.Time           `json:"decided_at"`
}

type Request struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	PaymentID string    `json:"payment_id,omitempty"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Status    Status    `json:"status"`
	Decision  *Decision `json:"decision,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

type UpdateFunc func(r *Request) ([]events.Event, error)

type Repository interface {
	Create(ctx context.Context, r Request) error
	Get(ctx context.Context, id string) (Request, error)
	ByOrder(ctx context.Context, orderID string) ([]Request, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Request, error)
}
