package refund

import (
	"context"
	"fmt"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

type Arbiter struct {
	repo  Repository
	clock clock.Clock
}

func NewArbiter(repo Repository, clk clock.Clock) *Arbiter {
	return &Arbiter{repo: repo, clock: clk}
}

type SubmitInput struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
}

// Submit opens a refund request. An order has at most one request that is
// open or approved; submitting again returns it.
func (a *Arbiter) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	if in.OrderID == "" || in.UserID == "" {
		return Request{}, fmt.Errorf("%w: order id and user id are required", sagaerr.ErrValidation)
	}

	existing, err := a.repo.ByOrder(ctx, in.OrderID)
	if err != nil {
		return Request{}, fmt.Errorf("refund requests of %s: %w", in.OrderID, err)
	}
	for _, r := range existing {
		if r.Status != StatusRejected {
			return r, nil
		}
	}

	now := a.clock.Now()
	r := Request{
		ID:        uuid.NewString(),
		OrderID:   in.OrderID,
		PaymentID: in.PaymentID,
		UserID:    in.UserID,
		Reason:    in.Reason,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := a.repo.Create(ctx, r); err != nil {
		return Request{}, fmt.Errorf("create refund request: %w", err)
	}

	logging.FromContext(ctx).WithField("request_id", r.ID).WithField("order_id", r.OrderID).Info("[Refund] Refund requested")
	return r, nil
}

func (a *Arbiter) Get(ctx context.Context, id string) (Request, error) {
	return a.repo.Get(ctx, id)
}

// Decide records the one decision of a request. Approval publishes
// RefundDecisionRegistered; rejection only closes the request. Repeating the
// same decision is a no-op.
func (a *Arbiter) Decide(ctx context.Context, id string, decision events.DecisionType, decidedBy, note string) (Request, error) {
	if decision != events.DecisionApprove && decision != events.DecisionReject {
		return Request{}, fmt.Errorf("%w: unknown decision %q", sagaerr.ErrValidation, decision)
	}
	if decidedBy == "" {
		return Request{}, fmt.Errorf("%w: decided by is required", sagaerr.ErrValidation)
	}

	return a.repo.Update(ctx, id, func(r *Request) ([]events.Event, error) {
		if r.Decision != nil {
			if r.Decision.Type == decision {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: request %s was %s", sagaerr.ErrAlreadyDecided, r.ID, r.Status)
		}

		now := a.clock.Now()
		r.Decision = &Decision{Type: decision, DecidedBy: decidedBy, Note: note, DecidedAt: now}
		r.UpdatedAt = now

		logger := logging.FromContext(ctx).WithField("request_id", r.ID).WithField("decided_by", decidedBy)
		if decision == events.DecisionReject {
			r.Status = StatusRejected
			logger.Info("[Refund] Refund rejected")
			return nil, nil
		}

		r.Status = StatusApproved
		logger.Info("[Refund] Refund approved")
		return []events.Event{events.RefundDecisionRegistered{
			RequestID:    r.ID,
			OrderID:      r.OrderID,
			PaymentID:    r.PaymentID,
			UserID:       r.UserID,
			DecisionType: decision,
			DecidedBy:    decidedBy,
			DecidedAt:    now,
		}}, nil
	})
}
