package order

import (
	"context"
	"fmt"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

// Create validates and stores a new order and publishes OrderCreated.
// Lines for the same tier are merged.
func (s *Service) Create(ctx context.Context, userID string, lines []events.OrderLine) (Order, error) {
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", sagaerr.ErrValidation)
	}
	normalized, err := events.NormalizeLines(lines)
	if err != nil {
		return Order{}, err
	}

	now := s.clock.Now()
	o := Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Lines:     normalized,
		Total:     events.Total(normalized),
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	err = s.repo.Create(ctx, o, events.OrderCreated{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Lines:     o.Lines,
		Total:     o.Total,
		CreatedAt: now,
	})
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}

	logging.FromContext(ctx).WithField("order_id", o.ID).WithField("total", o.Total).Info("[Order] Order created")
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	return s.repo.Get(ctx, orderID)
}

// Cancel is a user cancellation before payment completes. A paid order is
// cancelled through a refund request instead.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (Order, error) {
	if reason == "" {
		reason = "cancelled by user"
	}
	return s.repo.Update(ctx, orderID, func(o *Order) ([]events.Event, error) {
		if o.Status == StatusPaid {
			return nil, fmt.Errorf("%w: order %s is paid, request a refund instead", sagaerr.ErrInvalidTransition, o.ID)
		}
		return s.cancel(ctx, o, reason)
	})
}

// OnPaymentInitiated marks the order as waiting on the provider. It only
// applies to a CREATED order, since capture may already have been handled.
func (s *Service) OnPaymentInitiated(ctx context.Context, e events.PaymentInitiated) error {
	_, err := s.repo.Update(ctx, e.OrderID, func(o *Order) ([]events.Event, error) {
		if o.Status != StatusCreated {
			return nil, nil
		}
		if _, err := o.transition(StatusPaymentPending, s.clock.Now()); err != nil {
			return nil, err
		}
		o.PaymentID = e.PaymentID
		return nil, nil
	})
	return err
}

// OnPaymentCaptured marks the order PAID and publishes OrderPaid once.
func (s *Service) OnPaymentCaptured(ctx context.Context, e events.PaymentCaptured) error {
	_, err := s.repo.Update(ctx, e.OrderID, func(o *Order) ([]events.Event, error) {
		now := s.clock.Now()
		moved, err := o.transition(StatusPaid, now)
		if err != nil || !moved {
			return nil, err
		}
		o.PaymentID = e.PaymentID

		logging.FromContext(ctx).WithField("order_id", o.ID).Info("[Order] Order paid")
		return []events.Event{events.OrderPaid{
			OrderID:   o.ID,
			UserID:    o.UserID,
			PaymentID: e.PaymentID,
			Lines:     o.Lines,
			PaidAt:    now,
		}}, nil
	})
	return err
}

func (s *Service) OnPaymentFailed(ctx context.Context, e events.PaymentFailed) error {
	_, err := s.repo.Update(ctx, e.OrderID, func(o *Order) ([]events.Event, error) {
		moved, err := o.transition(StatusPaymentFailed, s.clock.Now())
		if err != nil || !moved {
			return nil, err
		}
		o.PaymentID = e.PaymentID
		o.Reason = e.Reason

		logging.FromContext(ctx).WithField("order_id", o.ID).WithField("reason", e.Reason).Info("[Order] Payment failed")
		return nil, nil
	})
	return err
}

// OnReservationFailed cancels a paid order whose tickets could not be reserved.
func (s *Service) OnReservationFailed(ctx context.Context, e events.ReservationFailed) error {
	_, err := s.repo.Update(ctx, e.OrderID, func(o *Order) ([]events.Event, error) {
		return s.cancel(ctx, o, "reservation failed: "+e.Reason)
	})
	return err
}

// OnRefundDecision cancels the order of an approved refund.
func (s *Service) OnRefundDecision(ctx context.Context, e events.RefundDecisionRegistered) error {
	if !e.Approved() {
		return nil
	}
	_, err := s.repo.Update(ctx, e.OrderID, func(o *Order) ([]events.Event, error) {
		return s.cancel(ctx, o, "refund approved")
	})
	return err
}

func (s *Service) cancel(ctx context.Context, o *Order, reason string) ([]events.Event, error) {
	now := s.clock.Now()
	moved, err := o.transition(StatusCancelled, now)
	if err != nil || !moved {
		return nil, err
	}
	o.Reason = reason

	logging.FromContext(ctx).WithField("order_id", o.ID).WithField("reason", reason).Info("[Order] Order cancelled")
	return []events.Event{events.OrderCancelled{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Reason:      reason,
		CancelledAt: now,
	}}, nil
}
