package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
)

// Projector folds every saga topic into one SagaState per order.
type Projector struct {
	repo  Repository
	clock clock.Clock
}

func NewProjector(repo Repository, clk clock.Clock) *Projector {
	return &Projector{repo: repo, clock: clk}
}

func (p *Projector) Get(ctx context.Context, orderID string) (SagaState, error) {
	return p.repo.Get(ctx, orderID)
}

// FindStuck lists unfinished sagas that have not moved for olderThan.
func (p *Projector) FindStuck(ctx context.Context, olderThan time.Duration) ([]SagaState, error) {
	return p.repo.FindStuck(ctx, p.clock.Now().Add(-olderThan))
}

func (p *Projector) apply(ctx context.Context, orderID, topic string, fn func(s *SagaState)) error {
	now := p.clock.Now()
	state, err := p.repo.Update(ctx, orderID, func(s *SagaState) {
		if s.StartedAt.IsZero() {
			s.StartedAt = now
		}
		fn(s)
		s.recompute()
		s.UpdatedAt = now
	})
	if err != nil {
		return fmt.Errorf("project %s for %s: %w", topic, orderID, err)
	}

	logging.FromContext(ctx).WithField("order_id", orderID).WithField("step", state.Step).Debug("[Projector] Saga updated")
	return nil
}

func (p *Projector) OnOrderCreated(ctx context.Context, e events.OrderCreated) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.Created = true
		s.UserID = e.UserID
		s.Lines = len(e.Lines)
	})
}

func (p *Projector) OnPaymentInitiated(ctx context.Context, e events.PaymentInitiated) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.PaymentID = e.PaymentID
	})
}

func (p *Projector) OnPaymentCaptured(ctx context.Context, e events.PaymentCaptured) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.PaymentID = e.PaymentID
		s.Captured = true
	})
}

func (p *Projector) OnPaymentFailed(ctx context.Context, e events.PaymentFailed) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.PaymentID = e.PaymentID
		s.PaymentFailed = true
		s.Reason = e.Reason
	})
}

func (p *Projector) OnOrderPaid(ctx context.Context, e events.OrderPaid) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.Paid = true
		s.UserID = e.UserID
		s.Lines = len(e.Lines)
	})
}

func (p *Projector) OnReservationConfirmed(ctx context.Context, e events.ReservationConfirmed) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.Reservations = addID(s.Reservations, e.ReservationID)
	})
}

func (p *Projector) OnReservationFailed(ctx context.Context, e events.ReservationFailed) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.ReservationFailed = true
		s.Reason = e.Reason
	})
}

func (p *Projector) OnReservationReleased(ctx context.Context, e events.ReservationReleased) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.ReleasedReservations = addID(s.ReleasedReservations, e.ReservationID)
	})
}

func (p *Projector) OnTicketIssued(ctx context.Context, e events.TicketIssued) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.Tickets = addID(s.Tickets, e.TicketID)
	})
}

func (p *Projector) OnTicketCancelled(ctx context.Context, e events.TicketCancelled) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.CancelledTickets = addID(s.CancelledTickets, e.TicketID)
	})
}

func (p *Projector) OnOrderCancelled(ctx context.Context, e events.OrderCancelled) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.Cancelled = true
		if s.Reason == "" {
			s.Reason = e.Reason
		}
	})
}

func (p *Projector) OnRefundDecision(ctx context.Context, e events.RefundDecisionRegistered) error {
	if !e.Approved() {
		return nil
	}
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.RefundApproved = true
	})
}

func (p *Projector) OnPaymentRefunded(ctx context.Context, e events.PaymentRefunded) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.Refunded = true
	})
}

func (p *Projector) OnPaymentRefundFailed(ctx context.Context, e events.PaymentRefundFailed) error {
	return p.apply(ctx, e.OrderID, e.Topic(), func(s *SagaState) {
		s.RefundFailed = true
		s.Reason = e.Reason
	})
}
