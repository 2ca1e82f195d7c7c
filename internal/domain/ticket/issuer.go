package ticket

import (
	"context"
	"fmt"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/google/uuid"
)

type Issuer struct {
	repo  Repository
	clock clock.Clock
}

func NewIssuer(repo Repository, clk clock.Clock) *Issuer {
	return &Issuer{repo: repo, clock: clk}
}

func (s *Issuer) Get(ctx context.Context, id string) (Ticket, error) {
	return s.repo.Get(ctx, id)
}

func (s *Issuer) ByOrder(ctx context.Context, orderID string) ([]Ticket, error) {
	return s.repo.ByOrder(ctx, orderID)
}

// OnReservationConfirmed issues the one ticket of a reservation.
func (s *Issuer) OnReservationConfirmed(ctx context.Context, e events.ReservationConfirmed) error {
	logger := logging.FromContext(ctx).WithField("order_id", e.OrderID).WithField("reservation_id", e.ReservationID)

	cancelled, err := s.repo.IsOrderCancelled(ctx, e.OrderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", e.OrderID, err)
	}
	if cancelled {
		logger.Info("[Ticket] Order cancelled before issuance, skipping")
		return nil
	}

	now := s.clock.Now()
	t := Ticket{
		ID:            uuid.NewString(),
		ReservationID: e.ReservationID,
		OrderID:       e.OrderID,
		UserID:        e.UserID,
		EventID:       e.EventID,
		SessionID:     e.SessionID,
		TierID:        e.TierID,
		Quantity:      e.Quantity,
		Status:        StatusIssued,
		IssuedAt:      now,
	}
	t, created, err := s.repo.Issue(ctx, t, events.TicketIssued{
		TicketID:      t.ID,
		ReservationID: t.ReservationID,
		OrderID:       t.OrderID,
		UserID:        t.UserID,
		EventID:       t.EventID,
		SessionID:     t.SessionID,
		TierID:        t.TierID,
		Quantity:      t.Quantity,
		IssuedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("issue ticket for %s: %w", e.ReservationID, err)
	}
	if created {
		logger.WithField("ticket_id", t.ID).Info("[Ticket] Ticket issued")
	}

	// A cancellation may have committed its tombstone while the ticket was
	// being written and missed it when listing the order's tickets.
	cancelled, err = s.repo.IsOrderCancelled(ctx, e.OrderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", e.OrderID, err)
	}
	if cancelled {
		return s.cancel(ctx, t.ID, "order cancelled")
	}
	return nil
}

func (s *Issuer) OnOrderCancelled(ctx context.Context, e events.OrderCancelled) error {
	return s.CancelForOrder(ctx, e.OrderID, "order cancelled")
}

func (s *Issuer) OnRefundDecision(ctx context.Context, e events.RefundDecisionRegistered) error {
	if !e.Approved() {
		return nil
	}
	return s.CancelForOrder(ctx, e.OrderID, "refund approved")
}

// CancelForOrder cancels every ticket of the order and keeps a tombstone so
// tickets confirmed later are never issued.
func (s *Issuer) CancelForOrder(ctx context.Context, orderID, reason string) error {
	if err := s.repo.MarkOrderCancelled(ctx, orderID, s.clock.Now()); err != nil {
		return fmt.Errorf("tombstone %s: %w", orderID, err)
	}

	tickets, err := s.repo.ByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("tickets of %s: %w", orderID, err)
	}
	for _, t := range tickets {
		if err := s.cancel(ctx, t.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *Issuer) cancel(ctx context.Context, id, reason string) error {
	_, err := s.repo.Update(ctx, id, func(t *Ticket) ([]events.Event, error) {
		if t.Status == StatusCancelled {
			return nil, nil
		}
		now := s.clock.Now()
		if err := t.transition(StatusCancelled, now); err != nil {
			return nil, err
		}
		t.Reason = reason

		logging.FromContext(ctx).WithField("ticket_id", t.ID).WithField("reason", reason).Info("[Ticket] Ticket cancelled")
		return []events.Event{events.TicketCancelled{
			TicketID:      t.ID,
			ReservationID: t.ReservationID,
			OrderID:       t.OrderID,
			Reason:        reason,
			CancelledAt:   now,
		}}, nil
	})
	if err != nil {
		return fmt.Errorf("cancel ticket %s: %w", id, err)
	}
	return nil
}

// Validate admits a ticket at the gate. A ticket is admitted once.
func (s *Issuer) Validate(ctx context.Context, id string) (Ticket, error) {
	return s.repo.Update(ctx, id, func(t *Ticket) ([]events.Event, error) {
		return nil, t.transition(StatusValidated, s.clock.Now())
	})
}
