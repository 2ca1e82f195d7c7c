package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/sirupsen/logrus"
)

// Stock is the part of the ledger the manager needs.
type Stock interface {
	TryReserve(ctx context.Context, key ledger.Key, quantity int, causationID string) error
	Release(ctx context.Context, key ledger.Key, quantity int, causationID string) error
}

const (
	defaultHoldTTL   = 10 * time.Minute
	defaultSweepSize = 100
)

type Manager struct {
	repo      Repository
	stock     Stock
	outbox    messaging.Enqueuer
	clock     clock.Clock
	holdTTL   time.Duration
	sweepSize int
}

type Option func(*Manager)

// WithHoldTTL overrides how long a PENDING hold may live before the sweeper expires it.
func WithHoldTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.holdTTL = d
		}
	}
}

func NewManager(repo Repository, stock Stock, outbox messaging.Enqueuer, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		repo:      repo,
		stock:     stock,
		outbox:    outbox,
		clock:     clk,
		holdTTL:   defaultHoldTTL,
		sweepSize: defaultSweepSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnOrderPaid reserves every line of a paid order. Confirmations are
// published only when all lines are reserved; otherwise the lines already
// reserved are released and ReservationFailed is published. Redelivery
// re-publishes the same outcome without touching stock again.
func (m *Manager) OnOrderPaid(ctx context.Context, e events.OrderPaid) error {
	logger := logging.FromContext(ctx).WithField("order_id", e.OrderID)

	cancelled, err := m.repo.IsOrderCancelled(ctx, e.OrderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", e.OrderID, err)
	}
	// The cancellation path already compensated the payment, so a late
	// orders.paid is absorbed without publishing anything.
	if cancelled {
		logger.Info("[Reservation] Order already cancelled, nothing to reserve")
		return nil
	}

	lines, err := events.NormalizeLines(e.Lines)
	if err != nil {
		logger.WithError(err).Warn("[Reservation] Paid order has invalid lines")
		return m.compensate(ctx, e.OrderID, e.UserID, "", err.Error())
	}

	now := m.clock.Now()
	confirmed := make([]Reservation, 0, len(lines))
	for _, line := range lines {
		res, _, err := m.repo.Claim(ctx, Reservation{
			ID:        ID(e.OrderID, line.TierID),
			UserID:    e.UserID,
			OrderID:   e.OrderID,
			EventID:   line.EventID,
			SessionID: line.SessionID,
			TierID:    line.TierID,
			Quantity:  line.Quantity,
			Status:    StatusPending,
			ExpiresAt: now.Add(m.holdTTL),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("claim %s/%s: %w", e.OrderID, line.TierID, err)
		}

		res, reason, err := m.confirm(ctx, res)
		if err != nil {
			return err
		}
		if reason != "" {
			logger.WithFields(logrus.Fields{"tier_id": line.TierID, "reason": reason}).Warn("[Reservation] Line could not be reserved")
			return m.compensate(ctx, e.OrderID, e.UserID, line.TierID, reason)
		}
		confirmed = append(confirmed, res)
	}

	// A cancellation handled while the lines were being reserved found
	// nothing to release yet.
	cancelled, err = m.repo.IsOrderCancelled(ctx, e.OrderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", e.OrderID, err)
	}
	if cancelled {
		logger.Info("[Reservation] Order cancelled while reserving, releasing stock")
		return m.releaseOrder(ctx, e.OrderID, "order cancelled")
	}

	evs := make([]events.Event, 0, len(confirmed))
	for _, r := range confirmed {
		evs = append(evs, events.ReservationConfirmed{
			ReservationID: r.ID,
			OrderID:       r.OrderID,
			UserID:        r.UserID,
			EventID:       r.EventID,
			SessionID:     r.SessionID,
			TierID:        r.TierID,
			Quantity:      r.Quantity,
			ConfirmedAt:   derefTime(r.ConfirmedAt, now),
		})
	}
	if err := m.outbox.Enqueue(ctx, evs...); err != nil {
		return fmt.Errorf("enqueue confirmations for %s: %w", e.OrderID, err)
	}

	logger.WithField("lines", len(confirmed)).Info("[Reservation] Order reserved")
	return nil
}

// confirm drives one claimed reservation to its outcome. A non-empty reason
// means the line failed.
func (m *Manager) confirm(ctx context.Context, res Reservation) (Reservation, string, error) {
	switch res.Status {
	case StatusConfirmed:
		return res, "", nil
	case StatusRejected:
		return res, res.Reason, nil
	case StatusReleased, StatusExpiring, StatusExpired:
		return res, fmt.Sprintf("reservation already %s", res.Status), nil
	}

	now := m.clock.Now()
	err := m.stock.TryReserve(ctx, res.LedgerKey(), res.Quantity, res.ID)
	if err != nil {
		var reason string
		switch {
		case errors.Is(err, sagaerr.ErrInsufficientStock):
			reason = "insufficient stock"
		case errors.Is(err, sagaerr.ErrNotFound):
			reason = "tier is not on sale"
		case errors.Is(err, sagaerr.ErrValidation):
			reason = err.Error()
		default:
			return res, "", fmt.Errorf("reserve %s: %w", res.ID, err)
		}
		if _, err := m.repo.Transition(ctx, res.ID, StatusPending, StatusRejected, now, reason); err != nil {
			return res, "", fmt.Errorf("reject %s: %w", res.ID, err)
		}
		return res, reason, nil
	}

	moved, err := m.repo.Transition(ctx, res.ID, StatusPending, StatusConfirmed, now, "")
	if err != nil {
		return res, "", fmt.Errorf("confirm %s: %w", res.ID, err)
	}
	current, err := m.repo.Get(ctx, res.ID)
	if err != nil {
		return res, "", err
	}
	if moved || current.Status == StatusConfirmed {
		return current, "", nil
	}

	// The sweeper claimed the hold while stock was being reserved. Its
	// release may have run before the reservation existed, so release here too.
	if err := m.stock.Release(ctx, res.LedgerKey(), res.Quantity, res.ID); err != nil {
		return res, "", fmt.Errorf("release expired hold %s: %w", res.ID, err)
	}
	return current, "hold expired before confirmation", nil
}

// compensate releases whatever the order still holds and publishes
// ReservationFailed.
func (m *Manager) compensate(ctx context.Context, orderID, userID, tierID, reason string) error {
	if err := m.releaseOrder(ctx, orderID, reason); err != nil {
		return err
	}
	err := m.outbox.Enqueue(ctx, events.ReservationFailed{
		OrderID:  orderID,
		UserID:   userID,
		TierID:   tierID,
		Reason:   reason,
		FailedAt: m.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue reservation failure for %s: %w", orderID, err)
	}
	return nil
}

// OnOrderCancelled releases every reservation of the order and remembers the
// cancellation so a late orders.paid reserves nothing.
func (m *Manager) OnOrderCancelled(ctx context.Context, e events.OrderCancelled) error {
	return m.cancelOrder(ctx, e.OrderID, "order cancelled")
}

// OnRefundDecision releases the stock of an order whose refund was approved.
func (m *Manager) OnRefundDecision(ctx context.Context, e events.RefundDecisionRegistered) error {
	if !e.Approved() {
		return nil
	}
	return m.cancelOrder(ctx, e.OrderID, "refund approved")
}

func (m *Manager) cancelOrder(ctx context.Context, orderID, reason string) error {
	if err := m.repo.MarkOrderCancelled(ctx, orderID, m.clock.Now()); err != nil {
		return fmt.Errorf("tombstone %s: %w", orderID, err)
	}
	return m.releaseOrder(ctx, orderID, reason)
}

// releaseOrder returns stock before changing state, so a crash in between
// leaves a CONFIRMED row whose release is retried as a ledger no-op.
func (m *Manager) releaseOrder(ctx context.Context, orderID, reason string) error {
	reservations, err := m.repo.ByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("reservations of %s: %w", orderID, err)
	}

	now := m.clock.Now()
	var released []events.Event
	for _, r := range reservations {
		switch r.Status {
		case StatusConfirmed, StatusPending:
			if err := m.stock.Release(ctx, r.LedgerKey(), r.Quantity, r.ID); err != nil {
				return fmt.Errorf("release %s: %w", r.ID, err)
			}
			if _, err := m.repo.Transition(ctx, r.ID, r.Status, StatusReleased, now, reason); err != nil {
				return fmt.Errorf("mark %s released: %w", r.ID, err)
			}
			r.applyTransition(StatusReleased, now, reason)
		case StatusReleased:
		default:
			continue
		}

		released = append(released, events.ReservationReleased{
			ReservationID: r.ID,
			OrderID:       r.OrderID,
			TierID:        r.TierID,
			Quantity:      r.Quantity,
			Reason:        r.Reason,
			ReleasedAt:    derefTime(r.ReleasedAt, now),
		})
	}

	if len(released) == 0 {
		return nil
	}
	if err := m.outbox.Enqueue(ctx, released...); err != nil {
		return fmt.Errorf("enqueue releases for %s: %w", orderID, err)
	}
	logging.FromContext(ctx).WithField("order_id", orderID).WithField("released", len(released)).Info("[Reservation] Order stock released")
	return nil
}

// SweepExpired expires PENDING holds older than their window. Each hold is
// claimed with a conditional update first, so concurrent sweepers never
// release the same hold twice.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	claimed, err := m.repo.ClaimExpired(ctx, now, m.sweepSize)
	if err != nil {
		return 0, fmt.Errorf("claim expired holds: %w", err)
	}

	expired := 0
	for _, r := range claimed {
		if err := m.stock.Release(ctx, r.LedgerKey(), r.Quantity, r.ID); err != nil {
			return expired, fmt.Errorf("release expired hold %s: %w", r.ID, err)
		}
		if _, err := m.repo.Transition(ctx, r.ID, StatusExpiring, StatusExpired, now, "hold expired"); err != nil {
			return expired, fmt.Errorf("expire %s: %w", r.ID, err)
		}
		expired++
	}
	if expired > 0 {
		logging.FromContext(ctx).WithField("expired", expired).Info("[Reservation] Expired holds swept")
	}
	return expired, nil
}

// RunSweeper sweeps on every tick until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.SweepExpired(ctx, m.clock.Now()); err != nil && ctx.Err() == nil {
				logging.FromContext(ctx).WithError(err).Error("[Reservation] Sweep failed")
			}
		}
	}
}

func (m *Manager) ByOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	return m.repo.ByOrder(ctx, orderID)
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}
