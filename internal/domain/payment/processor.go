package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

// ErrAttemptInFlight means another delivery is still waiting on the provider
// for this payment. It is retryable.
var ErrAttemptInFlight = errors.New("provider call in flight")

const (
	reasonCaptureUnknown = "capture outcome unknown"
	reasonRefundUnknown  = "refund outcome unknown"
)

type Processor struct {
	repo     Repository
	provider Provider
	clock    clock.Clock
	// window is how long a recorded attempt may be in flight before its
	// outcome is treated as unknown.
	window time.Duration
}

func NewProcessor(repo Repository, provider Provider, clk clock.Clock, window time.Duration) *Processor {
	return &Processor{repo: repo, provider: provider, clock: clk, window: window}
}

func (s *Processor) Get(ctx context.Context, id string) (Payment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Processor) ByOrder(ctx context.Context, orderID string) (Payment, error) {
	return s.repo.ByOrder(ctx, orderID)
}

func (s *Processor) Log(ctx context.Context, id string) ([]LogEntry, error) {
	return s.repo.Log(ctx, id)
}

// OnOrderCreated opens a payment for the order and captures it. The attempt
// is logged before the provider is called; a provider error fails the
// payment and is never retried.
func (s *Processor) OnOrderCreated(ctx context.Context, e events.OrderCreated) error {
	now := s.clock.Now()
	p := Payment{
		ID:        uuid.NewString(),
		OrderID:   e.OrderID,
		UserID:    e.UserID,
		Amount:    e.Total,
		Status:    StatusPending,
		Provider:  s.provider.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	p, created, err := s.repo.Create(ctx, p, events.PaymentInitiated{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		UserID:      p.UserID,
		Amount:      p.Amount,
		InitiatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("open payment for %s: %w", e.OrderID, err)
	}
	if !created && p.Status != StatusPending {
		return nil
	}
	return s.capture(ctx, p)
}

func (s *Processor) capture(ctx context.Context, p Payment) error {
	logger := logging.FromContext(ctx).WithField("payment_id", p.ID).WithField("order_id", p.OrderID)

	_, err := s.repo.Record(ctx, p.ID, s.entry(EntryCaptureAttempted, ""), noChange)
	if errors.Is(err, ErrDuplicateEntry) {
		return s.resolveAttempt(ctx, p.ID, EntryCaptureAttempted, StatusPending, func() error {
			logger.Warn("[Payment] Capture outcome unknown, failing payment")
			return s.failCapture(ctx, p.ID, reasonCaptureUnknown)
		})
	}
	if err != nil {
		return fmt.Errorf("record capture attempt %s: %w", p.ID, err)
	}

	ref, err := s.provider.Capture(ctx, CaptureRequest{PaymentID: p.ID, OrderID: p.OrderID, UserID: p.UserID, Amount: p.Amount})
	if err != nil {
		logger.WithError(err).Warn("[Payment] Capture failed")
		metrics.PaymentOutcomes.WithLabelValues("capture", "failed").Inc()
		return s.failCapture(ctx, p.ID, err.Error())
	}

	_, err = s.repo.Record(ctx, p.ID, s.entry(EntryCaptured, ref), func(p *Payment) ([]events.Event, error) {
		if err := p.transition(StatusCaptured, s.clock.Now()); err != nil {
			return nil, err
		}
		p.ProviderRef = ref
		return []events.Event{events.PaymentCaptured{
			PaymentID:   p.ID,
			OrderID:     p.OrderID,
			UserID:      p.UserID,
			Amount:      p.Amount,
			Provider:    p.Provider,
			ProviderRef: ref,
			CapturedAt:  p.UpdatedAt,
		}}, nil
	})
	if err != nil {
		return fmt.Errorf("record capture %s: %w", p.ID, err)
	}

	metrics.PaymentOutcomes.WithLabelValues("capture", "ok").Inc()
	logger.WithField("amount", p.Amount).Info("[Payment] Payment captured")
	return nil
}

func (s *Processor) failCapture(ctx context.Context, id, reason string) error {
	_, err := s.repo.Record(ctx, id, s.entry(EntryFailed, reason), func(p *Payment) ([]events.Event, error) {
		if err := p.transition(StatusFailed, s.clock.Now()); err != nil {
			return nil, err
		}
		p.Reason = reason
		return []events.Event{events.PaymentFailed{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			UserID:    p.UserID,
			Reason:    reason,
			FailedAt:  p.UpdatedAt,
		}}, nil
	})
	if errors.Is(err, ErrDuplicateEntry) {
		return nil
	}
	return err
}

// resolveAttempt handles a redelivery that finds an attempt already logged.
// While the attempt is younger than the window it may still complete, so
// the caller retries later. After that the outcome is unknown.
func (s *Processor) resolveAttempt(ctx context.Context, id string, attempt EntryType, waitingIn Status, unknown func() error) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != waitingIn {
		return nil
	}

	log, err := s.repo.Log(ctx, id)
	if err != nil {
		return fmt.Errorf("payment log %s: %w", id, err)
	}
	for _, entry := range log {
		if entry.Type == attempt && s.clock.Now().Sub(entry.CreatedAt) < s.window {
			return fmt.Errorf("payment %s %s: %w", id, attempt, ErrAttemptInFlight)
		}
	}
	return unknown()
}

// Refund gives the money of a captured payment back. A refunded payment is
// left alone; any other state is an invalid refund and nothing changes.
func (s *Processor) Refund(ctx context.Context, p Payment, reason string) error {
	switch p.Status {
	case StatusRefunded:
		return nil
	case StatusCaptured:
	default:
		return fmt.Errorf("%w: payment %s is %s", sagaerr.ErrInvalidRefund, p.ID, p.Status)
	}

	logger := logging.FromContext(ctx).WithField("payment_id", p.ID).WithField("order_id", p.OrderID)

	_, err := s.repo.Record(ctx, p.ID, s.entry(EntryRefundRequested, reason), noChange)
	if errors.Is(err, ErrDuplicateEntry) {
		return s.resolveAttempt(ctx, p.ID, EntryRefundRequested, StatusCaptured, func() error {
			logger.Warn("[Payment] Refund outcome unknown, flagging for follow-up")
			return s.failRefund(ctx, p.ID, reasonRefundUnknown)
		})
	}
	if err != nil {
		return fmt.Errorf("record refund request %s: %w", p.ID, err)
	}

	ref, err := s.provider.Refund(ctx, RefundRequest{PaymentID: p.ID, ProviderRef: p.ProviderRef, Amount: p.Amount})
	if err != nil {
		logger.WithError(err).Error("[Payment] Refund failed")
		metrics.PaymentOutcomes.WithLabelValues("refund", "failed").Inc()
		return s.failRefund(ctx, p.ID, err.Error())
	}

	_, err = s.repo.Record(ctx, p.ID, s.entry(EntryRefunded, ref), func(p *Payment) ([]events.Event, error) {
		if err := p.transition(StatusRefunded, s.clock.Now()); err != nil {
			return nil, err
		}
		p.RefundRef = ref
		p.Reason = reason
		return []events.Event{events.PaymentRefunded{
			PaymentID:   p.ID,
			OrderID:     p.OrderID,
			Amount:      p.Amount,
			ProviderRef: ref,
			RefundedAt:  p.UpdatedAt,
		}}, nil
	})
	if err != nil {
		return fmt.Errorf("record refund %s: %w", p.ID, err)
	}

	metrics.PaymentOutcomes.WithLabelValues("refund", "ok").Inc()
	logger.WithField("reason", reason).Info("[Payment] Payment refunded")
	return nil
}

func (s *Processor) failRefund(ctx context.Context, id, reason string) error {
	_, err := s.repo.Record(ctx, id, s.entry(EntryRefundFailed, reason), func(p *Payment) ([]events.Event, error) {
		if err := p.transition(StatusRefundFailed, s.clock.Now()); err != nil {
			return nil, err
		}
		p.Reason = reason
		return []events.Event{events.PaymentRefundFailed{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Reason:    reason,
			FailedAt:  p.UpdatedAt,
		}}, nil
	})
	if errors.Is(err, ErrDuplicateEntry) {
		return nil
	}
	return err
}

func (s *Processor) refundOrder(ctx context.Context, orderID, reason string) error {
	p, err := s.repo.ByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("payment of order %s: %w", orderID, err)
	}
	return s.Refund(ctx, p, reason)
}

func (s *Processor) OnReservationFailed(ctx context.Context, e events.ReservationFailed) error {
	return s.refundOrder(ctx, e.OrderID, "reservation failed: "+e.Reason)
}

func (s *Processor) OnRefundDecision(ctx context.Context, e events.RefundDecisionRegistered) error {
	if !e.Approved() {
		return nil
	}
	return s.refundOrder(ctx, e.OrderID, "refund approved")
}

// OnOrderCancelled refunds a payment captured for an order the user
// cancelled before the capture landed. Other states need nothing.
func (s *Processor) OnOrderCancelled(ctx context.Context, e events.OrderCancelled) error {
	p, err := s.repo.ByOrder(ctx, e.OrderID)
	if errors.Is(err, sagaerr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("payment of order %s: %w", e.OrderID, err)
	}
	if p.Status != StatusCaptured {
		return nil
	}
	return s.Refund(ctx, p, "order cancelled: "+e.Reason)
}

// Cancel voids a captured payment at the provider.
func (s *Processor) Cancel(ctx context.Context, id, reason string) (Payment, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.Status == StatusCanceled {
		return p, nil
	}
	if !p.CanTransitionTo(StatusCanceled) {
		return p, fmt.Errorf("%w: payment %s is %s", sagaerr.ErrInvalidTransition, p.ID, p.Status)
	}

	// Written ahead of the provider call. A retried cancel finds the request
	// already logged and voids again; voiding a charge twice is a no-op at
	// the provider.
	if _, err := s.repo.Record(ctx, id, s.entry(EntryCancelRequested, reason), noChange); err != nil && !errors.Is(err, ErrDuplicateEntry) {
		return p, fmt.Errorf("record cancel request %s: %w", id, err)
	}

	if err := s.provider.Void(ctx, RefundRequest{PaymentID: p.ID, ProviderRef: p.ProviderRef, Amount: p.Amount}); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("payment_id", id).Error("[Payment] Void failed")
		return p, err
	}

	p, err = s.repo.Record(ctx, id, s.entry(EntryCanceled, reason), func(p *Payment) ([]events.Event, error) {
		if err := p.transition(StatusCanceled, s.clock.Now()); err != nil {
			return nil, err
		}
		p.Reason = reason
		return nil, nil
	})
	if err != nil {
		return p, fmt.Errorf("record cancellation %s: %w", id, err)
	}
	logging.FromContext(ctx).WithField("payment_id", id).Info("[Payment] Payment voided")
	return p, nil
}

func (s *Processor) entry(typ EntryType, detail string) LogEntry {
	return LogEntry{ID: uuid.NewString(), Type: typ, Detail: detail, CreatedAt: s.clock.Now()}
}

func noChange(*Payment) ([]events.Event, error) { return nil, nil }
