package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/lithammer/shortuuid/v3"
)

type CaptureRequest struct {
	PaymentID string
	OrderID   string
	UserID    string
	Amount    int64
}

type RefundRequest struct {
	PaymentID   string
	ProviderRef string
	Amount      int64
}

// Provider is a payment gateway. PaymentID is the idempotency key of every call.
type Provider interface {
	Name() string
	Capture(ctx context.Context, req CaptureRequest) (string, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
	Void(ctx context.Context, req RefundRequest) error
}

var ErrDeclined = errors.New("payment declined")

// SimulatedProvider approves everything up to DeclineAbove (zero means no
// limit) after Latency.
type SimulatedProvider struct {
	DeclineAbove int64
	Latency      time.Duration
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount %d", ErrDeclined, req.Amount)
	}
	if p.DeclineAbove > 0 && req.Amount > p.DeclineAbove {
		return "", fmt.Errorf("%w: amount %d over limit %d", ErrDeclined, req.Amount, p.DeclineAbove)
	}
	return "ch_" + shortuuid.New(), nil
}

func (p *SimulatedProvider) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if req.ProviderRef == "" {
		return "", errors.New("no charge to refund")
	}
	return "re_" + shortuuid.New(), nil
}

func (p *SimulatedProvider) Void(ctx context.Context, req RefundRequest) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	if req.ProviderRef == "" {
		return errors.New("no charge to void")
	}
	return nil
}

func (p *SimulatedProvider) wait(ctx context.Context) error {
	if p.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// timeoutProvider bounds every call and reports failures as ErrExternalProvider.
type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout wraps p so each call gets at most timeout.
func WithTimeout(p Provider, timeout time.Duration) Provider {
	return &timeoutProvider{next: p, timeout: timeout}
}

func (p *timeoutProvider) Name() string { return p.next.Name() }

func (p *timeoutProvider) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ref, err := p.next.Capture(ctx, req)
	return ref, p.wrap("capture", err)
}

func (p *timeoutProvider) Refund(ctx context.Context, req RefundRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ref, err := p.next.Refund(ctx, req)
	return ref, p.wrap("refund", err)
}

func (p *timeoutProvider) Void(ctx context.Context, req RefundRequest) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.wrap("void", p.next.Void(ctx, req))
}

func (p *timeoutProvider) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s timed out after %s", sagaerr.ErrExternalProvider, p.next.Name(), op, p.timeout)
	}
	return fmt.Errorf("%w: %s %s: %v", sagaerr.ErrExternalProvider, p.next.Name(), op, err)
}
