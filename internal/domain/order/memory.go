package order

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

// MemoryRepository stores orders in process and appends their events to a
// MemoryOutbox under the same lock.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]Order
	outbox *messaging.MemoryOutbox
}

func NewMemoryRepository(outbox *messaging.MemoryOutbox) *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]Order),
		outbox: outbox,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, o Order, evs ...events.Event) error {
	msgs, err := messaging.EncodeEvents(ctx, evs...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	o.Lines = slices.Clone(o.Lines)
	r.orders[o.ID] = o
	r.outbox.Append(msgs...)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, sagaerr.ErrNotFound)
	}
	o.Lines = slices.Clone(o.Lines)
	return o, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fn UpdateFunc) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, sagaerr.ErrNotFound)
	}
	updated := current
	updated.Lines = slices.Clone(current.Lines)

	evs, err := fn(&updated)
	if err != nil {
		return current, err
	}
	msgs, err := messaging.EncodeEvents(ctx, evs...)
	if err != nil {
		return current, err
	}

	if updated.Status != current.Status || updated.PaymentID != current.PaymentID || len(msgs) > 0 {
		updated.Version++
		r.orders[id] = updated
	}
	r.outbox.Append(msgs...)
	return updated, nil
}
