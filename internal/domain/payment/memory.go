package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

// MemoryRepository keeps payments and their logs in process. Events go to
// the outbox under the same lock as the state change.
type MemoryRepository struct {
	mu       sync.Mutex
	payments map[string]Payment
	byOrder  map[string]string
	logs     map[string][]LogEntry
	outbox   *messaging.MemoryOutbox
}

func NewMemoryRepository(outbox *messaging.MemoryOutbox) *MemoryRepository {
	return &MemoryRepository{
		payments: make(map[string]Payment),
		byOrder:  make(map[string]string),
		logs:     make(map[string][]LogEntry),
		outbox:   outbox,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, p Payment, evs ...events.Event) (Payment, bool, error) {
	msgs, err := messaging.EncodeEvents(ctx, evs...)
	if err != nil {
		return Payment{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byOrder[p.OrderID]; ok {
		return r.payments[id], false, nil
	}
	p.Version = 1
	r.payments[p.ID] = p
	r.byOrder[p.OrderID] = p.ID
	r.logs[p.ID] = []LogEntry{{ID: uuid.NewString(), PaymentID: p.ID, Type: EntryInitiated, CreatedAt: p.CreatedAt}}
	r.outbox.Append(msgs...)
	return p, true, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return Payment{}, fmt.Errorf("payment %s: %w", id, sagaerr.ErrNotFound)
	}
	return p, nil
}

func (r *MemoryRepository) ByOrder(_ context.Context, orderID string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return Payment{}, fmt.Errorf("payment for order %s: %w", orderID, sagaerr.ErrNotFound)
	}
	return r.payments[id], nil
}

func (r *MemoryRepository) Record(ctx context.Context, id string, entry LogEntry, fn UpdateFunc) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[id]
	if !ok {
		return Payment{}, fmt.Errorf("payment %s: %w", id, sagaerr.ErrNotFound)
	}
	for _, e := range r.logs[id] {
		if e.Type == entry.Type {
			return current, ErrDuplicateEntry
		}
	}

	updated := current
	evs, err := fn(&updated)
	if err != nil {
		return current, err
	}
	msgs, err := messaging.EncodeEvents(ctx, evs...)
	if err != nil {
		return current, err
	}

	updated.Version++
	entry.PaymentID = id
	r.payments[id] = updated
	r.logs[id] = append(r.logs[id], entry)
	r.outbox.Append(msgs...)
	return updated, nil
}

func (r *MemoryRepository) Log(_ context.Context, id string) ([]LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[id]; !ok {
		return nil, fmt.Errorf("payment %s: %w", id, sagaerr.ErrNotFound)
	}
	return append([]LogEntry(nil), r.logs[id]...), nil
}
