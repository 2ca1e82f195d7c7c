package ticket

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type MemoryRepository struct {
	mu            sync.Mutex
	tickets       map[string]Ticket
	byReservation map[string]string
	tombstones    map[string]time.Time
	outbox        *messaging.MemoryOutbox
}

func NewMemoryRepository(outbox *messaging.MemoryOutbox) *MemoryRepository {
	return &MemoryRepository{
		tickets:       make(map[string]Ticket),
		byReservation: make(map[string]string),
		tombstones:    make(map[string]time.Time),
		outbox:        outbox,
	}
}

func (r *MemoryRepository) Issue(ctx context.Context, t Ticket, evs ...events.Event) (Ticket, bool, error) {
	msgs, err := messaging.EncodeEvents(ctx, evs...)
	if err != nil {
		return Ticket{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byReservation[t.ReservationID]; ok {
		return r.tickets[id], false, nil
	}
	t.Version = 1
	r.tickets[t.ID] = t
	r.byReservation[t.ReservationID] = t.ID
	r.outbox.Append(msgs...)
	return t, true, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[id]
	if !ok {
		return Ticket{}, fmt.Errorf("ticket %s: %w", id, sagaerr.ErrNotFound)
	}
	return t, nil
}

func (r *MemoryRepository) ByOrder(_ context.Context, orderID string) ([]Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Ticket
	for _, t := range r.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TierID < out[j].TierID })
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fn UpdateFunc) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tickets[id]
	if !ok {
		return Ticket{}, fmt.Errorf("ticket %s: %w", id, sagaerr.ErrNotFound)
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

	if updated.Status != current.Status {
		updated.Version++
		r.tickets[id] = updated
	}
	r.outbox.Append(msgs...)
	return updated, nil
}

func (r *MemoryRepository) MarkOrderCancelled(_ context.Context, orderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tombstones[orderID]; !ok {
		r.tombstones[orderID] = at
	}
	return nil
}

func (r *MemoryRepository) IsOrderCancelled(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tombstones[orderID]
	return ok, nil
}
