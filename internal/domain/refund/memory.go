package refund

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/sagaerr"
)

type MemoryRepository struct {
	mu       sync.Mutex
	requests map[string]Request
	outbox   *messaging.MemoryOutbox
}

func NewMemoryRepository(outbox *messaging.MemoryOutbox) *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]Request),
		outbox:   outbox,
	}
}

func (m *MemoryRepository) Create(_ context.Context, r Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[r.ID]; ok {
		return fmt.Errorf("refund request %s already exists", r.ID)
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("refund request %s: %w", id, sagaerr.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryRepository) ByOrder(_ context.Context, orderID string) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.requests {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) Update(ctx context.Context, id string, fn UpdateFunc) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("refund request %s: %w", id, sagaerr.ErrNotFound)
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
		m.requests[id] = updated
	}
	m.outbox.Append(msgs...)
	return updated, nil
}
