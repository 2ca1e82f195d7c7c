package projection

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/ticketing-saga/internal/sagaerr"
)

type MemoryRepository struct {
	mu     sync.Mutex
	states map[string]SagaState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: make(map[string]SagaState)}
}

func (r *MemoryRepository) Update(_ context.Context, orderID string, fn func(s *SagaState)) (SagaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[orderID]
	if !ok {
		s = SagaState{OrderID: orderID}
	}
	s = cloneState(s)
	fn(&s)
	s.Version++
	r.states[orderID] = s
	return cloneState(s), nil
}

func (r *MemoryRepository) Get(_ context.Context, orderID string) (SagaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[orderID]
	if !ok {
		return SagaState{}, fmt.Errorf("saga %s: %w", orderID, sagaerr.ErrNotFound)
	}
	return cloneState(s), nil
}

func (r *MemoryRepository) FindStuck(_ context.Context, cutoff time.Time) ([]SagaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SagaState
	for _, s := range r.states {
		if !s.Step.Finished() && s.UpdatedAt.Before(cutoff) {
			out = append(out, cloneState(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func cloneState(s SagaState) SagaState {
	s.Reservations = slices.Clone(s.Reservations)
	s.ReleasedReservations = slices.Clone(s.ReleasedReservations)
	s.Tickets = slices.Clone(s.Tickets)
	s.CancelledTickets = slices.Clone(s.CancelledTickets)
	return s
}
