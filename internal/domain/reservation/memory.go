package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ticketing-saga/internal/sagaerr"
)

type orderTier struct {
	orderID string
	tierID  string
}

// MemoryRepository keeps reservations in process. (orderId, tierId) is unique
// as in the reservations table.
type MemoryRepository struct {
	mu         sync.Mutex
	byID       map[string]Reservation
	byLine     map[orderTier]string
	tombstones map[string]time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[string]Reservation),
		byLine:     make(map[orderTier]string),
		tombstones: make(map[string]time.Time),
	}
}

func (r *MemoryRepository) Claim(_ context.Context, res Reservation) (Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := orderTier{orderID: res.OrderID, tierID: res.TierID}
	if id, ok := r.byLine[line]; ok {
		return r.byID[id], false, nil
	}
	res.Version = 1
	r.byID[res.ID] = res
	r.byLine[line] = res.ID
	return res, true, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.byID[id]
	if !ok {
		return Reservation{}, sagaerr.ErrNotFound
	}
	return res, nil
}

func (r *MemoryRepository) ByOrder(_ context.Context, orderID string) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Reservation
	for _, res := range r.byID {
		if res.OrderID == orderID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TierID < out[j].TierID })
	return out, nil
}

func (r *MemoryRepository) Transition(_ context.Context, id string, from, to Status, at time.Time, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.byID[id]
	if !ok {
		return false, sagaerr.ErrNotFound
	}
	if res.Status != from {
		return false, nil
	}
	if !CanTransition(from, to) {
		return false, sagaerr.ErrInvalidTransition
	}
	res.applyTransition(to, at, reason)
	r.byID[id] = res
	return true, nil
}

func (r *MemoryRepository) ClaimExpired(_ context.Context, now time.Time, limit int) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Reservation
	for _, res := range r.byID {
		if res.Status == StatusPending && res.ExpiresAt.Before(now) {
			due = append(due, res)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].applyTransition(StatusExpiring, now, "")
		r.byID[due[i].ID] = due[i]
	}
	return due, nil
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

// Put stores res as is. Tests use it to stage reservations in a given state.
func (r *MemoryRepository) Put(res Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[res.ID] = res
	r.byLine[orderTier{orderID: res.OrderID, tierID: res.TierID}] = res.ID
}
