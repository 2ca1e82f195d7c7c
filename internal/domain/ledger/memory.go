package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ticketing-saga/internal/sagaerr"
)

type movementKey struct {
	causationID string
	typ         MovementType
}

// MemoryRepository is the in-process Repository used by tests. It enforces
// the same version check and movement uniqueness as the Postgres tables.
type MemoryRepository struct {
	mu        sync.Mutex
	entries   map[Key]Entry
	movements []Movement
	byCause   map[movementKey]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[Key]Entry),
		byCause: make(map[movementKey]int),
	}
}

func (r *MemoryRepository) Create(_ context.Context, e Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.Key]; ok {
		return false, nil
	}
	e.Version = 1
	r.entries[e.Key] = e
	return true, nil
}

func (r *MemoryRepository) Get(_ context.Context, key Key) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Entry{}, sagaerr.ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepository) Apply(_ context.Context, key Key, expectedVersion int64, available int, m Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return sagaerr.ErrNotFound
	}
	if e.Version != expectedVersion {
		return ErrVersionConflict
	}
	mk := movementKey{causationID: m.CausationID, typ: m.Type}
	if _, dup := r.byCause[mk]; dup {
		return ErrDuplicateMovement
	}

	e.AvailableQuantity = available
	e.Version++
	e.UpdatedAt = m.CreatedAt
	r.entries[key] = e
	r.byCause[mk] = len(r.movements)
	r.movements = append(r.movements, m)
	return nil
}

func (r *MemoryRepository) FindMovement(_ context.Context, causationID string, typ MovementType) (Movement, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byCause[movementKey{causationID: causationID, typ: typ}]
	if !ok {
		return Movement{}, false, nil
	}
	return r.movements[idx], true, nil
}

func (r *MemoryRepository) Movements(_ context.Context, key Key) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Movement
	for _, m := range r.movements {
		if m.Key == key {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepository) KeysForSession(_ context.Context, eventID, sessionID string) ([]Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []Key
	for k := range r.entries {
		if k.EventID == eventID && k.SessionID == sessionID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].TierID < keys[j].TierID })
	return keys, nil
}

func (r *MemoryRepository) Delete(_ context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return sagaerr.ErrNotFound
	}
	delete(r.entries, key)
	return nil
}
