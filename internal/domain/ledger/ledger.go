package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

type MovementType string

const (
	MovementReserve MovementType = "RESERVE"
	MovementRelease MovementType = "RELEASE"
	MovementAdjust  MovementType = "ADJUST"
)

// Key identifies one sellable inventory bucket.
type Key struct {
	EventID   string `json:"event_id" db:"event_id"`
	SessionID string `json:"session_id" db:"session_id"`
	TierID    string `json:"tier_id" db:"tier_id"`
}

func (k Key) String() string {
	return k.EventID + "/" + k.SessionID + "/" + k.TierID
}

func (k Key) validate() error {
	if k.EventID == "" || k.SessionID == "" || k.TierID == "" {
		return fmt.Errorf("%w: ledger key %q is incomplete", sagaerr.ErrValidation, k.String())
	}
	return nil
}

type Entry struct {
	Key
	InitialQuantity   int       `json:"initial_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Movement is an append-only audit row. Delta is negative for RESERVE.
type Movement struct {
	ID          string       `json:"id"`
	Key         Key          `json:"key"`
	Delta       int          `json:"delta"`
	Type        MovementType `json:"type"`
	CausationID string       `json:"causation_id"`
	CreatedAt   time.Time    `json:"created_at"`
}

var (
	// ErrVersionConflict means the entry changed between read and write.
	ErrVersionConflict = errors.New("ledger entry version conflict")
	// ErrDuplicateMovement means a movement with the same causation and type already exists.
	ErrDuplicateMovement = errors.New("duplicate ledger movement")

	errStaleReservation = errors.New("reservation predates the ledger entry")
)

type Repository interface {
	// Create stores e unless its key exists and reports whether it did.
	Create(ctx context.Context, e Entry) (bool, error)
	Get(ctx context.Context, key Key) (Entry, error)
	// Apply sets the available quantity and appends m in one atomic unit,
	// provided the stored version still equals expectedVersion.
	Apply(ctx context.Context, key Key, expectedVersion int64, available int, m Movement) error
	FindMovement(ctx context.Context, causationID string, typ MovementType) (Movement, bool, error)
	Movements(ctx context.Context, key Key) ([]Movement, error)
	KeysForSession(ctx context.Context, eventID, sessionID string) ([]Key, error)
	Delete(ctx context.Context, key Key) error
}

type Config struct {
	// MaxRetries bounds compare-and-swap attempts after the first one.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{MaxRetries: 5, InitialInterval: 5 * time.Millisecond, MaxInterval: 100 * time.Millisecond}
}

type InitResult string

const (
	Created       InitResult = "CREATED"
	AlreadyExists InitResult = "ALREADY_EXISTS"
)

// Ledger guards the available quantity of every tier. Counter updates and
// movement rows always change together.
type Ledger struct {
	repo  Repository
	clock clock.Clock
	cfg   Config
}

func New(repo Repository, clk clock.Clock, cfg Config) *Ledger {
	return &Ledger{repo: repo, clock: clk, cfg: cfg}
}

// Initialize creates the entry for key with quantity available. Calling it
// again for an existing key changes nothing.
func (l *Ledger) Initialize(ctx context.Context, key Key, quantity int) (InitResult, error) {
	if err := key.validate(); err != nil {
		return "", err
	}
	if quantity < 0 {
		return "", fmt.Errorf("%w: initial quantity must not be negative", sagaerr.ErrValidation)
	}

	now := l.clock.Now()
	created, err := l.repo.Create(ctx, Entry{
		Key:               key,
		InitialQuantity:   quantity,
		AvailableQuantity: quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return "", fmt.Errorf("initialize %s: %w", key, err)
	}
	if !created {
		return AlreadyExists, nil
	}

	logging.FromContext(ctx).WithField("ledger_key", key.String()).WithField("quantity", quantity).Info("[Ledger] Stock initialized")
	return Created, nil
}

// TryReserve takes quantity out of key on behalf of causationID. It returns
// an error wrapping sagaerr.ErrInsufficientStock when not enough is left and
// sagaerr.ErrTransientConflict when concurrent writers kept winning.
// Repeating a reservation for the same causation is a no-op.
func (l *Ledger) TryReserve(ctx context.Context, key Key, quantity int, causationID string) error {
	if err := validateMovement(key, quantity, causationID); err != nil {
		return err
	}

	if _, found, err := l.repo.FindMovement(ctx, causationID, MovementReserve); err != nil {
		return fmt.Errorf("reserve %s: %w", key, err)
	} else if found {
		return nil
	}

	err := l.apply(ctx, key, MovementReserve, causationID, func(e Entry) (int, error) {
		if e.AvailableQuantity < quantity {
			return 0, fmt.Errorf("%w: %s has %d, requested %d", sagaerr.ErrInsufficientStock, key, e.AvailableQuantity, quantity)
		}
		return -quantity, nil
	})
	recordOutcome("reserve", err)
	return err
}

// Release gives back what causationID reserved. Releasing a causation that
// never reserved, or was already released, is a no-op.
func (l *Ledger) Release(ctx context.Context, key Key, quantity int, causationID string) error {
	if err := validateMovement(key, quantity, causationID); err != nil {
		return err
	}

	reserved, found, err := l.repo.FindMovement(ctx, causationID, MovementReserve)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if !found {
		return nil
	}
	if -reserved.Delta != quantity {
		return fmt.Errorf("%w: release of %d does not match reservation of %d for %s", sagaerr.ErrValidation, quantity, -reserved.Delta, causationID)
	}
	if _, released, err := l.repo.FindMovement(ctx, causationID, MovementRelease); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	} else if released {
		return nil
	}

	err = l.apply(ctx, reserved.Key, MovementRelease, causationID, func(e Entry) (int, error) {
		if reserved.CreatedAt.Before(e.CreatedAt) {
			return 0, errStaleReservation
		}
		return quantity, nil
	})
	if errors.Is(err, sagaerr.ErrNotFound) || errors.Is(err, errStaleReservation) {
		logging.FromContext(ctx).WithField("ledger_key", key.String()).Warn("[Ledger] Release after teardown ignored")
		return nil
	}
	recordOutcome("release", err)
	return err
}

// Adjust changes capacity by delta, for operator corrections.
func (l *Ledger) Adjust(ctx context.Context, key Key, delta int, causationID string) error {
	if err := key.validate(); err != nil {
		return err
	}
	if delta == 0 || causationID == "" {
		return fmt.Errorf("%w: adjustment needs a non-zero delta and a causation id", sagaerr.ErrValidation)
	}

	if _, found, err := l.repo.FindMovement(ctx, causationID, MovementAdjust); err != nil {
		return fmt.Errorf("adjust %s: %w", key, err)
	} else if found {
		return nil
	}

	err := l.apply(ctx, key, MovementAdjust, causationID, func(e Entry) (int, error) {
		if e.AvailableQuantity+delta < 0 {
			return 0, fmt.Errorf("%w: adjusting %s by %d would leave %d available", sagaerr.ErrValidation, key, delta, e.AvailableQuantity+delta)
		}
		return delta, nil
	})
	recordOutcome("adjust", err)
	return err
}

// Teardown removes the entry once its event, session or tier is withdrawn.
// Movements are kept for audit; an entry initialized again for the same key
// ignores them.
func (l *Ledger) Teardown(ctx context.Context, key Key) error {
	if err := l.repo.Delete(ctx, key); err != nil && !errors.Is(err, sagaerr.ErrNotFound) {
		return fmt.Errorf("teardown %s: %w", key, err)
	}
	logging.FromContext(ctx).WithField("ledger_key", key.String()).Info("[Ledger] Stock torn down")
	return nil
}

func (l *Ledger) Get(ctx context.Context, key Key) (Entry, error) {
	return l.repo.Get(ctx, key)
}

// KeysForSession lists the tiers initialized for a session.
func (l *Ledger) KeysForSession(ctx context.Context, eventID, sessionID string) ([]Key, error) {
	return l.repo.KeysForSession(ctx, eventID, sessionID)
}

type Report struct {
	Key        Key  `json:"key"`
	Initial    int  `json:"initial"`
	Available  int  `json:"available"`
	Expected   int  `json:"expected"`
	Reserved   int  `json:"reserved"`
	Released   int  `json:"released"`
	Adjusted   int  `json:"adjusted"`
	Consistent bool `json:"consistent"`
}

// Reconcile checks that the counter equals the initial quantity plus the
// sum of movements recorded since the entry was created.
func (l *Ledger) Reconcile(ctx context.Context, key Key) (Report, error) {
	entry, err := l.repo.Get(ctx, key)
	if err != nil {
		return Report{}, err
	}
	movements, err := l.repo.Movements(ctx, key)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile %s: %w", key, err)
	}

	r := Report{Key: key, Initial: entry.InitialQuantity, Available: entry.AvailableQuantity, Expected: entry.InitialQuantity}
	for _, m := range movements {
		if m.CreatedAt.Before(entry.CreatedAt) {
			continue
		}
		r.Expected += m.Delta
		switch m.Type {
		case MovementReserve:
			r.Reserved -= m.Delta
		case MovementRelease:
			r.Released += m.Delta
		case MovementAdjust:
			r.Adjusted += m.Delta
		}
	}
	r.Consistent = r.Expected == r.Available
	return r, nil
}

// apply runs a compare-and-swap loop: read the entry, compute the delta,
// write with the read version, retry with backoff when the version moved.
func (l *Ledger) apply(ctx context.Context, key Key, typ MovementType, causationID string, delta func(Entry) (int, error)) error {
	operation := func() error {
		entry, err := l.repo.Get(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		d, err := delta(entry)
		if err != nil {
			// A twin delivery may have committed after the caller's duplicate check.
			if _, found, ferr := l.repo.FindMovement(ctx, causationID, typ); ferr == nil && found {
				return nil
			}
			return backoff.Permanent(err)
		}

		err = l.repo.Apply(ctx, key, entry.Version, entry.AvailableQuantity+d, Movement{
			ID:          uuid.NewString(),
			Key:         key,
			Delta:       d,
			Type:        typ,
			CausationID: causationID,
			CreatedAt:   l.clock.Now(),
		})
		switch {
		case err == nil, errors.Is(err, ErrDuplicateMovement):
			return nil
		case errors.Is(err, ErrVersionConflict):
			metrics.LedgerConflicts.Inc()
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialInterval
	b.MaxInterval = l.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.cfg.MaxRetries)), ctx)

	err := backoff.Retry(operation, policy)
	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("%w: %s on %s gave up after %d retries", sagaerr.ErrTransientConflict, typ, key, l.cfg.MaxRetries)
	}
	return err
}

func validateMovement(key Key, quantity int, causationID string) error {
	if err := key.validate(); err != nil {
		return err
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", sagaerr.ErrValidation, quantity)
	}
	if causationID == "" {
		return fmt.Errorf("%w: causation id is required", sagaerr.ErrValidation)
	}
	return nil
}

func recordOutcome(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, sagaerr.ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, sagaerr.ErrTransientConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	metrics.LedgerOperations.WithLabelValues(op, outcome).Inc()
}
