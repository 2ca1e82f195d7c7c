package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
)

type ClaimStatus int

const (
	ClaimAcquired ClaimStatus = iota
	ClaimCompleted
	ClaimInFlight
)

// ProcessedStore remembers which messages a handler has already finished.
// It is a fast path only: every handler is idempotent on its own keys.
type ProcessedStore interface {
	Claim(ctx context.Context, key string) (ClaimStatus, error)
	Complete(ctx context.Context, key string) error
	Abandon(ctx context.Context, key string) error
}

var ErrInFlight = errors.New("message is being processed by another consumer")

// Dedup skips messages already completed by the same subscription. When the
// store is unreachable the handler still runs.
func Dedup(store ProcessedStore) Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			key := sub.Name + ":" + msg.ID
			logger := logging.FromContext(ctx)

			status, err := store.Claim(ctx, key)
			if err != nil {
				logger.WithError(err).Warn("Processed-message store unavailable")
				return next(ctx, msg)
			}

			switch status {
			case ClaimCompleted:
				metrics.DuplicatesSkipped.WithLabelValues(sub.Name).Inc()
				logger.Debug("Skipping already processed message")
				return nil
			case ClaimInFlight:
				return ErrInFlight
			}

			if err := next(ctx, msg); err != nil {
				if abandonErr := store.Abandon(ctx, key); abandonErr != nil {
					logger.WithError(abandonErr).Warn("Could not release message claim")
				}
				return err
			}

			if err := store.Complete(ctx, key); err != nil {
				logger.WithError(err).Warn("Could not mark message as processed")
			}
			return nil
		}
	}
}

type MemoryProcessedStore struct {
	mu     sync.Mutex
	claims map[string]ClaimStatus
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{claims: make(map[string]ClaimStatus)}
}

func (s *MemoryProcessedStore) Claim(_ context.Context, key string) (ClaimStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.claims[key]; ok {
		if status == ClaimCompleted {
			return ClaimCompleted, nil
		}
		return ClaimInFlight, nil
	}
	s.claims[key] = ClaimAcquired
	return ClaimAcquired, nil
}

func (s *MemoryProcessedStore) Complete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[key] = ClaimCompleted
	return nil
}

func (s *MemoryProcessedStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}
