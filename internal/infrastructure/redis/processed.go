package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/redis/go-redis/v9"
)

const (
	processedNS = "saga:v1:processed"

	valueLocked = "LOCK"
	valueDone   = "DONE"
)

func keyProcessed(service, key string) string {
	return fmt.Sprintf("%s:%s:%s", processedNS, service, key)
}

// ProcessedStore is a messaging.ProcessedStore. A claim is a short-lived
// lock; completing it replaces the lock with a marker kept for ttl.
type ProcessedStore struct {
	rdb     *redis.Client
	service string
	lockTTL time.Duration
	ttl     time.Duration
}

func NewProcessedStore(rdb *redis.Client, service string, lockTTL, ttl time.Duration) *ProcessedStore {
	return &ProcessedStore{rdb: rdb, service: service, lockTTL: lockTTL, ttl: ttl}
}

func (s *ProcessedStore) Claim(ctx context.Context, key string) (messaging.ClaimStatus, error) {
	k := keyProcessed(s.service, key)

	acquired, err := s.rdb.SetNX(ctx, k, valueLocked, s.lockTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", key, err)
	}
	if acquired {
		return messaging.ClaimAcquired, nil
	}

	v, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// lock expired between the two calls
		return s.Claim(ctx, key)
	}
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", key, err)
	}
	if v == valueDone {
		return messaging.ClaimCompleted, nil
	}
	return messaging.ClaimInFlight, nil
}

func (s *ProcessedStore) Complete(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, keyProcessed(s.service, key), valueDone, s.ttl).Err()
}

func (s *ProcessedStore) Abandon(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyProcessed(s.service, key)).Err()
}
