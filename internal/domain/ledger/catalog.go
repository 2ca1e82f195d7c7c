package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ticketing-saga/internal/events"
)

// OnSessionPublished initializes one entry per published tier. Redelivery
// leaves existing entries untouched.
func (l *Ledger) OnSessionPublished(ctx context.Context, e events.SessionPublished) error {
	var errs []error
	for _, tier := range e.Tiers {
		key := Key{EventID: e.EventID, SessionID: e.SessionID, TierID: tier.TierID}
		if _, err := l.Initialize(ctx, key, tier.Quantity); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session %s/%s published: %w", e.EventID, e.SessionID, err)
	}
	return nil
}

// OnSessionRemoved tears down the listed tiers, or every tier of the session
// when none are listed.
func (l *Ledger) OnSessionRemoved(ctx context.Context, e events.SessionRemoved) error {
	var keys []Key
	if len(e.Tiers) == 0 {
		var err error
		if keys, err = l.repo.KeysForSession(ctx, e.EventID, e.SessionID); err != nil {
			return fmt.Errorf("session %s/%s removed: %w", e.EventID, e.SessionID, err)
		}
	}
	for _, tierID := range e.Tiers {
		keys = append(keys, Key{EventID: e.EventID, SessionID: e.SessionID, TierID: tierID})
	}

	for _, key := range keys {
		if err := l.Teardown(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
