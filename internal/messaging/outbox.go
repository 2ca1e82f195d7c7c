package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EncodeEvents turns evs into messages carrying the trace context of ctx.
func EncodeEvents(ctx context.Context, evs ...events.Event) ([]events.Message, error) {
	msgs, err := events.NewMessages(ctx, evs...)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msgs[i].Metadata))
	}
	return msgs, nil
}

// OutboxStore holds messages written in the same transaction as the state
// change that produced them.
type OutboxStore interface {
	// Process hands up to limit pending messages, oldest first, to fn and
	// marks them published only if fn succeeds.
	Process(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error)
}

// Relay forwards outbox rows to the bus.
type Relay struct {
	store     OutboxStore
	publisher Publisher
	interval  time.Duration
	batchSize int
}

func NewRelay(store OutboxStore, publisher Publisher, interval time.Duration, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{store: store, publisher: publisher, interval: interval, batchSize: batchSize}
}

// Flush publishes until the outbox is empty and returns how many messages went out.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.Process(ctx, r.batchSize, func(ctx context.Context, msgs []events.Message) error {
			return r.publisher.Publish(ctx, msgs...)
		})
		total += n
		if err != nil {
			return total, fmt.Errorf("relay outbox: %w", err)
		}
		metrics.OutboxPublished.Add(float64(n))
		if n < r.batchSize {
			return total, nil
		}
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				logging.FromContext(ctx).WithError(err).Error("Outbox relay failed")
			}
		}
	}
}

// MemoryOutbox is an OutboxStore and Enqueuer for tests and single-process runs.
type MemoryOutbox struct {
	mu        sync.Mutex
	pending   []events.Message
	published []events.Message
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Enqueue(ctx context.Context, evs ...events.Event) error {
	msgs, err := EncodeEvents(ctx, evs...)
	if err != nil {
		return err
	}
	o.Append(msgs...)
	return nil
}

// Append adds already encoded messages. In-memory repositories call it while
// holding their own lock so state and outbox change together.
func (o *MemoryOutbox) Append(msgs ...events.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, msgs...)
}

func (o *MemoryOutbox) Process(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := min(limit, len(o.pending))
	if n == 0 {
		return 0, nil
	}
	batch := append([]events.Message(nil), o.pending[:n]...)
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	o.pending = o.pending[n:]
	o.published = append(o.published, batch...)
	return n, nil
}

// Pending returns the messages not yet relayed.
func (o *MemoryOutbox) Pending() []events.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.Message(nil), o.pending...)
}

// PendingTopics lists the topics of unrelayed messages in order.
func (o *MemoryOutbox) PendingTopics() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	topics := make([]string, 0, len(o.pending))
	for _, m := range o.pending {
		topics = append(topics, m.Topic)
	}
	return topics
}
