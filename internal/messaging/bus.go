package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ticketing-saga/internal/events"
)

// MemoryBus is an in-process bus. Every attached Router behaves like its own
// consumer group: it sees each published message once per delivery.
type MemoryBus struct {
	mu        sync.Mutex
	routers   []*Router
	queue     []events.Message
	published []events.Message
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Attach(routers ...*Router) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routers = append(b.routers, routers...)
}

// Publish queues msgs; nothing is delivered until Deliver runs.
func (b *MemoryBus) Publish(_ context.Context, msgs ...events.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, msgs...)
	b.published = append(b.published, msgs...)
	return nil
}

// Deliver hands every queued message to the attached routers and returns how
// many messages were taken off the queue.
func (b *MemoryBus) Deliver(ctx context.Context) (int, error) {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	routers := append([]*Router(nil), b.routers...)
	b.mu.Unlock()

	var errs []error
	for _, msg := range batch {
		if err := b.deliverTo(ctx, routers, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return len(batch), errors.Join(errs...)
}

// Redeliver pushes msg through the routers again, as a broker would after a
// consumer crash.
func (b *MemoryBus) Redeliver(ctx context.Context, msg events.Message) error {
	b.mu.Lock()
	routers := append([]*Router(nil), b.routers...)
	b.mu.Unlock()
	return b.deliverTo(ctx, routers, msg)
}

func (b *MemoryBus) deliverTo(ctx context.Context, routers []*Router, msg events.Message) error {
	var errs []error
	for _, r := range routers {
		if err := r.Dispatch(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Published returns every message ever published on topic.
func (b *MemoryBus) Published(topic string) []events.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []events.Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
