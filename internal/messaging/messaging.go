// Package messaging connects domain handlers to the event bus: handler
// routing, the middleware chain every consumer runs, the transactional
// outbox relay and an in-memory bus for tests.
package messaging

import (
	"context"
	"errors"
	"sort"

	"github.com/example/ticketing-saga/internal/events"
)

type Publisher interface {
	Publish(ctx context.Context, msgs ...events.Message) error
}

// Enqueuer stores events for later publication by a Relay.
type Enqueuer interface {
	Enqueue(ctx context.Context, evs ...events.Event) error
}

type Handler func(ctx context.Context, msg events.Message) error

// Subscription binds a named handler to one topic. Name must be unique
// within a service; it scopes deduplication and metrics.
type Subscription struct {
	Name   string
	Topic  string
	Handle Handler
}

// Subscribe builds a Subscription for the topic of T.
func Subscribe[T events.Event](name string, fn func(ctx context.Context, e T) error) Subscription {
	var zero T
	return Subscription{
		Name:  name,
		Topic: zero.Topic(),
		Handle: func(ctx context.Context, msg events.Message) error {
			e, err := events.DecodeAs[T](msg)
			if err != nil {
				return err
			}
			return fn(ctx, e)
		},
	}
}

// Middleware decorates the handler of sub.
type Middleware func(sub Subscription, next Handler) Handler

// Router dispatches messages of a consumer group to its subscriptions.
type Router struct {
	subs        map[string][]Subscription
	middlewares []Middleware
}

// NewRouter applies middlewares outermost first.
func NewRouter(middlewares ...Middleware) *Router {
	return &Router{
		subs:        make(map[string][]Subscription),
		middlewares: middlewares,
	}
}

func (r *Router) Add(subs ...Subscription) {
	for _, sub := range subs {
		handler := sub.Handle
		for i := len(r.middlewares) - 1; i >= 0; i-- {
			handler = r.middlewares[i](sub, handler)
		}
		sub.Handle = handler
		r.subs[sub.Topic] = append(r.subs[sub.Topic], sub)
	}
}

func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.subs))
	for t := range r.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch runs every subscription of msg.Topic. A message is complete only
// when all of them succeed.
func (r *Router) Dispatch(ctx context.Context, msg events.Message) error {
	var errs []error
	for _, sub := range r.subs[msg.Topic] {
		if err := sub.Handle(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
