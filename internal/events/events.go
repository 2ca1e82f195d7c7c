// Package events defines the closed set of messages exchanged by the saga
// participants, their topics and their wire encoding.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
)

// Event is implemented only by the variants declared in this package.
type Event interface {
	Topic() string
	PartitionKey() string
	isEvent()
}

// Message is an encoded event as it travels through the outbox and the bus.
type Message struct {
	ID            string
	Topic         string
	Key           string
	SchemaVersion int
	CorrelationID string
	OccurredAt    time.Time
	Payload       []byte
	// Metadata carries transport extras such as trace context.
	Metadata map[string]string
}

var ErrUnknownEvent = errors.New("unknown event")

type variant struct {
	version int
	decode  func([]byte) (Event, error)
}

func variantOf[T Event](version int) variant {
	return variant{
		version: version,
		decode: func(data []byte) (Event, error) {
			var e T
			if err := json.Unmarshal(data, &e); err != nil {
				return nil, err
			}
			return e, nil
		},
	}
}

var registry = map[string]variant{
	TopicOrderCreated:         variantOf[OrderCreated](1),
	TopicOrderPaid:            variantOf[OrderPaid](1),
	TopicOrderCancelled:       variantOf[OrderCancelled](1),
	TopicPaymentInitiated:     variantOf[PaymentInitiated](1),
	TopicPaymentCaptured:      variantOf[PaymentCaptured](1),
	TopicPaymentFailed:        variantOf[PaymentFailed](1),
	TopicPaymentRefunded:      variantOf[PaymentRefunded](1),
	TopicPaymentRefundFailed:  variantOf[PaymentRefundFailed](1),
	TopicReservationConfirmed: variantOf[ReservationConfirmed](1),
	TopicReservationFailed:    variantOf[ReservationFailed](1),
	TopicReservationReleased:  variantOf[ReservationReleased](1),
	TopicTicketIssued:         variantOf[TicketIssued](1),
	TopicTicketCancelled:      variantOf[TicketCancelled](1),
	TopicRefundDecision:       variantOf[RefundDecisionRegistered](1),
	TopicSessionPublished:     variantOf[SessionPublished](1),
	TopicSessionRemoved:       variantOf[SessionRemoved](1),
}

// SchemaVersion returns the version this build writes for topic.
func SchemaVersion(topic string) (int, bool) {
	v, ok := registry[topic]
	return v.version, ok
}

// Topics lists every topic with a registered variant.
func Topics() []string {
	topics := make([]string, 0, len(registry))
	for t := range registry {
		topics = append(topics, t)
	}
	return topics
}

// NewMessage encodes e, stamping it with a fresh id and the correlation id found in ctx.
func NewMessage(ctx context.Context, e Event) (Message, error) {
	v, ok := registry[e.Topic()]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownEvent, e.Topic())
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", e.Topic(), err)
	}

	return Message{
		ID:            uuid.NewString(),
		Topic:         e.Topic(),
		Key:           e.PartitionKey(),
		SchemaVersion: v.version,
		CorrelationID: logging.CorrelationID(ctx),
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
		Metadata:      map[string]string{},
	}, nil
}

// NewMessages encodes a batch, failing on the first bad event.
func NewMessages(ctx context.Context, evs ...Event) ([]Message, error) {
	msgs := make([]Message, 0, len(evs))
	for _, e := range evs {
		msg, err := NewMessage(ctx, e)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Decode turns msg back into its variant. Messages written by a newer
// schema than this build knows are rejected rather than half-read.
func Decode(msg Message) (Event, error) {
	v, ok := registry[msg.Topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Topic)
	}
	if msg.SchemaVersion > v.version {
		return nil, fmt.Errorf("%w: %s v%d (supported v%d)", sagaerr.ErrUnsupportedSchema, msg.Topic, msg.SchemaVersion, v.version)
	}

	e, err := v.decode(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sagaerr.ErrMalformedEvent, msg.Topic, err)
	}
	return e, nil
}

// DecodeAs decodes msg and asserts it is a T.
func DecodeAs[T Event](msg Message) (T, error) {
	var zero T
	e, err := Decode(msg)
	if err != nil {
		return zero, err
	}
	typed, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s carries %T", sagaerr.ErrMalformedEvent, msg.Topic, e)
	}
	return typed, nil
}
