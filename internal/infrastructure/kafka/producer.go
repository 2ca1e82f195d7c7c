package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerEventID       = "event_id"
	headerEventName     = "event_name"
	headerSchemaVersion = "schema_version"
	headerCorrelationID = "correlation_id"
	headerOccurredAt    = "occurred_at"
)

// Producer writes saga messages to their own topics. It implements
// messaging.Publisher.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

// Publish writes msgs in one batch. Keys keep every event of an order on the
// same partition.
func (p *Producer) Publish(ctx context.Context, msgs ...events.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ctx, span := otel.Tracer("kafka").Start(ctx, fmt.Sprintf("publish %d messages", len(msgs)),
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	out := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toKafka(msg))
	}

	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("write %d messages: %w", len(out), err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func toKafka(msg events.Message) kafka.Message {
	headers := []kafka.Header{
		{Key: headerEventID, Value: []byte(msg.ID)},
		{Key: headerEventName, Value: []byte(msg.Topic)},
		{Key: headerSchemaVersion, Value: []byte(strconv.Itoa(msg.SchemaVersion))},
		{Key: headerCorrelationID, Value: []byte(msg.CorrelationID)},
		{Key: headerOccurredAt, Value: []byte(msg.OccurredAt.UTC().Format(time.RFC3339Nano))},
	}
	for k, v := range msg.Metadata {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: headers,
		Time:    msg.OccurredAt,
	}
}

// fromKafka rebuilds a Message from a record written by toKafka. Records
// from other producers fall back to the broker's topic and timestamp.
func fromKafka(m kafka.Message) (events.Message, error) {
	msg := events.Message{
		Topic:      m.Topic,
		Key:        string(m.Key),
		Payload:    m.Value,
		OccurredAt: m.Time,
		Metadata:   map[string]string{},
	}

	for _, h := range m.Headers {
		value := string(h.Value)
		switch h.Key {
		case headerEventID:
			msg.ID = value
		case headerEventName:
			if value != "" {
				msg.Topic = value
			}
		case headerSchemaVersion:
			v, err := strconv.Atoi(value)
			if err != nil {
				return events.Message{}, fmt.Errorf("bad %s header %q: %w", headerSchemaVersion, value, err)
			}
			msg.SchemaVersion = v
		case headerCorrelationID:
			msg.CorrelationID = value
		case headerOccurredAt:
			if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
				msg.OccurredAt = t
			}
		default:
			msg.Metadata[h.Key] = value
		}
	}

	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
	}
	if msg.SchemaVersion == 0 {
		msg.SchemaVersion = 1
	}
	return msg, nil
}
