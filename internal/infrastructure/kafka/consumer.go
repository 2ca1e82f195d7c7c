package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Consumer reads every topic of a router as one consumer group and commits
// an offset only after the router has handled the message.
type Consumer struct {
	reader *kafka.Reader
	router *messaging.Router
}

func NewConsumer(brokers []string, groupID string, router *messaging.Router) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		GroupTopics:    router.Topics(),
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{reader: reader, router: router}
}

// Consume blocks until ctx is cancelled. A message that still fails after
// the middleware chain is left uncommitted and fetched again after a restart
// or rebalance.
func (c *Consumer) Consume(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Error("Error reading message")
			continue
		}

		msg, err := fromKafka(m)
		if err != nil {
			logger.WithError(err).WithField("topic", m.Topic).Warn("Skipping message with unreadable headers")
		} else if err := c.router.Dispatch(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"topic":     m.Topic,
				"partition": m.Partition,
				"offset":    m.Offset,
			}).Error("Message not handled, stopping consumer")
			return fmt.Errorf("handle %s@%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s@%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
