package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type ChainConfig struct {
	// Poison receives messages that failed terminally or ran out of retries.
	Poison Publisher
	// Processed is optional.
	Processed ProcessedStore
	Retry     RetryConfig
}

// StandardMiddlewares is the chain every consumer runs, outermost first.
func StandardMiddlewares(cfg ChainConfig) []Middleware {
	mws := []Middleware{
		Correlation(),
		Tracing(),
		Logging(),
		PoisonQueue(cfg.Poison),
		Metrics(),
		Retry(cfg.Retry),
	}
	if cfg.Processed != nil {
		mws = append(mws, Dedup(cfg.Processed))
	}
	return append(mws, Recoverer())
}

func Correlation() Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			ctx = logging.WithCorrelation(ctx, msg.CorrelationID)
			ctx = logging.ToContext(ctx, logging.FromContext(ctx).WithFields(logrus.Fields{
				"handler":    sub.Name,
				"topic":      msg.Topic,
				"message_id": msg.ID,
			}))
			return next(ctx, msg)
		}
	}
}

func Tracing() Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
			ctx, span := otel.Tracer("messaging").Start(
				ctx,
				fmt.Sprintf("topic: %s, handler: %s", msg.Topic, sub.Name),
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()

			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

func Logging() Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			logger := logging.FromContext(ctx)
			logger.WithField("key", msg.Key).Info("Handling a message")

			err := next(ctx, msg)
			if err != nil {
				logger.WithError(err).Error("Error while handling a message")
			}
			return err
		}
	}
}

// PoisonQueue acknowledges every failure that reaches it: domain rejections
// are only logged, everything else is copied to the poison topic first.
func PoisonQueue(pub Publisher) Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			err := next(ctx, msg)
			if err == nil {
				return nil
			}

			logger := logging.FromContext(ctx)
			switch {
			case errors.Is(err, events.ErrUnknownEvent):
				logger.WithError(err).Warn("Skipping message of unknown type")
				return nil
			case sagaerr.Rejected(err):
				logger.WithError(err).Warn("Message rejected by domain rules")
				return nil
			}

			if ctx.Err() != nil {
				return err
			}

			if pubErr := pub.Publish(ctx, poisonMessage(sub, msg, err)); pubErr != nil {
				return errors.Join(err, fmt.Errorf("publish to poison queue: %w", pubErr))
			}
			metrics.MessagesPoisoned.WithLabelValues(sub.Name, msg.Topic).Inc()
			logger.WithError(err).Error("Message moved to poison queue")
			return nil
		}
	}
}

func poisonMessage(sub Subscription, msg events.Message, cause error) events.Message {
	metadata := make(map[string]string, len(msg.Metadata)+4)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	metadata["original_id"] = msg.ID
	metadata["original_topic"] = msg.Topic
	metadata["handler"] = sub.Name
	metadata["error"] = cause.Error()

	return events.Message{
		ID:            uuid.NewString(),
		Topic:         events.TopicPoison,
		Key:           msg.Key,
		SchemaVersion: msg.SchemaVersion,
		CorrelationID: msg.CorrelationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       msg.Payload,
		Metadata:      metadata,
	}
}

func Metrics() Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			start := time.Now()
			err := next(ctx, msg)
			metrics.HandlerDuration.WithLabelValues(sub.Name, msg.Topic).Observe(time.Since(start).Seconds())

			outcome := "ok"
			switch {
			case err == nil:
			case sagaerr.Rejected(err):
				outcome = "rejected"
			default:
				outcome = "error"
			}
			metrics.MessagesHandled.WithLabelValues(sub.Name, msg.Topic, outcome).Inc()
			return err
		}
	}
}

// Retry re-runs the handler with exponential backoff while the error is
// retryable.
func Retry(cfg RetryConfig) Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) error {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.InitialInterval
			b.MaxInterval = cfg.MaxInterval
			b.Multiplier = 2
			b.MaxElapsedTime = 0
			policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxRetries)), ctx)

			return backoff.RetryNotify(func() error {
				err := next(ctx, msg)
				if err == nil {
					return nil
				}
				if sagaerr.Terminal(err) || errors.Is(err, events.ErrUnknownEvent) {
					return backoff.Permanent(err)
				}
				return err
			}, policy, func(err error, wait time.Duration) {
				logging.FromContext(ctx).WithError(err).WithField("retry_in", wait).Warn("Retrying message")
			})
		}
	}
}

func Recoverer() Middleware {
	return func(sub Subscription, next Handler) Handler {
		return func(ctx context.Context, msg events.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in handler %s: %v\n%s", sub.Name, r, debug.Stack())
				}
			}()
			return next(ctx, msg)
		}
	}
}
