package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	correlationIDKey
)

// CorrelationIDHeader is used both as HTTP header and as message metadata key.
const CorrelationIDHeader = "Correlation-ID"

// Init configures the standard logrus logger for a service process.
func Init(service, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging.Init: %w", err)
	}
	logrus.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.AddHook(serviceHook{service: service})
	return nil
}

type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = h.service
	}
	return nil
}

func ToContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey, entry)
}

// FromContext returns the entry stored in ctx, or a fresh one carrying the
// correlation id when nothing was stored.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey).(*logrus.Entry); ok {
		return entry
	}
	entry := logrus.NewEntry(logrus.StandardLogger())
	if id := CorrelationID(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return entry
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithCorrelation stores id (or a new one when empty) in ctx together with a
// logger entry tagged with it.
func WithCorrelation(ctx context.Context, id string) context.Context {
	if id == "" {
		id = shortuuid.New()
	}
	ctx = ContextWithCorrelationID(ctx, id)
	return ToContext(ctx, logrus.WithField("correlation_id", id))
}
