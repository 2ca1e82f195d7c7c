// Package app assembles the shared runtime of a saga participant: config,
// logging, tracing, Postgres with its outbox, the Redis inbox, Kafka and
// the HTTP server. A binary adds its subscriptions, workers and routes and
// then calls Run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ticketing-saga/internal/auth"
	"github.com/example/ticketing-saga/internal/config"
	"github.com/example/ticketing-saga/internal/infrastructure/kafka"
	"github.com/example/ticketing-saga/internal/infrastructure/redis"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/example/ticketing-saga/internal/tracing"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

const (
	claimTTL        = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type worker struct {
	name string
	run  func(ctx context.Context) error
}

type App struct {
	Config *config.Config
	DB     *sqlx.DB
	// Outbox is the Enqueuer and relay source of this service.
	Outbox *store.Outbox

	logger   *logrus.Entry
	tp       *tracesdk.TracerProvider
	rdb      *goredis.Client
	producer *kafka.Producer
	router   *messaging.Router
	handler  http.Handler
	workers  []worker
}

// New connects every backing service. On failure whatever was already
// opened is closed again.
func New(ctx context.Context, service string) (*App, error) {
	cfg, err := config.New(service)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(service, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		logger: logrus.WithField("service", service),
	}

	a.tp, err = tracing.ConfigureTraceProvider(service, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return nil, err
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	db, err := store.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	a.DB = db
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	a.Outbox = store.NewOutbox(db, cfg.Service)
	a.logger.Info("Connected to PostgreSQL")

	a.rdb, err = redis.New(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.logger.Info("Connected to Redis")

	err = kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, saga.SagaTopics(), kafka.TopicConfig{
		Partitions: cfg.Kafka.TopicPartitions,
	})
	if err != nil {
		// The writer still creates topics on first publish.
		a.logger.WithError(err).Warn("Could not provision topics")
	}
	a.producer = kafka.NewProducer(cfg.Kafka.Brokers)

	a.router = messaging.NewRouter(messaging.StandardMiddlewares(messaging.ChainConfig{
		Poison:    a.producer,
		Processed: redis.NewProcessedStore(a.rdb, cfg.Service, claimTTL, cfg.Redis.DedupTTL),
		Retry:     messaging.RetryConfig(cfg.Retry),
	})...)

	return nil
}

// Subscribe adds handlers to the service consumer.
func (a *App) Subscribe(subs ...messaging.Subscription) {
	a.router.Add(subs...)
}

// Serve sets the HTTP handler exposed on Config.HTTPAddr.
func (a *App) Serve(h http.Handler) {
	a.handler = h
}

// Go registers a background loop that runs until shutdown.
func (a *App) Go(name string, run func(ctx context.Context) error) {
	a.workers = append(a.workers, worker{name: name, run: run})
}

// JWT returns the token service, failing when no secret is configured.
func (a *App) JWT() (*auth.JWTService, error) {
	if err := a.Config.RequireJWTSecret(); err != nil {
		return nil, err
	}
	return auth.NewJWTService(a.Config.Auth.JWTSecret, a.Config.Auth.TokenExpiry), nil
}

// Run blocks until SIGINT/SIGTERM or until one component fails. The HTTP
// server gets shutdownTimeout to drain.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ToContext(ctx, a.logger)

	g, gCtx := errgroup.WithContext(ctx)

	relay := messaging.NewRelay(a.Outbox, a.producer, a.Config.Outbox.PollInterval, a.Config.Outbox.BatchSize)
	g.Go(func() error {
		a.logger.Info("Starting outbox relay")
		return relay.Run(gCtx)
	})

	if topics := a.router.Topics(); len(topics) > 0 {
		consumer := kafka.NewConsumer(a.Config.Kafka.Brokers, a.Config.Kafka.GroupID, a.router)
		g.Go(func() error {
			defer consumer.Close()
			a.logger.WithFields(logrus.Fields{
				"group":  a.Config.Kafka.GroupID,
				"topics": topics,
			}).Info("Starting event consumer")
			return consumer.Consume(gCtx)
		})
	}

	for _, w := range a.workers {
		w := w
		g.Go(func() error {
			a.logger.WithField("worker", w.name).Info("Starting worker")
			if err := w.run(gCtx); err != nil {
				return fmt.Errorf("%s: %w", w.name, err)
			}
			return nil
		})
	}

	if a.handler != nil {
		srv := &http.Server{
			Addr:              a.Config.HTTPAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	a.logger.Info("Shutting down...")
	return err
}

// Close releases every connection New opened. It is safe to call on a
// partially built App.
func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = append(errs, tracing.Shutdown(ctx, a.tp))
	return errors.Join(errs...)
}
