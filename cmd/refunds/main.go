package main

import (
	"context"

	"github.com/example/ticketing-saga/internal/api"
	"github.com/example/ticketing-saga/internal/app"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/refund"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/sirupsen/logrus"
)

// The refund service only publishes decisions; it consumes nothing.
func main() {
	ctx := context.Background()

	logrus.Info("[Refunds] ========================================")
	logrus.Info("[Refunds] Ticketing - Refund Arbitration")
	logrus.Info("[Refunds] ========================================")

	a, err := app.New(ctx, saga.GroupRefunds)
	if err != nil {
		logrus.Fatalf("[Refunds] Failed to start: %v", err)
	}
	defer a.Close()

	jwt, err := a.JWT()
	if err != nil {
		logrus.Fatalf("[Refunds] %v", err)
	}

	arbiter := refund.NewArbiter(store.NewRefundRepository(a.DB, a.Outbox), clock.NewSystem())

	a.Serve(api.NewRouter(api.NewHandlers(api.Dependencies{
		Refunds: arbiter,
		JWT:     jwt,
	})))

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("[Refunds] Stopped with error: %v", err)
	}
}
