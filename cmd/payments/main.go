package main

import (
	"context"

	"github.com/example/ticketing-saga/internal/api"
	"github.com/example/ticketing-saga/internal/app"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/payment"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()

	logrus.Info("[Payments] ========================================")
	logrus.Info("[Payments] Ticketing - Payment Service")
	logrus.Info("[Payments] ========================================")

	a, err := app.New(ctx, saga.GroupPayments)
	if err != nil {
		logrus.Fatalf("[Payments] Failed to start: %v", err)
	}
	defer a.Close()

	jwt, err := a.JWT()
	if err != nil {
		logrus.Fatalf("[Payments] %v", err)
	}

	cfg := a.Config.Provider
	provider := payment.WithTimeout(&payment.SimulatedProvider{
		DeclineAbove: cfg.DeclineAbove,
		Latency:      cfg.Latency,
	}, cfg.Timeout)
	logrus.WithFields(logrus.Fields{
		"provider":      provider.Name(),
		"timeout":       cfg.Timeout,
		"decline_above": cfg.DeclineAbove,
	}).Info("[Payments] Payment provider configured")

	processor := payment.NewProcessor(store.NewPaymentRepository(a.DB, a.Outbox), provider, clock.NewSystem(), cfg.Timeout)
	a.Subscribe(saga.PaymentSubscriptions(processor)...)

	a.Serve(api.NewRouter(api.NewHandlers(api.Dependencies{
		Payments: processor,
		JWT:      jwt,
	})))

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("[Payments] Stopped with error: %v", err)
	}
}
