package main

import (
	"context"

	"github.com/example/ticketing-saga/internal/api"
	"github.com/example/ticketing-saga/internal/app"
	"github.com/example/ticketing-saga/internal/auth"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/order"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()

	logrus.Info("[Orders] ========================================")
	logrus.Info("[Orders] Ticketing - Order Service")
	logrus.Info("[Orders] ========================================")

	a, err := app.New(ctx, saga.GroupOrders)
	if err != nil {
		logrus.Fatalf("[Orders] Failed to start: %v", err)
	}
	defer a.Close()

	orders := order.NewService(store.NewOrderRepository(a.DB, a.Outbox), clock.NewSystem())
	a.Subscribe(saga.OrderSubscriptions(orders)...)

	// Tokens are optional here; without a secret the user id comes from the body.
	var jwt *auth.JWTService
	if a.Config.Auth.JWTSecret != "" {
		if jwt, err = a.JWT(); err != nil {
			logrus.Fatalf("[Orders] %v", err)
		}
	}
	a.Serve(api.NewRouter(api.NewHandlers(api.Dependencies{
		Orders: orders,
		JWT:    jwt,
	})))

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("[Orders] Stopped with error: %v", err)
	}
}
