package main

import (
	"context"

	"github.com/example/ticketing-saga/internal/api"
	"github.com/example/ticketing-saga/internal/app"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/ticket"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()

	logrus.Info("[Tickets] ========================================")
	logrus.Info("[Tickets] Ticketing - Ticket Issuance")
	logrus.Info("[Tickets] ========================================")

	a, err := app.New(ctx, saga.GroupTickets)
	if err != nil {
		logrus.Fatalf("[Tickets] Failed to start: %v", err)
	}
	defer a.Close()

	issuer := ticket.NewIssuer(store.NewTicketRepository(a.DB, a.Outbox), clock.NewSystem())
	a.Subscribe(saga.TicketSubscriptions(issuer)...)

	a.Serve(api.NewRouter(api.NewHandlers(api.Dependencies{
		Tickets: issuer,
	})))

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("[Tickets] Stopped with error: %v", err)
	}
}
