package main

import (
	"context"

	"github.com/example/ticketing-saga/internal/api"
	"github.com/example/ticketing-saga/internal/app"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/domain/reservation"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()

	logrus.Info("[TicketManagement] ========================================")
	logrus.Info("[TicketManagement] Ticketing - Inventory Ledger & Reservations")
	logrus.Info("[TicketManagement] ========================================")

	a, err := app.New(ctx, saga.GroupTicketManagement)
	if err != nil {
		logrus.Fatalf("[TicketManagement] Failed to start: %v", err)
	}
	defer a.Close()

	jwt, err := a.JWT()
	if err != nil {
		logrus.Fatalf("[TicketManagement] %v", err)
	}

	clk := clock.NewSystem()
	cfg := a.Config

	ledgerCfg := ledger.DefaultConfig()
	ledgerCfg.MaxRetries = cfg.Ledger.MaxRetries
	l := ledger.New(store.NewLedgerRepository(a.DB), clk, ledgerCfg)

	reservations := reservation.NewManager(
		store.NewReservationRepository(a.DB),
		l,
		a.Outbox,
		clk,
		reservation.WithHoldTTL(cfg.Reservation.HoldTTL),
	)

	a.Subscribe(saga.TicketManagementSubscriptions(l, reservations)...)
	a.Go("reservation-sweeper", func(ctx context.Context) error {
		return reservations.RunSweeper(ctx, cfg.Reservation.SweepInterval)
	})

	a.Serve(api.NewRouter(api.NewHandlers(api.Dependencies{
		Ledger:       l,
		Reservations: reservations,
		JWT:          jwt,
	})))

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("[TicketManagement] Stopped with error: %v", err)
	}
}
