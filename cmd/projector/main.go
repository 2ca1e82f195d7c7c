package main

import (
	"context"

	"github.com/example/ticketing-saga/internal/api"
	"github.com/example/ticketing-saga/internal/app"
	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/infrastructure/store"
	"github.com/example/ticketing-saga/internal/projection"
	"github.com/example/ticketing-saga/internal/saga"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()

	logrus.Info("[Projector] ========================================")
	logrus.Info("[Projector] Ticketing - Saga Projector")
	logrus.Info("[Projector] ========================================")

	a, err := app.New(ctx, saga.GroupProjector)
	if err != nil {
		logrus.Fatalf("[Projector] Failed to start: %v", err)
	}
	defer a.Close()

	cfg := a.Config.Saga
	projector := projection.NewProjector(store.NewSagaRepository(a.DB), clock.NewSystem())
	a.Subscribe(saga.ProjectorSubscriptions(projector)...)

	monitor := projection.NewMonitor(projector, cfg.StuckAfter, cfg.ScanInterval)
	a.Go("stuck-saga-monitor", monitor.Run)

	a.Serve(api.NewRouter(api.NewHandlers(api.Dependencies{
		Sagas:      projector,
		StuckAfter: cfg.StuckAfter,
	})))

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("[Projector] Stopped with error: %v", err)
	}
}
