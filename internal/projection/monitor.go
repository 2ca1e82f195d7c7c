package projection

import (
	"context"
	"time"

	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Monitor periodically reports sagas that stopped making progress.
type Monitor struct {
	projector  *Projector
	stuckAfter time.Duration
	interval   time.Duration
}

func NewMonitor(p *Projector, stuckAfter, interval time.Duration) *Monitor {
	return &Monitor{projector: p, stuckAfter: stuckAfter, interval: interval}
}

// Scan logs each stuck saga and publishes the count as a gauge.
func (m *Monitor) Scan(ctx context.Context) ([]SagaState, error) {
	stuck, err := m.projector.FindStuck(ctx, m.stuckAfter)
	if err != nil {
		return nil, err
	}

	metrics.StuckSagas.Set(float64(len(stuck)))
	logger := logging.FromContext(ctx)
	for _, s := range stuck {
		logger.WithFields(logrus.Fields{
			"order_id":   s.OrderID,
			"step":       s.Step,
			"updated_at": s.UpdatedAt,
			"reason":     s.Reason,
		}).Warn("[Projector] Saga is stuck")
	}
	return stuck, nil
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
				logging.FromContext(ctx).WithError(err).Error("[Projector] Stuck saga scan failed")
			}
		}
	}
}
