package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/projection"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SagaRepository keeps one JSONB document per order. Step and updated_at
// are copied into columns so stuck sagas can be found with an index-friendly
// query.
type SagaRepository struct {
	db *sqlx.DB
}

func NewSagaRepository(db *sqlx.DB) *SagaRepository {
	if db == nil {
		panic("db must be set")
	}
	return &SagaRepository{db: db}
}

var finishedSteps = []string{string(projection.StepCompleted), string(projection.StepCompensated)}

func (r *SagaRepository) Update(ctx context.Context, orderID string, fn func(s *projection.SagaState)) (projection.SagaState, error) {
	var state projection.SagaState
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		empty, err := json.Marshal(projection.SagaState{OrderID: orderID})
		if err != nil {
			return fmt.Errorf("could not marshal saga state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO saga_states (order_id, step, payload, updated_at)
			VALUES ($1, '', $2, $3)
			ON CONFLICT DO NOTHING`,
			orderID, empty, time.Time{},
		); err != nil {
			return fmt.Errorf("could not insert saga state: %w", translateDBErr(err))
		}

		var payload []byte
		if err := tx.GetContext(ctx, &payload, `SELECT payload FROM saga_states WHERE order_id = $1 FOR UPDATE`, orderID); err != nil {
			return fmt.Errorf("could not lock saga state: %w", translateDBErr(err))
		}
		if err := json.Unmarshal(payload, &state); err != nil {
			return fmt.Errorf("could not unmarshal saga state: %w", err)
		}

		fn(&state)
		state.Version++

		payload, err = json.Marshal(state)
		if err != nil {
			return fmt.Errorf("could not marshal saga state: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE saga_states SET step = $1, payload = $2, updated_at = $3 WHERE order_id = $4`,
			string(state.Step), payload, state.UpdatedAt, orderID,
		)
		if err != nil {
			return fmt.Errorf("could not update saga state: %w", translateDBErr(err))
		}
		return nil
	})
	if err != nil {
		return projection.SagaState{}, err
	}
	return state, nil
}

func (r *SagaRepository) Get(ctx context.Context, orderID string) (projection.SagaState, error) {
	var payload []byte
	if err := r.db.GetContext(ctx, &payload, `SELECT payload FROM saga_states WHERE order_id = $1`, orderID); err != nil {
		return projection.SagaState{}, fmt.Errorf("saga %s: %w", orderID, translateDBErr(err))
	}
	var state projection.SagaState
	if err := json.Unmarshal(payload, &state); err != nil {
		return projection.SagaState{}, fmt.Errorf("could not unmarshal saga state: %w", err)
	}
	return state, nil
}

func (r *SagaRepository) FindStuck(ctx context.Context, cutoff time.Time) ([]projection.SagaState, error) {
	var payloads [][]byte
	err := r.db.SelectContext(ctx, &payloads, `
		SELECT payload FROM saga_states
		WHERE step <> ALL($1) AND updated_at < $2
		ORDER BY updated_at`,
		pq.Array(finishedSteps), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("could not find stuck sagas: %w", translateDBErr(err))
	}

	out := make([]projection.SagaState, 0, len(payloads))
	for _, payload := range payloads {
		var state projection.SagaState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("could not unmarshal saga state: %w", err)
		}
		out = append(out, state)
	}
	return out, nil
}
