package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/jmoiron/sqlx"
)

type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	if db == nil {
		panic("db must be set")
	}
	return &LedgerRepository{db: db}
}

type ledgerRow struct {
	ledger.Key
	InitialQuantity   int       `db:"initial_quantity"`
	AvailableQuantity int       `db:"available_quantity"`
	Version           int64     `db:"version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type movementRow struct {
	ID          string    `db:"id"`
	EventID     string    `db:"event_id"`
	SessionID   string    `db:"session_id"`
	TierID      string    `db:"tier_id"`
	Delta       int       `db:"delta"`
	Type        string    `db:"movement_type"`
	CausationID string    `db:"causation_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (m movementRow) movement() ledger.Movement {
	return ledger.Movement{
		ID:          m.ID,
		Key:         ledger.Key{EventID: m.EventID, SessionID: m.SessionID, TierID: m.TierID},
		Delta:       m.Delta,
		Type:        ledger.MovementType(m.Type),
		CausationID: m.CausationID,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func (r *LedgerRepository) Create(ctx context.Context, e ledger.Entry) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_ledger (event_id, session_id, tier_id, initial_quantity, available_quantity, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
		ON CONFLICT DO NOTHING`,
		e.EventID, e.SessionID, e.TierID, e.InitialQuantity, e.AvailableQuantity, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("could not insert ledger entry: %w", translateDBErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *LedgerRepository) Get(ctx context.Context, key ledger.Key) (ledger.Entry, error) {
	var row ledgerRow
	err := r.db.GetContext(ctx, &row, `
		SELECT event_id, session_id, tier_id, initial_quantity, available_quantity, version, created_at, updated_at
		FROM stock_ledger
		WHERE event_id = $1 AND session_id = $2 AND tier_id = $3`,
		key.EventID, key.SessionID, key.TierID,
	)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", key, translateDBErr(err))
	}
	return ledger.Entry{
		Key:               row.Key,
		InitialQuantity:   row.InitialQuantity,
		AvailableQuantity: row.AvailableQuantity,
		Version:           row.Version,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}, nil
}

// Apply is the compare-and-swap write: the counter moves only if the version
// still matches, and the movement row shares its transaction.
func (r *LedgerRepository) Apply(ctx context.Context, key ledger.Key, expectedVersion int64, available int, m ledger.Movement) error {
	return updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE stock_ledger
			SET available_quantity = $1, version = version + 1, updated_at = $2
			WHERE event_id = $3 AND session_id = $4 AND tier_id = $5 AND version = $6`,
			available, m.CreatedAt, key.EventID, key.SessionID, key.TierID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("could not update ledger entry: %w", translateDBErr(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `
				SELECT EXISTS (SELECT 1 FROM stock_ledger WHERE event_id = $1 AND session_id = $2 AND tier_id = $3)`,
				key.EventID, key.SessionID, key.TierID,
			); err != nil {
				return fmt.Errorf("could not check ledger entry: %w", err)
			}
			if !exists {
				return fmt.Errorf("ledger entry %s: %w", key, sagaerr.ErrNotFound)
			}
			return ledger.ErrVersionConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, event_id, session_id, tier_id, delta, movement_type, causation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, key.EventID, key.SessionID, key.TierID, m.Delta, string(m.Type), m.CausationID, m.CreatedAt,
		)
		if isErrorUniqueViolation(err) {
			return ledger.ErrDuplicateMovement
		}
		if err != nil {
			return fmt.Errorf("could not insert ledger movement: %w", translateDBErr(err))
		}
		return nil
	})
}

func (r *LedgerRepository) FindMovement(ctx context.Context, causationID string, typ ledger.MovementType) (ledger.Movement, bool, error) {
	var row movementRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, event_id, session_id, tier_id, delta, movement_type, causation_id, created_at
		FROM stock_movements
		WHERE causation_id = $1 AND movement_type = $2`,
		causationID, string(typ),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Movement{}, false, nil
	}
	if err != nil {
		return ledger.Movement{}, false, fmt.Errorf("could not find movement: %w", translateDBErr(err))
	}
	return row.movement(), true, nil
}

func (r *LedgerRepository) Movements(ctx context.Context, key ledger.Key) ([]ledger.Movement, error) {
	var rows []movementRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, event_id, session_id, tier_id, delta, movement_type, causation_id, created_at
		FROM stock_movements
		WHERE event_id = $1 AND session_id = $2 AND tier_id = $3
		ORDER BY created_at, id`,
		key.EventID, key.SessionID, key.TierID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list movements: %w", translateDBErr(err))
	}
	out := make([]ledger.Movement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.movement())
	}
	return out, nil
}

func (r *LedgerRepository) KeysForSession(ctx context.Context, eventID, sessionID string) ([]ledger.Key, error) {
	var keys []ledger.Key
	err := r.db.SelectContext(ctx, &keys, `
		SELECT event_id, session_id, tier_id
		FROM stock_ledger
		WHERE event_id = $1 AND session_id = $2
		ORDER BY tier_id`,
		eventID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list ledger keys: %w", translateDBErr(err))
	}
	return keys, nil
}

func (r *LedgerRepository) Delete(ctx context.Context, key ledger.Key) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM stock_ledger WHERE event_id = $1 AND session_id = $2 AND tier_id = $3`,
		key.EventID, key.SessionID, key.TierID,
	)
	if err != nil {
		return fmt.Errorf("could not delete ledger entry: %w", translateDBErr(err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("ledger entry %s: %w", key, sagaerr.ErrNotFound)
	}
	return nil
}
