package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/domain/order"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/jmoiron/sqlx"
)

type OrderRepository struct {
	db     *sqlx.DB
	outbox *Outbox
}

func NewOrderRepository(db *sqlx.DB, outbox *Outbox) *OrderRepository {
	if db == nil {
		panic("db must be set")
	}
	return &OrderRepository{db: db, outbox: outbox}
}

const orderColumns = `id, user_id, lines, total, status, payment_id, reason, created_at, updated_at, version`

type orderRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Lines     []byte    `db:"lines"`
	Total     int64     `db:"total"`
	Status    string    `db:"status"`
	PaymentID string    `db:"payment_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Version   int64     `db:"version"`
}

func (r orderRow) order() (order.Order, error) {
	var lines []events.OrderLine
	if err := json.Unmarshal(r.Lines, &lines); err != nil {
		return order.Order{}, fmt.Errorf("could not unmarshal lines of order %s: %w", r.ID, err)
	}
	return order.Order{
		ID:        r.ID,
		UserID:    r.UserID,
		Lines:     lines,
		Total:     r.Total,
		Status:    order.Status(r.Status),
		PaymentID: r.PaymentID,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Version:   r.Version,
	}, nil
}

func (r *OrderRepository) Create(ctx context.Context, o order.Order, evs ...events.Event) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("could not marshal order lines: %w", err)
	}

	return updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`,
			o.ID, o.UserID, lines, o.Total, string(o.Status), o.PaymentID, o.Reason, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("could not insert order: %w", translateDBErr(err))
		}
		return r.outbox.add(ctx, tx, evs...)
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (order.Order, error) {
	return r.orderByID(ctx, r.db, id, false)
}

func (r *OrderRepository) orderByID(ctx context.Context, db sqlx.QueryerContext, id string, forUpdate bool) (order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row orderRow
	if err := sqlx.GetContext(ctx, db, &row, query, id); err != nil {
		return order.Order{}, fmt.Errorf("order %s: %w", id, translateDBErr(err))
	}
	return row.order()
}

// Update locks the row for the duration of fn. Version only moves when the
// order changed or fn produced events.
func (r *OrderRepository) Update(ctx context.Context, id string, fn order.UpdateFunc) (order.Order, error) {
	var updated order.Order
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := r.orderByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		updated = current

		evs, err := fn(&updated)
		if err != nil {
			return err
		}
		if updated.Status == current.Status && updated.PaymentID == current.PaymentID && len(evs) == 0 {
			return nil
		}

		updated.Version = current.Version + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, payment_id = $2, reason = $3, updated_at = $4, version = $5
			WHERE id = $6`,
			string(updated.Status), updated.PaymentID, updated.Reason, updated.UpdatedAt, updated.Version, id,
		)
		if err != nil {
			return fmt.Errorf("could not update order: %w", translateDBErr(err))
		}
		return r.outbox.add(ctx, tx, evs...)
	})
	if err != nil {
		return order.Order{}, err
	}
	return updated, nil
}
