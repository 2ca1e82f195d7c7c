package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/domain/refund"
	"github.com/jmoiron/sqlx"
)

type RefundRepository struct {
	db     *sqlx.DB
	outbox *Outbox
}

func NewRefundRepository(db *sqlx.DB, outbox *Outbox) *RefundRepository {
	if db == nil {
		panic("db must be set")
	}
	return &RefundRepository{db: db, outbox: outbox}
}

const refundColumns = `id, order_id, payment_id, user_id, reason, status, decision, created_at, updated_at, version`

type refundRow struct {
	ID        string    `db:"id"`
	OrderID   string    `db:"order_id"`
	PaymentID string    `db:"payment_id"`
	UserID    string    `db:"user_id"`
	Reason    string    `db:"reason"`
	Status    string    `db:"status"`
	Decision  []byte    `db:"decision"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Version   int64     `db:"version"`
}

func (r refundRow) request() (refund.Request, error) {
	req := refund.Request{
		ID:        r.ID,
		OrderID:   r.OrderID,
		PaymentID: r.PaymentID,
		UserID:    r.UserID,
		Reason:    r.Reason,
		Status:    refund.Status(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Version:   r.Version,
	}
	if len(r.Decision) > 0 {
		var d refund.Decision
		if err := json.Unmarshal(r.Decision, &d); err != nil {
			return refund.Request{}, fmt.Errorf("could not unmarshal decision of refund request %s: %w", r.ID, err)
		}
		req.Decision = &d
	}
	return req, nil
}

// marshalDecision returns nil for an undecided request so the column stays NULL.
func marshalDecision(d *refund.Decision) (any, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RefundRepository) Create(ctx context.Context, req refund.Request) error {
	decision, err := marshalDecision(req.Decision)
	if err != nil {
		return fmt.Errorf("could not marshal decision: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO refund_requests (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.OrderID, req.PaymentID, req.UserID, req.Reason, string(req.Status), decision,
		req.CreatedAt, req.UpdatedAt, req.Version,
	)
	if err != nil {
		return fmt.Errorf("could not insert refund request: %w", translateDBErr(err))
	}
	return nil
}

func (r *RefundRepository) Get(ctx context.Context, id string) (refund.Request, error) {
	return r.requestByID(ctx, r.db, id, false)
}

func (r *RefundRepository) requestByID(ctx context.Context, db sqlx.QueryerContext, id string, forUpdate bool) (refund.Request, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row refundRow
	if err := sqlx.GetContext(ctx, db, &row, query, id); err != nil {
		return refund.Request{}, fmt.Errorf("refund request %s: %w", id, translateDBErr(err))
	}
	return row.request()
}

func (r *RefundRepository) ByOrder(ctx context.Context, orderID string) ([]refund.Request, error) {
	var rows []refundRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+refundColumns+` FROM refund_requests WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("could not list refund requests: %w", translateDBErr(err))
	}
	out := make([]refund.Request, 0, len(rows))
	for _, row := range rows {
		req, err := row.request()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *RefundRepository) Update(ctx context.Context, id string, fn refund.UpdateFunc) (refund.Request, error) {
	var updated refund.Request
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := r.requestByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		updated = current

		evs, err := fn(&updated)
		if err != nil {
			return err
		}

		if updated.Status != current.Status {
			decision, err := marshalDecision(updated.Decision)
			if err != nil {
				return fmt.Errorf("could not marshal decision: %w", err)
			}
			updated.Version = current.Version + 1
			_, err = tx.ExecContext(ctx, `
				UPDATE refund_requests
				SET status = $1, decision = $2, updated_at = $3, version = $4
				WHERE id = $5`,
				string(updated.Status), decision, updated.UpdatedAt, updated.Version, id,
			)
			if err != nil {
				return fmt.Errorf("could not update refund request: %w", translateDBErr(err))
			}
		}
		return r.outbox.add(ctx, tx, evs...)
	})
	if err != nil {
		return refund.Request{}, err
	}
	return updated, nil
}
