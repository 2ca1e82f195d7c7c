package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/domain/payment"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PaymentRepository struct {
	db     *sqlx.DB
	outbox *Outbox
}

func NewPaymentRepository(db *sqlx.DB, outbox *Outbox) *PaymentRepository {
	if db == nil {
		panic("db must be set")
	}
	return &PaymentRepository{db: db, outbox: outbox}
}

const paymentColumns = `id, order_id, user_id, amount, status, provider, provider_ref, refund_ref, reason, created_at, updated_at, version`

type paymentRow struct {
	ID          string    `db:"id"`
	OrderID     string    `db:"order_id"`
	UserID      string    `db:"user_id"`
	Amount      int64     `db:"amount"`
	Status      string    `db:"status"`
	Provider    string    `db:"provider"`
	ProviderRef string    `db:"provider_ref"`
	RefundRef   string    `db:"refund_ref"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Version     int64     `db:"version"`
}

func (r paymentRow) payment() payment.Payment {
	return payment.Payment{
		ID:          r.ID,
		OrderID:     r.OrderID,
		UserID:      r.UserID,
		Amount:      r.Amount,
		Status:      payment.Status(r.Status),
		Provider:    r.Provider,
		ProviderRef: r.ProviderRef,
		RefundRef:   r.RefundRef,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Version:     r.Version,
	}
}

type paymentEventRow struct {
	ID        string    `db:"id"`
	PaymentID string    `db:"payment_id"`
	Type      string    `db:"event_type"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// Create relies on the unique order_id: a second payment for the same order
// returns the first one instead.
func (r *PaymentRepository) Create(ctx context.Context, p payment.Payment, evs ...events.Event) (payment.Payment, bool, error) {
	var (
		stored  payment.Payment
		created bool
	)
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payments (`+paymentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
			ON CONFLICT (order_id) DO NOTHING`,
			p.ID, p.OrderID, p.UserID, p.Amount, string(p.Status), p.Provider, p.ProviderRef, p.RefundRef,
			p.Reason, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("could not insert payment: %w", translateDBErr(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			stored, err = r.paymentByOrder(ctx, tx, p.OrderID)
			return err
		}

		if err := insertPaymentEvent(ctx, tx, payment.LogEntry{
			ID:        uuid.NewString(),
			PaymentID: p.ID,
			Type:      payment.EntryInitiated,
			CreatedAt: p.CreatedAt,
		}); err != nil {
			return err
		}
		created = true
		stored = p
		stored.Version = 1
		return r.outbox.add(ctx, tx, evs...)
	})
	if err != nil {
		return payment.Payment{}, false, err
	}
	return stored, created, nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (payment.Payment, error) {
	return r.paymentByID(ctx, r.db, id, false)
}

func (r *PaymentRepository) ByOrder(ctx context.Context, orderID string) (payment.Payment, error) {
	return r.paymentByOrder(ctx, r.db, orderID)
}

func (r *PaymentRepository) paymentByID(ctx context.Context, db sqlx.QueryerContext, id string, forUpdate bool) (payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row paymentRow
	if err := sqlx.GetContext(ctx, db, &row, query, id); err != nil {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", id, translateDBErr(err))
	}
	return row.payment(), nil
}

func (r *PaymentRepository) paymentByOrder(ctx context.Context, db sqlx.QueryerContext, orderID string) (payment.Payment, error) {
	var row paymentRow
	if err := sqlx.GetContext(ctx, db, &row, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID); err != nil {
		return payment.Payment{}, fmt.Errorf("payment for order %s: %w", orderID, translateDBErr(err))
	}
	return row.payment(), nil
}

// Record checks for the entry under the row lock, so of two concurrent
// deliveries only one gets to run fn.
func (r *PaymentRepository) Record(ctx context.Context, id string, entry payment.LogEntry, fn payment.UpdateFunc) (payment.Payment, error) {
	var (
		current payment.Payment
		updated payment.Payment
	)
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		current, err = r.paymentByID(ctx, tx, id, true)
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, `
			SELECT EXISTS (SELECT 1 FROM payment_events WHERE payment_id = $1 AND event_type = $2)`,
			id, string(entry.Type),
		); err != nil {
			return fmt.Errorf("could not check payment log: %w", translateDBErr(err))
		}
		if exists {
			return payment.ErrDuplicateEntry
		}

		updated = current
		evs, err := fn(&updated)
		if err != nil {
			return err
		}

		updated.Version = current.Version + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $1, provider = $2, provider_ref = $3, refund_ref = $4, reason = $5, updated_at = $6, version = $7
			WHERE id = $8`,
			string(updated.Status), updated.Provider, updated.ProviderRef, updated.RefundRef, updated.Reason,
			updated.UpdatedAt, updated.Version, id,
		)
		if err != nil {
			return fmt.Errorf("could not update payment: %w", translateDBErr(err))
		}

		entry.PaymentID = id
		if err := insertPaymentEvent(ctx, tx, entry); err != nil {
			return err
		}
		return r.outbox.add(ctx, tx, evs...)
	})
	if err != nil {
		return current, err
	}
	return updated, nil
}

func (r *PaymentRepository) Log(ctx context.Context, id string) ([]payment.LogEntry, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	var rows []paymentEventRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, payment_id, event_type, detail, created_at
		FROM payment_events
		WHERE payment_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("could not list payment log: %w", translateDBErr(err))
	}

	out := make([]payment.LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, payment.LogEntry{
			ID:        row.ID,
			PaymentID: row.PaymentID,
			Type:      payment.EntryType(row.Type),
			Detail:    row.Detail,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func insertPaymentEvent(ctx context.Context, tx *sqlx.Tx, e payment.LogEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_events (id, payment_id, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.PaymentID, string(e.Type), e.Detail, e.CreatedAt,
	)
	if isErrorUniqueViolation(err) {
		return payment.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("could not insert payment log entry: %w", translateDBErr(err))
	}
	return nil
}
