package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/domain/ticket"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/jmoiron/sqlx"
)

type TicketRepository struct {
	db     *sqlx.DB
	outbox *Outbox
}

func NewTicketRepository(db *sqlx.DB, outbox *Outbox) *TicketRepository {
	if db == nil {
		panic("db must be set")
	}
	return &TicketRepository{db: db, outbox: outbox}
}

const ticketColumns = `id, reservation_id, order_id, user_id, event_id, session_id, tier_id, quantity, status, reason,
	issued_at, validated_at, cancelled_at, version`

type ticketRow struct {
	ID            string       `db:"id"`
	ReservationID string       `db:"reservation_id"`
	OrderID       string       `db:"order_id"`
	UserID        string       `db:"user_id"`
	EventID       string       `db:"event_id"`
	SessionID     string       `db:"session_id"`
	TierID        string       `db:"tier_id"`
	Quantity      int          `db:"quantity"`
	Status        string       `db:"status"`
	Reason        string       `db:"reason"`
	IssuedAt      time.Time    `db:"issued_at"`
	ValidatedAt   sql.NullTime `db:"validated_at"`
	CancelledAt   sql.NullTime `db:"cancelled_at"`
	Version       int64        `db:"version"`
}

func (r ticketRow) ticket() ticket.Ticket {
	return ticket.Ticket{
		ID:            r.ID,
		ReservationID: r.ReservationID,
		OrderID:       r.OrderID,
		UserID:        r.UserID,
		EventID:       r.EventID,
		SessionID:     r.SessionID,
		TierID:        r.TierID,
		Quantity:      r.Quantity,
		Status:        ticket.Status(r.Status),
		Reason:        r.Reason,
		IssuedAt:      r.IssuedAt.UTC(),
		ValidatedAt:   timePtr(r.ValidatedAt),
		CancelledAt:   timePtr(r.CancelledAt),
		Version:       r.Version,
	}
}

// Issue relies on the unique reservation_id: a redelivered confirmation
// gets the ticket issued the first time.
func (r *TicketRepository) Issue(ctx context.Context, t ticket.Ticket, evs ...events.Event) (ticket.Ticket, bool, error) {
	var (
		stored ticket.Ticket
		issued bool
	)
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
			ON CONFLICT (reservation_id) DO NOTHING`,
			t.ID, t.ReservationID, t.OrderID, t.UserID, t.EventID, t.SessionID, t.TierID, t.Quantity,
			string(t.Status), t.Reason, t.IssuedAt, nullTime(t.ValidatedAt), nullTime(t.CancelledAt),
		)
		if err != nil {
			return fmt.Errorf("could not insert ticket: %w", translateDBErr(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			var row ticketRow
			if err := tx.GetContext(ctx, &row, `SELECT `+ticketColumns+` FROM tickets WHERE reservation_id = $1`, t.ReservationID); err != nil {
				return fmt.Errorf("could not read ticket: %w", translateDBErr(err))
			}
			stored = row.ticket()
			return nil
		}

		issued = true
		stored = t
		stored.Version = 1
		return r.outbox.add(ctx, tx, evs...)
	})
	if err != nil {
		return ticket.Ticket{}, false, err
	}
	return stored, issued, nil
}

func (r *TicketRepository) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	return r.ticketByID(ctx, r.db, id, false)
}

func (r *TicketRepository) ticketByID(ctx context.Context, db sqlx.QueryerContext, id string, forUpdate bool) (ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row ticketRow
	if err := sqlx.GetContext(ctx, db, &row, query, id); err != nil {
		return ticket.Ticket{}, fmt.Errorf("ticket %s: %w", id, translateDBErr(err))
	}
	return row.ticket(), nil
}

func (r *TicketRepository) ByOrder(ctx context.Context, orderID string) ([]ticket.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 ORDER BY tier_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("could not list tickets: %w", translateDBErr(err))
	}
	out := make([]ticket.Ticket, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ticket())
	}
	return out, nil
}

func (r *TicketRepository) Update(ctx context.Context, id string, fn ticket.UpdateFunc) (ticket.Ticket, error) {
	var updated ticket.Ticket
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := r.ticketByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		updated = current

		evs, err := fn(&updated)
		if err != nil {
			return err
		}

		if updated.Status != current.Status {
			updated.Version = current.Version + 1
			_, err = tx.ExecContext(ctx, `
				UPDATE tickets
				SET status = $1, reason = $2, validated_at = $3, cancelled_at = $4, version = $5
				WHERE id = $6`,
				string(updated.Status), updated.Reason, nullTime(updated.ValidatedAt), nullTime(updated.CancelledAt),
				updated.Version, id,
			)
			if err != nil {
				return fmt.Errorf("could not update ticket: %w", translateDBErr(err))
			}
		}
		return r.outbox.add(ctx, tx, evs...)
	})
	if err != nil {
		return ticket.Ticket{}, err
	}
	return updated, nil
}

func (r *TicketRepository) MarkOrderCancelled(ctx context.Context, orderID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_order_tombstones (order_id, cancelled_at) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, orderID, at)
	if err != nil {
		return fmt.Errorf("could not tombstone order: %w", translateDBErr(err))
	}
	return nil
}

func (r *TicketRepository) IsOrderCancelled(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM ticket_order_tombstones WHERE order_id = $1)`, orderID)
	if err != nil {
		return false, fmt.Errorf("could not check tombstone: %w", translateDBErr(err))
	}
	return exists, nil
}
