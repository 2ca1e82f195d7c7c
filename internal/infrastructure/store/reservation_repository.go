package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/domain/reservation"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/jmoiron/sqlx"
)

type ReservationRepository struct {
	db *sqlx.DB
}

func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	if db == nil {
		panic("db must be set")
	}
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, user_id, order_id, event_id, session_id, tier_id, quantity, status, reason,
	expires_at, confirmed_at, released_at, created_at, updated_at, version`

type reservationRow struct {
	ID          string       `db:"id"`
	UserID      string       `db:"user_id"`
	OrderID     string       `db:"order_id"`
	EventID     string       `db:"event_id"`
	SessionID   string       `db:"session_id"`
	TierID      string       `db:"tier_id"`
	Quantity    int          `db:"quantity"`
	Status      string       `db:"status"`
	Reason      string       `db:"reason"`
	ExpiresAt   time.Time    `db:"expires_at"`
	ConfirmedAt sql.NullTime `db:"confirmed_at"`
	ReleasedAt  sql.NullTime `db:"released_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	Version     int64        `db:"version"`
}

func (r reservationRow) reservation() reservation.Reservation {
	return reservation.Reservation{
		ID:          r.ID,
		UserID:      r.UserID,
		OrderID:     r.OrderID,
		EventID:     r.EventID,
		SessionID:   r.SessionID,
		TierID:      r.TierID,
		Quantity:    r.Quantity,
		Status:      reservation.Status(r.Status),
		Reason:      r.Reason,
		ExpiresAt:   r.ExpiresAt.UTC(),
		ConfirmedAt: timePtr(r.ConfirmedAt),
		ReleasedAt:  timePtr(r.ReleasedAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Version:     r.Version,
	}
}

func (s *ReservationRepository) Claim(ctx context.Context, res reservation.Reservation) (reservation.Reservation, bool, error) {
	var (
		stored  reservation.Reservation
		created bool
	)
	err := updateInTx(ctx, s.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_reservations (`+reservationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
			ON CONFLICT (order_id, tier_id) DO NOTHING`,
			res.ID, res.UserID, res.OrderID, res.EventID, res.SessionID, res.TierID, res.Quantity,
			string(res.Status), res.Reason, res.ExpiresAt, nullTime(res.ConfirmedAt), nullTime(res.ReleasedAt),
			res.CreatedAt, res.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("could not insert reservation: %w", translateDBErr(err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		var row reservationRow
		if err := tx.GetContext(ctx, &row, `
			SELECT `+reservationColumns+` FROM ticket_reservations WHERE order_id = $1 AND tier_id = $2`,
			res.OrderID, res.TierID,
		); err != nil {
			return fmt.Errorf("could not read reservation: %w", translateDBErr(err))
		}
		stored = row.reservation()
		return nil
	})
	if err != nil {
		return reservation.Reservation{}, false, err
	}
	return stored, created, nil
}

func (s *ReservationRepository) Get(ctx context.Context, id string) (reservation.Reservation, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+reservationColumns+` FROM ticket_reservations WHERE id = $1`, id)
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("reservation %s: %w", id, translateDBErr(err))
	}
	return row.reservation(), nil
}

func (s *ReservationRepository) ByOrder(ctx context.Context, orderID string) ([]reservation.Reservation, error) {
	var rows []reservationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+reservationColumns+` FROM ticket_reservations WHERE order_id = $1 ORDER BY tier_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("could not list reservations: %w", translateDBErr(err))
	}
	out := make([]reservation.Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.reservation())
	}
	return out, nil
}

// Transition is a conditional update on the current status, so the sweeper
// and the confirm path cannot both win.
func (s *ReservationRepository) Transition(ctx context.Context, id string, from, to reservation.Status, at time.Time, reason string) (bool, error) {
	if !reservation.CanTransition(from, to) {
		return false, fmt.Errorf("reservation %s %s -> %s: %w", id, from, to, sagaerr.ErrInvalidTransition)
	}

	var confirmedAt, releasedAt sql.NullTime
	switch to {
	case reservation.StatusConfirmed:
		confirmedAt = sql.NullTime{Time: at, Valid: true}
	case reservation.StatusReleased, reservation.StatusExpired:
		releasedAt = sql.NullTime{Time: at, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE ticket_reservations
		SET status = $1,
			updated_at = $2,
			reason = CASE WHEN $3::text = '' THEN reason ELSE $3::text END,
			confirmed_at = COALESCE($4, confirmed_at),
			released_at = COALESCE($5, released_at),
			version = version + 1
		WHERE id = $6 AND status = $7`,
		string(to), at, reason, confirmedAt, releasedAt, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("could not transition reservation: %w", translateDBErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *ReservationRepository) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]reservation.Reservation, error) {
	var rows []reservationRow
	err := s.db.SelectContext(ctx, &rows, `
		UPDATE ticket_reservations
		SET status = $1, updated_at = $2, version = version + 1
		WHERE id IN (
			SELECT id FROM ticket_reservations
			WHERE status = $3 AND expires_at < $2
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reservationColumns,
		string(reservation.StatusExpiring), now, string(reservation.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("could not claim expired reservations: %w", translateDBErr(err))
	}
	out := make([]reservation.Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.reservation())
	}
	return out, nil
}

func (s *ReservationRepository) MarkOrderCancelled(ctx context.Context, orderID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservation_order_tombstones (order_id, cancelled_at) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, orderID, at)
	if err != nil {
		return fmt.Errorf("could not tombstone order: %w", translateDBErr(err))
	}
	return nil
}

func (s *ReservationRepository) IsOrderCancelled(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM reservation_order_tombstones WHERE order_id = $1)`, orderID)
	if err != nil {
		return false, fmt.Errorf("could not check tombstone: %w", translateDBErr(err))
	}
	return exists, nil
}
