package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Outbox stores the messages of one service. Repositories write to it inside
// their own transactions; a messaging.Relay drains it.
type Outbox struct {
	db     *sqlx.DB
	source string
}

func NewOutbox(db *sqlx.DB, source string) *Outbox {
	if db == nil {
		panic("db must be set")
	}
	return &Outbox{db: db, source: source}
}

type outboxRow struct {
	Seq           int64     `db:"seq"`
	ID            string    `db:"id"`
	Topic         string    `db:"topic"`
	Key           string    `db:"msg_key"`
	SchemaVersion int       `db:"schema_version"`
	CorrelationID string    `db:"correlation_id"`
	OccurredAt    time.Time `db:"occurred_at"`
	Payload       []byte    `db:"payload"`
	Metadata      []byte    `db:"metadata"`
}

// Enqueue writes evs in a transaction of its own, for callers whose state
// change is already committed and whose events are safe to repeat.
func (o *Outbox) Enqueue(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	return updateInTx(ctx, o.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		return o.add(ctx, tx, evs...)
	})
}

// add writes evs with tx.
func (o *Outbox) add(ctx context.Context, tx *sqlx.Tx, evs ...events.Event) error {
	msgs, err := messaging.EncodeEvents(ctx, evs...)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("could not marshal metadata of %s: %w", msg.Topic, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (id, source, topic, msg_key, schema_version, correlation_id, occurred_at, payload, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			msg.ID, o.source, msg.Topic, msg.Key, msg.SchemaVersion, msg.CorrelationID, msg.OccurredAt, msg.Payload, metadata,
		)
		if err != nil {
			return fmt.Errorf("could not insert outbox row for %s: %w", msg.Topic, err)
		}
	}
	return nil
}

// Process locks the oldest pending rows so concurrent relays never publish
// the same batch, and marks them published when fn succeeds.
func (o *Outbox) Process(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error) {
	var n int
	err := updateInTx(ctx, o.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		var rows []outboxRow
		err := tx.SelectContext(ctx, &rows, `
			SELECT seq, id, topic, msg_key, schema_version, correlation_id, occurred_at, payload, metadata
			FROM outbox
			WHERE source = $1 AND published_at IS NULL
			ORDER BY seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED`,
			o.source, limit,
		)
		if err != nil {
			return fmt.Errorf("could not select outbox rows: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		msgs := make([]events.Message, 0, len(rows))
		seqs := make([]int64, 0, len(rows))
		for _, row := range rows {
			msg, err := row.message()
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
			seqs = append(seqs, row.Seq)
		}

		if err := fn(ctx, msgs); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE outbox SET published_at = now() WHERE seq = ANY($1)`, pq.Array(seqs))
		if err != nil {
			return fmt.Errorf("could not mark outbox rows published: %w", err)
		}
		n = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r outboxRow) message() (events.Message, error) {
	metadata := map[string]string{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return events.Message{}, fmt.Errorf("could not unmarshal metadata of outbox row %d: %w", r.Seq, err)
		}
	}
	return events.Message{
		ID:            r.ID,
		Topic:         r.Topic,
		Key:           r.Key,
		SchemaVersion: r.SchemaVersion,
		CorrelationID: r.CorrelationID,
		OccurredAt:    r.OccurredAt.UTC(),
		Payload:       r.Payload,
		Metadata:      metadata,
	}, nil
}
