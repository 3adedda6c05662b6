package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

const outboxColumns = `id, race_id, event_type, payload, created_at, sent_at`

func scanOutbox(row scanner) (RaceOutbox, error) {
	var i RaceOutbox
	err := row.Scan(
		&i.ID,
		&i.RaceID,
		&i.EventType,
		&i.Payload,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const insertOutbox = `
INSERT INTO race_outbox (id, race_id, event_type, payload)
VALUES ($1, $2, $3, $4)`

type InsertOutboxParams struct {
	ID        uuid.UUID
	RaceID    uuid.UUID
	EventType string
	Payload   json.RawMessage
}

func (q *Queries) InsertOutbox(ctx context.Context, arg InsertOutboxParams) error {
	_, err := q.db.ExecContext(ctx, insertOutbox, arg.ID, arg.RaceID, arg.EventType, arg.Payload)
	return err
}

const fetchOutboxByID = `SELECT ` + outboxColumns + ` FROM race_outbox WHERE id = $1 AND sent_at IS NULL`

func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (RaceOutbox, error) {
	return scanOutbox(q.db.QueryRowContext(ctx, fetchOutboxByID, id))
}

const fetchUnsentOutbox = `
SELECT ` + outboxColumns + `
FROM race_outbox
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1`

func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]RaceOutbox, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RaceOutbox
	for rows.Next() {
		i, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markOutboxSent = `UPDATE race_outbox SET sent_at = NOW() WHERE id = $1`

func (q *Queries) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markOutboxSent, id)
	return err
}

const countUnsentOutbox = `SELECT COUNT(*) FROM race_outbox WHERE sent_at IS NULL`

func (q *Queries) CountUnsentOutbox(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countUnsentOutbox).Scan(&count)
	return count, err
}
