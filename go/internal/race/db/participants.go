package db

import (
	"context"

	"github.com/google/uuid"
)

const participantColumns = `id, race_id, user_id, progress, wpm, accuracy, position, finished, finished_at, joined_at`

func scanParticipant(row scanner) (RaceParticipant, error) {
	var i RaceParticipant
	err := row.Scan(
		&i.ID,
		&i.RaceID,
		&i.UserID,
		&i.Progress,
		&i.Wpm,
		&i.Accuracy,
		&i.Position,
		&i.Finished,
		&i.FinishedAt,
		&i.JoinedAt,
	)
	return i, err
}

const insertParticipant = `
INSERT INTO race_participants (id, race_id, user_id)
VALUES ($1, $2, $3)
RETURNING ` + participantColumns

type InsertParticipantParams struct {
	ID     uuid.UUID
	RaceID uuid.UUID
	UserID string
}

func (q *Queries) InsertParticipant(ctx context.Context, arg InsertParticipantParams) (RaceParticipant, error) {
	return scanParticipant(q.db.QueryRowContext(ctx, insertParticipant, arg.ID, arg.RaceID, arg.UserID))
}

const getParticipant = `SELECT ` + participantColumns + ` FROM race_participants WHERE race_id = $1 AND user_id = $2`

type GetParticipantParams struct {
	RaceID uuid.UUID
	UserID string
}

func (q *Queries) GetParticipant(ctx context.Context, arg GetParticipantParams) (RaceParticipant, error) {
	return scanParticipant(q.db.QueryRowContext(ctx, getParticipant, arg.RaceID, arg.UserID))
}

const countParticipants = `SELECT COUNT(*) FROM race_participants WHERE race_id = $1`

func (q *Queries) CountParticipants(ctx context.Context, raceID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countParticipants, raceID).Scan(&count)
	return count, err
}

const countFinishedParticipants = `SELECT COUNT(*) FROM race_participants WHERE race_id = $1 AND finished`

func (q *Queries) CountFinishedParticipants(ctx context.Context, raceID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countFinishedParticipants, raceID).Scan(&count)
	return count, err
}

const finishParticipant = `
UPDATE race_participants
SET progress = $3, wpm = $4, accuracy = $5, position = $6, finished = TRUE, finished_at = NOW()
WHERE race_id = $1 AND user_id = $2
RETURNING ` + participantColumns

type FinishParticipantParams struct {
	RaceID   uuid.UUID
	UserID   string
	Progress int32
	Wpm      int32
	Accuracy int32
	Position int32
}

func (q *Queries) FinishParticipant(ctx context.Context, arg FinishParticipantParams) (RaceParticipant, error) {
	row := q.db.QueryRowContext(ctx, finishParticipant,
		arg.RaceID,
		arg.UserID,
		arg.Progress,
		arg.Wpm,
		arg.Accuracy,
		arg.Position,
	)
	return scanParticipant(row)
}

const listParticipants = `SELECT ` + participantColumns + ` FROM race_participants WHERE race_id = $1 ORDER BY joined_at, id`

func (q *Queries) ListParticipants(ctx context.Context, raceID uuid.UUID) ([]RaceParticipant, error) {
	rows, err := q.db.QueryContext(ctx, listParticipants, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RaceParticipant
	for rows.Next() {
		i, err := scanParticipant(rows)
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
