package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const raceColumns = `id, code, host_id, duration, mode, punctuation, numbers, max_players, words, status, start_time, end_time, created_at, updated_at`

func scanRace(row scanner) (Race, error) {
	var i Race
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.HostID,
		&i.Duration,
		&i.Mode,
		&i.Punctuation,
		&i.Numbers,
		&i.MaxPlayers,
		pq.Array(&i.Words),
		&i.Status,
		&i.StartTime,
		&i.EndTime,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createRace = `
INSERT INTO races (id, code, host_id, duration, mode, punctuation, numbers, max_players, words)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + raceColumns

type CreateRaceParams struct {
	ID          uuid.UUID
	Code        string
	HostID      string
	Duration    int32
	Mode        string
	Punctuation bool
	Numbers     bool
	MaxPlayers  int32
	Words       []string
}

func (q *Queries) CreateRace(ctx context.Context, arg CreateRaceParams) (Race, error) {
	row := q.db.QueryRowContext(ctx, createRace,
		arg.ID,
		arg.Code,
		arg.HostID,
		arg.Duration,
		arg.Mode,
		arg.Punctuation,
		arg.Numbers,
		arg.MaxPlayers,
		pq.Array(arg.Words),
	)
	return scanRace(row)
}

const getRaceByCode = `SELECT ` + raceColumns + ` FROM races WHERE code = $1`

func (q *Queries) GetRaceByCode(ctx context.Context, code string) (Race, error) {
	return scanRace(q.db.QueryRowContext(ctx, getRaceByCode, code))
}

// GetRaceByCodeForUpdate locks the race row until the surrounding
// transaction ends.
const getRaceByCodeForUpdate = `SELECT ` + raceColumns + ` FROM races WHERE code = $1 FOR UPDATE`

func (q *Queries) GetRaceByCodeForUpdate(ctx context.Context, code string) (Race, error) {
	return scanRace(q.db.QueryRowContext(ctx, getRaceByCodeForUpdate, code))
}

const startRace = `
UPDATE races
SET status = 'RACING', start_time = NOW(), updated_at = NOW()
WHERE id = $1
RETURNING ` + raceColumns

func (q *Queries) StartRace(ctx context.Context, id uuid.UUID) (Race, error) {
	return scanRace(q.db.QueryRowContext(ctx, startRace, id))
}

const endRace = `
UPDATE races
SET status = 'FINISHED', end_time = NOW(), updated_at = NOW()
WHERE id = $1
RETURNING ` + raceColumns

func (q *Queries) EndRace(ctx context.Context, id uuid.UUID) (Race, error) {
	return scanRace(q.db.QueryRowContext(ctx, endRace, id))
}
