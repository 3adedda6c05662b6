package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const testResultColumns = `id, user_id, mode, duration, wpm, raw_wpm, accuracy, consistency, raw_chars, correct_chars, errors, chart_data, created_at`

func scanTestResult(row scanner) (TestResult, error) {
	var i TestResult
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Mode,
		&i.Duration,
		&i.Wpm,
		&i.RawWpm,
		&i.Accuracy,
		&i.Consistency,
		&i.RawChars,
		&i.CorrectChars,
		&i.Errors,
		&i.ChartData,
		&i.CreatedAt,
	)
	return i, err
}

const insertTestResult = `
INSERT INTO test_results (id, user_id, mode, duration, wpm, raw_wpm, accuracy, consistency, raw_chars, correct_chars, errors, chart_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + testResultColumns

type InsertTestResultParams struct {
	ID           uuid.UUID
	UserID       string
	Mode         string
	Duration     int32
	Wpm          int32
	RawWpm       int32
	Accuracy     int32
	Consistency  int32
	RawChars     int32
	CorrectChars int32
	Errors       int32
	ChartData    pqtype.NullRawMessage
}

func (q *Queries) InsertTestResult(ctx context.Context, arg InsertTestResultParams) (TestResult, error) {
	row := q.db.QueryRowContext(ctx, insertTestResult,
		arg.ID,
		arg.UserID,
		arg.Mode,
		arg.Duration,
		arg.Wpm,
		arg.RawWpm,
		arg.Accuracy,
		arg.Consistency,
		arg.RawChars,
		arg.CorrectChars,
		arg.Errors,
		arg.ChartData,
	)
	return scanTestResult(row)
}

const listTestResultsByUser = `
SELECT ` + testResultColumns + `
FROM test_results
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

type ListTestResultsByUserParams struct {
	UserID string
	Limit  int32
}

func (q *Queries) ListTestResultsByUser(ctx context.Context, arg ListTestResultsByUserParams) ([]TestResult, error) {
	rows, err := q.db.QueryContext(ctx, listTestResultsByUser, arg.UserID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TestResult
	for rows.Next() {
		i, err := scanTestResult(rows)
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
