package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/db"
)

// SaveTestResult persists a finished solo test.
func (r *Repository) SaveTestResult(ctx context.Context, result models.TestResult) (*models.TestResult, error) {
	chart := pqtype.NullRawMessage{}
	if len(result.ChartData) > 0 {
		data, err := json.Marshal(result.ChartData)
		if err != nil {
			return nil, fmt.Errorf("marshal chart data: %w", err)
		}
		chart = pqtype.NullRawMessage{RawMessage: data, Valid: true}
	}

	id := result.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row, err := r.queries.InsertTestResult(ctx, db.InsertTestResultParams{
		ID:           id,
		UserID:       result.UserID,
		Mode:         string(result.Mode),
		Duration:     int32(result.Duration),
		Wpm:          int32(result.WPM),
		RawWpm:       int32(result.RawWPM),
		Accuracy:     int32(result.Accuracy),
		Consistency:  int32(result.Consistency),
		RawChars:     int32(result.RawChars),
		CorrectChars: int32(result.CorrectChars),
		Errors:       int32(result.Errors),
		ChartData:    chart,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert test result: %w", err)
	}
	return dbTestResultToModel(row)
}

// ListTestResults returns a user's most recent results, newest first.
func (r *Repository) ListTestResults(ctx context.Context, userID string, limit int) ([]models.TestResult, error) {
	rows, err := r.queries.ListTestResultsByUser(ctx, db.ListTestResultsByUserParams{
		UserID: userID,
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}
	results := make([]models.TestResult, 0, len(rows))
	for _, row := range rows {
		res, err := dbTestResultToModel(row)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func dbTestResultToModel(row db.TestResult) (*models.TestResult, error) {
	var chart []models.ChartSample
	if row.ChartData.Valid {
		if err := json.Unmarshal(row.ChartData.RawMessage, &chart); err != nil {
			return nil, fmt.Errorf("unmarshal chart data: %w", err)
		}
	}
	return &models.TestResult{
		ID:           row.ID,
		UserID:       row.UserID,
		Mode:         models.RaceMode(row.Mode),
		Duration:     int(row.Duration),
		WPM:          int(row.Wpm),
		RawWPM:       int(row.RawWpm),
		Accuracy:     int(row.Accuracy),
		Consistency:  int(row.Consistency),
		RawChars:     int(row.RawChars),
		CorrectChars: int(row.CorrectChars),
		Errors:       int(row.Errors),
		ChartData:    chart,
		CreatedAt:    row.CreatedAt,
	}, nil
}
