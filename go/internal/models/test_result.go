package models

import (
	"time"

	"github.com/google/uuid"
)

// ChartSample is one per-second sample stored with a test result.
type ChartSample struct {
	Time     int `json:"time"`
	WPM      int `json:"wpm"`
	Raw      int `json:"raw"`
	Errors   int `json:"errors"`
	Accuracy int `json:"accuracy"`
}

// TestResult is a persisted solo test.
type TestResult struct {
	ID           uuid.UUID     `json:"id"`
	UserID       string        `json:"user_id"`
	Mode         RaceMode      `json:"mode"`
	Duration     int           `json:"duration"`
	WPM          int           `json:"wpm"`
	RawWPM       int           `json:"raw_wpm"`
	Accuracy     int           `json:"accuracy"`
	Consistency  int           `json:"consistency"`
	RawChars     int           `json:"raw_chars"`
	CorrectChars int           `json:"correct_chars"`
	Errors       int           `json:"errors"`
	ChartData    []ChartSample `json:"chart_data,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// UserStats aggregates a user's test history.
type UserStats struct {
	UserID             string    `json:"user_id"`
	TotalTests         int       `json:"total_tests"`
	BestWPM            int       `json:"best_wpm"`
	AverageWPM         float64   `json:"average_wpm"`
	AverageAccuracy    float64   `json:"average_accuracy"`
	AverageConsistency float64   `json:"average_consistency"`
	TotalRaces         int       `json:"total_races"`
	RacesWon           int       `json:"races_won"`
	UpdatedAt          time.Time `json:"updated_at"`
}
