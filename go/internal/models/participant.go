package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one user's row in one race.
type Participant struct {
	ID         uuid.UUID  `json:"id"`
	RaceID     uuid.UUID  `json:"race_id"`
	UserID     string     `json:"user_id"`
	Progress   int        `json:"progress"` // caret position
	WPM        int        `json:"wpm"`
	Accuracy   int        `json:"accuracy"`
	Position   *int       `json:"position,omitempty"` // nil until finished
	Finished   bool       `json:"finished"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
}

// FinishStats is what a client reports when it finishes.
type FinishStats struct {
	Progress int `json:"progress"`
	WPM      int `json:"wpm"`
	Accuracy int `json:"accuracy"`
}
