package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Race struct {
	ID          uuid.UUID
	Code        string
	HostID      string
	Duration    int32
	Mode        string
	Punctuation bool
	Numbers     bool
	MaxPlayers  int32
	Words       []string
	Status      string
	StartTime   sql.NullTime
	EndTime     sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RaceParticipant struct {
	ID         uuid.UUID
	RaceID     uuid.UUID
	UserID     string
	Progress   int32
	Wpm        int32
	Accuracy   int32
	Position   sql.NullInt32
	Finished   bool
	FinishedAt sql.NullTime
	JoinedAt   time.Time
}

type RaceOutbox struct {
	ID        uuid.UUID
	RaceID    uuid.UUID
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
	SentAt    sql.NullTime
}

type TestResult struct {
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
	CreatedAt    time.Time
}
