package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceStatus defines where a race is in its lifecycle.
type RaceStatus string

const (
	RaceStatusLobby     RaceStatus = "LOBBY"
	RaceStatusCountdown RaceStatus = "COUNTDOWN"
	RaceStatusRacing    RaceStatus = "RACING"
	RaceStatusFinished  RaceStatus = "FINISHED"
)

// RaceMode mirrors the typing test mode a race is played in.
type RaceMode string

const (
	RaceModeTime  RaceMode = "time"
	RaceModeWords RaceMode = "words"
)

// RaceSettings is what the host picks when creating a room. A rematch copies it.
type RaceSettings struct {
	Duration    int      `json:"duration"`
	Mode        RaceMode `json:"mode"`
	Punctuation bool     `json:"punctuation"`
	Numbers     bool     `json:"numbers"`
	MaxPlayers  int      `json:"max_players"`
}

// Race is the shared room every participant agrees on. Words is generated
// once at creation and never regenerated.
type Race struct {
	ID          uuid.UUID  `json:"id"`
	Code        string     `json:"code"`
	HostID      string     `json:"host_id"`
	Duration    int        `json:"duration"`
	Mode        RaceMode   `json:"mode"`
	Punctuation bool       `json:"punctuation"`
	Numbers     bool       `json:"numbers"`
	MaxPlayers  int        `json:"max_players"`
	Words       []string   `json:"words"`
	Status      RaceStatus `json:"status"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Settings returns the settings the race was created with.
func (r Race) Settings() RaceSettings {
	return RaceSettings{
		Duration:    r.Duration,
		Mode:        r.Mode,
		Punctuation: r.Punctuation,
		Numbers:     r.Numbers,
		MaxPlayers:  r.MaxPlayers,
	}
}
