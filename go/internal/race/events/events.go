package events

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Name is a broadcast event name within a room.
type Name string

const (
	RaceStart      Name = "race:start"
	PlayerProgress Name = "player:progress"
	PlayerFinished Name = "player:finished"
	RaceEnd        Name = "race:end"
	RaceEnded      Name = "race:ended"
	RematchVote    Name = "rematch:vote"
	RematchCreated Name = "rematch:created"
)

// All lists every broadcast event name.
var All = []Name{
	RaceStart, PlayerProgress, PlayerFinished, RaceEnd, RaceEnded, RematchVote, RematchCreated,
}

// Valid reports whether n is a known event name.
func (n Name) Valid() bool {
	return slices.Contains(All, n)
}

// Message is the envelope for every broadcast event.
type Message struct {
	ID        string          `json:"id"`        // Event UUID, used for duplicate suppression
	Room      string          `json:"room"`      // Room code
	Name      Name            `json:"name"`      // Event name
	ClientID  string          `json:"client_id"` // Publisher
	Timestamp time.Time       `json:"timestamp"` // Publish time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// NewMessage wraps payload in an envelope with a fresh id.
func NewMessage(room string, name Name, clientID string, payload any, now time.Time) (Message, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
		}
		data = raw
	}
	return Message{
		ID:        uuid.New().String(),
		Room:      room,
		Name:      name,
		ClientID:  clientID,
		Timestamp: now.UTC(),
		Data:      data,
	}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Name, err)
	}
	return nil
}

// RaceStartPayload is broadcast by the host to begin the countdown.
type RaceStartPayload struct {
	StartedAt time.Time `json:"started_at"`
}

// ProgressPayload is per-tick race telemetry. Never persisted.
type ProgressPayload struct {
	Caret int `json:"caret"`
	WPM   int `json:"wpm"`
}

// FinishedPayload announces a participant's finish to peers.
type FinishedPayload struct {
	Name     string `json:"name"`
	WPM      int    `json:"wpm"`
	Accuracy int    `json:"accuracy"`
	Position int    `json:"position,omitempty"`
}

// RaceEndPayload cuts off everyone still racing.
type RaceEndPayload struct {
	EndedAt time.Time `json:"ended_at"`
}

// RematchVotePayload carries no data; the voter is the envelope client.
type RematchVotePayload struct{}

// RematchCreatedPayload redirects every participant to the new room.
type RematchCreatedPayload struct {
	NewRoomCode string `json:"new_room_code"`
}
