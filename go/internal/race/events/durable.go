package events

import (
	"encoding/json"
	"time"
)

// Durable event types written to the outbox alongside race state changes

// EventType names a durable race event.
type EventType string

const (
	EventTypeRaceCreated         EventType = "RaceCreated"
	EventTypeRaceStarted         EventType = "RaceStarted"
	EventTypeParticipantFinished EventType = "ParticipantFinished"
	EventTypeRaceEnded           EventType = "RaceEnded"
)

// RaceCreatedPayload is the payload for a RaceCreated event
type RaceCreatedPayload struct {
	RaceID     string    `json:"race_id"`
	Code       string    `json:"code"`
	HostID     string    `json:"host_id"`
	Duration   int       `json:"duration"`
	MaxPlayers int       `json:"max_players"`
	CreatedAt  time.Time `json:"created_at"`
}

// RaceStartedPayload is the payload for a RaceStarted event
type RaceStartedPayload struct {
	RaceID    string    `json:"race_id"`
	Code      string    `json:"code"`
	StartedAt time.Time `json:"started_at"`
}

// ParticipantFinishedPayload is the payload for a ParticipantFinished event
type ParticipantFinishedPayload struct {
	RaceID     string    `json:"race_id"`
	Code       string    `json:"code"`
	UserID     string    `json:"user_id"`
	Position   int       `json:"position"`
	WPM        int       `json:"wpm"`
	Accuracy   int       `json:"accuracy"`
	FinishedAt time.Time `json:"finished_at"`
}

// RaceEndedPayload is the payload for a RaceEnded event
type RaceEndedPayload struct {
	RaceID  string    `json:"race_id"`
	Code    string    `json:"code"`
	EndedAt time.Time `json:"ended_at"`
}

// DurableEvent is what the outbox relays to JetStream.
type DurableEvent struct {
	ID        string          `json:"id"`
	RaceID    string          `json:"race_id"`
	Code      string          `json:"code"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ParseDurablePayload parses event data into the matching payload struct.
func ParseDurablePayload(event *DurableEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeRaceCreated:
		var payload RaceCreatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRaceStarted:
		var payload RaceStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantFinished:
		var payload ParticipantFinishedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRaceEnded:
		var payload RaceEndedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
