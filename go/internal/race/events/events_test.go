package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageAndDecode(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := NewMessage("ABC123", PlayerProgress, "u1", ProgressPayload{Caret: 12, WPM: 80}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "ABC123", msg.Room)
	assert.Equal(t, now, msg.Timestamp)
	assert.JSONEq(t, `{"caret":12,"wpm":80}`, string(msg.Data))

	var p ProgressPayload
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, ProgressPayload{Caret: 12, WPM: 80}, p)

	other, err := NewMessage("ABC123", PlayerProgress, "u1", nil, now)
	require.NoError(t, err)
	assert.NotEqual(t, msg.ID, other.ID)
	assert.NoError(t, other.Decode(&p), "empty payload decodes to nothing")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	msg := Message{Name: PlayerFinished, Data: json.RawMessage(`{"wpm":"fast"}`)}
	var p FinishedPayload
	assert.Error(t, msg.Decode(&p))
}

func TestNameValid(t *testing.T) {
	assert.True(t, RaceEnded.Valid())
	assert.False(t, Name("race:pause").Valid())
}

func TestParseDurablePayload(t *testing.T) {
	data, err := json.Marshal(ParticipantFinishedPayload{Code: "ABC123", UserID: "u1", Position: 2})
	require.NoError(t, err)

	got, err := ParseDurablePayload(&DurableEvent{Type: EventTypeParticipantFinished, Data: data})
	require.NoError(t, err)
	payload, ok := got.(ParticipantFinishedPayload)
	require.True(t, ok)
	assert.Equal(t, 2, payload.Position)

	got, err = ParseDurablePayload(&DurableEvent{Type: "Unknown"})
	assert.NoError(t, err)
	assert.Nil(t, got)
}
