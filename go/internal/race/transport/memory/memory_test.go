package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

func TestPresenceOrderedByJoin(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	hub := NewHub(WithClock(clock))
	a, b := hub.Client("a"), hub.Client("b")

	var seen [][]string
	_, err := a.SubscribePresence("ROOM01", func(m []racesync.Member) {
		seen = append(seen, racesync.RosterIDs(m))
	})
	require.NoError(t, err)

	require.NoError(t, a.EnterPresence(ctx, "ROOM01", racesync.PresenceData{Name: "Ann"}))
	clock.Advance(time.Second)
	require.NoError(t, b.EnterPresence(ctx, "ROOM01", racesync.PresenceData{Name: "Bob"}))
	require.NoError(t, a.EnterPresence(ctx, "ROOM01", racesync.PresenceData{Name: "Annie"}))

	snap, err := b.PresenceSnapshot(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ClientID)
	assert.Equal(t, "Annie", snap[0].Data.Name, "re-entering updates data in place")

	require.NoError(t, a.LeavePresence(ctx, "ROOM01"))
	snap, _ = b.PresenceSnapshot(ctx, "ROOM01")
	assert.Equal(t, []string{"b"}, racesync.RosterIDs(snap))

	assert.Equal(t, [][]string{{"a"}, {"a", "b"}, {"a", "b"}, {"b"}}, seen)
}

func TestPublishFanOutIncludesSelf(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a, b := hub.Client("a"), hub.Client("b")

	var got []events.Message
	for _, tr := range []*Transport{a, b} {
		_, err := tr.Subscribe("ROOM01", events.PlayerProgress, func(m events.Message) { got = append(got, m) })
		require.NoError(t, err)
	}
	_, err := b.Subscribe("OTHER1", events.PlayerProgress, func(m events.Message) { t.Fatal("wrong room") })
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, "ROOM01", events.PlayerProgress, events.ProgressPayload{Caret: 3, WPM: 40}))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ClientID)
	assert.Equal(t, got[0].ID, got[1].ID)

	var p events.ProgressPayload
	require.NoError(t, got[1].Decode(&p))
	assert.Equal(t, 3, p.Caret)
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	a := hub.Client("a")

	calls := 0
	unsub, err := a.Subscribe("ROOM01", events.RaceStart, func(events.Message) { calls++ })
	require.NoError(t, err)
	unsubPresence, err := a.SubscribePresence("ROOM01", func([]racesync.Member) {})
	require.NoError(t, err)
	assert.Equal(t, 2, hub.SubscriberCount("ROOM01"))

	unsub()
	unsub()
	unsubPresence()
	assert.Equal(t, 0, hub.SubscriberCount("ROOM01"))

	require.NoError(t, a.Publish(context.Background(), "ROOM01", events.RaceStart, nil))
	assert.Equal(t, 0, calls)
}

func TestPublishError(t *testing.T) {
	hub := NewHub()
	a := hub.Client("a")
	boom := errors.New("offline")

	hub.SetPublishError(boom)
	assert.ErrorIs(t, a.Publish(context.Background(), "ROOM01", events.RaceEnd, nil), boom)
	hub.SetPublishError(nil)
	assert.NoError(t, a.Publish(context.Background(), "ROOM01", events.RaceEnd, nil))
}
