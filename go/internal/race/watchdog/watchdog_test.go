package watchdog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/memstore"
)

type fixture struct {
	clock *clockwork.FakeClock
	store *memstore.Store
	dog   *Watchdog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := memstore.New(config.Default().Race, memstore.WithClock(clock))
	return &fixture{
		clock: clock,
		store: store,
		dog:   New(store, DefaultConfig(), WithClock(clock)),
	}
}

// racing creates a started race between host and one joiner.
func (f *fixture) racing(t *testing.T, mode models.RaceMode) string {
	t.Helper()
	ctx := context.Background()
	race, err := f.store.CreateRoom(ctx, "host", models.RaceSettings{Duration: 30, Mode: mode})
	require.NoError(t, err)
	_, err = f.store.JoinRoom(ctx, race.Code, "guest")
	require.NoError(t, err)
	_, err = f.store.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	return race.Code
}

func durable(t *testing.T, code string, typ events.EventType, payload any, at time.Time) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(events.DurableEvent{
		ID:        code + "-" + string(typ),
		Code:      code,
		Type:      typ,
		Timestamp: at,
		Data:      data,
	})
	require.NoError(t, err)
	return raw
}

func started(t *testing.T, code string, at time.Time) []byte {
	return durable(t, code, events.EventTypeRaceStarted, events.RaceStartedPayload{Code: code, StartedAt: at}, at)
}

func status(t *testing.T, f *fixture, code string) models.RaceStatus {
	t.Helper()
	race, err := f.store.GetRoom(context.Background(), code)
	require.NoError(t, err)
	return race.Status
}

func TestDeadline(t *testing.T) {
	dog := New(nil, DefaultConfig())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	timed := &models.Race{Mode: models.RaceModeTime, Duration: 60}
	assert.Equal(t, at.Add(3*time.Second+60*time.Second+15*time.Second), dog.Deadline(timed, at))

	words := &models.Race{Mode: models.RaceModeWords, Duration: 60}
	assert.Equal(t, at.Add(10*time.Minute), dog.Deadline(words, at))
}

func TestEndsAbandonedRace(t *testing.T) {
	f := newFixture(t)
	code := f.racing(t, models.RaceModeTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := f.dog.startWorkers(ctx)
	defer wait()
	defer cancel()

	require.NoError(t, f.dog.HandleEvent(ctx, started(t, code, f.clock.Now())))
	assert.Equal(t, 1, f.dog.Pending())

	f.clock.Advance(47 * time.Second)
	assert.Equal(t, models.RaceStatusRacing, status(t, f, code), "still inside countdown, duration and grace")

	f.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return f.dog.Ended() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.RaceStatusFinished, status(t, f, code))
	assert.Equal(t, 0, f.dog.Pending())
}

func TestRaceEndedDisarmsDeadline(t *testing.T) {
	f := newFixture(t)
	code := f.racing(t, models.RaceModeWords)
	ctx := context.Background()

	require.NoError(t, f.dog.HandleEvent(ctx, started(t, code, f.clock.Now())))
	require.Equal(t, 1, f.dog.Pending())

	ended := durable(t, code, events.EventTypeRaceEnded, events.RaceEndedPayload{Code: code}, f.clock.Now())
	require.NoError(t, f.dog.HandleEvent(ctx, ended))
	assert.Equal(t, 0, f.dog.Pending())

	f.clock.Advance(time.Hour)
	assert.Equal(t, models.RaceStatusRacing, status(t, f, code))
	assert.Equal(t, 0, f.dog.Ended())
}

func TestRedeliveredStartArmsOnce(t *testing.T) {
	f := newFixture(t)
	code := f.racing(t, models.RaceModeTime)
	ctx := context.Background()
	ev := started(t, code, f.clock.Now())

	require.NoError(t, f.dog.HandleEvent(ctx, ev))
	require.NoError(t, f.dog.HandleEvent(ctx, ev))
	assert.Equal(t, 1, f.dog.Pending())

	f.dog.lastScheduledMu.Lock()
	assert.Len(t, f.dog.lastScheduled, 1)
	f.dog.lastScheduledMu.Unlock()
}

func TestReplayedStartOfFinishedRaceIsIgnored(t *testing.T) {
	f := newFixture(t)
	code := f.racing(t, models.RaceModeTime)
	ctx := context.Background()
	_, err := f.store.EndRoom(ctx, code, "host")
	require.NoError(t, err)

	require.NoError(t, f.dog.HandleEvent(ctx, started(t, code, f.clock.Now())))
	assert.Equal(t, 0, f.dog.Pending())
}

func TestOverdueReplayEndsRightAway(t *testing.T) {
	f := newFixture(t)
	code := f.racing(t, models.RaceModeTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := f.dog.startWorkers(ctx)
	defer wait()
	defer cancel()

	require.NoError(t, f.dog.HandleEvent(ctx, started(t, code, f.clock.Now().Add(-time.Hour))))
	require.Eventually(t, func() bool {
		return status(t, f, code) == models.RaceStatusFinished
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleEventErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Error(t, f.dog.HandleEvent(ctx, []byte("nope")))
	assert.Error(t, f.dog.HandleEvent(ctx, []byte(`{"id":"x","type":"RaceStarted"}`)))
	assert.Error(t, f.dog.HandleEvent(ctx, started(t, "NOPE00", f.clock.Now())), "unknown room")

	created := durable(t, "ABC123", events.EventTypeRaceCreated, events.RaceCreatedPayload{Code: "ABC123"}, f.clock.Now())
	assert.NoError(t, f.dog.HandleEvent(ctx, created), "other event types are ignored")
}
