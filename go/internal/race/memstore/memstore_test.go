package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(config.Default().Race, opts...)
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	race, err := s.CreateRoom(ctx, "host", models.RaceSettings{Duration: 30, Punctuation: true})
	require.NoError(t, err)
	assert.Len(t, race.Code, 6)
	assert.Equal(t, models.RaceStatusLobby, race.Status)
	assert.Len(t, race.Words, 30)
	assert.Equal(t, 5, race.MaxPlayers)
	assert.True(t, race.Punctuation)

	got, err := s.GetRoom(ctx, race.Code)
	require.NoError(t, err)
	assert.Equal(t, race.Words, got.Words, "words are generated once")

	parts, err := s.ListParticipants(ctx, race.Code)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "host", parts[0].UserID)

	_, err = s.CreateRoom(ctx, "host", models.RaceSettings{Duration: 45})
	assert.ErrorIs(t, err, racesync.ErrInvalidSettings)
}

func TestCreateRoomRetriesCollisions(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	i := 0
	s := newStore(t, WithCodeSource(func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}))

	first, err := s.CreateRoom(ctx, "h1", models.RaceSettings{})
	require.NoError(t, err)
	second, err := s.CreateRoom(ctx, "h2", models.RaceSettings{})
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.Code)
	assert.Equal(t, "BBBBBB", second.Code)

	stuck := newStore(t, WithCodeSource(func() (string, error) { return "SAME00", nil }))
	_, err = stuck.CreateRoom(ctx, "h", models.RaceSettings{})
	require.NoError(t, err)
	_, err = stuck.CreateRoom(ctx, "h", models.RaceSettings{})
	assert.Error(t, err)
}

func TestJoinRoom(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	race, err := s.CreateRoom(ctx, "host", models.RaceSettings{MaxPlayers: 2})
	require.NoError(t, err)

	_, err = s.JoinRoom(ctx, "NOPE00", "a")
	assert.ErrorIs(t, err, racesync.ErrRoomNotFound)

	_, err = s.JoinRoom(ctx, race.Code, "a")
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, race.Code, "a")
	require.NoError(t, err, "rejoining is idempotent")

	_, err = s.JoinRoom(ctx, race.Code, "b")
	assert.ErrorIs(t, err, racesync.ErrRoomFull)

	_, err = s.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, race.Code, "a")
	assert.NoError(t, err, "members may reload into a running race")

	second, err := s.CreateRoom(ctx, "host2", models.RaceSettings{})
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, second.Code, "x")
	require.NoError(t, err)
	_, err = s.StartRoom(ctx, second.Code, "host2")
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, second.Code, "late")
	assert.ErrorIs(t, err, racesync.ErrRaceStarted)
}

func TestStartAndEndRequireHost(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	race, err := s.CreateRoom(ctx, "host", models.RaceSettings{})
	require.NoError(t, err)

	_, err = s.StartRoom(ctx, race.Code, "host")
	assert.ErrorIs(t, err, racesync.ErrNotEnoughPlayers)

	_, err = s.JoinRoom(ctx, race.Code, "guest")
	require.NoError(t, err)
	_, err = s.EndRoom(ctx, race.Code, "host")
	assert.ErrorIs(t, err, racesync.ErrRaceNotStarted)

	_, err = s.StartRoom(ctx, race.Code, "guest")
	assert.ErrorIs(t, err, racesync.ErrNotHost)

	started, err := s.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusRacing, started.Status)
	require.NotNil(t, started.StartTime)

	again, err := s.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	assert.Equal(t, started.StartTime, again.StartTime)

	_, err = s.EndRoom(ctx, race.Code, "guest")
	assert.ErrorIs(t, err, racesync.ErrNotHost)
	ended, err := s.EndRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusFinished, ended.Status)
	require.NotNil(t, ended.EndTime)

	_, err = s.EndRoom(ctx, race.Code, "host")
	assert.NoError(t, err)
	_, err = s.StartRoom(ctx, race.Code, "host")
	assert.ErrorIs(t, err, racesync.ErrRaceStarted)
}

func TestFinishParticipant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	race, err := s.CreateRoom(ctx, "host", models.RaceSettings{})
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, race.Code, "guest")
	require.NoError(t, err)

	_, err = s.FinishParticipant(ctx, race.Code, "host", models.FinishStats{})
	assert.ErrorIs(t, err, racesync.ErrRaceNotStarted)

	_, err = s.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)

	_, err = s.FinishParticipant(ctx, race.Code, "stranger", models.FinishStats{})
	assert.ErrorIs(t, err, racesync.ErrNotParticipant)

	pos, err := s.FinishParticipant(ctx, race.Code, "guest", models.FinishStats{Progress: 120, WPM: 70, Accuracy: 96})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = s.FinishParticipant(ctx, race.Code, "guest", models.FinishStats{WPM: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, pos, "second call returns the first position")

	_, err = s.EndRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	pos, err = s.FinishParticipant(ctx, race.Code, "host", models.FinishStats{WPM: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, pos, "finishing still lands after the race ended")

	parts, err := s.ListParticipants(ctx, race.Code)
	require.NoError(t, err)
	for _, p := range parts {
		if p.UserID == "guest" {
			assert.Equal(t, 70, p.WPM)
			assert.True(t, p.Finished)
			assert.NotNil(t, p.FinishedAt)
		}
	}
}

func TestConcurrentFinishersGetDistinctPositions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for round := 0; round < 20; round++ {
		race, err := s.CreateRoom(ctx, "host", models.RaceSettings{})
		require.NoError(t, err)
		_, err = s.JoinRoom(ctx, race.Code, "guest")
		require.NoError(t, err)
		_, err = s.StartRoom(ctx, race.Code, "host")
		require.NoError(t, err)

		var wg sync.WaitGroup
		positions := make([]int, 2)
		errs := make([]error, 2)
		for i, user := range []string{"host", "guest"} {
			wg.Add(1)
			go func(i int, user string) {
				defer wg.Done()
				positions[i], errs[i] = s.FinishParticipant(ctx, race.Code, user, models.FinishStats{WPM: 60})
			}(i, user)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		sort.Ints(positions)
		assert.Equal(t, []int{1, 2}, positions, fmt.Sprintf("round %d", round))
	}
}
