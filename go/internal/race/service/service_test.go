package service

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/memstore"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

type fakeRecorder struct {
	saved []models.TestResult
	err   error
}

func (f *fakeRecorder) Save(_ context.Context, r models.TestResult) (*models.TestResult, *models.UserStats, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.saved = append(f.saved, r)
	return &r, &models.UserStats{UserID: r.UserID, TotalTests: len(f.saved), BestWPM: r.WPM}, nil
}

func (f *fakeRecorder) ListTestResults(_ context.Context, userID string, limit int) ([]models.TestResult, error) {
	var out []models.TestResult
	for _, r := range f.saved {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeStats struct {
	lastLimit int
}

func (f *fakeStats) Get(_ context.Context, userID string) (*models.UserStats, error) {
	return &models.UserStats{UserID: userID, BestWPM: 120}, nil
}

func (f *fakeStats) Leaderboard(_ context.Context, limit int) ([]models.UserStats, error) {
	f.lastLimit = limit
	return []models.UserStats{{UserID: "a", BestWPM: 120}, {UserID: "b", BestWPM: 90}}, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeRefresher) Refresh(_ context.Context, userID string) *models.UserStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return &models.UserStats{UserID: userID}
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	store := memstore.New(config.Default().Race)
	_, handler := NewHandler(New(store, opts...))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL)
}

func TestRoomLifecycleOverRPC(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	race, err := c.CreateRoom(ctx, "host", models.RaceSettings{Duration: 30, Mode: models.RaceModeWords})
	require.NoError(t, err)
	assert.Len(t, race.Code, 6)
	assert.Equal(t, models.RaceStatusLobby, race.Status)
	assert.NotEmpty(t, race.Words)

	got, err := c.GetRoom(ctx, race.Code)
	require.NoError(t, err)
	assert.Equal(t, race.Words, got.Words)

	_, err = c.StartRoom(ctx, race.Code, "host")
	assert.ErrorIs(t, err, racesync.ErrNotEnoughPlayers)

	_, err = c.JoinRoom(ctx, race.Code, "guest")
	require.NoError(t, err)

	_, err = c.StartRoom(ctx, race.Code, "guest")
	assert.ErrorIs(t, err, racesync.ErrNotHost)

	started, err := c.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusRacing, started.Status)
	assert.NotNil(t, started.StartTime)

	_, err = c.JoinRoom(ctx, race.Code, "late")
	assert.ErrorIs(t, err, racesync.ErrRaceStarted)

	pos, err := c.FinishParticipant(ctx, race.Code, "guest", models.FinishStats{Progress: 40, WPM: 90, Accuracy: 97})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = c.FinishParticipant(ctx, race.Code, "host", models.FinishStats{Progress: 40, WPM: 70, Accuracy: 99})
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	ended, err := c.EndRoom(ctx, race.Code, "host")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusFinished, ended.Status)

	parts, err := c.ListParticipants(ctx, race.Code)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "host", parts[0].UserID)
	require.NotNil(t, parts[1].Position)
	assert.Equal(t, 1, *parts[1].Position)
}

func TestErrorsSurviveTheWire(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.GetRoom(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, racesync.ErrRoomNotFound)
	assert.True(t, racesync.IsValidation(err))

	_, err = c.CreateRoom(ctx, "host", models.RaceSettings{Duration: 45})
	assert.ErrorIs(t, err, racesync.ErrInvalidSettings)

	race, err := c.CreateRoom(ctx, "host", models.RaceSettings{MaxPlayers: 2})
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, race.Code, "guest")
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, race.Code, "third")
	assert.ErrorIs(t, err, racesync.ErrRoomFull)

	_, err = c.FinishParticipant(ctx, race.Code, "guest", models.FinishStats{})
	assert.ErrorIs(t, err, racesync.ErrRaceNotStarted)

	_, err = c.JoinRoom(ctx, "", "guest")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestLowerCaseCodesAreNormalized(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	race, err := c.CreateRoom(ctx, "host", models.RaceSettings{})
	require.NoError(t, err)
	got, err := c.GetRoom(ctx, " "+strings.ToLower(race.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, race.ID, got.ID)
}

func TestResultsAndStats(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	stats := &fakeStats{}
	c := newTestClient(t, WithResults(rec, rec), WithStats(stats))

	saved, userStats, err := c.SaveTestResult(ctx, models.TestResult{
		UserID:    "u1",
		Mode:      models.RaceModeTime,
		Duration:  30,
		WPM:       88,
		ChartData: []models.ChartSample{{Time: 1, WPM: 80, Raw: 85}},
	})
	require.NoError(t, err)
	assert.Equal(t, 88, saved.WPM)
	assert.Equal(t, []models.ChartSample{{Time: 1, WPM: 80, Raw: 85}}, saved.ChartData)
	require.NotNil(t, userStats)
	assert.Equal(t, 1, userStats.TotalTests)

	_, _, err = c.SaveTestResult(ctx, models.TestResult{UserID: "u1", Mode: "zen"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	results, err := c.ListTestResults(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	got, err := c.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 120, got.BestWPM)

	board, err := c.Leaderboard(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, board, 2)
	assert.Equal(t, maxListLimit, stats.lastLimit)
}

func TestFinishRefreshesStats(t *testing.T) {
	ctx := context.Background()
	refresher := &fakeRefresher{}
	c := newTestClient(t, WithStatsRefresh(refresher))

	race, err := c.CreateRoom(ctx, "host", models.RaceSettings{Duration: 30})
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, race.Code, "guest")
	require.NoError(t, err)
	_, err = c.StartRoom(ctx, race.Code, "host")
	require.NoError(t, err)

	_, err = c.FinishParticipant(ctx, race.Code, "guest", models.FinishStats{Progress: 10, WPM: 50, Accuracy: 95})
	require.NoError(t, err)
	_, err = c.FinishParticipant(ctx, "NOPE00", "guest", models.FinishStats{})
	assert.ErrorIs(t, err, racesync.ErrRoomNotFound)

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	assert.Equal(t, []string{"guest"}, refresher.users, "only successful finishes refresh")
}

func TestResultsDisabled(t *testing.T) {
	c := newTestClient(t)
	_, _, err := c.SaveTestResult(context.Background(), models.TestResult{UserID: "u1", Mode: models.RaceModeTime})
	assert.Equal(t, connect.CodeUnimplemented, connect.CodeOf(err))
	_, err = c.Leaderboard(context.Background(), 10)
	assert.Equal(t, connect.CodeUnimplemented, connect.CodeOf(err))
}

func TestToConnectError(t *testing.T) {
	assert.Nil(t, toConnectError(nil))
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(toConnectError(errors.New("boom"))))
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(toConnectError(racesync.ErrNotHost)))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(toConnectError(racesync.ErrNotParticipant)))
	assert.ErrorIs(t, fromConnectError(toConnectError(racesync.ErrNotParticipant)), racesync.ErrNotParticipant)
}
