package rematch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/memstore"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

type published struct {
	name    events.Name
	payload any
}

func recorder(out *[]published, err error) Publisher {
	return func(_ context.Context, name events.Name, payload any) error {
		*out = append(*out, published{name, payload})
		return err
	}
}

func setup(t *testing.T) (*memstore.Store, *models.Race) {
	t.Helper()
	store := memstore.New(config.Default().Race)
	race, err := store.CreateRoom(context.Background(), "host", models.RaceSettings{
		Duration: 120, Punctuation: true, Numbers: true, MaxPlayers: 3,
	})
	require.NoError(t, err)
	return store, race
}

func TestVoteIsIdempotent(t *testing.T) {
	store, race := setup(t)
	var out []published
	c := New(*race, "guest", store, recorder(&out, nil))
	c.SetTotal(3)

	require.NoError(t, c.Vote(context.Background()))
	require.NoError(t, c.Vote(context.Background()))
	assert.Len(t, out, 1)
	assert.Equal(t, events.RematchVote, out[0].name)
	assert.True(t, c.HasVoted())

	c.HandleVote("guest")
	c.HandleVote("other")
	c.HandleVote("other")
	c.HandleVote("host")
	votes, total := c.Votes()
	assert.Equal(t, 2, votes)
	assert.Equal(t, 3, total)
}

func TestHostDoesNotVote(t *testing.T) {
	store, race := setup(t)
	var out []published
	c := New(*race, "host", store, recorder(&out, nil))
	require.NoError(t, c.Vote(context.Background()))
	assert.Empty(t, out)
	votes, _ := c.Votes()
	assert.Zero(t, votes)
}

func TestCreateRematchWithoutVotes(t *testing.T) {
	ctx := context.Background()
	store, race := setup(t)
	var out []published
	c := New(*race, "host", store, recorder(&out, errors.New("offline")))

	var redirects []string
	c.OnRedirect(func(code string) { redirects = append(redirects, code) })

	code, err := c.CreateRematch(ctx)
	require.NoError(t, err, "a failed broadcast does not fail the rematch")
	assert.NotEqual(t, race.Code, code)
	assert.Equal(t, []string{code}, redirects)

	require.Len(t, out, 1)
	assert.Equal(t, events.RematchCreatedPayload{NewRoomCode: code}, out[0].payload)

	next, err := store.GetRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, race.Settings(), next.Settings())
	assert.Equal(t, "host", next.HostID)

	c.HandleCreated("ANOTHR")
	assert.Len(t, redirects, 1, "redirect fires once")
}

func TestCreateRematchRequiresHost(t *testing.T) {
	store, race := setup(t)
	var out []published
	c := New(*race, "guest", store, recorder(&out, nil))
	_, err := c.CreateRematch(context.Background())
	assert.ErrorIs(t, err, racesync.ErrNotHost)
	assert.Empty(t, out)
}

func TestHandleCreatedRedirectsNonVoters(t *testing.T) {
	store, race := setup(t)
	c := New(*race, "guest", store, recorder(new([]published), nil))
	var got string
	c.OnRedirect(func(code string) { got = code })
	c.HandleCreated("")
	assert.Empty(t, got)
	c.HandleCreated("NEW123")
	assert.Equal(t, "NEW123", got)
}
