package natsbus

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

func TestPresenceKey(t *testing.T) {
	key := presenceKey("ABC123", "user@example.com")
	room, enc, ok := strings.Cut(key, ".")
	require.True(t, ok)
	assert.Equal(t, "ABC123", room)
	assert.NotContains(t, enc, ".")

	raw, err := base64.RawURLEncoding.DecodeString(enc)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", string(raw))
}

func TestSortMembers(t *testing.T) {
	t0 := time.Now()
	members := []racesync.Member{
		{ClientID: "c", JoinedAt: t0.Add(time.Second)},
		{ClientID: "b", JoinedAt: t0},
		{ClientID: "a", JoinedAt: t0},
	}
	sortMembers(members)
	assert.Equal(t, []string{"a", "b", "c"}, racesync.RosterIDs(members))
}

func connectTest(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	nc, err := Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSRoundTrip(t *testing.T) {
	nc := connectTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.PresenceBucket = "TEST_PRESENCE"
	room := strings.ToUpper(uuid.NewString()[:6])

	a, err := New(ctx, nc, "a", cfg)
	require.NoError(t, err)
	b, err := New(ctx, nc, "b", cfg)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []events.Message
	unsub, err := b.Subscribe(room, events.PlayerFinished, func(m events.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()
	require.NoError(t, nc.Flush())

	require.NoError(t, a.Publish(ctx, room, events.PlayerFinished, events.FinishedPayload{Name: "Ann", WPM: 88}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "a", got[0].ClientID)

	require.NoError(t, a.EnterPresence(ctx, room, racesync.PresenceData{Name: "Ann"}))
	require.NoError(t, b.EnterPresence(ctx, room, racesync.PresenceData{Name: "Bob"}))
	snap, err := b.PresenceSnapshot(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, racesync.RosterIDs(snap))

	require.NoError(t, a.Close(ctx))
	require.NoError(t, b.Close(ctx))
	snap, err = b.PresenceSnapshot(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestPublishMessageKeepsEnvelope(t *testing.T) {
	nc := connectTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.PresenceBucket = "TEST_PRESENCE"
	room := strings.ToUpper(uuid.NewString()[:6])

	relay, err := New(ctx, nc, "gateway", cfg)
	require.NoError(t, err)
	b, err := New(ctx, nc, "b", cfg)
	require.NoError(t, err)

	got := make(chan events.Message, 1)
	unsub, err := b.Subscribe(room, events.RaceEnded, func(m events.Message) { got <- m })
	require.NoError(t, err)
	defer unsub()
	require.NoError(t, nc.Flush())

	msg, err := events.NewMessage(room, events.RaceEnded, "origin", events.RaceEndPayload{EndedAt: time.Now().UTC()}, time.Now())
	require.NoError(t, err)
	require.NoError(t, relay.PublishMessage(msg))

	select {
	case m := <-got:
		assert.Equal(t, msg.ID, m.ID)
		assert.Equal(t, "origin", m.ClientID)
	case <-ctx.Done():
		t.Fatal("relayed message not delivered")
	}
}

type failingKV struct {
	jetstream.KeyValue
	err error
}

func (f failingKV) Delete(context.Context, string, ...jetstream.KVDeleteOpt) error {
	return f.err
}

func TestCloseKeepsLeaveErrors(t *testing.T) {
	tr := &Transport{
		kv:       failingKV{err: nats.ErrConnectionClosed},
		clientID: "a",
		present: map[string]*presence{
			"ABC123": {stop: make(chan struct{})},
			"XYZ789": {stop: make(chan struct{})},
		},
	}

	err := tr.Close(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	assert.Contains(t, err.Error(), "ABC123")
	assert.Contains(t, err.Error(), "XYZ789")
	assert.Empty(t, tr.present)
}
