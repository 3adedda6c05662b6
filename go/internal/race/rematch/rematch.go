// Package rematch coordinates votes for a rematch and the host's redirect of
// every participant into the new room.
package rematch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// Publisher broadcasts name with payload into the current room.
type Publisher func(ctx context.Context, name events.Name, payload any) error

// RoomCreator is the part of the durable store a rematch needs.
type RoomCreator interface {
	CreateRoom(ctx context.Context, hostID string, settings models.RaceSettings) (*models.Race, error)
}

// Coordinator tracks votes for one finished race. Votes are informational;
// the host may create the rematch with none.
type Coordinator struct {
	mu sync.Mutex

	race    models.Race
	self    string
	store   RoomCreator
	publish Publisher

	voters     map[string]struct{}
	voted      bool
	total      int
	redirected bool
	onRedirect func(code string)
}

func New(race models.Race, self string, store RoomCreator, publish Publisher) *Coordinator {
	return &Coordinator{
		race:    race,
		self:    self,
		store:   store,
		publish: publish,
		voters:  make(map[string]struct{}),
	}
}

// OnRedirect registers the callback receiving the new room code. It fires
// at most once.
func (c *Coordinator) OnRedirect(fn func(code string)) {
	c.mu.Lock()
	c.onRedirect = fn
	c.mu.Unlock()
}

// IsHost reports whether this client may create the rematch.
func (c *Coordinator) IsHost() bool {
	return racesync.IsHost(&c.race, c.self)
}

// SetTotal records how many participants can vote, usually the roster size.
func (c *Coordinator) SetTotal(n int) {
	c.mu.Lock()
	c.total = n
	c.mu.Unlock()
}

// Votes returns the votes cast and the number of participants.
func (c *Coordinator) Votes() (votes, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voters), c.total
}

// HasVoted reports whether this client has cast its vote.
func (c *Coordinator) HasVoted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voted
}

// Vote casts this client's vote. The host does not vote and a second vote is
// a no-op. A failed broadcast is logged; the local vote stands.
func (c *Coordinator) Vote(ctx context.Context) error {
	if c.IsHost() {
		return nil
	}
	c.mu.Lock()
	if c.voted {
		c.mu.Unlock()
		return nil
	}
	c.voted = true
	c.voters[c.self] = struct{}{}
	c.mu.Unlock()

	if err := c.publish(ctx, events.RematchVote, events.RematchVotePayload{}); err != nil {
		log.Warn().Err(err).Str("race_code", c.race.Code).Str("client_id", c.self).Msg("failed to broadcast rematch vote")
	}
	return nil
}

// HandleVote counts a vote announced by clientID. Duplicates and host votes
// are ignored.
func (c *Coordinator) HandleVote(clientID string) {
	if clientID == c.race.HostID {
		return
	}
	c.mu.Lock()
	c.voters[clientID] = struct{}{}
	c.mu.Unlock()
}

// CreateRematch creates a room with this race's settings and redirects every
// participant to it, including this client.
func (c *Coordinator) CreateRematch(ctx context.Context) (string, error) {
	if !c.IsHost() {
		return "", racesync.ErrNotHost
	}

	next, err := c.store.CreateRoom(ctx, c.self, c.race.Settings())
	if err != nil {
		return "", err
	}

	if err := c.publish(ctx, events.RematchCreated, events.RematchCreatedPayload{NewRoomCode: next.Code}); err != nil {
		log.Warn().Err(err).Str("race_code", c.race.Code).Str("new_room_code", next.Code).Msg("failed to broadcast rematch")
	}
	c.HandleCreated(next.Code)
	return next.Code, nil
}

// HandleCreated redirects to code regardless of whether this client voted.
func (c *Coordinator) HandleCreated(code string) {
	if code == "" {
		return
	}
	c.mu.Lock()
	if c.redirected {
		c.mu.Unlock()
		return
	}
	c.redirected = true
	fn := c.onRedirect
	c.mu.Unlock()

	if fn != nil {
		fn(code)
	}
}
