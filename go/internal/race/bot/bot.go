// Package bot runs scripted racers. A racer mounts a race session, types the
// room's text at a configured speed with occasional corrected mistakes, and
// reports the final snapshot. The host variant starts the race once enough
// players are present.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/typing"
)

// Profile shapes how a racer types.
type Profile struct {
	WPM       int
	ErrorRate float64 // chance a character is mistyped, then corrected
	Jitter    float64 // fraction of the key interval added or removed at random
}

func DefaultProfile() Profile {
	return Profile{WPM: 60, ErrorRate: 0.03, Jitter: 0.25}
}

func (p Profile) Validate() error {
	if p.WPM <= 0 {
		return fmt.Errorf("wpm must be positive, got %d", p.WPM)
	}
	if p.ErrorRate < 0 || p.ErrorRate >= 1 {
		return fmt.Errorf("error rate must be in [0, 1), got %v", p.ErrorRate)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %v", p.Jitter)
	}
	return nil
}

// KeyInterval is the mean delay between keys: a word is five characters.
func (p Profile) KeyInterval() time.Duration {
	return time.Minute / time.Duration(p.WPM*5)
}

// Keystrokes builds the keys for text. A mistyped character is followed by a
// Backspace and the right character.
func Keystrokes(text string, p Profile, rng *rand.Rand) []typing.KeyEvent {
	keys := make([]typing.KeyEvent, 0, len(text))
	for _, r := range text {
		if r != ' ' && p.ErrorRate > 0 && rng.Float64() < p.ErrorRate {
			keys = append(keys,
				typing.KeyEvent{Key: string(typo(r))},
				typing.KeyEvent{Key: typing.KeyBackspace},
			)
		}
		keys = append(keys, typing.KeyEvent{Key: string(r)})
	}
	return keys
}

func typo(r rune) rune {
	if r == 'x' {
		return 'z'
	}
	return 'x'
}

// Session is the part of race.Session a racer drives.
type Session interface {
	Mount(ctx context.Context) (*models.Race, error)
	Run(ctx context.Context) error
	Start(ctx context.Context) error
	HandleKey(ev typing.KeyEvent)
	Vote(ctx context.Context) error
	Updates() <-chan race.Snapshot
	Snapshot() race.Snapshot
}

type Option func(*Racer)

func WithClock(c clockwork.Clock) Option {
	return func(r *Racer) { r.clock = c }
}

func WithSeed(seed int64) Option {
	return func(r *Racer) { r.rng = rand.New(rand.NewSource(seed)) }
}

// AsHost makes the racer start the race once minPlayers are present.
func AsHost(minPlayers int) Option {
	return func(r *Racer) {
		r.host = true
		r.minPlayers = max(minPlayers, 2)
	}
}

// WithRematchVote casts a rematch vote once the race is over.
func WithRematchVote() Option {
	return func(r *Racer) { r.vote = true }
}

// WithPoll sets how often the racer re-reads the session snapshot when no
// update arrives.
func WithPoll(d time.Duration) Option {
	return func(r *Racer) { r.poll = d }
}

// Racer plays one race through a session.
type Racer struct {
	session    Session
	profile    Profile
	clock      clockwork.Clock
	rng        *rand.Rand
	host       bool
	minPlayers int
	vote       bool
	poll       time.Duration
}

func New(session Session, profile Profile, opts ...Option) *Racer {
	r := &Racer{
		session: session,
		profile: profile,
		clock:   clockwork.NewRealClock(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		poll:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run mounts the session, races and returns the snapshot taken when the race
// ended. ctx bounds the whole race.
func (r *Racer) Run(ctx context.Context) (race.Snapshot, error) {
	if err := r.profile.Validate(); err != nil {
		return race.Snapshot{}, err
	}
	room, err := r.session.Mount(ctx)
	if err != nil {
		return race.Snapshot{}, fmt.Errorf("failed to join race: %w", err)
	}
	keys := Keystrokes(strings.Join(room.Words, " "), r.profile, r.rng)

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	var runErr error
	go func() {
		defer close(stopped)
		runErr = r.session.Run(runCtx)
	}()
	// Run leaves the room on the way out.
	defer func() {
		cancel()
		<-stopped
	}()

	started, typingStarted := false, false
	for {
		snap := r.session.Snapshot()

		if r.host && !started && snap.Phase == models.RaceStatusLobby && len(snap.Roster) >= r.minPlayers {
			err := r.session.Start(ctx)
			switch {
			case err == nil:
				started = true
				log.Info().Str("race_code", snap.Room).Int("players", len(snap.Roster)).Msg("bot started race")
			case errors.Is(err, racesync.ErrNotEnoughPlayers):
			default:
				return snap, fmt.Errorf("failed to start race: %w", err)
			}
		}

		if snap.Phase == models.RaceStatusRacing && !typingStarted {
			typingStarted = true
			go r.typeKeys(runCtx, keys)
		}

		if snap.Ended {
			if r.vote {
				if err := r.session.Vote(ctx); err != nil {
					log.Warn().Err(err).Str("race_code", snap.Room).Msg("bot rematch vote failed")
				}
				snap = r.session.Snapshot()
			}
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return r.session.Snapshot(), ctx.Err()
		case <-stopped:
			err := runErr
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else if err == nil {
				err = errors.New("session stopped before the race ended")
			}
			return r.session.Snapshot(), err
		case <-r.session.Updates():
		case <-r.clock.After(r.poll):
		}
	}
}

func (r *Racer) typeKeys(ctx context.Context, keys []typing.KeyEvent) {
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.nextDelay()):
		}
		r.session.HandleKey(key)
	}
}

func (r *Racer) nextDelay() time.Duration {
	base := r.profile.KeyInterval()
	if r.profile.Jitter == 0 {
		return base
	}
	spread := (r.rng.Float64()*2 - 1) * r.profile.Jitter
	return time.Duration(float64(base) * (1 + spread))
}
