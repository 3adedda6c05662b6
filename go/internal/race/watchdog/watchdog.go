// Package watchdog ends races nobody is left to end. The host normally ends a
// race when its timer runs out or everyone has finished; if the host goes away
// mid-race the room would stay RACING forever. The watchdog follows the durable
// event stream, arms a deadline for every started race and ends the race on
// the host's behalf when the deadline passes first.
package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Store is what the watchdog needs from the durable store.
type Store interface {
	GetRoom(ctx context.Context, code string) (*models.Race, error)
	EndRoom(ctx context.Context, code, userID string) (*models.Race, error)
}

type Config struct {
	CountdownTicks int           // seconds between RaceStarted and the typing timer
	Grace          time.Duration // slack past the race duration before stepping in
	WordsLimit     time.Duration // words races have no timer; end them after this long
	Workers        int

	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
}

func DefaultConfig() Config {
	return Config{
		CountdownTicks: 3,
		Grace:          15 * time.Second,
		WordsLimit:     10 * time.Minute,
		Workers:        4,
		StreamName:     "RACE_EVENTS",
		ConsumerName:   "race-watchdog",
		SubjectFilter:  "events.race.>",
		MaxDeliver:     5,
		AckWait:        30 * time.Second,
	}
}

type Option func(*Watchdog)

func WithClock(c clockwork.Clock) Option {
	return func(w *Watchdog) { w.clock = c }
}

type Watchdog struct {
	store      Store
	config     Config
	clock      clockwork.Clock
	consumer   jetstream.Consumer
	instanceID string

	workCh chan string

	activeTimers   map[string]*armed
	activeTimersMu sync.Mutex

	// deadlines already armed, keyed by room code; a redelivered RaceStarted
	// must not re-arm the same deadline
	lastScheduled   map[string]time.Time
	lastScheduledMu sync.Mutex

	inFlight   map[string]bool
	inFlightMu sync.Mutex

	endedCount int
	endedMu    sync.Mutex
}

func New(store Store, config Config, opts ...Option) *Watchdog {
	if config.Workers < 1 {
		config.Workers = 1
	}
	w := &Watchdog{
		store:         store,
		config:        config,
		clock:         clockwork.NewRealClock(),
		instanceID:    uuid.New().String()[:8],
		workCh:        make(chan string, config.Workers*2),
		activeTimers:  make(map[string]*armed),
		lastScheduled: make(map[string]time.Time),
		inFlight:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleEvent routes one durable event envelope.
func (w *Watchdog) HandleEvent(ctx context.Context, data []byte) error {
	var event events.DurableEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("unmarshal durable event: %w", err)
	}
	if event.Code == "" {
		return fmt.Errorf("durable event %s has no race code", event.ID)
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("race_code", event.Code).
		Str("event_type", string(event.Type)).
		Msg("watchdog handling durable event")

	switch event.Type {
	case events.EventTypeRaceStarted:
		payload, err := events.ParseDurablePayload(&event)
		if err != nil {
			return fmt.Errorf("failed to unmarshal RaceStarted payload: %w", err)
		}
		startedAt := event.Timestamp
		if p, ok := payload.(events.RaceStartedPayload); ok && !p.StartedAt.IsZero() {
			startedAt = p.StartedAt
		}
		return w.handleRaceStarted(ctx, event.Code, startedAt)

	case events.EventTypeRaceEnded:
		w.cancelTimer(event.Code)
		return nil

	default:
		return nil
	}
}

func (w *Watchdog) handleRaceStarted(ctx context.Context, code string, startedAt time.Time) error {
	race, err := w.store.GetRoom(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to load race %s: %w", code, err)
	}
	if race.Status == models.RaceStatusFinished {
		// Replayed start of a race that already ended.
		return nil
	}
	return w.scheduleDeadline(ctx, code, w.Deadline(race, startedAt))
}

// Deadline is when race, started at startedAt, is considered abandoned.
func (w *Watchdog) Deadline(race *models.Race, startedAt time.Time) time.Time {
	if race.Mode == models.RaceModeWords || race.Duration <= 0 {
		return startedAt.Add(w.config.WordsLimit)
	}
	countdown := time.Duration(w.config.CountdownTicks) * time.Second
	return startedAt.Add(countdown + time.Duration(race.Duration)*time.Second + w.config.Grace)
}

// handleDeadline ends code if it is still running.
func (w *Watchdog) handleDeadline(ctx context.Context, code string) error {
	race, err := w.store.GetRoom(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to load race %s: %w", code, err)
	}
	if race.Status != models.RaceStatusRacing {
		return nil
	}

	if _, err := w.store.EndRoom(ctx, code, race.HostID); err != nil {
		return fmt.Errorf("failed to end race %s: %w", code, err)
	}
	w.endedMu.Lock()
	w.endedCount++
	w.endedMu.Unlock()

	log.Info().
		Str("race_code", code).
		Str("host_id", race.HostID).
		Str("instance", w.instanceID).
		Msg("ended abandoned race")
	return nil
}

// Ended counts races this watchdog has ended.
func (w *Watchdog) Ended() int {
	w.endedMu.Lock()
	defer w.endedMu.Unlock()
	return w.endedCount
}

// Pending counts armed deadlines.
func (w *Watchdog) Pending() int {
	w.activeTimersMu.Lock()
	defer w.activeTimersMu.Unlock()
	return len(w.activeTimers)
}
