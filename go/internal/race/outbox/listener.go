// Package outbox relays durable race events from the race_outbox table to
// JetStream. Postgres NOTIFY wakes the relay per row and a fallback poll picks
// up anything a notification missed.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	racedb "github.com/mcdev12/typerace/go/internal/race/db"
)

// NotifyChannel is the channel the race_outbox trigger notifies on.
const NotifyChannel = "race_outbox_events"

// Source is the slice of the race queries the relay needs.
type Source interface {
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (racedb.RaceOutbox, error)
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]racedb.RaceOutbox, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
}

// Publisher delivers one outbox row downstream.
type Publisher interface {
	Publish(ctx context.Context, row racedb.RaceOutbox) error
}

// Notifier is satisfied by *pq.Listener.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type ListenerConfig struct {
	DatabaseURL      string
	NotifyChannel    string
	FallbackInterval time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

type Listener struct {
	source    Source
	publisher Publisher
	notifier  Notifier
	config    ListenerConfig
	clock     clockwork.Clock

	mu        sync.Mutex
	running   bool
	processed uint64
	lastEvent time.Time
}

type Option func(*Listener)

func WithClock(c clockwork.Clock) Option {
	return func(l *Listener) { l.clock = c }
}

// WithNotifier replaces the pq.Listener the relay would otherwise open.
func WithNotifier(n Notifier) Option {
	return func(l *Listener) { l.notifier = n }
}

// NewListener builds a relay over source. Unless a notifier is supplied it
// opens a pq.Listener on cfg.DatabaseURL and LISTENs on cfg.NotifyChannel.
func NewListener(source Source, publisher Publisher, cfg ListenerConfig, opts ...Option) (*Listener, error) {
	l := &Listener{
		source:    source,
		publisher: publisher,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.notifier != nil {
		return l, nil
	}

	pl := pq.NewListener(cfg.DatabaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Int("event", int(ev)).Msg("outbox listener event")
		}
	})
	if err := pl.Listen(cfg.NotifyChannel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}
	l.notifier = pl
	return l, nil
}

// Start relays until ctx is done. Rows left over from a previous run are sent
// first.
func (l *Listener) Start(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)

	log.Info().Str("channel", l.config.NotifyChannel).Msg("outbox listener started")

	if _, err := l.ProcessUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("initial outbox sweep failed")
	}

	fallback := l.clock.NewTicker(l.config.FallbackInterval)
	defer fallback.Stop()
	ping := l.clock.NewTicker(l.config.PingInterval)
	defer ping.Stop()

	notifications := l.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-notifications:
			if !ok {
				return errors.New("notification channel closed")
			}
			// A nil notification means the connection was re-established and
			// notifications may have been lost in between.
			if n == nil {
				if _, err := l.ProcessUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("outbox sweep after reconnect failed")
				}
				continue
			}
			l.HandleNotification(ctx, n.Extra)

		case <-fallback.Chan():
			if _, err := l.ProcessUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("fallback outbox sweep failed")
			}

		case <-ping.Chan():
			go func() {
				if err := l.notifier.Ping(); err != nil {
					log.Warn().Err(err).Msg("outbox listener ping failed")
				}
			}()
		}
	}
}

// Stop closes the notification connection.
func (l *Listener) Stop() error {
	return l.notifier.Close()
}

// HandleNotification publishes the row named by a notification payload. Rows
// already sent are ignored.
func (l *Listener) HandleNotification(ctx context.Context, payload string) {
	id, err := uuid.Parse(payload)
	if err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("invalid outbox notification")
		return
	}

	row, err := l.source.FetchOutboxByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug().Str("event_id", id.String()).Msg("outbox row already sent")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("event_id", id.String()).Msg("failed to fetch outbox row")
		return
	}

	if err := l.publishWithRetry(ctx, row); err != nil {
		log.Error().Err(err).Str("event_id", id.String()).Msg("outbox publish gave up")
	}
}

// ProcessUnsent sends one batch of unsent rows in insertion order and returns
// how many were sent. It stops at the first row that cannot be published so
// later events never overtake it.
func (l *Listener) ProcessUnsent(ctx context.Context) (int, error) {
	rows, err := l.source.FetchUnsentOutbox(ctx, l.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unsent outbox: %w", err)
	}

	sent := 0
	for _, row := range rows {
		if err := l.publishWithRetry(ctx, row); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		log.Info().Int("count", sent).Msg("outbox batch relayed")
	}
	return sent, nil
}

func (l *Listener) publishWithRetry(ctx context.Context, row racedb.RaceOutbox) error {
	retries := max(l.config.MaxRetries, 1)
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = l.publisher.Publish(ctx, row); err == nil {
			break
		}
		log.Warn().
			Err(err).
			Str("event_id", row.ID.String()).
			Str("event_type", row.EventType).
			Int("attempt", attempt).
			Msg("outbox publish failed")
		if attempt == retries {
			return fmt.Errorf("publish %s after %d attempts: %w", row.ID, attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(l.config.RetryDelay * time.Duration(attempt)):
		}
	}

	if err := l.source.MarkOutboxSent(ctx, row.ID); err != nil {
		return fmt.Errorf("mark outbox %s sent: %w", row.ID, err)
	}
	l.recordSent()
	return nil
}

func (l *Listener) setRunning(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = v
}

func (l *Listener) recordSent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed++
	l.lastEvent = l.clock.Now()
}

// Stats reports how many rows were relayed and when the last one went out.
func (l *Listener) Stats() (processed uint64, lastEvent time.Time, running bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed, l.lastEvent, l.running
}
