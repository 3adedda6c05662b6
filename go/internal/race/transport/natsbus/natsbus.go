package natsbus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// Config holds NATS transport settings
type Config struct {
	PresenceBucket  string
	PresenceTTL     time.Duration // entries expire unless refreshed
	PresenceRefresh time.Duration
	SubjectPrefix   string
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		PresenceBucket:  "RACE_PRESENCE",
		PresenceTTL:     30 * time.Second,
		PresenceRefresh: 10 * time.Second,
		SubjectPrefix:   "race",
	}
}

// Connect dials NATS with reconnect handling and logging.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Transport broadcasts over core NATS subjects and keeps presence in a
// JetStream key-value bucket.
type Transport struct {
	nc       *nats.Conn
	kv       jetstream.KeyValue
	clientID string
	config   Config
	clock    clockwork.Clock

	mu      sync.Mutex
	present map[string]*presence
}

type presence struct {
	member racesync.Member
	stop   chan struct{}
}

// Option configures a Transport.
type Option func(*Transport)

// WithClock sets the clock for join timestamps and presence refresh.
func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

var _ racesync.Transport = (*Transport)(nil)

// New binds a transport for clientID to nc, creating the presence bucket if
// needed.
func New(ctx context.Context, nc *nats.Conn, clientID string, config Config, opts ...Option) (*Transport, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.PresenceBucket,
		Description: "race presence rosters",
		TTL:         config.PresenceTTL,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure presence bucket: %w", err)
	}

	t := &Transport{
		nc:       nc,
		kv:       kv,
		clientID: clientID,
		config:   config,
		clock:    clockwork.NewRealClock(),
		present:  make(map[string]*presence),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) ClientID() string { return t.clientID }

// Subject returns the subject carrying name in room.
func (t *Transport) Subject(room string, name events.Name) string {
	return fmt.Sprintf("%s.%s.%s", t.config.SubjectPrefix, room, name)
}

// presenceKey is <ROOM>.<base64url(clientID)>; client ids may hold characters
// that are not valid in keys.
func presenceKey(room, clientID string) string {
	return room + "." + base64.RawURLEncoding.EncodeToString([]byte(clientID))
}

func (t *Transport) EnterPresence(ctx context.Context, room string, data racesync.PresenceData) error {
	t.mu.Lock()
	p, ok := t.present[room]
	if ok {
		p.member.Data = data
	} else {
		p = &presence{
			member: racesync.Member{ClientID: t.clientID, Data: data, JoinedAt: t.clock.Now().UTC()},
			stop:   make(chan struct{}),
		}
		t.present[room] = p
	}
	member := p.member
	t.mu.Unlock()

	if err := t.putPresence(ctx, room, member); err != nil {
		return err
	}
	if !ok {
		go t.refresh(room, p)
	}
	return nil
}

func (t *Transport) putPresence(ctx context.Context, room string, member racesync.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if _, err := t.kv.Put(ctx, presenceKey(room, member.ClientID), data); err != nil {
		return fmt.Errorf("put presence: %w", err)
	}
	return nil
}

// refresh re-puts the presence entry until LeavePresence so the TTL only
// reaps clients that vanished without leaving.
func (t *Transport) refresh(room string, p *presence) {
	ticker := t.clock.NewTicker(t.config.PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.Chan():
			t.mu.Lock()
			member := p.member
			t.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := t.putPresence(ctx, room, member); err != nil {
				log.Warn().Err(err).Str("race_code", room).Str("client_id", t.clientID).Msg("presence refresh failed")
			}
			cancel()
		}
	}
}

func (t *Transport) LeavePresence(ctx context.Context, room string) error {
	t.mu.Lock()
	if p, ok := t.present[room]; ok {
		close(p.stop)
		delete(t.present, room)
	}
	t.mu.Unlock()

	if err := t.kv.Delete(ctx, presenceKey(room, t.clientID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

func (t *Transport) PresenceSnapshot(ctx context.Context, room string) ([]racesync.Member, error) {
	lister, err := t.kv.ListKeysFiltered(ctx, room+".*")
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list presence keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var members []racesync.Member
	for key := range lister.Keys() {
		entry, err := t.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get presence %s: %w", key, err)
		}
		var m racesync.Member
		if err := json.Unmarshal(entry.Value(), &m); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed presence entry")
			continue
		}
		members = append(members, m)
	}
	sortMembers(members)
	return members, nil
}

// sortMembers orders by join time, then client id.
func sortMembers(members []racesync.Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].ClientID < members[j].ClientID
	})
}

func (t *Transport) SubscribePresence(room string, h racesync.PresenceHandler) (racesync.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(context.Background())
	watcher, err := t.kv.Watch(ctx, room+".*", jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch presence: %w", err)
	}

	go func() {
		for entry := range watcher.Updates() {
			if entry == nil {
				continue
			}
			snapCtx, snapCancel := context.WithTimeout(ctx, 5*time.Second)
			members, err := t.PresenceSnapshot(snapCtx, room)
			snapCancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("race_code", room).Msg("presence snapshot failed")
				}
				continue
			}
			h(members)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = watcher.Stop()
			cancel()
		})
	}, nil
}

func (t *Transport) Subscribe(room string, name events.Name, h racesync.Handler) (racesync.Unsubscribe, error) {
	sub, err := t.nc.Subscribe(t.Subject(room, name), func(m *nats.Msg) {
		var msg events.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed race message")
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				log.Warn().Err(err).Str("subject", sub.Subject).Msg("unsubscribe failed")
			}
		})
	}, nil
}

func (t *Transport) Publish(_ context.Context, room string, name events.Name, payload any) error {
	msg, err := events.NewMessage(room, name, t.clientID, payload, t.clock.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.nc.Publish(t.Subject(room, name), data); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// PublishMessage forwards a pre-built envelope, keeping its id and publisher.
func (t *Transport) PublishMessage(msg events.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return t.nc.Publish(t.Subject(msg.Room, msg.Name), data)
}

// Close leaves every room this transport entered.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	rooms := make([]string, 0, len(t.present))
	for room := range t.present {
		rooms = append(rooms, room)
	}
	t.mu.Unlock()

	var errs []error
	for _, room := range rooms {
		if err := t.LeavePresence(ctx, room); err != nil {
			errs = append(errs, fmt.Errorf("leave presence %s: %w", room, err))
		}
	}
	return errors.Join(errs...)
}
