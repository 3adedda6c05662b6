package memory

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// Hub is an in-process broadcast bus with presence. Delivery is synchronous
// and includes the publisher's own subscriptions.
type Hub struct {
	mu    sync.Mutex
	clock clockwork.Clock
	rooms map[string]*room

	publishErr error
	nextID     int
}

type room struct {
	members      []racesync.Member
	subs         map[events.Name]map[int]racesync.Handler
	presenceSubs map[int]racesync.PresenceHandler
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClock sets the clock used for message and join timestamps.
func WithClock(c clockwork.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clock: clockwork.NewRealClock(),
		rooms: make(map[string]*room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Client returns a transport bound to clientID.
func (h *Hub) Client(clientID string) *Transport {
	return &Transport{hub: h, clientID: clientID}
}

// SetPublishError makes every publish fail with err until reset with nil.
func (h *Hub) SetPublishError(err error) {
	h.mu.Lock()
	h.publishErr = err
	h.mu.Unlock()
}

// Deliver fans msg out to the subscribers of topic, whatever room the
// envelope names.
func (h *Hub) Deliver(topic string, msg events.Message) {
	h.mu.Lock()
	var handlers []racesync.Handler
	if r, ok := h.rooms[topic]; ok {
		for _, fn := range r.subs[msg.Name] {
			handlers = append(handlers, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// SubscriberCount reports how many handlers are attached to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[topic]
	if !ok {
		return 0
	}
	n := len(r.presenceSubs)
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}

func (h *Hub) roomLocked(code string) *room {
	r, ok := h.rooms[code]
	if !ok {
		r = &room{
			subs:         make(map[events.Name]map[int]racesync.Handler),
			presenceSubs: make(map[int]racesync.PresenceHandler),
		}
		h.rooms[code] = r
	}
	return r
}

// notifyPresenceLocked snapshots the roster and handlers. The caller runs the
// returned func after releasing h.mu.
func (h *Hub) notifyPresenceLocked(r *room) func() {
	members := append([]racesync.Member(nil), r.members...)
	handlers := make([]racesync.PresenceHandler, 0, len(r.presenceSubs))
	for _, fn := range r.presenceSubs {
		handlers = append(handlers, fn)
	}
	return func() {
		for _, fn := range handlers {
			fn(members)
		}
	}
}

// Transport is one client's view of a Hub.
type Transport struct {
	hub      *Hub
	clientID string
}

var _ racesync.Transport = (*Transport)(nil)

func (t *Transport) ClientID() string { return t.clientID }

func (t *Transport) EnterPresence(_ context.Context, code string, data racesync.PresenceData) error {
	h := t.hub
	h.mu.Lock()
	r := h.roomLocked(code)
	found := false
	for i := range r.members {
		if r.members[i].ClientID == t.clientID {
			r.members[i].Data = data
			found = true
			break
		}
	}
	if !found {
		r.members = append(r.members, racesync.Member{
			ClientID: t.clientID,
			Data:     data,
			JoinedAt: h.clock.Now(),
		})
	}
	notify := h.notifyPresenceLocked(r)
	h.mu.Unlock()

	notify()
	return nil
}

func (t *Transport) LeavePresence(_ context.Context, code string) error {
	h := t.hub
	h.mu.Lock()
	r, ok := h.rooms[code]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	kept := r.members[:0]
	for _, m := range r.members {
		if m.ClientID != t.clientID {
			kept = append(kept, m)
		}
	}
	r.members = kept
	notify := h.notifyPresenceLocked(r)
	h.mu.Unlock()

	notify()
	return nil
}

func (t *Transport) PresenceSnapshot(_ context.Context, code string) ([]racesync.Member, error) {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[code]
	if !ok {
		return nil, nil
	}
	return append([]racesync.Member(nil), r.members...), nil
}

func (t *Transport) SubscribePresence(code string, fn racesync.PresenceHandler) (racesync.Unsubscribe, error) {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(code)
	h.nextID++
	id := h.nextID
	r.presenceSubs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(r.presenceSubs, id)
			h.mu.Unlock()
		})
	}, nil
}

func (t *Transport) Subscribe(code string, name events.Name, fn racesync.Handler) (racesync.Unsubscribe, error) {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(code)
	if r.subs[name] == nil {
		r.subs[name] = make(map[int]racesync.Handler)
	}
	h.nextID++
	id := h.nextID
	r.subs[name][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(r.subs[name], id)
			h.mu.Unlock()
		})
	}, nil
}

func (t *Transport) Publish(_ context.Context, code string, name events.Name, payload any) error {
	h := t.hub
	h.mu.Lock()
	if err := h.publishErr; err != nil {
		h.mu.Unlock()
		return err
	}
	now := h.clock.Now()
	h.mu.Unlock()

	msg, err := events.NewMessage(code, name, t.clientID, payload, now)
	if err != nil {
		return err
	}

	log.Debug().
		Str("race_code", code).
		Str("client_id", t.clientID).
		Str("event_type", string(name)).
		Msg("memory publish")
	h.Deliver(code, msg)
	return nil
}
