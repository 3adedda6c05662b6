package racesync

import (
	"context"
	"time"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// PresenceData is what a client shares while present in a room.
type PresenceData struct {
	Name string `json:"name"`
}

// Member is one entry of a room's presence roster.
type Member struct {
	ClientID string       `json:"client_id"`
	Data     PresenceData `json:"data"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Handler receives messages for one subscribed event name.
type Handler func(msg events.Message)

// PresenceHandler receives the full roster after every presence change.
type PresenceHandler func(members []Member)

// Unsubscribe detaches a handler. Calling it twice is harmless.
type Unsubscribe func()

// Transport is a client-bound topic-per-room pub/sub channel with presence.
// Delivery is best effort; handlers must tolerate duplicates and must not
// assume ordering across event names.
type Transport interface {
	ClientID() string
	EnterPresence(ctx context.Context, room string, data PresenceData) error
	LeavePresence(ctx context.Context, room string) error
	PresenceSnapshot(ctx context.Context, room string) ([]Member, error)
	SubscribePresence(room string, h PresenceHandler) (Unsubscribe, error)
	Subscribe(room string, name events.Name, h Handler) (Unsubscribe, error)
	Publish(ctx context.Context, room string, name events.Name, payload any) error
}
