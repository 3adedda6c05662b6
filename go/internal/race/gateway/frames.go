package gateway

import (
	"encoding/json"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// FrameType tags every WebSocket frame in both directions.
type FrameType string

const (
	// client → gateway
	FramePublish FrameType = "publish"
	FramePing    FrameType = "ping"

	// gateway → client
	FrameMessage  FrameType = "message"
	FramePresence FrameType = "presence"
	FrameDurable  FrameType = "durable"
	FrameError    FrameType = "error"
	FramePong     FrameType = "pong"
)

// GatewayClientID is the publisher of messages the gateway originates.
const GatewayClientID = "gateway"

// Frame is the single JSON shape exchanged over a race WebSocket.
type Frame struct {
	Type FrameType `json:"type"`

	// publish
	Name events.Name     `json:"name,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	Message *events.Message      `json:"message,omitempty"`
	Members []racesync.Member    `json:"members,omitempty"`
	Event   *events.DurableEvent `json:"event,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func errorFrame(msg string) Frame {
	return Frame{Type: FrameError, Error: msg}
}
