package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// TransportFactory binds a broadcast transport to one browser client.
type TransportFactory func(ctx context.Context, clientID string) (racesync.Transport, error)

// closer is implemented by transports holding resources beyond presence.
type closer interface {
	Close(ctx context.Context) error
}

// ConnectionManager manages race WebSocket connections
type ConnectionManager struct {
	// Connection pools organized by room code
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	transports TransportFactory

	broadcastCh chan BroadcastMessage
}

// Connection is one browser racing in one room
type Connection struct {
	ID       string
	ClientID string
	Name     string
	Room     string
	Conn     *websocket.Conn
	Manager  *ConnectionManager

	transport racesync.Transport
	limiter   *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
	unsubs []racesync.Unsubscribe
	once   sync.Once

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	MessagesPerSec  float64 // inbound publish rate per connection
	MessageBurst    int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a frame for every connection in a room
type BroadcastMessage struct {
	Room  string
	Frame Frame
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MessagesPerSec:  20,
		MessageBurst:    40,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, transports TransportFactory) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		transports:  transports,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes room broadcasts until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades r to a WebSocket, enters clientID into room's
// presence and bridges the room's broadcast events to the socket.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, room, clientID, name string) error {
	transport, err := cm.transports(r.Context(), clientID)
	if err != nil {
		http.Error(w, "transport unavailable", http.StatusServiceUnavailable)
		return fmt.Errorf("failed to bind transport: %w", err)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		closeTransport(transport, room)
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		Name:        name,
		Room:        room,
		Conn:        conn,
		Manager:     cm,
		transport:   transport,
		limiter:     rate.NewLimiter(rate.Limit(cm.config.MessagesPerSec), cm.config.MessageBurst),
		send:        make(chan []byte, cm.config.SendBuffer),
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)
	go connection.writePump()

	if err := connection.bridge(); err != nil {
		log.Error().Err(err).Str("connection_id", connection.ID).Msg("failed to join room")
		connection.enqueue(errorFrame("failed to join room"))
		connection.close()
		return nil
	}

	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", clientID).
		Str("race_code", room).
		Msg("WebSocket connection established")
	return nil
}

// bridge subscribes the socket to every room event and to presence, then
// announces the client.
func (c *Connection) bridge() error {
	for _, name := range events.All {
		unsub, err := c.transport.Subscribe(c.Room, name, func(msg events.Message) {
			c.enqueue(Frame{Type: FrameMessage, Message: &msg})
		})
		if err != nil {
			return err
		}
		c.addUnsub(unsub)
	}

	unsub, err := c.transport.SubscribePresence(c.Room, func(members []racesync.Member) {
		c.enqueue(Frame{Type: FramePresence, Members: members})
	})
	if err != nil {
		return err
	}
	c.addUnsub(unsub)

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.WriteTimeout)
	defer cancel()
	if err := c.transport.EnterPresence(ctx, c.Room, racesync.PresenceData{Name: c.Name}); err != nil {
		return err
	}

	// The presence subscription only reports changes; send the current roster.
	members, err := c.transport.PresenceSnapshot(ctx, c.Room)
	if err != nil {
		return err
	}
	c.enqueue(Frame{Type: FramePresence, Members: members})
	return nil
}

func (c *Connection) addUnsub(u racesync.Unsubscribe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs, u)
}

// enqueue queues a frame for the socket. Frames for a closed connection are
// dropped and a full buffer drops the connection.
func (c *Connection) enqueue(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return
	}
	if !c.offer(data) {
		log.Warn().
			Str("connection_id", c.ID).
			Str("client_id", c.ClientID).
			Msg("connection send buffer full, closing connection")
		go c.close()
	}
}

// offer reports false only when the buffer is full.
func (c *Connection) offer(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close releases the room and the socket. Safe to call more than once.
func (c *Connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		unsubs := c.unsubs
		c.unsubs = nil
		c.mu.Unlock()
		for _, u := range unsubs {
			u()
		}

		closeTransport(c.transport, c.Room)
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	})
}

func closeTransport(t racesync.Transport, room string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.LeavePresence(ctx, room); err != nil {
		log.Warn().Err(err).Str("race_code", room).Str("client_id", t.ClientID()).Msg("failed to leave presence")
	}
	if cl, ok := t.(closer); ok {
		if err := cl.Close(ctx); err != nil {
			log.Warn().Err(err).Str("client_id", t.ClientID()).Msg("failed to close transport")
		}
	}
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.Room] == nil {
		cm.roomConnections[conn.Room] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.Room][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("race_code", conn.Room).
		Int("total_connections", len(cm.roomConnections[conn.Room])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.roomConnections[conn.Room]
	if !exists || !connections[conn] {
		return
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.Room)
	}

	conn.mu.Lock()
	if !conn.closed {
		conn.closed = true
		close(conn.send)
	}
	conn.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", conn.ClientID).
		Str("race_code", conn.Room).
		Msg("connection unregistered")
}

// BroadcastToRoom sends frame to every local connection in room.
func (cm *ConnectionManager) BroadcastToRoom(room string, frame Frame) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Room: room, Frame: frame}:
	default:
		log.Warn().Str("race_code", room).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections := make([]*Connection, 0, len(cm.roomConnections[message.Room]))
	for conn := range cm.roomConnections[message.Room] {
		connections = append(connections, conn)
	}
	cm.mu.RUnlock()

	if len(connections) == 0 {
		return
	}

	data, err := json.Marshal(message.Frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}

	for _, conn := range connections {
		if !conn.offer(data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("client_id", conn.ClientID).
				Msg("connection send buffer full, closing connection")
			go conn.close()
		}
	}

	log.Debug().
		Str("frame_type", string(message.Frame.Type)).
		Str("race_code", message.Room).
		Int("connections", len(connections)).
		Msg("frame broadcasted")
}

type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveRooms:     len(cm.roomConnections),
		RoomConnections: make(map[string]int, len(cm.roomConnections)),
	}
	for room, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[room] = len(connections)
	}
	return stats
}

// RoomConnections counts local connections in room.
func (cm *ConnectionManager) RoomConnections(room string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.roomConnections[room])
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage publishes a client's event into its room.
func (c *Connection) handleClientMessage(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.enqueue(errorFrame("malformed frame"))
		return
	}

	switch frame.Type {
	case FramePing:
		c.enqueue(Frame{Type: FramePong})

	case FramePublish:
		if !frame.Name.Valid() || frame.Name == events.RaceEnded {
			c.enqueue(errorFrame(fmt.Sprintf("cannot publish %q", frame.Name)))
			return
		}
		if !c.limiter.Allow() {
			c.enqueue(errorFrame("rate limited"))
			return
		}

		var payload any
		if len(frame.Data) > 0 {
			payload = frame.Data
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.WriteTimeout)
		defer cancel()
		if err := c.transport.Publish(ctx, c.Room, frame.Name, payload); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Str("event_type", string(frame.Name)).
				Msg("failed to publish client event")
			c.enqueue(errorFrame("publish failed"))
		}

	default:
		c.enqueue(errorFrame(fmt.Sprintf("unknown frame type %q", frame.Type)))
	}
}
