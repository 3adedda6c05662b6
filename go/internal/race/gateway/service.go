// Package gateway exposes race rooms to browsers over WebSocket. Each socket
// is bridged onto the broadcast transport under its own client id, and durable
// race events from JetStream are fanned out to the sockets of their room.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// Service is the race gateway: sockets, room state and durable events.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
}

// NewService wires the gateway. presence may be nil; the returned service
// only consumes durable events once EventConsumer().Bind has succeeded.
func NewService(config Config, state StateProvider, presence PresenceReader, transports TransportFactory) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, transports)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, state),
		stateHandler:      NewStateHandler(state, presence, cm),
		eventConsumer:     NewEventConsumer(cm, config.JetStreamConfig),
	}
}

func (s *Service) EventConsumer() *EventConsumer {
	return s.eventConsumer
}

// Start runs the broadcast loop and, when bound, the event consumer until
// ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting race gateway service")

	if s.eventConsumer.consumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	s.connectionManager.Start(ctx)
	log.Info().Msg("race gateway service stopped")
	return nil
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
}

func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
