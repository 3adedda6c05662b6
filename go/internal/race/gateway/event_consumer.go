package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Broadcaster fans a frame out to a room's local connections.
type Broadcaster interface {
	BroadcastToRoom(room string, frame Frame)
}

type JetStreamConsumerConfig struct {
	StreamName        string
	ConsumerName      string // one per gateway instance, every instance sees every event
	SubjectFilter     string
	MaxDeliver        int
	AckWait           time.Duration
	MaxAckPending     int
	InactiveThreshold time.Duration // removes consumers of instances that went away
}

func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		StreamName:        "RACE_EVENTS",
		ConsumerName:      "race-gateway",
		SubjectFilter:     "events.race.>",
		MaxDeliver:        5,
		AckWait:           30 * time.Second,
		MaxAckPending:     100,
		InactiveThreshold: time.Hour,
	}
}

// ErrRelay marks a relay publish failure, which is worth retrying.
var ErrRelay = errors.New("relay race:ended")

// Relay republishes a message on the realtime bus, keeping its id.
type Relay interface {
	PublishMessage(msg events.Message) error
}

// EventConsumer relays durable race events from JetStream to WebSocket
// clients. A RaceEnded event is also delivered as a race:ended message: over
// the relay when one is set, so clients outside this gateway see it too, and
// straight to local connections otherwise.
type EventConsumer struct {
	broadcaster Broadcaster
	relay       Relay
	consumer    jetstream.Consumer
	config      JetStreamConsumerConfig
}

// NewEventConsumer builds a consumer that only broadcasts. Call Bind before
// Start.
func NewEventConsumer(b Broadcaster, config JetStreamConsumerConfig) *EventConsumer {
	return &EventConsumer{broadcaster: b, config: config}
}

// RelayTo sends race:ended messages through r instead of broadcasting them
// locally. Local connections still get them through their own subscriptions.
func (ec *EventConsumer) RelayTo(r Relay) {
	ec.relay = r
}

// Bind attaches to the event stream on nc, creating this instance's consumer
// if needed.
func (ec *EventConsumer) Bind(ctx context.Context, nc *nats.Conn) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, ec.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:              ec.config.ConsumerName,
			Durable:           ec.config.ConsumerName,
			Description:       "Race gateway WebSocket consumer",
			FilterSubject:     ec.config.SubjectFilter,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			AckPolicy:         jetstream.AckExplicitPolicy,
			MaxDeliver:        ec.config.MaxDeliver,
			AckWait:           ec.config.AckWait,
			MaxAckPending:     ec.config.MaxAckPending,
			ReplayPolicy:      jetstream.ReplayInstantPolicy,
			InactiveThreshold: ec.config.InactiveThreshold,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	ec.consumer = consumer
	return nil
}

// Start consumes until ctx is done.
func (ec *EventConsumer) Start(ctx context.Context) error {
	if ec.consumer == nil {
		return fmt.Errorf("event consumer is not bound")
	}
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			settle(msg, ec.HandleEvent(msg.Data()))
		}
	}
}

// settle acks a handled message. A failed relay is redelivered; anything
// else failed to parse and would fail again, so it is terminated.
func settle(msg jetstream.Msg, err error) {
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, ErrRelay):
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("relay failed, requesting redelivery")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	default:
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	}
}

// HandleEvent broadcasts one durable event envelope to its room.
func (ec *EventConsumer) HandleEvent(data []byte) error {
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
		Msg("processing durable event")

	ec.broadcaster.BroadcastToRoom(event.Code, Frame{Type: FrameDurable, Event: &event})

	if event.Type != events.EventTypeRaceEnded {
		return nil
	}
	msg, err := raceEndedMessage(event)
	if err != nil {
		return err
	}
	if ec.relay != nil {
		if err := ec.relay.PublishMessage(msg); err != nil {
			return fmt.Errorf("%w: %w", ErrRelay, err)
		}
		log.Info().Str("race_code", event.Code).Msg("race:ended relayed")
		return nil
	}
	ec.broadcaster.BroadcastToRoom(event.Code, Frame{Type: FrameMessage, Message: &msg})
	log.Info().Str("race_code", event.Code).Msg("race:ended broadcast")
	return nil
}

// raceEndedMessage reuses the durable event id so a client that saw the
// event twice drops the duplicate.
func raceEndedMessage(event events.DurableEvent) (events.Message, error) {
	parsed, err := events.ParseDurablePayload(&event)
	if err != nil {
		return events.Message{}, fmt.Errorf("parse RaceEnded payload: %w", err)
	}
	endedAt := event.Timestamp
	if p, ok := parsed.(events.RaceEndedPayload); ok && !p.EndedAt.IsZero() {
		endedAt = p.EndedAt
	}

	data, err := json.Marshal(events.RaceEndPayload{EndedAt: endedAt})
	if err != nil {
		return events.Message{}, err
	}
	return events.Message{
		ID:        event.ID,
		Room:      event.Code,
		Name:      events.RaceEnded,
		ClientID:  GatewayClientID,
		Timestamp: endedAt,
		Data:      data,
	}, nil
}
