package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	racedb "github.com/mcdev12/typerace/go/internal/race/db"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

type JetStreamConfig struct {
	StreamName      string
	SubjectPrefix   string
	MaxAge          time.Duration // How long to keep events
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection on event id
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:      "RACE_EVENTS",
		SubjectPrefix:   "events.race",
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Subject returns the subject a durable event for room code is published on.
func (c JetStreamConfig) Subject(code string, eventType events.EventType) string {
	return fmt.Sprintf("%s.%s.%s", c.SubjectPrefix, code, eventType)
}

// Subjects is the wildcard the stream captures.
func (c JetStreamConfig) Subjects() string {
	return c.SubjectPrefix + ".>"
}

type JetStreamPublisher struct {
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamPublisher binds to nc and creates or updates the event stream.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{js: js, config: cfg}
	if err := EnsureStream(ctx, js, cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureStream creates the event stream, or updates it when its limits
// changed.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Durable race events relayed from the outbox",
		Subjects:    []string{cfg.Subjects()},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Publish sends the row's durable event envelope. The event id doubles as the
// JetStream message id so a row relayed twice is stored once.
func (p *JetStreamPublisher) Publish(ctx context.Context, row racedb.RaceOutbox) error {
	msg, err := p.Message(row)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(row.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", row.ID.String()).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published to JetStream")
	return nil
}

// Message builds the NATS message for row without sending it.
func (p *JetStreamPublisher) Message(row racedb.RaceOutbox) (*nats.Msg, error) {
	var event events.DurableEvent
	if err := json.Unmarshal(row.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode outbox payload %s: %w", row.ID, err)
	}
	if event.Code == "" {
		return nil, fmt.Errorf("outbox payload %s has no race code", row.ID)
	}

	return &nats.Msg{
		Subject: p.config.Subject(event.Code, events.EventType(row.EventType)),
		Data:    row.Payload,
		Header: nats.Header{
			"Event-Type": []string{row.EventType},
			"Race-ID":    []string{row.RaceID.String()},
			"Event-ID":   []string{row.ID.String()},
		},
	}, nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
