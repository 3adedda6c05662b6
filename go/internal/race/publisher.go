package race

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

const (
	publishQueueSize = 256
	publishTimeout   = 5 * time.Second
)

type outbound struct {
	name    events.Name
	payload any
}

// publisher sends one client's broadcasts from a single goroutine so the
// client's stream stays ordered. Failures are logged and dropped.
type publisher struct {
	transport racesync.Transport
	room      string

	mu     sync.Mutex
	closed bool
	queue  chan outbound
	done   chan struct{}
}

func newPublisher(t racesync.Transport, room string) *publisher {
	p := &publisher{
		transport: t,
		room:      room,
		queue:     make(chan outbound, publishQueueSize),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue never blocks; a full queue drops the message.
func (p *publisher) enqueue(name events.Name, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- outbound{name: name, payload: payload}:
		return true
	default:
		log.Warn().Str("race_code", p.room).Str("event_type", string(name)).Msg("publish queue full, dropping message")
		return false
	}
}

// publish adapts enqueue to the rematch publisher signature.
func (p *publisher) publish(_ context.Context, name events.Name, payload any) error {
	p.enqueue(name, payload)
	return nil
}

func (p *publisher) run() {
	defer close(p.done)
	for m := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.transport.Publish(ctx, p.room, m.name, m.payload); err != nil {
			log.Warn().Err(err).
				Str("race_code", p.room).
				Str("client_id", p.transport.ClientID()).
				Str("event_type", string(m.name)).
				Msg("broadcast failed")
		}
		cancel()
	}
}

// close stops accepting messages and waits for queued ones to go out, or
// for ctx to end.
func (p *publisher) close(ctx context.Context) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
	}
}
