package watchdog

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const eventChannelBufferSize = 100

// Bind attaches the watchdog's durable consumer to the race event stream. The
// consumer replays the whole stream when first created so deadlines of races
// started before the watchdog came up are armed too.
func (w *Watchdog) Bind(ctx context.Context, nc *nats.Conn) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	stream, err := js.Stream(ctx, w.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, w.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          w.config.ConsumerName,
			Durable:       w.config.ConsumerName,
			Description:   "Race watchdog with startup replay",
			FilterSubject: w.config.SubjectFilter,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    w.config.MaxDeliver,
			AckWait:       w.config.AckWait,
			ReplayPolicy:  jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", w.config.ConsumerName).Msg("created JetStream consumer for watchdog")
	} else {
		log.Info().Str("consumer", w.config.ConsumerName).Msg("using existing JetStream consumer for watchdog")
	}

	w.consumer = consumer
	return nil
}

// Run consumes race events and ends abandoned races until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.consumer == nil {
		return fmt.Errorf("watchdog is not bound")
	}
	log.Info().
		Str("instance", w.instanceID).
		Int("workers", w.config.Workers).
		Msg("race watchdog started")

	eventCh := make(chan jetstream.Msg, eventChannelBufferSize)
	consumeCtx, err := w.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case eventCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	wait := w.startWorkers(ctx)
	defer wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", w.instanceID).Msg("watchdog shutdown requested")
			w.stopTimers()
			return nil
		case msg := <-eventCh:
			if err := w.HandleEvent(ctx, msg.Data()); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process event")
				msg.Nak()
				continue
			}
			msg.Ack()
		}
	}
}

// startWorkers runs the worker pool until ctx is done. The returned func
// waits for every worker to exit.
func (w *Watchdog) startWorkers(ctx context.Context) func() {
	var wg sync.WaitGroup
	for i := 0; i < w.config.Workers; i++ {
		wg.Add(1)
		go w.worker(ctx, &wg, i)
	}
	return func() {
		wg.Wait()
		log.Info().Str("instance", w.instanceID).Msg("all watchdog workers shut down")
	}
}

func (w *Watchdog) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case code := <-w.workCh:
			if err := w.handleDeadline(ctx, code); err != nil {
				log.Error().
					Err(err).
					Str("race_code", code).
					Str("instance", w.instanceID).
					Int("worker_id", workerID).
					Msg("watchdog deadline handling failed")
			}
			w.done(code)
		}
	}
}

func (w *Watchdog) stopTimers() {
	w.activeTimersMu.Lock()
	defer w.activeTimersMu.Unlock()
	for code, a := range w.activeTimers {
		a.disarm()
		log.Debug().Str("race_code", code).Msg("disarmed deadline on shutdown")
	}
	w.activeTimers = make(map[string]*armed)
}
