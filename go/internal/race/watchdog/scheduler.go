package watchdog

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// scheduleDeadline arms a one-shot timer that queues code for the workers at
// deadline. A deadline in the past queues it right away.
func (w *Watchdog) scheduleDeadline(ctx context.Context, code string, deadline time.Time) error {
	w.lastScheduledMu.Lock()
	if last, exists := w.lastScheduled[code]; exists && last.Equal(deadline) {
		w.lastScheduledMu.Unlock()
		log.Debug().
			Str("race_code", code).
			Time("deadline", deadline).
			Msg("skipping duplicate schedule")
		return nil
	}
	w.lastScheduled[code] = deadline
	w.lastScheduledMu.Unlock()

	wait := max(deadline.Sub(w.clock.Now()), 0)
	a := &armed{timer: w.clock.NewTimer(wait), stop: make(chan struct{})}
	w.replaceTimer(code, a)

	go func(code string, a *armed) {
		select {
		case <-a.timer.Chan():
			w.removeTimer(code, a)
			w.forget(code)
			w.enqueue(ctx, code)
		case <-a.stop:
		case <-ctx.Done():
			if w.removeTimer(code, a) {
				stopAndDrainTimer(a.timer)
			}
			w.forget(code)
		}
	}(code, a)

	log.Debug().
		Str("race_code", code).
		Time("deadline", deadline).
		Dur("wait", wait).
		Msg("armed race deadline")
	return nil
}

// enqueue hands code to a worker unless one already has it.
func (w *Watchdog) enqueue(ctx context.Context, code string) {
	w.inFlightMu.Lock()
	if w.inFlight[code] {
		w.inFlightMu.Unlock()
		return
	}
	w.inFlight[code] = true
	w.inFlightMu.Unlock()

	select {
	case w.workCh <- code:
		log.Debug().Str("race_code", code).Msg("deadline passed, queued for worker")
	case <-ctx.Done():
		w.done(code)
	}
}

func (w *Watchdog) done(code string) {
	w.inFlightMu.Lock()
	delete(w.inFlight, code)
	w.inFlightMu.Unlock()
}

func (w *Watchdog) forget(code string) {
	w.lastScheduledMu.Lock()
	delete(w.lastScheduled, code)
	w.lastScheduledMu.Unlock()
}

// armed is a pending deadline. Closing stop releases its goroutine.
type armed struct {
	timer clockwork.Timer
	stop  chan struct{}
}

func (a *armed) disarm() {
	stopAndDrainTimer(a.timer)
	close(a.stop)
}

func (w *Watchdog) replaceTimer(code string, a *armed) {
	w.activeTimersMu.Lock()
	defer w.activeTimersMu.Unlock()

	if existing, ok := w.activeTimers[code]; ok {
		existing.disarm()
		log.Debug().Str("race_code", code).Msg("replaced existing deadline")
	}
	w.activeTimers[code] = a
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// cancelTimer disarms code's deadline, if any.
func (w *Watchdog) cancelTimer(code string) {
	w.activeTimersMu.Lock()
	a, ok := w.activeTimers[code]
	if ok {
		a.disarm()
		delete(w.activeTimers, code)
	}
	w.activeTimersMu.Unlock()

	if ok {
		w.forget(code)
		log.Debug().Str("race_code", code).Msg("race ended, deadline disarmed")
	}
}

// removeTimer drops a unless it has been replaced already.
func (w *Watchdog) removeTimer(code string, a *armed) bool {
	w.activeTimersMu.Lock()
	defer w.activeTimersMu.Unlock()
	if w.activeTimers[code] != a {
		return false
	}
	delete(w.activeTimers, code)
	return true
}
