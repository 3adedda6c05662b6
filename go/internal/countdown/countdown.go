package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler defers tick handling onto the owner's event loop.
type Scheduler interface {
	Post(fn func())
}

// Countdown counts whole seconds down from a fixed duration to zero.
// Ticks come from a clock ticker while running, or from Tick for an
// external tick source. It is safe for concurrent use.
type Countdown struct {
	mu       sync.Mutex
	duration int
	timeLeft int
	running  bool

	clock    clockwork.Clock
	interval time.Duration
	sched    Scheduler

	ticker clockwork.Ticker
	stopCh chan struct{}
	// generation invalidates ticks queued by a ticker that has since stopped.
	generation uint64

	onTick   func(timeLeft int)
	onExpire func()
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithClock sets the clock driving the ticker.
func WithClock(c clockwork.Clock) Option {
	return func(cd *Countdown) { cd.clock = c }
}

// WithScheduler delivers ticker ticks through s instead of the ticker goroutine.
func WithScheduler(s Scheduler) Option {
	return func(cd *Countdown) { cd.sched = s }
}

// WithInterval overrides the one-second tick interval.
func WithInterval(d time.Duration) Option {
	return func(cd *Countdown) { cd.interval = d }
}

// New creates a stopped countdown of seconds length.
func New(seconds int, opts ...Option) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	cd := &Countdown{
		duration: seconds,
		timeLeft: seconds,
		clock:    clockwork.NewRealClock(),
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(cd)
	}
	return cd
}

// OnTick registers a callback invoked after every decrement.
func (cd *Countdown) OnTick(fn func(timeLeft int)) {
	cd.mu.Lock()
	cd.onTick = fn
	cd.mu.Unlock()
}

// OnExpire registers a callback invoked once when the countdown reaches zero.
func (cd *Countdown) OnExpire(fn func()) {
	cd.mu.Lock()
	cd.onExpire = fn
	cd.mu.Unlock()
}

// Duration returns the configured length in seconds.
func (cd *Countdown) Duration() int {
	return cd.duration
}

// TimeLeft returns the remaining seconds.
func (cd *Countdown) TimeLeft() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.timeLeft
}

// IsRunning reports whether the countdown is ticking.
func (cd *Countdown) IsRunning() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.running
}

// Active reports whether a ticker is allocated.
func (cd *Countdown) Active() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.ticker != nil
}

// Start begins ticking. It is a no-op when already running or at zero.
func (cd *Countdown) Start() {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.running || cd.timeLeft == 0 {
		return
	}
	cd.running = true
	cd.generation++
	cd.ticker = cd.clock.NewTicker(cd.interval)
	cd.stopCh = make(chan struct{})
	go cd.run(cd.ticker, cd.stopCh, cd.generation)
}

// Stop halts ticking and keeps the remaining time.
func (cd *Countdown) Stop() {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.stopLocked()
}

// Reset stops the countdown and restores the full duration.
func (cd *Countdown) Reset() {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.stopLocked()
	cd.timeLeft = cd.duration
}

// Tick decrements the countdown by one second if it is running.
func (cd *Countdown) Tick() {
	cd.mu.Lock()
	cd.tickLocked()
}

func (cd *Countdown) stopLocked() {
	cd.running = false
	cd.generation++
	if cd.ticker != nil {
		cd.ticker.Stop()
		cd.ticker = nil
	}
	if cd.stopCh != nil {
		close(cd.stopCh)
		cd.stopCh = nil
	}
}

// tickLocked expects cd.mu held and releases it before running callbacks.
func (cd *Countdown) tickLocked() {
	if !cd.running {
		cd.mu.Unlock()
		return
	}

	cd.timeLeft--
	expired := cd.timeLeft <= 0
	if expired {
		cd.timeLeft = 0
		cd.stopLocked()
	}

	left := cd.timeLeft
	onTick, onExpire := cd.onTick, cd.onExpire
	cd.mu.Unlock()

	if onTick != nil {
		onTick(left)
	}
	if expired && onExpire != nil {
		onExpire()
	}
}

func (cd *Countdown) run(ticker clockwork.Ticker, stopCh <-chan struct{}, gen uint64) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			tick := func() {
				cd.mu.Lock()
				if cd.generation != gen {
					cd.mu.Unlock()
					return
				}
				cd.tickLocked()
			}
			if cd.sched != nil {
				cd.sched.Post(tick)
			} else {
				tick()
			}
		}
	}
}
