package typingtest

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/typerace/go/internal/countdown"
	"github.com/mcdev12/typerace/go/internal/typing"
)

// Engine runs one typing test: a measurement engine over the joined words and
// a countdown, converging on a single finish that produces the Result.
// Methods are safe for concurrent use; timer callbacks may arrive on another
// goroutine unless a scheduler is supplied.
type Engine struct {
	mu sync.Mutex

	words    []string
	mode     Mode
	duration int

	clock clockwork.Clock
	sched countdown.Scheduler

	typing *typing.Engine
	timer  *countdown.Countdown

	finished bool
	result   Result
	pending  []func()

	onFinish func(Result)
	onTick   func(timeLeft int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock for keystroke timestamps and the countdown.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithScheduler delivers countdown ticks through s.
func WithScheduler(s countdown.Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// New creates a test over words. In time mode the countdown of duration
// seconds forces the finish; in words mode only exhausting the text does.
func New(words []string, duration int, mode Mode, opts ...Option) *Engine {
	e := &Engine{
		words:    append([]string(nil), words...),
		mode:     mode,
		duration: duration,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}

	cdOpts := []countdown.Option{countdown.WithClock(e.clock)}
	if e.sched != nil {
		cdOpts = append(cdOpts, countdown.WithScheduler(e.sched))
	}
	e.timer = countdown.New(duration, cdOpts...)
	e.timer.OnTick(e.handleTick)
	e.timer.OnExpire(e.handleExpire)

	// The typing engine is only ever driven under e.mu, so its deferred
	// completion runs with the lock held.
	e.typing = typing.NewEngine(strings.Join(e.words, " "), func() { e.timer.Start() }, typing.WithClock(e.clock))
	e.typing.SetOnComplete(e.finishLocked)
	return e
}

// NewFromSettings builds a test for the trainer settings s.
func NewFromSettings(words []string, s Settings, opts ...Option) *Engine {
	duration := s.Time
	if s.Mode == ModeWords {
		duration = 0
	}
	return New(words, duration, s.Mode, opts...)
}

// OnFinish registers the callback receiving the result once per attempt.
func (e *Engine) OnFinish(fn func(Result)) {
	e.mu.Lock()
	e.onFinish = fn
	e.mu.Unlock()
}

// OnTick registers a callback for every countdown second.
func (e *Engine) OnTick(fn func(timeLeft int)) {
	e.mu.Lock()
	e.onTick = fn
	e.mu.Unlock()
}

func (e *Engine) Mode() Mode { return e.mode }

func (e *Engine) Duration() int { return e.duration }

func (e *Engine) Words() []string { return append([]string(nil), e.words...) }

func (e *Engine) TimeLeft() int { return e.timer.TimeLeft() }

func (e *Engine) TimerRunning() bool { return e.timer.IsRunning() }

// TimerActive reports whether the countdown holds a live ticker.
func (e *Engine) TimerActive() bool { return e.timer.Active() }

// Text returns the joined words being typed.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing.Text()
}

// State returns a snapshot of the measurement engine.
func (e *Engine) State() typing.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing.State()
}

// Caret is the index of the next expected character.
func (e *Engine) Caret() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing.Caret()
}

// IsFinished reports whether the attempt has produced its result.
func (e *Engine) IsFinished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Result returns the result and whether the attempt has finished.
func (e *Engine) Result() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.finished
}

// HandleKey forwards a key event to the measurement engine. The first
// character-producing keystroke starts the countdown.
func (e *Engine) HandleKey(ev typing.KeyEvent) bool {
	e.mu.Lock()
	changed := false
	if !e.finished {
		changed = e.typing.HandleKey(ev)
	}
	e.unlockAndNotify()
	return changed
}

// StartTimer starts the countdown without waiting for a keystroke.
func (e *Engine) StartTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	e.timer.Start()
}

// Stop halts the countdown without finishing the attempt.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer.Stop()
}

// Finish ends the attempt. Only the first call computes a result.
func (e *Engine) Finish() {
	e.mu.Lock()
	e.finishLocked()
	e.unlockAndNotify()
}

// Reset clears the ledger and the countdown for a fresh attempt.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typing.Clear()
	e.timer.Reset()
	e.finished = false
	e.result = Result{}
	e.pending = nil
}

// LiveWPM is the running speed over the seconds elapsed on the countdown.
func (e *Engine) LiveWPM() int {
	e.mu.Lock()
	correct := e.typing.State().CorrectChars
	e.mu.Unlock()

	elapsed := e.duration - e.timer.TimeLeft()
	if elapsed <= 0 || correct == 0 {
		return 0
	}
	return roundHalfUp(float64(correct) / 5 * 60 / float64(elapsed))
}

func (e *Engine) handleTick(left int) {
	e.mu.Lock()
	fn := e.onTick
	e.mu.Unlock()
	if fn != nil {
		fn(left)
	}
}

func (e *Engine) handleExpire() {
	if e.mode != ModeTime {
		return
	}
	e.mu.Lock()
	e.finishLocked()
	e.unlockAndNotify()
}

// finishLocked expects e.mu held.
func (e *Engine) finishLocked() {
	if e.finished {
		return
	}
	e.finished = true
	e.typing.Finish()
	e.timer.Stop()
	e.result = e.computeLocked()

	if fn := e.onFinish; fn != nil {
		res := e.result
		e.pending = append(e.pending, func() { fn(res) })
	}
}

// unlockAndNotify releases e.mu and then runs queued callbacks.
func (e *Engine) unlockAndNotify() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (e *Engine) computeLocked() Result {
	st := e.typing.State()

	var minutes float64
	switch e.mode {
	case ModeTime:
		minutes = float64(e.duration) / 60
	default:
		if n := len(st.TypedChars); n > 1 {
			span := st.TypedChars[n-1].Timestamp.Sub(st.TypedChars[0].Timestamp)
			minutes = span.Minutes()
		}
	}

	chart := BuildChart(st.TypedChars)
	return Result{
		Mode:          e.mode,
		Duration:      e.duration,
		WPM:           WPM(st.CorrectChars, minutes),
		RawWPM:        WPM(st.RawChars, minutes),
		Accuracy:      Accuracy(st.TotalKeysPressed, st.TotalErrors),
		FinalAccuracy: FinalAccuracy(st.CorrectChars, st.RawChars),
		Consistency:   Consistency(chart),
		RawChars:      st.RawChars,
		CorrectChars:  st.CorrectChars,
		Errors:        st.TotalErrors,
		ChartData:     chart,
	}
}

// Elapsed reports the span between the first and last keystroke.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	chars := e.typing.TypedChars()
	if len(chars) < 2 {
		return 0
	}
	return chars[len(chars)-1].Timestamp.Sub(chars[0].Timestamp)
}
