package typing

import (
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// Engine turns key events into a ledger of typed characters for one text.
// It is not safe for concurrent use; drive it from a single goroutine.
type Engine struct {
	text  []rune
	clock clockwork.Clock
	sched Scheduler

	onStart    func()
	onComplete func()

	typed            []TypedChar
	correctChars     int
	totalErrors      int
	totalKeysPressed int
	finished         bool
	started          bool

	// generation is bumped by Clear so completions scheduled for an earlier
	// attempt are dropped.
	generation uint64
	deferred   []func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for keystroke timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithScheduler routes the completion callback through s.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// NewEngine creates an engine for text. onStart runs once per attempt on the
// first character-producing keystroke.
func NewEngine(text string, onStart func(), opts ...Option) *Engine {
	e := &Engine{
		text:    []rune(text),
		clock:   clockwork.NewRealClock(),
		onStart: onStart,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOnComplete registers the callback fired when the ledger covers the text.
func (e *Engine) SetOnComplete(cb func()) {
	e.onComplete = cb
}

// Text returns the text being typed.
func (e *Engine) Text() string { return string(e.text) }

// Caret is the index of the next expected character.
func (e *Engine) Caret() int { return len(e.typed) }

// IsFinished reports whether Finish was called since the last Clear.
func (e *Engine) IsFinished() bool { return e.finished }

// TypedChars returns a copy of the ledger.
func (e *Engine) TypedChars() []TypedChar {
	out := make([]TypedChar, len(e.typed))
	copy(out, e.typed)
	return out
}

// State returns a snapshot of the ledger and counters.
func (e *Engine) State() State {
	return State{
		TypedChars:       e.TypedChars(),
		Caret:            len(e.typed),
		RawChars:         len(e.typed),
		CorrectChars:     e.correctChars,
		TotalErrors:      e.totalErrors,
		TotalKeysPressed: e.totalKeysPressed,
		IsFinished:       e.finished,
	}
}

// FinalAccuracy is the share of the ledger that is currently correct, as a
// rounded percentage. Corrected mistakes do not count against it.
func (e *Engine) FinalAccuracy() int {
	if len(e.typed) == 0 {
		return 0
	}
	return roundHalfUp(float64(e.correctChars) / float64(len(e.typed)) * 100)
}

// Finish freezes the engine; later keystrokes are ignored.
func (e *Engine) Finish() {
	e.finished = true
}

// Clear resets the ledger and counters and re-arms the start callback.
func (e *Engine) Clear() {
	e.typed = nil
	e.correctChars = 0
	e.totalErrors = 0
	e.totalKeysPressed = 0
	e.finished = false
	e.started = false
	e.generation++
}

// HandleKey applies one key event. It reports whether the ledger changed.
func (e *Engine) HandleKey(ev KeyEvent) bool {
	if e.finished {
		return false
	}
	if ev.Ctrl && (ev.Key == "r" || ev.Key == "R") {
		return false
	}
	if ev.Alt || ev.Meta {
		return false
	}

	defer e.flushDeferred()

	printable := utf8.RuneCountInString(ev.Key) == 1
	if !e.started && printable {
		e.started = true
		if e.onStart != nil {
			e.onStart()
		}
	}

	if ev.Key == KeyBackspace {
		if ev.Ctrl {
			return e.deleteWord()
		}
		return e.deleteChar()
	}

	if !printable {
		return false
	}

	idx := len(e.typed)
	if idx >= len(e.text) {
		return false
	}

	key, _ := utf8.DecodeRuneInString(ev.Key)
	expected := e.text[idx]

	if key == ' ' && expected != ' ' {
		e.skipWord(idx)
	} else {
		correct := key == expected
		e.totalKeysPressed++
		if !correct {
			e.totalErrors++
		}
		e.appendChar(TypedChar{
			Char:      key,
			Expected:  expected,
			Correct:   correct,
			Timestamp: e.clock.Now(),
		})
	}

	if len(e.typed) >= len(e.text) {
		e.scheduleComplete()
	}
	return true
}

// skipWord charges every remaining character of the current word as an error
// and lands the caret after the following space, if there is one.
func (e *Engine) skipWord(idx int) {
	next := idx
	for next < len(e.text) && e.text[next] != ' ' {
		next++
	}

	skipped := next - idx
	e.totalErrors += 1 + skipped
	e.totalKeysPressed += 1 + skipped

	now := e.clock.Now()
	for i := idx; i < next; i++ {
		e.appendChar(TypedChar{
			Char:      e.text[i],
			Expected:  e.text[i],
			Correct:   false,
			Timestamp: now,
		})
	}
	if next < len(e.text) {
		e.appendChar(TypedChar{
			Char:      ' ',
			Expected:  ' ',
			Correct:   true,
			Timestamp: now,
		})
	}
}

func (e *Engine) appendChar(c TypedChar) {
	e.typed = append(e.typed, c)
	if c.Correct {
		e.correctChars++
	}
}

func (e *Engine) deleteChar() bool {
	if len(e.typed) == 0 {
		return false
	}
	e.truncate(len(e.typed) - 1)
	return true
}

// deleteWord removes trailing spaces and then the word before them.
func (e *Engine) deleteWord() bool {
	if len(e.typed) == 0 {
		return false
	}
	i := len(e.typed) - 1
	for i >= 0 && e.typed[i].Char == ' ' {
		i--
	}
	for i >= 0 && e.typed[i].Char != ' ' {
		i--
	}
	e.truncate(i + 1)
	return true
}

func (e *Engine) truncate(n int) {
	for _, c := range e.typed[n:] {
		if c.Correct {
			e.correctChars--
		}
	}
	e.typed = e.typed[:n]
}

func (e *Engine) scheduleComplete() {
	if e.onComplete == nil {
		return
	}
	gen := e.generation
	fire := func() {
		if gen != e.generation || e.onComplete == nil {
			return
		}
		e.onComplete()
	}
	if e.sched != nil {
		e.sched.Post(fire)
		return
	}
	e.deferred = append(e.deferred, fire)
}

func (e *Engine) flushDeferred() {
	pending := e.deferred
	e.deferred = nil
	for _, fn := range pending {
		fn()
	}
}

func roundHalfUp(x float64) int {
	if x < 0 {
		return -roundHalfUp(-x)
	}
	return int(x + 0.5)
}
