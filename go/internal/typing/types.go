package typing

import "time"

// Named keys the engine reacts to. Any other multi-character key is ignored.
const (
	KeyBackspace = "Backspace"
	KeyEnter     = "Enter"
	KeyTab       = "Tab"
)

// KeyEvent is a raw keyboard event. Key is either a single printable character
// or a named key such as "Backspace".
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Alt   bool
	Meta  bool
	Shift bool
}

// TypedChar is one resolved keystroke in the ledger.
type TypedChar struct {
	Char      rune      `json:"char"`
	Expected  rune      `json:"expected"`
	Correct   bool      `json:"correct"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a snapshot of the measurement engine.
type State struct {
	TypedChars       []TypedChar `json:"typed_chars"`
	Caret            int         `json:"caret"`
	RawChars         int         `json:"raw_chars"`
	CorrectChars     int         `json:"correct_chars"`
	TotalErrors      int         `json:"total_errors"`
	TotalKeysPressed int         `json:"total_keys_pressed"`
	IsFinished       bool        `json:"is_finished"`
}

// Scheduler defers a callback to the next tick of the owner's event loop.
type Scheduler interface {
	Post(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

func (f SchedulerFunc) Post(fn func()) { f(fn) }
