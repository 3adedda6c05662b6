package typing

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/loop"
)

func typeString(e *Engine, s string) {
	for _, r := range s {
		e.HandleKey(KeyEvent{Key: string(r)})
	}
}

func assertInvariants(t *testing.T, e *Engine) {
	t.Helper()
	st := e.State()
	correct := 0
	for _, c := range st.TypedChars {
		if c.Correct {
			correct++
		}
	}
	assert.Equal(t, len(st.TypedChars), st.Caret, "caret")
	assert.Equal(t, len(st.TypedChars), st.RawChars, "raw chars")
	assert.Equal(t, correct, st.CorrectChars, "correct chars")
	assert.GreaterOrEqual(t, st.TotalKeysPressed, st.TotalErrors)
	assert.GreaterOrEqual(t, st.TotalErrors, 0)
}

func TestHandleKey_CorrectAndIncorrect(t *testing.T) {
	e := NewEngine("cat", nil)

	typeString(e, "cx")
	st := e.State()
	require.Len(t, st.TypedChars, 2)
	assert.True(t, st.TypedChars[0].Correct)
	assert.False(t, st.TypedChars[1].Correct)
	assert.Equal(t, 'a', st.TypedChars[1].Expected)
	assert.Equal(t, 1, st.TotalErrors)
	assert.Equal(t, 2, st.TotalKeysPressed)
	assertInvariants(t, e)
}

func TestHandleKey_WordSkip(t *testing.T) {
	e := NewEngine("cat dog", nil)

	typeString(e, "cx ")

	st := e.State()
	require.Len(t, st.TypedChars, 4)
	assert.Equal(t, TypedChar{Char: 'c', Expected: 'c', Correct: true, Timestamp: st.TypedChars[0].Timestamp}, st.TypedChars[0])
	assert.Equal(t, 'x', st.TypedChars[1].Char)
	assert.False(t, st.TypedChars[1].Correct)
	assert.Equal(t, 't', st.TypedChars[2].Char)
	assert.Equal(t, 't', st.TypedChars[2].Expected)
	assert.False(t, st.TypedChars[2].Correct)
	assert.Equal(t, ' ', st.TypedChars[3].Char)
	assert.True(t, st.TypedChars[3].Correct)

	// 'x' plus the skip charge of 1 + 1 skipped char
	assert.Equal(t, 3, st.TotalErrors)
	assert.Equal(t, 4, st.TotalKeysPressed)
	assert.Equal(t, 4, st.Caret)
	assert.Equal(t, 2, st.CorrectChars)
	assertInvariants(t, e)
}

func TestHandleKey_WordSkipOnLastWordCompletes(t *testing.T) {
	completed := 0
	e := NewEngine("cat dog", nil)
	e.SetOnComplete(func() { completed++ })

	typeString(e, "cat d ")

	st := e.State()
	assert.Equal(t, 7, st.Caret)
	assert.Equal(t, 'g', st.TypedChars[6].Char)
	assert.False(t, st.TypedChars[6].Correct)
	assert.Equal(t, 1, completed)
	assertInvariants(t, e)
}

func TestHandleKey_SpaceOnSpaceIsNormal(t *testing.T) {
	e := NewEngine("a b", nil)
	typeString(e, "a ")
	st := e.State()
	assert.Equal(t, 2, st.Caret)
	assert.Equal(t, 0, st.TotalErrors)
	assert.Equal(t, 2, st.TotalKeysPressed)
}

func TestHandleKey_IgnoredKeys(t *testing.T) {
	e := NewEngine("abc", nil)

	assert.False(t, e.HandleKey(KeyEvent{Key: "r", Ctrl: true}))
	assert.False(t, e.HandleKey(KeyEvent{Key: "a", Alt: true}))
	assert.False(t, e.HandleKey(KeyEvent{Key: "a", Meta: true}))
	assert.False(t, e.HandleKey(KeyEvent{Key: KeyEnter}))
	assert.False(t, e.HandleKey(KeyEvent{Key: "Shift"}))
	assert.Equal(t, 0, e.Caret())

	e.Finish()
	assert.False(t, e.HandleKey(KeyEvent{Key: "a"}))
	assert.Equal(t, 0, e.Caret())
}

func TestHandleKey_PastEndIgnored(t *testing.T) {
	e := NewEngine("ab", nil)
	typeString(e, "abzz")
	st := e.State()
	assert.Equal(t, 2, st.Caret)
	assert.Equal(t, 2, st.TotalKeysPressed)
}

func TestOnStartFiresOncePerClearCycle(t *testing.T) {
	starts := 0
	e := NewEngine("hello", func() { starts++ })

	e.HandleKey(KeyEvent{Key: KeyBackspace})
	assert.Equal(t, 0, starts, "backspace does not start")

	typeString(e, "he")
	assert.Equal(t, 1, starts)

	e.Clear()
	typeString(e, "h")
	assert.Equal(t, 2, starts)
}

func TestBackspace(t *testing.T) {
	e := NewEngine("abc", nil)

	assert.False(t, e.HandleKey(KeyEvent{Key: KeyBackspace}), "empty ledger is a no-op")
	assert.False(t, e.HandleKey(KeyEvent{Key: KeyBackspace}))

	typeString(e, "ax")
	require.True(t, e.HandleKey(KeyEvent{Key: KeyBackspace}))

	st := e.State()
	assert.Equal(t, 1, st.Caret)
	assert.Equal(t, 1, st.CorrectChars)
	// errors are cumulative and survive the correction
	assert.Equal(t, 1, st.TotalErrors)
	assert.Equal(t, 2, st.TotalKeysPressed)

	typeString(e, "b")
	st = e.State()
	assert.Equal(t, 2, st.CorrectChars)
	assert.Equal(t, 1, st.TotalErrors)
	assertInvariants(t, e)
}

func TestDeleteWord(t *testing.T) {
	tests := []struct {
		name  string
		typed string
		want  int
	}{
		{name: "mid word", typed: "one tw", want: 4},
		{name: "after trailing space", typed: "one two ", want: 4},
		{name: "first word", typed: "on", want: 0},
		{name: "only space run", typed: "one ", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine("one two three", nil)
			typeString(e, tt.typed)

			e.HandleKey(KeyEvent{Key: KeyBackspace, Ctrl: true})
			assert.Equal(t, tt.want, e.Caret())
			assertInvariants(t, e)
		})
	}
}

func TestCompletionIsDeferredUntilKeystrokeResolves(t *testing.T) {
	e := NewEngine("ab", nil)
	var caretAtComplete int
	e.SetOnComplete(func() { caretAtComplete = e.Caret() })

	typeString(e, "ab")
	assert.Equal(t, 2, caretAtComplete)
}

func TestCompletionThroughScheduler(t *testing.T) {
	l := loop.New()
	completed := 0
	e := NewEngine("ab", nil, WithScheduler(l))
	e.SetOnComplete(func() { completed++ })

	typeString(e, "ab")
	assert.Equal(t, 0, completed, "not run until the loop ticks")

	l.Drain()
	assert.Equal(t, 1, completed)
}

func TestCompletionDroppedAfterClear(t *testing.T) {
	l := loop.New()
	completed := 0
	e := NewEngine("ab", nil, WithScheduler(l))
	e.SetOnComplete(func() { completed++ })

	typeString(e, "ab")
	e.Clear()
	l.Drain()
	assert.Equal(t, 0, completed)
}

func TestClearRoundTrip(t *testing.T) {
	e := NewEngine("cat dog", nil)
	typeString(e, "cx d")
	e.Finish()

	e.Clear()
	st := e.State()
	assert.Empty(t, st.TypedChars)
	assert.Equal(t, 0, st.Caret)
	assert.Equal(t, 0, st.RawChars)
	assert.Equal(t, 0, st.CorrectChars)
	assert.Equal(t, 0, st.TotalErrors)
	assert.Equal(t, 0, st.TotalKeysPressed)
	assert.False(t, st.IsFinished)

	e.Clear()
	assert.Equal(t, st, e.State())
}

func TestCountersMonotonic(t *testing.T) {
	e := NewEngine("the quick brown fox", nil)
	prevErrors, prevKeys := 0, 0
	script := []KeyEvent{
		{Key: "t"}, {Key: "x"}, {Key: KeyBackspace}, {Key: "h"}, {Key: " "},
		{Key: "q"}, {Key: KeyBackspace, Ctrl: true}, {Key: "t"}, {Key: "h"}, {Key: "e"},
		{Key: " "}, {Key: "q"}, {Key: " "}, {Key: "b"}, {Key: "r"},
	}
	for _, ev := range script {
		e.HandleKey(ev)
		st := e.State()
		assert.GreaterOrEqual(t, st.TotalErrors, prevErrors)
		assert.GreaterOrEqual(t, st.TotalKeysPressed, prevKeys)
		prevErrors, prevKeys = st.TotalErrors, st.TotalKeysPressed
		assertInvariants(t, e)
	}
}

func TestTimestampsFromClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewEngine("ab", nil, WithClock(clock))

	e.HandleKey(KeyEvent{Key: "a"})
	clock.Advance(1500 * time.Millisecond)
	e.HandleKey(KeyEvent{Key: "b"})

	chars := e.TypedChars()
	assert.Equal(t, 1500*time.Millisecond, chars[1].Timestamp.Sub(chars[0].Timestamp))
}

func TestFinalAccuracy(t *testing.T) {
	e := NewEngine("abcd", nil)
	assert.Equal(t, 0, e.FinalAccuracy())

	typeString(e, "abxd")
	assert.Equal(t, 75, e.FinalAccuracy())
}

func TestUnicodeText(t *testing.T) {
	e := NewEngine("héllo wörld", nil)
	typeString(e, "héllo")
	st := e.State()
	assert.Equal(t, 5, st.Caret)
	assert.Equal(t, 5, st.CorrectChars)
}
