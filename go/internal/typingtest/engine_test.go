package typingtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/loop"
	"github.com/mcdev12/typerace/go/internal/typing"
)

func typeString(e *Engine, s string) {
	for _, r := range s {
		e.HandleKey(typing.KeyEvent{Key: string(r)})
	}
}

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestTimeModeUsesFixedDuration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	words := strings.Fields(strings.Repeat("abcdefghij ", 6))
	e := New(words, 60, ModeTime, WithClock(clock))
	defer e.Reset()

	text := e.Text()
	typeString(e, text[:50])
	clock.Advance(3 * time.Second)
	e.Finish()

	res, ok := e.Result()
	require.True(t, ok)
	assert.Equal(t, 50, res.CorrectChars)
	assert.Equal(t, 10, res.WPM)
	assert.Equal(t, 10, res.RawWPM)
	assert.Equal(t, 100, res.Accuracy)
	assert.Equal(t, 100, res.FinalAccuracy)
	assert.Equal(t, ModeTime, res.Mode)
	assert.Equal(t, 60, res.Duration)
}

func TestFinishIsIdempotent(t *testing.T) {
	e := New([]string{"ab", "cd"}, 30, ModeTime, WithClock(clockwork.NewFakeClock()))
	calls := 0
	e.OnFinish(func(Result) { calls++ })

	typeString(e, "ab cd")
	first, ok := e.Result()
	require.True(t, ok)
	assert.Equal(t, 1, calls, "text exhaustion finishes")

	e.Finish()
	e.Finish()
	second, _ := e.Result()
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.False(t, e.TimerActive())
}

func TestTimeModeExpiryForcesFinish(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New([]string{"hello", "world"}, 2, ModeTime, WithClock(clock))
	done := make(chan Result, 1)
	e.OnFinish(func(r Result) { done <- r })

	typeString(e, "hel")
	waitForTicker(t, clock)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return e.TimeLeft() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)

	select {
	case res := <-done:
		assert.Equal(t, 3, res.CorrectChars)
	case <-time.After(time.Second):
		t.Fatal("timer expiry did not finish the test")
	}
	assert.True(t, e.IsFinished())
	assert.False(t, e.HandleKey(typing.KeyEvent{Key: "l"}))
}

func TestWordsModeIgnoresTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New([]string{"aaaaa", "bbbbb"}, 1, ModeWords, WithClock(clock))
	defer e.Reset()

	typeString(e, "a")
	waitForTicker(t, clock)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return e.TimeLeft() == 0 }, time.Second, time.Millisecond)
	assert.False(t, e.IsFinished(), "only text exhaustion ends words mode")

	clock.Advance(11 * time.Second)
	typeString(e, "aaaa bbbbb")

	res, ok := e.Result()
	require.True(t, ok)
	assert.Equal(t, 12*time.Second, e.Elapsed())
	// 11 chars over 0.2 minutes
	assert.Equal(t, 11, res.WPM)
	assert.Equal(t, 11, res.RawWPM)
	require.Len(t, res.ChartData, 12)
	assert.Equal(t, 11, res.ChartData[11].WPM)
}

func TestWordsModeSingleInstantHasZeroWPM(t *testing.T) {
	e := New([]string{"a"}, 0, ModeWords, WithClock(clockwork.NewFakeClock()))
	typeString(e, "a")

	res, ok := e.Result()
	require.True(t, ok)
	assert.Equal(t, 0, res.WPM)
	assert.Equal(t, 100, res.Consistency)
}

func TestAccuracyCountsCorrectedMistakes(t *testing.T) {
	e := New([]string{"abcd"}, 30, ModeTime, WithClock(clockwork.NewFakeClock()))
	typeString(e, "ax")
	e.HandleKey(typing.KeyEvent{Key: typing.KeyBackspace})
	typeString(e, "bcd")

	res, ok := e.Result()
	require.True(t, ok)
	// 5 keystrokes, 1 error
	assert.Equal(t, 80, res.Accuracy)
	assert.Equal(t, 100, res.FinalAccuracy)
	assert.Equal(t, 1, res.Errors)
}

func TestLiveWPM(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New([]string{strings.Repeat("a", 20)}, 60, ModeTime, WithClock(clock))
	defer e.Reset()

	assert.Equal(t, 0, e.LiveWPM())
	typeString(e, strings.Repeat("a", 10))
	assert.Equal(t, 0, e.LiveWPM(), "no elapsed second yet")

	waitForTicker(t, clock)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return e.TimeLeft() == 59 }, time.Second, time.Millisecond)
	assert.Equal(t, 120, e.LiveWPM())
}

func TestReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New([]string{"ab"}, 15, ModeTime, WithClock(clock))
	typeString(e, "ab")
	require.True(t, e.IsFinished())

	e.Reset()
	assert.False(t, e.IsFinished())
	assert.Equal(t, 15, e.TimeLeft())
	assert.False(t, e.TimerActive())
	st := e.State()
	assert.Empty(t, st.TypedChars)
	assert.Equal(t, 0, st.TotalKeysPressed)
	_, ok := e.Result()
	assert.False(t, ok)

	typeString(e, "a")
	assert.True(t, e.TimerRunning(), "first keystroke re-arms the timer")
	e.Reset()
}

func TestStartTimerWithoutKeystroke(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := loop.New()
	e := New([]string{"ab"}, 5, ModeTime, WithClock(clock), WithScheduler(l))
	ticks := []int{}
	e.OnTick(func(left int) { ticks = append(ticks, left) })

	e.StartTimer()
	waitForTicker(t, clock)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return l.Pending() == 1 }, time.Second, time.Millisecond)
	l.Drain()

	assert.Equal(t, []int{4}, ticks)
	e.Reset()
	assert.False(t, e.TimerActive())
}

func TestNewFromSettings(t *testing.T) {
	s := DefaultSettings()
	e := NewFromSettings([]string{"a"}, s)
	assert.Equal(t, ModeTime, e.Mode())
	assert.Equal(t, 15, e.Duration())

	e = NewFromSettings([]string{"a"}, s.WithWords(25))
	assert.Equal(t, ModeWords, e.Mode())
	assert.Equal(t, 0, e.Duration())
}
