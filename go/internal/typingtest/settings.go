package typingtest

// Mode selects what ends an attempt.
type Mode string

const (
	// ModeTime ends when the timer runs out or the text is exhausted.
	ModeTime Mode = "time"
	// ModeWords ends only when the text is exhausted.
	ModeWords Mode = "words"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeTime || m == ModeWords
}

// Settings is the trainer toolkit state: which kind of test to run and how the
// words are generated. It is passed around by value; setters return the
// updated copy.
type Settings struct {
	Mode         Mode `json:"mode" yaml:"mode"`
	Time         int  `json:"time" yaml:"time"`
	Words        int  `json:"words" yaml:"words"`
	Punctuation  bool `json:"punctuation" yaml:"punctuation"`
	Numbers      bool `json:"numbers" yaml:"numbers"`
	ShowKeyboard bool `json:"show_keyboard" yaml:"show_keyboard"`
}

// DefaultSettings mirrors a fresh trainer: a 15 second timed test.
func DefaultSettings() Settings {
	return Settings{
		Mode:  ModeTime,
		Time:  15,
		Words: 10,
	}
}

// WithTime switches to time mode with the given duration.
func (s Settings) WithTime(seconds int) Settings {
	s.Time = seconds
	s.Mode = ModeTime
	return s
}

// WithWords switches to words mode with the given word count.
func (s Settings) WithWords(count int) Settings {
	s.Words = count
	s.Mode = ModeWords
	return s
}

func (s Settings) TogglePunctuation() Settings {
	s.Punctuation = !s.Punctuation
	return s
}

func (s Settings) ToggleNumbers() Settings {
	s.Numbers = !s.Numbers
	return s
}

func (s Settings) ToggleKeyboard() Settings {
	s.ShowKeyboard = !s.ShowKeyboard
	return s
}
