// Package words supplies the shared text for tests and races.
package words

import (
	"bufio"
	_ "embed"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

//go:embed english.txt
var englishList string

var punctuationMarks = []string{".", ",", "!", "?", ";", ":"}

// Options toggles the decorations applied to generated words.
type Options struct {
	Punctuation bool
	Numbers     bool
}

// Generator picks random words from a list.
type Generator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	words []string
}

// New returns a Generator over list seeded with the current time.
func New(list []string) *Generator {
	return NewWithSeed(list, time.Now().UnixNano())
}

// NewWithSeed returns a deterministic Generator.
func NewWithSeed(list []string, seed int64) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		words: append([]string(nil), list...),
	}
}

// English returns a Generator over the embedded English list.
func English() *Generator {
	return New(English200())
}

// English200 returns a copy of the embedded English list.
func English200() []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(englishList))
	for scanner.Scan() {
		if w := strings.TrimSpace(scanner.Text()); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// CountForDuration is how many words a race of duration seconds needs so the
// text outlasts the timer: 40 wpm with 50% headroom.
func CountForDuration(duration int) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Ceil(float64(duration) / 60 * 40 * 1.5))
}

// GetRandomWords returns count words. With numbers, ceil(15%) of the positions
// hold a number below 1000. With punctuation, about a fifth of the words get a
// trailing mark and the word after a sentence end is capitalised.
func (g *Generator) GetRandomWords(count int, opts Options) []string {
	if count <= 0 || len(g.words) == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	numberAt := make(map[int]struct{})
	if opts.Numbers {
		want := int(math.Ceil(float64(count) * 0.15))
		for len(numberAt) < want {
			numberAt[g.rnd.Intn(count)] = struct{}{}
		}
	}

	result := make([]string, 0, count)
	capitalize := true
	for i := 0; i < count; i++ {
		_, isNumber := numberAt[i]

		var word string
		if isNumber {
			word = strconv.Itoa(g.rnd.Intn(1000))
			capitalize = false
		} else {
			word = g.words[g.rnd.Intn(len(g.words))]
			if opts.Punctuation && capitalize {
				word = capitalizeFirst(word)
				capitalize = false
			}
		}

		if opts.Punctuation && !isNumber && g.rnd.Float64() < 0.2 {
			mark := punctuationMarks[g.rnd.Intn(len(punctuationMarks))]
			word += mark
			if mark == "." || mark == "!" || mark == "?" {
				capitalize = true
			}
		}
		result = append(result, word)
	}
	return result
}

func capitalizeFirst(word string) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return word
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
