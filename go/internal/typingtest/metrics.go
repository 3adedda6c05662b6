package typingtest

import (
	"math"
	"time"

	"github.com/mcdev12/typerace/go/internal/typing"
)

// ChartPoint is one per-second sample of an attempt.
type ChartPoint struct {
	Time     int `json:"time"`
	WPM      int `json:"wpm"`
	Raw      int `json:"raw"`
	Errors   int `json:"errors"`
	Accuracy int `json:"accuracy"`
}

// Result is computed once when an attempt finishes.
type Result struct {
	Mode          Mode         `json:"mode"`
	Duration      int          `json:"duration"`
	WPM           int          `json:"wpm"`
	RawWPM        int          `json:"raw_wpm"`
	Accuracy      int          `json:"accuracy"`
	FinalAccuracy int          `json:"final_accuracy"`
	Consistency   int          `json:"consistency"`
	RawChars      int          `json:"raw_chars"`
	CorrectChars  int          `json:"correct_chars"`
	Errors        int          `json:"errors"`
	ChartData     []ChartPoint `json:"chart_data"`
}

// WPM converts a character count over minutes into words per minute,
// one word being five characters.
func WPM(chars int, minutes float64) int {
	if chars == 0 || minutes <= 0 {
		return 0
	}
	return roundHalfUp(float64(chars) / 5 / minutes)
}

// Accuracy is the share of keystrokes that were not errors, counting
// mistakes that were later corrected. No keystrokes means 100.
func Accuracy(totalKeysPressed, totalErrors int) int {
	if totalKeysPressed == 0 {
		return 100
	}
	return roundHalfUp(float64(totalKeysPressed-totalErrors) / float64(totalKeysPressed) * 100)
}

// FinalAccuracy is the share of the visible ledger that is correct.
func FinalAccuracy(correctChars, rawChars int) int {
	if rawChars == 0 {
		return 0
	}
	return roundHalfUp(float64(correctChars) / float64(rawChars) * 100)
}

// BuildChart samples the ledger once per elapsed second, scoring each prefix
// as if the attempt had ended at that second.
func BuildChart(ledger []typing.TypedChar) []ChartPoint {
	if len(ledger) == 0 {
		return nil
	}
	first := ledger[0].Timestamp
	last := ledger[len(ledger)-1].Timestamp
	span := last.Sub(first)
	seconds := int(math.Ceil(float64(span) / float64(time.Second)))

	points := make([]ChartPoint, 0, seconds)
	idx := 0
	correct, errs := 0, 0
	for s := 1; s <= seconds; s++ {
		cutoff := first.Add(time.Duration(s) * time.Second)
		for idx < len(ledger) && !ledger[idx].Timestamp.After(cutoff) {
			if ledger[idx].Correct {
				correct++
			} else {
				errs++
			}
			idx++
		}
		minutes := float64(s) / 60
		acc := 100
		if idx > 0 {
			acc = roundHalfUp(float64(correct) / float64(idx) * 100)
		}
		points = append(points, ChartPoint{
			Time:     s,
			WPM:      WPM(correct, minutes),
			Raw:      WPM(idx, minutes),
			Errors:   errs,
			Accuracy: acc,
		})
	}
	return points
}

// Consistency is 100 minus the coefficient of variation of the per-second WPM,
// floored at zero. Fewer than two samples score 100.
func Consistency(chart []ChartPoint) int {
	if len(chart) < 2 {
		return 100
	}
	var sum float64
	for _, p := range chart {
		sum += float64(p.WPM)
	}
	mean := sum / float64(len(chart))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, p := range chart {
		d := float64(p.WPM) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(chart)))
	return roundHalfUp(math.Max(0, 100-stddev/mean*100))
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
