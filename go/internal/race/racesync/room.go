package racesync

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"slices"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/words"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	// MaxCodeAttempts bounds retries when a generated code already exists.
	MaxCodeAttempts = 10
)

// NewRoomCode returns a random human-shareable room code.
func NewRoomCode() (string, error) {
	buf := make([]byte, codeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// NormalizeSettings fills defaults and validates s against cfg.
func NormalizeSettings(s models.RaceSettings, cfg config.RaceConfig) (models.RaceSettings, error) {
	if s.Duration == 0 {
		s.Duration = cfg.DefaultDuration
	}
	if s.Mode == "" {
		s.Mode = models.RaceModeTime
	}
	if s.MaxPlayers == 0 {
		s.MaxPlayers = cfg.MaxPlayers
	}

	if !slices.Contains(cfg.AllowedDurations, s.Duration) {
		return s, fmt.Errorf("%w: duration %d", ErrInvalidSettings, s.Duration)
	}
	if s.Mode != models.RaceModeTime && s.Mode != models.RaceModeWords {
		return s, fmt.Errorf("%w: mode %q", ErrInvalidSettings, s.Mode)
	}
	if s.MaxPlayers < 2 {
		return s, fmt.Errorf("%w: max players %d", ErrInvalidSettings, s.MaxPlayers)
	}
	return s, nil
}

// RoomWords generates the shared text for a room with settings s.
func RoomWords(gen *words.Generator, s models.RaceSettings) []string {
	return gen.GetRandomWords(words.CountForDuration(s.Duration), words.Options{
		Punctuation: s.Punctuation,
		Numbers:     s.Numbers,
	})
}
