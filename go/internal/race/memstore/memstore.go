// Package memstore is an in-process durable store for development and tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/words"
)

// Store keeps rooms in memory. A single mutex serializes every write, which
// linearizes finish positions per race.
type Store struct {
	mu    sync.Mutex
	cfg   config.RaceConfig
	gen   *words.Generator
	clock clockwork.Clock
	code  func() (string, error)

	races map[string]*entry
}

type entry struct {
	race         models.Race
	participants []models.Participant
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithGenerator(g *words.Generator) Option {
	return func(s *Store) { s.gen = g }
}

// WithCodeSource replaces the random room code generator.
func WithCodeSource(fn func() (string, error)) Option {
	return func(s *Store) { s.code = fn }
}

var _ racesync.Store = (*Store)(nil)

func New(cfg config.RaceConfig, opts ...Option) *Store {
	s := &Store{
		cfg:   cfg,
		gen:   words.English(),
		clock: clockwork.NewRealClock(),
		code:  racesync.NewRoomCode,
		races: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateRoom(_ context.Context, hostID string, settings models.RaceSettings) (*models.Race, error) {
	settings, err := racesync.NormalizeSettings(settings, s.cfg)
	if err != nil {
		return nil, err
	}
	roomWords := racesync.RoomWords(s.gen, settings)

	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	e := &entry{
		race: models.Race{
			ID:          uuid.New(),
			Code:        code,
			HostID:      hostID,
			Duration:    settings.Duration,
			Mode:        settings.Mode,
			Punctuation: settings.Punctuation,
			Numbers:     settings.Numbers,
			MaxPlayers:  settings.MaxPlayers,
			Words:       roomWords,
			Status:      models.RaceStatusLobby,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	e.participants = append(e.participants, newParticipant(e.race.ID, hostID, now))
	s.races[code] = e
	return copyRace(e.race), nil
}

func (s *Store) uniqueCodeLocked() (string, error) {
	for i := 0; i < racesync.MaxCodeAttempts; i++ {
		code, err := s.code()
		if err != nil {
			return "", err
		}
		if _, taken := s.races[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique room code after %d attempts", racesync.MaxCodeAttempts)
}

func (s *Store) GetRoom(_ context.Context, code string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.races[code]
	if !ok {
		return nil, racesync.ErrRoomNotFound
	}
	return copyRace(e.race), nil
}

func (s *Store) JoinRoom(_ context.Context, code, userID string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.races[code]
	if !ok {
		return nil, racesync.ErrRoomNotFound
	}
	if e.find(userID) >= 0 {
		return copyRace(e.race), nil
	}
	if e.race.Status != models.RaceStatusLobby {
		return nil, racesync.ErrRaceStarted
	}
	if len(e.participants) >= e.race.MaxPlayers {
		return nil, racesync.ErrRoomFull
	}
	e.participants = append(e.participants, newParticipant(e.race.ID, userID, s.clock.Now().UTC()))
	return copyRace(e.race), nil
}

func (s *Store) StartRoom(_ context.Context, code, userID string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.races[code]
	if !ok {
		return nil, racesync.ErrRoomNotFound
	}
	if e.race.HostID != userID {
		return nil, racesync.ErrNotHost
	}
	switch e.race.Status {
	case models.RaceStatusRacing:
		return copyRace(e.race), nil
	case models.RaceStatusFinished:
		return nil, racesync.ErrRaceStarted
	}
	if len(e.participants) < 2 {
		return nil, racesync.ErrNotEnoughPlayers
	}

	now := s.clock.Now().UTC()
	e.race.Status = models.RaceStatusRacing
	e.race.StartTime = &now
	e.race.UpdatedAt = now
	return copyRace(e.race), nil
}

func (s *Store) FinishParticipant(_ context.Context, code, userID string, stats models.FinishStats) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.races[code]
	if !ok {
		return 0, racesync.ErrRoomNotFound
	}
	idx := e.find(userID)
	if idx < 0 {
		return 0, racesync.ErrNotParticipant
	}
	p := &e.participants[idx]
	if p.Finished && p.Position != nil {
		return *p.Position, nil
	}
	if e.race.Status != models.RaceStatusRacing && e.race.Status != models.RaceStatusFinished {
		return 0, racesync.ErrRaceNotStarted
	}

	finished := 0
	for _, other := range e.participants {
		if other.Finished {
			finished++
		}
	}
	position := finished + 1
	now := s.clock.Now().UTC()

	p.Progress = stats.Progress
	p.WPM = stats.WPM
	p.Accuracy = stats.Accuracy
	p.Position = &position
	p.Finished = true
	p.FinishedAt = &now
	return position, nil
}

func (s *Store) EndRoom(_ context.Context, code, userID string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.races[code]
	if !ok {
		return nil, racesync.ErrRoomNotFound
	}
	if e.race.HostID != userID {
		return nil, racesync.ErrNotHost
	}
	switch e.race.Status {
	case models.RaceStatusFinished:
		return copyRace(e.race), nil
	case models.RaceStatusLobby, models.RaceStatusCountdown:
		return nil, racesync.ErrRaceNotStarted
	}

	now := s.clock.Now().UTC()
	e.race.Status = models.RaceStatusFinished
	e.race.EndTime = &now
	e.race.UpdatedAt = now
	return copyRace(e.race), nil
}

func (s *Store) ListParticipants(_ context.Context, code string) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.races[code]
	if !ok {
		return nil, racesync.ErrRoomNotFound
	}
	return slices.Clone(e.participants), nil
}

func (e *entry) find(userID string) int {
	return slices.IndexFunc(e.participants, func(p models.Participant) bool { return p.UserID == userID })
}

func newParticipant(raceID uuid.UUID, userID string, now time.Time) models.Participant {
	return models.Participant{
		ID:       uuid.New(),
		RaceID:   raceID,
		UserID:   userID,
		JoinedAt: now,
	}
}

func copyRace(r models.Race) *models.Race {
	r.Words = slices.Clone(r.Words)
	return &r
}
