// Package repository is the Postgres implementation of the durable race
// store. Every state change writes its outbox row in the same transaction.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/db"
	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/sqlutil"
	"github.com/mcdev12/typerace/go/internal/words"
)

type Repository struct {
	db      *sql.DB
	queries *db.Queries
	cfg     config.RaceConfig
	gen     *words.Generator
	clock   clockwork.Clock
	code    func() (string, error)
}

type Option func(*Repository)

func WithClock(c clockwork.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

func WithGenerator(g *words.Generator) Option {
	return func(r *Repository) { r.gen = g }
}

// WithCodeSource replaces the random room code generator.
func WithCodeSource(fn func() (string, error)) Option {
	return func(r *Repository) { r.code = fn }
}

var _ racesync.Store = (*Repository)(nil)

func NewRepository(database *sql.DB, cfg config.RaceConfig, opts ...Option) *Repository {
	r := &Repository{
		db:      database,
		queries: db.New(database),
		cfg:     cfg,
		gen:     words.English(),
		clock:   clockwork.NewRealClock(),
		code:    racesync.NewRoomCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) inTx(ctx context.Context, fn func(q *db.Queries) error) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *db.Queries { return r.queries.WithTx(tx) }, fn)
}

func (r *Repository) CreateRoom(ctx context.Context, hostID string, settings models.RaceSettings) (*models.Race, error) {
	settings, err := racesync.NormalizeSettings(settings, r.cfg)
	if err != nil {
		return nil, err
	}
	roomWords := racesync.RoomWords(r.gen, settings)

	for attempt := 0; attempt < racesync.MaxCodeAttempts; attempt++ {
		code, err := r.code()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room code: %w", err)
		}

		var race db.Race
		err = r.inTx(ctx, func(q *db.Queries) error {
			var err error
			race, err = q.CreateRace(ctx, db.CreateRaceParams{
				ID:          uuid.New(),
				Code:        code,
				HostID:      hostID,
				Duration:    int32(settings.Duration),
				Mode:        string(settings.Mode),
				Punctuation: settings.Punctuation,
				Numbers:     settings.Numbers,
				MaxPlayers:  int32(settings.MaxPlayers),
				Words:       roomWords,
			})
			if err != nil {
				return err
			}
			if _, err := q.InsertParticipant(ctx, db.InsertParticipantParams{
				ID:     uuid.New(),
				RaceID: race.ID,
				UserID: hostID,
			}); err != nil {
				return fmt.Errorf("failed to join host: %w", err)
			}
			return r.insertOutbox(ctx, q, race, events.EventTypeRaceCreated, events.RaceCreatedPayload{
				RaceID:     race.ID.String(),
				Code:       race.Code,
				HostID:     race.HostID,
				Duration:   int(race.Duration),
				MaxPlayers: int(race.MaxPlayers),
				CreatedAt:  race.CreatedAt,
			})
		})
		if isCodeCollision(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create race: %w", err)
		}
		return dbRaceToModel(race), nil
	}
	return nil, fmt.Errorf("failed to generate unique room code after %d attempts", racesync.MaxCodeAttempts)
}

func (r *Repository) GetRoom(ctx context.Context, code string) (*models.Race, error) {
	race, err := r.queries.GetRaceByCode(ctx, code)
	if err != nil {
		return nil, notFound(err, "failed to get race")
	}
	return dbRaceToModel(race), nil
}

func (r *Repository) JoinRoom(ctx context.Context, code, userID string) (*models.Race, error) {
	var race db.Race
	err := r.inTx(ctx, func(q *db.Queries) error {
		var err error
		race, err = q.GetRaceByCodeForUpdate(ctx, code)
		if err != nil {
			return notFound(err, "failed to lock race")
		}

		_, err = q.GetParticipant(ctx, db.GetParticipantParams{RaceID: race.ID, UserID: userID})
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get participant: %w", err)
		}

		if models.RaceStatus(race.Status) != models.RaceStatusLobby {
			return racesync.ErrRaceStarted
		}
		count, err := q.CountParticipants(ctx, race.ID)
		if err != nil {
			return fmt.Errorf("failed to count participants: %w", err)
		}
		if count >= int64(race.MaxPlayers) {
			return racesync.ErrRoomFull
		}

		if _, err := q.InsertParticipant(ctx, db.InsertParticipantParams{
			ID:     uuid.New(),
			RaceID: race.ID,
			UserID: userID,
		}); err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dbRaceToModel(race), nil
}

func (r *Repository) StartRoom(ctx context.Context, code, userID string) (*models.Race, error) {
	var race db.Race
	err := r.inTx(ctx, func(q *db.Queries) error {
		var err error
		race, err = q.GetRaceByCodeForUpdate(ctx, code)
		if err != nil {
			return notFound(err, "failed to lock race")
		}
		if race.HostID != userID {
			return racesync.ErrNotHost
		}
		switch models.RaceStatus(race.Status) {
		case models.RaceStatusRacing:
			return nil
		case models.RaceStatusFinished:
			return racesync.ErrRaceStarted
		}

		count, err := q.CountParticipants(ctx, race.ID)
		if err != nil {
			return fmt.Errorf("failed to count participants: %w", err)
		}
		if count < 2 {
			return racesync.ErrNotEnoughPlayers
		}

		race, err = q.StartRace(ctx, race.ID)
		if err != nil {
			return fmt.Errorf("failed to start race: %w", err)
		}
		return r.insertOutbox(ctx, q, race, events.EventTypeRaceStarted, events.RaceStartedPayload{
			RaceID:    race.ID.String(),
			Code:      race.Code,
			StartedAt: race.StartTime.Time,
		})
	})
	if err != nil {
		return nil, err
	}
	return dbRaceToModel(race), nil
}

// FinishParticipant holds the race row lock while it counts finishers, so
// concurrent finishers serialize and each sees the previous one's write.
// UNIQUE(race_id, position) backs this up at the schema level.
func (r *Repository) FinishParticipant(ctx context.Context, code, userID string, stats models.FinishStats) (int, error) {
	var position int
	err := r.inTx(ctx, func(q *db.Queries) error {
		race, err := q.GetRaceByCodeForUpdate(ctx, code)
		if err != nil {
			return notFound(err, "failed to lock race")
		}

		p, err := q.GetParticipant(ctx, db.GetParticipantParams{RaceID: race.ID, UserID: userID})
		if errors.Is(err, sql.ErrNoRows) {
			return racesync.ErrNotParticipant
		}
		if err != nil {
			return fmt.Errorf("failed to get participant: %w", err)
		}
		if p.Finished && p.Position.Valid {
			position = int(p.Position.Int32)
			return nil
		}

		status := models.RaceStatus(race.Status)
		if status != models.RaceStatusRacing && status != models.RaceStatusFinished {
			return racesync.ErrRaceNotStarted
		}

		finished, err := q.CountFinishedParticipants(ctx, race.ID)
		if err != nil {
			return fmt.Errorf("failed to count finishers: %w", err)
		}
		position = int(finished) + 1

		p, err = q.FinishParticipant(ctx, db.FinishParticipantParams{
			RaceID:   race.ID,
			UserID:   userID,
			Progress: int32(stats.Progress),
			Wpm:      int32(stats.WPM),
			Accuracy: int32(stats.Accuracy),
			Position: int32(position),
		})
		if err != nil {
			return fmt.Errorf("failed to finish participant: %w", err)
		}
		return r.insertOutbox(ctx, q, race, events.EventTypeParticipantFinished, events.ParticipantFinishedPayload{
			RaceID:     race.ID.String(),
			Code:       race.Code,
			UserID:     userID,
			Position:   position,
			WPM:        stats.WPM,
			Accuracy:   stats.Accuracy,
			FinishedAt: p.FinishedAt.Time,
		})
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

func (r *Repository) EndRoom(ctx context.Context, code, userID string) (*models.Race, error) {
	var race db.Race
	err := r.inTx(ctx, func(q *db.Queries) error {
		var err error
		race, err = q.GetRaceByCodeForUpdate(ctx, code)
		if err != nil {
			return notFound(err, "failed to lock race")
		}
		if race.HostID != userID {
			return racesync.ErrNotHost
		}
		switch models.RaceStatus(race.Status) {
		case models.RaceStatusFinished:
			return nil
		case models.RaceStatusLobby, models.RaceStatusCountdown:
			return racesync.ErrRaceNotStarted
		}

		race, err = q.EndRace(ctx, race.ID)
		if err != nil {
			return fmt.Errorf("failed to end race: %w", err)
		}
		return r.insertOutbox(ctx, q, race, events.EventTypeRaceEnded, events.RaceEndedPayload{
			RaceID:  race.ID.String(),
			Code:    race.Code,
			EndedAt: race.EndTime.Time,
		})
	})
	if err != nil {
		return nil, err
	}
	return dbRaceToModel(race), nil
}

func (r *Repository) ListParticipants(ctx context.Context, code string) ([]models.Participant, error) {
	race, err := r.queries.GetRaceByCode(ctx, code)
	if err != nil {
		return nil, notFound(err, "failed to get race")
	}
	rows, err := r.queries.ListParticipants(ctx, race.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	participants := make([]models.Participant, len(rows))
	for i, row := range rows {
		participants[i] = dbParticipantToModel(row)
	}
	return participants, nil
}

// insertOutbox writes the durable event envelope the outbox relay publishes
// as-is.
func (r *Repository) insertOutbox(ctx context.Context, q *db.Queries, race db.Race, eventType events.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	id := uuid.New()
	envelope, err := json.Marshal(events.DurableEvent{
		ID:        id.String(),
		RaceID:    race.ID.String(),
		Code:      race.Code,
		Type:      eventType,
		Timestamp: r.clock.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := q.InsertOutbox(ctx, db.InsertOutboxParams{
		ID:        id,
		RaceID:    race.ID,
		EventType: string(eventType),
		Payload:   envelope,
	}); err != nil {
		return fmt.Errorf("insert outbox %s: %w", eventType, err)
	}
	return nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return racesync.ErrRoomNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// isCodeCollision reports a unique violation on the room code, which is the
// only conflict CreateRoom retries.
func isCodeCollision(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == "races_code_key"
}

func dbRaceToModel(r db.Race) *models.Race {
	return &models.Race{
		ID:          r.ID,
		Code:        r.Code,
		HostID:      r.HostID,
		Duration:    int(r.Duration),
		Mode:        models.RaceMode(r.Mode),
		Punctuation: r.Punctuation,
		Numbers:     r.Numbers,
		MaxPlayers:  int(r.MaxPlayers),
		Words:       r.Words,
		Status:      models.RaceStatus(r.Status),
		StartTime:   sqlutil.FromSqlTime(r.StartTime),
		EndTime:     sqlutil.FromSqlTime(r.EndTime),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func dbParticipantToModel(p db.RaceParticipant) models.Participant {
	return models.Participant{
		ID:         p.ID,
		RaceID:     p.RaceID,
		UserID:     p.UserID,
		Progress:   int(p.Progress),
		WPM:        int(p.Wpm),
		Accuracy:   int(p.Accuracy),
		Position:   sqlutil.FromSqlInt32(p.Position),
		Finished:   p.Finished,
		FinishedAt: sqlutil.FromSqlTime(p.FinishedAt),
		JoinedAt:   p.JoinedAt,
	}
}
