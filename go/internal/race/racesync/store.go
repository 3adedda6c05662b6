package racesync

import (
	"context"

	"github.com/mcdev12/typerace/go/internal/models"
)

// Store is the durable source of truth for rooms, membership and ranking.
// Host-only operations return ErrNotHost for anyone but the room's host.
type Store interface {
	CreateRoom(ctx context.Context, hostID string, settings models.RaceSettings) (*models.Race, error)
	GetRoom(ctx context.Context, code string) (*models.Race, error)
	JoinRoom(ctx context.Context, code, userID string) (*models.Race, error)
	StartRoom(ctx context.Context, code, userID string) (*models.Race, error)
	// FinishParticipant records userID's finish and returns its finish rank.
	// Ranks within a race are unique and a repeated call returns the first rank.
	FinishParticipant(ctx context.Context, code, userID string, stats models.FinishStats) (int, error)
	EndRoom(ctx context.Context, code, userID string) (*models.Race, error)
	ListParticipants(ctx context.Context, code string) ([]models.Participant, error)
}
