package racesync

import "errors"

// Validation errors surface to the initiating client only.
var (
	ErrRoomNotFound     = errors.New("race not found")
	ErrRoomFull         = errors.New("race is full")
	ErrRaceStarted      = errors.New("race has already started")
	ErrRaceNotStarted   = errors.New("race has not started")
	ErrRaceNotFinished  = errors.New("race has not finished")
	ErrInvalidSettings  = errors.New("invalid race settings")
	ErrNotParticipant   = errors.New("not a participant in this race")
	ErrNotEnoughPlayers = errors.New("at least two players are required to start")
)

// ErrNotHost rejects host-only actions from anyone else.
var ErrNotHost = errors.New("only the host can do that")

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrRoomNotFound, ErrRoomFull, ErrRaceStarted, ErrRaceNotStarted, ErrRaceNotFinished,
		ErrInvalidSettings, ErrNotParticipant, ErrNotEnoughPlayers,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
