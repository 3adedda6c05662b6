package service

import (
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// errorHeader carries the sentinel name so clients can restore it.
const errorHeader = "Race-Error"

type sentinel struct {
	key  string
	err  error
	code connect.Code
}

var sentinels = []sentinel{
	{"room_not_found", racesync.ErrRoomNotFound, connect.CodeNotFound},
	{"room_full", racesync.ErrRoomFull, connect.CodeResourceExhausted},
	{"race_started", racesync.ErrRaceStarted, connect.CodeFailedPrecondition},
	{"race_not_started", racesync.ErrRaceNotStarted, connect.CodeFailedPrecondition},
	{"race_not_finished", racesync.ErrRaceNotFinished, connect.CodeFailedPrecondition},
	{"not_participant", racesync.ErrNotParticipant, connect.CodeFailedPrecondition},
	{"not_enough_players", racesync.ErrNotEnoughPlayers, connect.CodeFailedPrecondition},
	{"invalid_settings", racesync.ErrInvalidSettings, connect.CodeInvalidArgument},
	{"not_host", racesync.ErrNotHost, connect.CodePermissionDenied},
}

// toConnectError maps store errors onto connect codes. Unknown errors become
// Internal.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			cerr := connect.NewError(s.code, err)
			cerr.Meta().Set(errorHeader, s.key)
			return cerr
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

// fromConnectError restores the sentinel a handler returned, so callers can
// keep using errors.Is across the RPC boundary.
func fromConnectError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	key := cerr.Meta().Get(errorHeader)
	for _, s := range sentinels {
		if s.key != key {
			continue
		}
		if msg := cerr.Message(); msg != s.err.Error() {
			return fmt.Errorf("%w: %s", s.err, msg)
		}
		return s.err
	}
	return err
}
