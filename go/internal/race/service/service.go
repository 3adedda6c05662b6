// Package service exposes the durable race store over connect RPC.
package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ResultRecorder saves a test result and refreshes the owner's stats.
type ResultRecorder interface {
	Save(ctx context.Context, result models.TestResult) (*models.TestResult, *models.UserStats, error)
}

// ResultLister reads a user's recent test results.
type ResultLister interface {
	ListTestResults(ctx context.Context, userID string, limit int) ([]models.TestResult, error)
}

// StatsRefresher rebuilds a user's aggregate stats after a race finish.
type StatsRefresher interface {
	Refresh(ctx context.Context, userID string) *models.UserStats
}

// StatsReader reads aggregate stats.
type StatsReader interface {
	Get(ctx context.Context, userID string) (*models.UserStats, error)
	Leaderboard(ctx context.Context, limit int) ([]models.UserStats, error)
}

// Service implements the RaceService procedures
type Service struct {
	store    racesync.Store
	recorder ResultRecorder
	results  ResultLister
	stats    StatsReader
	refresh  StatsRefresher
}

type Option func(*Service)

// WithResults enables the test result procedures.
func WithResults(recorder ResultRecorder, results ResultLister) Option {
	return func(s *Service) {
		s.recorder = recorder
		s.results = results
	}
}

// WithStats enables the stats procedures.
func WithStats(stats StatsReader) Option {
	return func(s *Service) { s.stats = stats }
}

// WithStatsRefresh keeps race totals current as participants finish.
func WithStatsRefresh(r StatsRefresher) Option {
	return func(s *Service) { s.refresh = r }
}

func New(store racesync.Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHandler mounts every procedure under the service path.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateRoomProcedure, connect.NewUnaryHandler(CreateRoomProcedure, svc.CreateRoom, opts...))
	mux.Handle(GetRoomProcedure, connect.NewUnaryHandler(GetRoomProcedure, svc.GetRoom, opts...))
	mux.Handle(JoinRoomProcedure, connect.NewUnaryHandler(JoinRoomProcedure, svc.JoinRoom, opts...))
	mux.Handle(StartRoomProcedure, connect.NewUnaryHandler(StartRoomProcedure, svc.StartRoom, opts...))
	mux.Handle(FinishParticipantProcedure, connect.NewUnaryHandler(FinishParticipantProcedure, svc.FinishParticipant, opts...))
	mux.Handle(EndRoomProcedure, connect.NewUnaryHandler(EndRoomProcedure, svc.EndRoom, opts...))
	mux.Handle(ListParticipantsProcedure, connect.NewUnaryHandler(ListParticipantsProcedure, svc.ListParticipants, opts...))
	mux.Handle(SaveTestResultProcedure, connect.NewUnaryHandler(SaveTestResultProcedure, svc.SaveTestResult, opts...))
	mux.Handle(ListTestResultsProcedure, connect.NewUnaryHandler(ListTestResultsProcedure, svc.ListTestResults, opts...))
	mux.Handle(GetUserStatsProcedure, connect.NewUnaryHandler(GetUserStatsProcedure, svc.GetUserStats, opts...))
	mux.Handle(LeaderboardProcedure, connect.NewUnaryHandler(LeaderboardProcedure, svc.Leaderboard, opts...))
	return "/" + ServiceName + "/", mux
}

func (s *Service) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[RoomResponse], error) {
	if err := required("host_id", req.Msg.HostID); err != nil {
		return nil, err
	}
	race, err := s.store.CreateRoom(ctx, req.Msg.HostID, req.Msg.Settings)
	if err != nil {
		return nil, toConnectError(err)
	}
	log.Info().Str("race_code", race.Code).Str("host_id", race.HostID).Msg("race created")
	return connect.NewResponse(&RoomResponse{Race: race}), nil
}

func (s *Service) GetRoom(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[RoomResponse], error) {
	code, err := roomCode(req.Msg.Code)
	if err != nil {
		return nil, err
	}
	race, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RoomResponse{Race: race}), nil
}

func (s *Service) JoinRoom(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[RoomResponse], error) {
	return s.memberCall(ctx, req.Msg, s.store.JoinRoom)
}

func (s *Service) StartRoom(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[RoomResponse], error) {
	return s.memberCall(ctx, req.Msg, s.store.StartRoom)
}

func (s *Service) EndRoom(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[RoomResponse], error) {
	return s.memberCall(ctx, req.Msg, s.store.EndRoom)
}

func (s *Service) memberCall(
	ctx context.Context,
	msg *MemberRequest,
	fn func(ctx context.Context, code, userID string) (*models.Race, error),
) (*connect.Response[RoomResponse], error) {
	code, err := roomCode(msg.Code)
	if err != nil {
		return nil, err
	}
	if err := required("user_id", msg.UserID); err != nil {
		return nil, err
	}
	race, err := fn(ctx, code, msg.UserID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RoomResponse{Race: race}), nil
}

func (s *Service) FinishParticipant(ctx context.Context, req *connect.Request[FinishParticipantRequest]) (*connect.Response[FinishParticipantResponse], error) {
	code, err := roomCode(req.Msg.Code)
	if err != nil {
		return nil, err
	}
	if err := required("user_id", req.Msg.UserID); err != nil {
		return nil, err
	}
	position, err := s.store.FinishParticipant(ctx, code, req.Msg.UserID, req.Msg.Stats)
	if err != nil {
		return nil, toConnectError(err)
	}
	log.Info().
		Str("race_code", code).
		Str("user_id", req.Msg.UserID).
		Int("position", position).
		Msg("participant finished")
	if s.refresh != nil {
		s.refresh.Refresh(ctx, req.Msg.UserID)
	}
	return connect.NewResponse(&FinishParticipantResponse{Position: position}), nil
}

func (s *Service) ListParticipants(ctx context.Context, req *connect.Request[RoomRequest]) (*connect.Response[ListParticipantsResponse], error) {
	code, err := roomCode(req.Msg.Code)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, code)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListParticipantsResponse{Participants: participants}), nil
}

func (s *Service) SaveTestResult(ctx context.Context, req *connect.Request[SaveTestResultRequest]) (*connect.Response[SaveTestResultResponse], error) {
	if s.recorder == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("test results are not enabled"))
	}
	result := req.Msg.Result
	if err := required("result.user_id", result.UserID); err != nil {
		return nil, err
	}
	if result.Mode != models.RaceModeTime && result.Mode != models.RaceModeWords {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("result.mode must be time or words"))
	}
	saved, stats, err := s.recorder.Save(ctx, result)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SaveTestResultResponse{Result: saved, Stats: stats}), nil
}

func (s *Service) ListTestResults(ctx context.Context, req *connect.Request[ListTestResultsRequest]) (*connect.Response[ListTestResultsResponse], error) {
	if s.results == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("test results are not enabled"))
	}
	if err := required("user_id", req.Msg.UserID); err != nil {
		return nil, err
	}
	results, err := s.results.ListTestResults(ctx, req.Msg.UserID, clampLimit(req.Msg.Limit))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListTestResultsResponse{Results: results}), nil
}

func (s *Service) GetUserStats(ctx context.Context, req *connect.Request[UserStatsRequest]) (*connect.Response[UserStatsResponse], error) {
	if s.stats == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("stats are not enabled"))
	}
	if err := required("user_id", req.Msg.UserID); err != nil {
		return nil, err
	}
	stats, err := s.stats.Get(ctx, req.Msg.UserID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&UserStatsResponse{Stats: stats}), nil
}

func (s *Service) Leaderboard(ctx context.Context, req *connect.Request[LeaderboardRequest]) (*connect.Response[LeaderboardResponse], error) {
	if s.stats == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("stats are not enabled"))
	}
	entries, err := s.stats.Leaderboard(ctx, clampLimit(req.Msg.Limit))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LeaderboardResponse{Entries: entries}), nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New(field+" is required"))
	}
	return nil
}

// roomCode normalizes a user-typed code. Codes are stored upper case.
func roomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := required("code", code); err != nil {
		return "", err
	}
	return code, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
