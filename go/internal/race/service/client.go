package service

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// Client talks to a remote RaceService. Store errors come back as the
// racesync sentinels.
type Client struct {
	createRoom        *connect.Client[CreateRoomRequest, RoomResponse]
	getRoom           *connect.Client[RoomRequest, RoomResponse]
	joinRoom          *connect.Client[MemberRequest, RoomResponse]
	startRoom         *connect.Client[MemberRequest, RoomResponse]
	finishParticipant *connect.Client[FinishParticipantRequest, FinishParticipantResponse]
	endRoom           *connect.Client[MemberRequest, RoomResponse]
	listParticipants  *connect.Client[RoomRequest, ListParticipantsResponse]
	saveTestResult    *connect.Client[SaveTestResultRequest, SaveTestResultResponse]
	listTestResults   *connect.Client[ListTestResultsRequest, ListTestResultsResponse]
	getUserStats      *connect.Client[UserStatsRequest, UserStatsResponse]
	leaderboard       *connect.Client[LeaderboardRequest, LeaderboardResponse]
}

var _ racesync.Store = (*Client)(nil)

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &Client{
		createRoom:        connect.NewClient[CreateRoomRequest, RoomResponse](httpClient, baseURL+CreateRoomProcedure, opts...),
		getRoom:           connect.NewClient[RoomRequest, RoomResponse](httpClient, baseURL+GetRoomProcedure, opts...),
		joinRoom:          connect.NewClient[MemberRequest, RoomResponse](httpClient, baseURL+JoinRoomProcedure, opts...),
		startRoom:         connect.NewClient[MemberRequest, RoomResponse](httpClient, baseURL+StartRoomProcedure, opts...),
		finishParticipant: connect.NewClient[FinishParticipantRequest, FinishParticipantResponse](httpClient, baseURL+FinishParticipantProcedure, opts...),
		endRoom:           connect.NewClient[MemberRequest, RoomResponse](httpClient, baseURL+EndRoomProcedure, opts...),
		listParticipants:  connect.NewClient[RoomRequest, ListParticipantsResponse](httpClient, baseURL+ListParticipantsProcedure, opts...),
		saveTestResult:    connect.NewClient[SaveTestResultRequest, SaveTestResultResponse](httpClient, baseURL+SaveTestResultProcedure, opts...),
		listTestResults:   connect.NewClient[ListTestResultsRequest, ListTestResultsResponse](httpClient, baseURL+ListTestResultsProcedure, opts...),
		getUserStats:      connect.NewClient[UserStatsRequest, UserStatsResponse](httpClient, baseURL+GetUserStatsProcedure, opts...),
		leaderboard:       connect.NewClient[LeaderboardRequest, LeaderboardResponse](httpClient, baseURL+LeaderboardProcedure, opts...),
	}
}

func (c *Client) CreateRoom(ctx context.Context, hostID string, settings models.RaceSettings) (*models.Race, error) {
	resp, err := c.createRoom.CallUnary(ctx, connect.NewRequest(&CreateRoomRequest{HostID: hostID, Settings: settings}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Race, nil
}

func (c *Client) GetRoom(ctx context.Context, code string) (*models.Race, error) {
	resp, err := c.getRoom.CallUnary(ctx, connect.NewRequest(&RoomRequest{Code: code}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Race, nil
}

func (c *Client) JoinRoom(ctx context.Context, code, userID string) (*models.Race, error) {
	return c.memberCall(ctx, c.joinRoom, code, userID)
}

func (c *Client) StartRoom(ctx context.Context, code, userID string) (*models.Race, error) {
	return c.memberCall(ctx, c.startRoom, code, userID)
}

func (c *Client) EndRoom(ctx context.Context, code, userID string) (*models.Race, error) {
	return c.memberCall(ctx, c.endRoom, code, userID)
}

func (c *Client) memberCall(ctx context.Context, call *connect.Client[MemberRequest, RoomResponse], code, userID string) (*models.Race, error) {
	resp, err := call.CallUnary(ctx, connect.NewRequest(&MemberRequest{Code: code, UserID: userID}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Race, nil
}

func (c *Client) FinishParticipant(ctx context.Context, code, userID string, stats models.FinishStats) (int, error) {
	resp, err := c.finishParticipant.CallUnary(ctx, connect.NewRequest(&FinishParticipantRequest{
		Code:   code,
		UserID: userID,
		Stats:  stats,
	}))
	if err != nil {
		return 0, fromConnectError(err)
	}
	return resp.Msg.Position, nil
}

func (c *Client) ListParticipants(ctx context.Context, code string) ([]models.Participant, error) {
	resp, err := c.listParticipants.CallUnary(ctx, connect.NewRequest(&RoomRequest{Code: code}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Participants, nil
}

// SaveTestResult stores result and returns it with the owner's refreshed
// stats. Stats are nil when the server could not refresh them.
func (c *Client) SaveTestResult(ctx context.Context, result models.TestResult) (*models.TestResult, *models.UserStats, error) {
	resp, err := c.saveTestResult.CallUnary(ctx, connect.NewRequest(&SaveTestResultRequest{Result: result}))
	if err != nil {
		return nil, nil, fromConnectError(err)
	}
	return resp.Msg.Result, resp.Msg.Stats, nil
}

func (c *Client) ListTestResults(ctx context.Context, userID string, limit int) ([]models.TestResult, error) {
	resp, err := c.listTestResults.CallUnary(ctx, connect.NewRequest(&ListTestResultsRequest{UserID: userID, Limit: limit}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Results, nil
}

func (c *Client) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	resp, err := c.getUserStats.CallUnary(ctx, connect.NewRequest(&UserStatsRequest{UserID: userID}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Stats, nil
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]models.UserStats, error) {
	resp, err := c.leaderboard.CallUnary(ctx, connect.NewRequest(&LeaderboardRequest{Limit: limit}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Entries, nil
}
