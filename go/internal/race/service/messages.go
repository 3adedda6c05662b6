package service

import "github.com/mcdev12/typerace/go/internal/models"

const ServiceName = "typerace.race.v1.RaceService"

const (
	CreateRoomProcedure        = "/" + ServiceName + "/CreateRoom"
	GetRoomProcedure           = "/" + ServiceName + "/GetRoom"
	JoinRoomProcedure          = "/" + ServiceName + "/JoinRoom"
	StartRoomProcedure         = "/" + ServiceName + "/StartRoom"
	FinishParticipantProcedure = "/" + ServiceName + "/FinishParticipant"
	EndRoomProcedure           = "/" + ServiceName + "/EndRoom"
	ListParticipantsProcedure  = "/" + ServiceName + "/ListParticipants"
	SaveTestResultProcedure    = "/" + ServiceName + "/SaveTestResult"
	ListTestResultsProcedure   = "/" + ServiceName + "/ListTestResults"
	GetUserStatsProcedure      = "/" + ServiceName + "/GetUserStats"
	LeaderboardProcedure       = "/" + ServiceName + "/Leaderboard"
)

type CreateRoomRequest struct {
	HostID   string              `json:"host_id"`
	Settings models.RaceSettings `json:"settings"`
}

type RoomRequest struct {
	Code string `json:"code"`
}

// MemberRequest names a room and the user acting on it.
type MemberRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

type RoomResponse struct {
	Race *models.Race `json:"race"`
}

type FinishParticipantRequest struct {
	Code   string             `json:"code"`
	UserID string             `json:"user_id"`
	Stats  models.FinishStats `json:"stats"`
}

type FinishParticipantResponse struct {
	Position int `json:"position"`
}

type ListParticipantsResponse struct {
	Participants []models.Participant `json:"participants"`
}

type SaveTestResultRequest struct {
	Result models.TestResult `json:"result"`
}

type SaveTestResultResponse struct {
	Result *models.TestResult `json:"result"`
	Stats  *models.UserStats  `json:"stats,omitempty"` // nil when the stats refresh failed
}

type ListTestResultsRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

type ListTestResultsResponse struct {
	Results []models.TestResult `json:"results"`
}

type UserStatsRequest struct {
	UserID string `json:"user_id"`
}

type UserStatsResponse struct {
	Stats *models.UserStats `json:"stats"`
}

type LeaderboardRequest struct {
	Limit int `json:"limit"`
}

type LeaderboardResponse struct {
	Entries []models.UserStats `json:"entries"`
}
