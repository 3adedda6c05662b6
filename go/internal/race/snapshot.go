package race

import (
	"maps"
	"slices"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/typingtest"
)

// Progress is a peer's last announced position in the shared text.
type Progress struct {
	Caret int `json:"caret"`
	WPM   int `json:"wpm"`
}

// Snapshot is what an observer renders. It is a copy; mutating it does not
// affect the session.
type Snapshot struct {
	Room      string              `json:"room"`
	Phase     models.RaceStatus   `json:"phase"`
	Ended     bool                `json:"ended"` // the race is over for everyone, not only this client
	IsHost    bool                `json:"is_host"`
	Countdown int                 `json:"countdown"`
	TimeLeft  int                 `json:"time_left"`
	Caret     int                 `json:"caret"`
	LiveWPM   int                 `json:"live_wpm"`
	Roster    []racesync.Member   `json:"roster"`
	Colors    map[string]string   `json:"colors"`
	Peers     map[string]Progress `json:"peers"`
	Results   []racesync.Result   `json:"results"`
	Result    *typingtest.Result  `json:"result,omitempty"`
	Position  int                 `json:"position,omitempty"`
	Votes     int                 `json:"votes"`
	VoteTotal int                 `json:"vote_total"`
	Voted     bool                `json:"voted"`
	Redirect  string              `json:"redirect,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	s.Roster = slices.Clone(s.Roster)
	s.Colors = maps.Clone(s.Colors)
	s.Peers = maps.Clone(s.Peers)
	s.Results = slices.Clone(s.Results)
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}
