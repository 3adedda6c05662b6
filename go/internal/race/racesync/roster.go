package racesync

import (
	"github.com/samber/lo"

	"github.com/mcdev12/typerace/go/internal/models"
)

// ColorFor picks clientID's caret colour from its roster index. Colours shift
// when the roster changes.
func ColorFor(roster []Member, clientID string, palette []string) string {
	if len(palette) == 0 {
		return ""
	}
	_, idx, ok := lo.FindIndexOf(roster, func(m Member) bool { return m.ClientID == clientID })
	if !ok {
		return palette[0]
	}
	return palette[idx%len(palette)]
}

// RosterLeader is the first member by join order. It is cosmetic only; use
// IsHost for privileged actions.
func RosterLeader(roster []Member) (Member, bool) {
	return lo.First(roster)
}

// IsHost reports whether userID holds host authority over race.
func IsHost(race *models.Race, userID string) bool {
	return race != nil && race.HostID == userID
}

// InRoster reports whether clientID is present.
func InRoster(roster []Member, clientID string) bool {
	return lo.ContainsBy(roster, func(m Member) bool { return m.ClientID == clientID })
}

// RosterIDs returns the client ids in roster order.
func RosterIDs(roster []Member) []string {
	return lo.Map(roster, func(m Member, _ int) string { return m.ClientID })
}
