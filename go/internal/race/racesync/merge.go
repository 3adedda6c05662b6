package racesync

import (
	"sort"

	"github.com/samber/lo"
)

// Result is one row of the finished-race results view.
type Result struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	WPM      int    `json:"wpm"`
	Accuracy int    `json:"accuracy"`
	Position int    `json:"position,omitempty"`
	Own      bool   `json:"own,omitempty"`
}

// MergeResults reconciles peer announcements with the local result: one row
// per client, the local result winning over any echo of itself, ordered by WPM
// descending. Equal WPM keeps arrival order.
func MergeResults(peers []Result, own *Result) []Result {
	all := make([]Result, 0, len(peers)+1)
	if own != nil {
		mine := *own
		mine.Own = true
		all = append(all, mine)
	}
	all = append(all, peers...)

	merged := lo.UniqBy(all, func(r Result) string { return r.ClientID })
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].WPM > merged[j].WPM
	})
	return merged
}

// AppendResult adds r unless a row for the same client already exists.
func AppendResult(results []Result, r Result) ([]Result, bool) {
	if lo.ContainsBy(results, func(x Result) bool { return x.ClientID == r.ClientID }) {
		return results, false
	}
	return append(results, r), true
}
