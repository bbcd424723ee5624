package engine

import (
	"cmp"
	"slices"

	"github.com/playperu/grandtour/internal/grandtour"
)

// Ranking places a team in the standings, 1-based.
type Ranking struct {
	Rank int            `json:"rank"`
	Team grandtour.Team `json:"team"`
}

// Rank orders teams by total points, then by synergy, both descending.
// Ties keep their input order.
func Rank(teams []grandtour.Team) []Ranking {
	sorted := slices.Clone(teams)
	slices.SortStableFunc(sorted, func(a, b grandtour.Team) int {
		if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
			return c
		}
		return cmp.Compare(b.Synergy, a.Synergy)
	})

	out := make([]Ranking, len(sorted))
	for i, t := range sorted {
		out[i] = Ranking{Rank: i + 1, Team: t}
	}
	return out
}

// StageComplete reports whether every expected rider has a decision.
func StageComplete(decisions []grandtour.Decision, expected int) bool {
	seen := make(map[string]struct{}, len(decisions))
	for _, d := range decisions {
		seen[d.CyclistID] = struct{}{}
	}
	return expected > 0 && len(seen) >= expected
}
