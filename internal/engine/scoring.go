package engine

import "github.com/playperu/grandtour/internal/grandtour"

// Tally counts one team's choices in one stage.
type Tally struct {
	Sprints int `json:"sprints"`
	Cruises int `json:"cruises"`
}

// Total is the number of riders counted.
func (t Tally) Total() int { return t.Sprints + t.Cruises }

// Majority returns the size of the larger group.
func (t Tally) Majority() int { return max(t.Sprints, t.Cruises) }

// TallyOf counts the choices in decisions. Unknown choices are ignored.
func TallyOf(decisions []grandtour.Decision) Tally {
	var t Tally
	for _, d := range decisions {
		switch d.Choice {
		case grandtour.Sprint:
			t.Sprints++
		case grandtour.Cruise:
			t.Cruises++
		}
	}
	return t
}

// Outcome is the base, pre-multiplier result of a tally: points for each
// rider by choice, and a single synergy delta for the team.
type Outcome struct {
	SprintPoints int `json:"sprintPoints"`
	CruisePoints int `json:"cruisePoints"`
	SynergyDelta int `json:"synergyDelta"`
}

// Points returns the base points for a rider who made choice c.
func (o Outcome) Points(c grandtour.Choice) int {
	switch c {
	case grandtour.Sprint:
		return o.SprintPoints
	case grandtour.Cruise:
		return o.CruisePoints
	}
	return 0
}

// scoreMatrix is the full-team table, indexed by sprint count.
var scoreMatrix = [grandtour.TeamSize + 1]Outcome{
	{SprintPoints: 0, CruisePoints: 1, SynergyDelta: 20},
	{SprintPoints: 3, CruisePoints: -1, SynergyDelta: 10},
	{SprintPoints: 2, CruisePoints: -2, SynergyDelta: 0},
	{SprintPoints: 1, CruisePoints: -3, SynergyDelta: -10},
	{SprintPoints: -1, CruisePoints: 0, SynergyDelta: -20},
}

// Score maps a tally to base points and the synergy delta. Full teams use
// the score matrix; smaller teams use the rule the matrix is built from.
func Score(t Tally) Outcome {
	if t.Total() == grandtour.TeamSize {
		return scoreMatrix[t.Sprints]
	}
	return derivedScore(t)
}

// derivedScore gives every sprinter one point per cruising teammate and
// takes one point from every cruiser per sprinting teammate. A unanimous
// team earns +1 each for cruising and -1 each for sprinting.
func derivedScore(t Tally) Outcome {
	if t.Total() == 0 {
		return Outcome{}
	}
	o := Outcome{SynergyDelta: 5 * (t.Cruises - t.Sprints)}
	switch {
	case t.Sprints == 0:
		o.CruisePoints = 1
	case t.Cruises == 0:
		o.SprintPoints = -1
	default:
		o.SprintPoints = t.Cruises
		o.CruisePoints = -t.Sprints
	}
	return o
}
