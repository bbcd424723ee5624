package engine

import (
	"math"

	"github.com/playperu/grandtour/internal/grandtour"
)

// Multiplier is the score multiplier applied to one team in one stage.
type Multiplier struct {
	Stage     float64             `json:"stage"`
	Alignment float64             `json:"alignment"`
	Level     grandtour.Alignment `json:"level,omitempty"`
}

// Total is the stage multiplier scaled by the alignment bonus.
func (m Multiplier) Total() float64 { return m.Stage * m.Alignment }

// AlignmentOf grades how concentrated a tally is: unanimous is perfect, a
// majority of at least three is good, anything else is poor.
func AlignmentOf(t Tally) grandtour.Alignment {
	switch {
	case t.Total() > 0 && t.Majority() == t.Total():
		return grandtour.AlignmentPerfect
	case t.Majority() >= 3:
		return grandtour.AlignmentGood
	}
	return grandtour.AlignmentPoor
}

// MultiplierFor returns the multiplier for a team with tally t in stage n.
// Outside negotiation stages both factors are 1.
func MultiplierFor(stage int, t Tally) Multiplier {
	if !grandtour.IsNegotiationStage(stage) {
		return Multiplier{Stage: 1, Alignment: 1}
	}
	level := AlignmentOf(t)
	return Multiplier{
		Stage:     grandtour.StageMultiplier(stage),
		Alignment: level.Multiplier(),
		Level:     level,
	}
}

// ApplyMultiplier scales base points, truncating toward zero: -4.5 becomes -4.
func ApplyMultiplier(base int, total float64) int {
	return int(math.Trunc(float64(base) * total))
}
