package grandtour

// Race schedule and scoring constants. These are compiled in, not runtime
// configuration.
const (
	TotalStages = 10
	TeamSize    = 4

	MinStamina     = 0
	MaxStamina     = 5
	InitialStamina = 5

	MinSynergy     = 0
	MaxSynergy     = 100
	InitialSynergy = 100

	// Cruising restores stamina only when the team's synergy, read before the
	// stage is applied, is at least this value.
	StaminaRecoveryThreshold = 50
)

// stageMultipliers holds the base multiplier of each negotiation stage.
var stageMultipliers = map[int]float64{
	4:  3.0,
	7:  5.0,
	10: 10.0,
}

// Alignment describes how concentrated a team's choices were in one stage.
type Alignment string

const (
	AlignmentPerfect Alignment = "perfect"
	AlignmentGood    Alignment = "good"
	AlignmentPoor    Alignment = "poor"
)

// Multiplier returns the bonus applied to a team's points on negotiation stages.
func (a Alignment) Multiplier() float64 {
	switch a {
	case AlignmentPerfect:
		return 2.0
	case AlignmentGood:
		return 1.5
	}
	return 1.0
}

// CruiseRates maps each AI faction to the probability that one of its riders
// cruises in a given stage.
var CruiseRates = map[TeamType]float64{
	TeamSolaris: 0.70,
	TeamCorex:   0.40,
	TeamVortex:  0.15,
}

// CyclistRoster is the fixed home-team line-up, in seating order.
var CyclistRoster = []struct {
	Name string
	Role string
}{
	{"Luca Moretti", "luca"},
	{"Jonas Dahl", "jonas"},
	{"Mateo Silva", "mateo"},
	{"Kenji Nakamura", "kenji"},
}

var stageNames = [TotalStages]string{
	"The Dawn Sprint",
	"Valley Crossroads",
	"Cobblestone Challenge",
	"Mountain Pass",
	"Desert Winds",
	"River Crossing",
	"Forest Trail",
	"Hill Climb",
	"Final Valley",
	"Grand Finale",
}

// Stage is one entry of the race schedule.
type Stage struct {
	Number      int
	Name        string
	Negotiation bool
	Multiplier  float64
}

// ValidStage reports whether n is a stage of the schedule.
func ValidStage(n int) bool { return n >= 1 && n <= TotalStages }

// IsNegotiationStage reports whether stage n carries a score multiplier.
func IsNegotiationStage(n int) bool {
	_, ok := stageMultipliers[n]
	return ok
}

// StageMultiplier returns the base multiplier for stage n, 1 outside
// negotiation stages.
func StageMultiplier(n int) float64 {
	if m, ok := stageMultipliers[n]; ok {
		return m
	}
	return 1.0
}

// IsFinalStage reports whether resolving stage n ends the race.
func IsFinalStage(n int) bool { return n == TotalStages }

// Stages returns the full schedule in order.
func Stages() []Stage {
	out := make([]Stage, 0, TotalStages)
	for i, name := range stageNames {
		n := i + 1
		out = append(out, Stage{
			Number:      n,
			Name:        name,
			Negotiation: IsNegotiationStage(n),
			Multiplier:  StageMultiplier(n),
		})
	}
	return out
}

// ClampStamina bounds v to [MinStamina, MaxStamina].
func ClampStamina(v int) int { return clamp(v, MinStamina, MaxStamina) }

// ClampSynergy bounds v to [MinSynergy, MaxSynergy].
func ClampSynergy(v int) int { return clamp(v, MinSynergy, MaxSynergy) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
