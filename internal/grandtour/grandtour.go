// Package grandtour defines the core domain types of the team cycling race.
// It has no external dependencies.
package grandtour

import "time"

type Session struct {
	ID                string
	Title             string
	CurrentStage      int
	Status            SessionStatus
	StageLocked       bool
	MultiplierActive  bool
	CurrentMultiplier float64
	ReflectionActive  bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type TeamType string

const (
	TeamRubicon TeamType = "rubicon"
	TeamSolaris TeamType = "solaris"
	TeamCorex   TeamType = "corex"
	TeamVortex  TeamType = "vortex"
)

// HomeTeam is the only human-controlled faction.
const HomeTeam = TeamRubicon

// AITeams lists the simulated factions in a stable order.
var AITeams = []TeamType{TeamSolaris, TeamCorex, TeamVortex}

func (t TeamType) IsHome() bool { return t == HomeTeam }

func (t TeamType) Valid() bool {
	switch t {
	case TeamRubicon, TeamSolaris, TeamCorex, TeamVortex:
		return true
	}
	return false
}

// DisplayName returns the name shown on scoreboards, e.g. "Team Solaris".
func (t TeamType) DisplayName() string {
	switch t {
	case TeamRubicon:
		return "Team Rubicon"
	case TeamSolaris:
		return "Team Solaris"
	case TeamCorex:
		return "Team Corex"
	case TeamVortex:
		return "Team Vortex"
	}
	return string(t)
}

type Team struct {
	ID          string
	SessionID   string
	Name        string
	Type        TeamType
	Synergy     int
	TotalPoints int
}

type Cyclist struct {
	ID      string
	TeamID  string
	Name    string
	Role    string
	Stamina int
	Points  int
}

type Choice string

const (
	Sprint Choice = "sprint"
	Cruise Choice = "cruise"
)

func (c Choice) Valid() bool { return c == Sprint || c == Cruise }

// Decision is one rider's choice for one stage. PointsEarned is filled in
// when the stage is resolved.
type Decision struct {
	ID           string
	CyclistID    string
	SessionID    string
	StageNumber  int
	Choice       Choice
	PointsEarned int
	CreatedAt    time.Time
}

type Reflection struct {
	ID                string
	CyclistID         string
	SessionID         string
	StageNumber       int
	DecisionReasoning string
	EmotionalResponse string
	CreatedAt         time.Time
}
