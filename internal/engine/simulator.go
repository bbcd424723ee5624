package engine

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/playperu/grandtour/internal/grandtour"
)

// RandomSource yields uniform floats in [0, 1).
type RandomSource interface {
	Float64() float64
}

// Simulator plays the AI factions. Each team draws its own riders' choices
// from its cruise rate and is scored with its own tally.
type Simulator struct {
	mu  sync.Mutex
	src RandomSource
}

// NewSimulator returns a simulator seeded with seed, or with the clock when
// seed is zero.
func NewSimulator(seed uint64) *Simulator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return NewSimulatorWithSource(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func NewSimulatorWithSource(src RandomSource) *Simulator {
	return &Simulator{src: src}
}

// Draw runs one Bernoulli trial per rider with the given cruise probability.
func (s *Simulator) Draw(cruiseRate float64, riders int) Tally {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Tally
	for range riders {
		if s.src.Float64() < cruiseRate {
			t.Cruises++
		} else {
			t.Sprints++
		}
	}
	return t
}

// OpponentResult is the stage outcome of one AI team.
type OpponentResult struct {
	TeamID        string             `json:"teamId"`
	TeamType      grandtour.TeamType `json:"teamType"`
	Tally         Tally              `json:"tally"`
	Multiplier    Multiplier         `json:"multiplier"`
	Points        int                `json:"points"`
	SynergyBefore int                `json:"synergyBefore"`
	SynergyAfter  int                `json:"synergyAfter"`
	TotalPoints   int                `json:"totalPoints"`
}

// Race simulates one stage for an AI team and returns its new aggregates.
// The team is not modified.
func (s *Simulator) Race(team grandtour.Team, stage int) OpponentResult {
	rate, ok := grandtour.CruiseRates[team.Type]
	if !ok {
		rate = 0.5
	}
	tally := s.Draw(rate, grandtour.TeamSize)
	return scoreOpponent(team, stage, tally)
}

func scoreOpponent(team grandtour.Team, stage int, tally Tally) OpponentResult {
	outcome := Score(tally)
	mult := MultiplierFor(stage, tally)
	total := mult.Total()

	points := tally.Sprints*ApplyMultiplier(outcome.SprintPoints, total) +
		tally.Cruises*ApplyMultiplier(outcome.CruisePoints, total)

	return OpponentResult{
		TeamID:        team.ID,
		TeamType:      team.Type,
		Tally:         tally,
		Multiplier:    mult,
		Points:        points,
		SynergyBefore: team.Synergy,
		SynergyAfter:  NextSynergy(team.Synergy, outcome.SynergyDelta),
		TotalPoints:   team.TotalPoints + points,
	}
}
