package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playperu/grandtour/internal/grandtour"
)

var (
	ErrStageResolved = errors.New("stage already resolved")
	ErrSessionEnded  = errors.New("session has ended")
	ErrInvalidStage  = errors.New("invalid stage number")
	ErrStageOpen     = errors.New("stage is still open for decisions")
)

// Store is the persistence boundary the resolver reads from and writes to.
type Store interface {
	Session(ctx context.Context, sessionID string) (grandtour.Session, error)

	// ClaimStage atomically marks a stage as resolved. It reports false when
	// the stage was already claimed.
	ClaimStage(ctx context.Context, sessionID string, stage int) (bool, error)
	ReleaseStage(ctx context.Context, sessionID string, stage int) error

	StageDecisions(ctx context.Context, sessionID string, stage int) ([]grandtour.Decision, error)
	HomeTeam(ctx context.Context, sessionID string) (grandtour.Team, []grandtour.Cyclist, error)
	AITeams(ctx context.Context, sessionID string) ([]grandtour.Team, error)

	UpdateCyclist(ctx context.Context, cyclistID string, points, stamina int) error
	SetDecisionPoints(ctx context.Context, cyclistID, sessionID string, stage, points int) error
	UpdateTeam(ctx context.Context, teamID string, points, synergy int) error
	SetSessionStatus(ctx context.Context, sessionID string, status grandtour.SessionStatus) error
}

// CyclistResult is the stage outcome of one home rider.
type CyclistResult struct {
	CyclistID     string           `json:"cyclistId"`
	Choice        grandtour.Choice `json:"choice"`
	BasePoints    int              `json:"basePoints"`
	Points        int              `json:"points"`
	TotalPoints   int              `json:"totalPoints"`
	StaminaBefore int              `json:"staminaBefore"`
	StaminaAfter  int              `json:"staminaAfter"`
}

// StaminaDelta is the stamina change the stage caused.
func (c CyclistResult) StaminaDelta() int { return c.StaminaAfter - c.StaminaBefore }

// Failure records one write that did not persist.
type Failure struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

// Result is everything one stage resolution produced for the home team and
// the AI teams.
type Result struct {
	SessionID       string           `json:"sessionId"`
	Stage           int              `json:"stage"`
	Success         bool             `json:"success"`
	Processed       bool             `json:"processed"`
	Message         string           `json:"message"`
	Tally           Tally            `json:"tally"`
	Multiplier      Multiplier       `json:"multiplier"`
	TotalMultiplier float64          `json:"totalMultiplier"`
	SynergyBefore   int              `json:"synergyBefore"`
	SynergyAfter    int              `json:"synergyAfter"`
	SynergyDelta    int              `json:"synergyDelta"`
	TeamPoints      int              `json:"teamPoints"`
	Cyclists        []CyclistResult  `json:"cyclists"`
	Opponents       []OpponentResult `json:"opponents"`
	GameEnded       bool             `json:"gameEnded"`
	Failures        []Failure        `json:"failures,omitempty"`
}

// Resolver applies stage outcomes to the entity store.
type Resolver struct {
	store  Store
	sim    *Simulator
	logger *slog.Logger
}

// NewResolver returns a Resolver that simulates opponents with sim.
func NewResolver(store Store, sim *Simulator, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, sim: sim, logger: logger}
}

// ResolveStage scores one closed stage of a session. The session's stage must
// be locked first, otherwise ErrStageOpen is returned; which stage to resolve
// is the caller's choice. It runs at most once per (session, stage): a second
// call returns ErrStageResolved. Failed writes are
// logged and reported in the result instead of aborting; failed reads return
// an error and leave the stage unclaimed so the caller can retry.
func (r *Resolver) ResolveStage(ctx context.Context, sessionID string, stage int) (*Result, error) {
	if !grandtour.ValidStage(stage) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, stage)
	}

	sess, err := r.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.Status.Ended() {
		return nil, ErrSessionEnded
	}
	if !sess.StageLocked {
		return nil, ErrStageOpen
	}

	claimed, err := r.store.ClaimStage(ctx, sessionID, stage)
	if err != nil {
		return nil, fmt.Errorf("claiming stage: %w", err)
	}
	if !claimed {
		return nil, ErrStageResolved
	}

	log := r.logger.With("session_id", sessionID, "stage", stage)

	decisions, err := r.store.StageDecisions(ctx, sessionID, stage)
	if err != nil {
		r.release(ctx, log, sessionID, stage)
		return nil, fmt.Errorf("loading decisions: %w", err)
	}
	if len(decisions) == 0 {
		r.release(ctx, log, sessionID, stage)
		log.Info("no decisions to process")
		return &Result{
			SessionID: sessionID,
			Stage:     stage,
			Success:   true,
			Message:   "no decisions to process",
		}, nil
	}

	team, cyclists, err := r.store.HomeTeam(ctx, sessionID)
	if err != nil {
		r.release(ctx, log, sessionID, stage)
		return nil, fmt.Errorf("loading home team: %w", err)
	}

	res := &Result{
		SessionID:     sessionID,
		Stage:         stage,
		Processed:     true,
		SynergyBefore: team.Synergy,
		Cyclists:      make([]CyclistResult, 0, len(decisions)),
	}

	r.resolveHomeTeam(ctx, log, res, team, cyclists, decisions)
	r.resolveOpponents(ctx, log, res)

	if grandtour.IsFinalStage(stage) {
		res.GameEnded = true
		if err := r.store.SetSessionStatus(ctx, sessionID, grandtour.StatusEnded); err != nil {
			r.fail(log, res, "session", sessionID, err)
		}
	}

	res.Success = len(res.Failures) == 0
	res.Message = summary(res)
	log.Info("stage resolved",
		"sprints", res.Tally.Sprints,
		"cruises", res.Tally.Cruises,
		"multiplier", res.TotalMultiplier,
		"synergy_before", res.SynergyBefore,
		"synergy_after", res.SynergyAfter,
		"team_points", res.TeamPoints,
		"game_ended", res.GameEnded,
		"failures", len(res.Failures),
	)
	return res, nil
}

func (r *Resolver) resolveHomeTeam(ctx context.Context, log *slog.Logger, res *Result, team grandtour.Team, cyclists []grandtour.Cyclist, decisions []grandtour.Decision) {
	byID := make(map[string]grandtour.Cyclist, len(cyclists))
	for _, c := range cyclists {
		byID[c.ID] = c
	}

	tally := TallyOf(decisions)
	outcome := Score(tally)
	mult := MultiplierFor(res.Stage, tally)
	total := mult.Total()

	res.Tally = tally
	res.Multiplier = mult
	res.TotalMultiplier = total
	res.SynergyDelta = outcome.SynergyDelta

	for _, d := range decisions {
		c, ok := byID[d.CyclistID]
		if !ok {
			log.Warn("decision for cyclist outside home team", "cyclist_id", d.CyclistID)
			continue
		}

		base := outcome.Points(d.Choice)
		cr := CyclistResult{
			CyclistID:     c.ID,
			Choice:        d.Choice,
			BasePoints:    base,
			Points:        ApplyMultiplier(base, total),
			StaminaBefore: c.Stamina,
			StaminaAfter:  NextStamina(c.Stamina, d.Choice, team.Synergy),
		}
		cr.TotalPoints = c.Points + cr.Points

		log.Debug("cyclist scored",
			"cyclist_id", c.ID,
			"choice", d.Choice,
			"base_points", cr.BasePoints,
			"points", cr.Points,
			"stamina_before", cr.StaminaBefore,
			"stamina_after", cr.StaminaAfter,
		)

		if err := r.store.UpdateCyclist(ctx, c.ID, cr.TotalPoints, cr.StaminaAfter); err != nil {
			r.fail(log, res, "cyclist", c.ID, err)
		}
		if err := r.store.SetDecisionPoints(ctx, c.ID, res.SessionID, res.Stage, cr.Points); err != nil {
			r.fail(log, res, "decision", c.ID, err)
		}

		res.TeamPoints += cr.Points
		res.Cyclists = append(res.Cyclists, cr)
	}

	res.SynergyAfter = NextSynergy(team.Synergy, outcome.SynergyDelta)
	if err := r.store.UpdateTeam(ctx, team.ID, team.TotalPoints+res.TeamPoints, res.SynergyAfter); err != nil {
		r.fail(log, res, "team", team.ID, err)
	}
}

func (r *Resolver) resolveOpponents(ctx context.Context, log *slog.Logger, res *Result) {
	teams, err := r.store.AITeams(ctx, res.SessionID)
	if err != nil {
		r.fail(log, res, "ai_teams", res.SessionID, err)
		return
	}

	res.Opponents = make([]OpponentResult, 0, len(teams))
	for _, team := range teams {
		opp := r.sim.Race(team, res.Stage)
		log.Debug("ai team simulated",
			"team_id", team.ID,
			"team_type", team.Type,
			"sprints", opp.Tally.Sprints,
			"cruises", opp.Tally.Cruises,
			"points", opp.Points,
			"synergy_after", opp.SynergyAfter,
		)
		if err := r.store.UpdateTeam(ctx, team.ID, opp.TotalPoints, opp.SynergyAfter); err != nil {
			r.fail(log, res, "team", team.ID, err)
		}
		res.Opponents = append(res.Opponents, opp)
	}
}

func (r *Resolver) fail(log *slog.Logger, res *Result, entity, id string, err error) {
	log.Error("persisting stage result failed", "entity", entity, "id", id, "error", err)
	res.Failures = append(res.Failures, Failure{Entity: entity, ID: id, Error: err.Error()})
}

func (r *Resolver) release(ctx context.Context, log *slog.Logger, sessionID string, stage int) {
	if err := r.store.ReleaseStage(ctx, sessionID, stage); err != nil {
		log.Error("releasing stage claim failed", "error", err)
	}
}

func summary(res *Result) string {
	if !res.Success {
		return fmt.Sprintf("stage %d completed with calculation errors", res.Stage)
	}
	msg := fmt.Sprintf("stage %d completed: %d sprinted, %d cruised", res.Stage, res.Tally.Sprints, res.Tally.Cruises)
	if res.Multiplier.Level != "" {
		msg += fmt.Sprintf(" (%gx stage x %gx %s alignment = %gx)",
			res.Multiplier.Stage, res.Multiplier.Alignment, res.Multiplier.Level, res.TotalMultiplier)
	}
	msg += fmt.Sprintf(", synergy %d -> %d", res.SynergyBefore, res.SynergyAfter)
	if res.GameEnded {
		msg += ", race complete"
	}
	return msg
}
