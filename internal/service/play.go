package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/realtime"
	"github.com/playperu/grandtour/internal/store"
)

// StageDecisions is the decision ledger of one stage and whether every home
// rider has decided.
type StageDecisions struct {
	Stage     int
	Decisions []grandtour.Decision
	Expected  int
	Complete  bool
	Resolved  bool
}

// SubmitDecision records a home rider's choice for the current stage. Each
// rider decides once per stage.
func (s *Service) SubmitDecision(ctx context.Context, sessionID, cyclistID string, stage int, choice grandtour.Choice) (grandtour.Decision, error) {
	if !choice.Valid() {
		return grandtour.Decision{}, ErrInvalidChoice
	}

	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return grandtour.Decision{}, err
	}
	switch {
	case sess.Status.Ended():
		return grandtour.Decision{}, engine.ErrSessionEnded
	case sess.Status != grandtour.StatusActive:
		return grandtour.Decision{}, ErrSessionNotActive
	case stage != sess.CurrentStage:
		return grandtour.Decision{}, ErrNotCurrentStage
	case sess.StageLocked:
		return grandtour.Decision{}, ErrStageLocked
	}

	cyclist, err := s.repo.HomeCyclist(ctx, sessionID, cyclistID)
	if errors.Is(err, store.ErrNotFound) {
		return grandtour.Decision{}, ErrUnknownCyclist
	}
	if err != nil {
		return grandtour.Decision{}, fmt.Errorf("loading cyclist: %w", err)
	}
	if choice == grandtour.Sprint && cyclist.Stamina <= grandtour.MinStamina {
		return grandtour.Decision{}, ErrExhausted
	}

	d, created, err := s.repo.InsertDecision(ctx, grandtour.Decision{
		CyclistID:   cyclistID,
		SessionID:   sessionID,
		StageNumber: stage,
		Choice:      choice,
	})
	if err != nil {
		return grandtour.Decision{}, fmt.Errorf("recording decision: %w", err)
	}
	if !created {
		return d, ErrDecisionExists
	}
	s.metrics.RecordDecision(string(choice))

	status, err := s.StageDecisions(ctx, sessionID, stage)
	if err != nil {
		s.logger.Warn("counting decisions failed", "session_id", sessionID, "stage", stage, "error", err)
	}
	s.logger.Info("decision recorded", "session_id", sessionID, "stage", stage, "cyclist_id", cyclistID,
		"decided", len(status.Decisions), "expected", status.Expected)

	// The choice itself stays hidden until the stage is resolved.
	s.publish(ctx, realtime.EventDecisionSubmitted, sessionID, stage, map[string]any{
		"cyclistId": cyclistID,
		"decided":   len(status.Decisions),
		"expected":  status.Expected,
		"complete":  status.Complete,
	})
	return d, nil
}

func (s *Service) StageDecisions(ctx context.Context, sessionID string, stage int) (StageDecisions, error) {
	if !grandtour.ValidStage(stage) {
		return StageDecisions{}, fmt.Errorf("%w: %d", engine.ErrInvalidStage, stage)
	}
	if _, err := s.repo.Session(ctx, sessionID); err != nil {
		return StageDecisions{}, err
	}

	decisions, err := s.repo.StageDecisions(ctx, sessionID, stage)
	if err != nil {
		return StageDecisions{}, fmt.Errorf("loading decisions: %w", err)
	}
	_, cyclists, err := s.repo.HomeTeam(ctx, sessionID)
	if err != nil {
		return StageDecisions{}, fmt.Errorf("loading cyclists: %w", err)
	}
	resolved, err := s.repo.StageResolved(ctx, sessionID, stage)
	if err != nil {
		return StageDecisions{}, fmt.Errorf("checking stage: %w", err)
	}

	return StageDecisions{
		Stage:     stage,
		Decisions: decisions,
		Expected:  len(cyclists),
		Complete:  engine.StageComplete(decisions, len(cyclists)),
		Resolved:  resolved,
	}, nil
}

// SubmitReflection stores a home rider's debrief for a stage already raced.
func (s *Service) SubmitReflection(ctx context.Context, r grandtour.Reflection) (grandtour.Reflection, error) {
	r.DecisionReasoning = strings.TrimSpace(r.DecisionReasoning)
	r.EmotionalResponse = strings.TrimSpace(r.EmotionalResponse)
	if r.DecisionReasoning == "" && r.EmotionalResponse == "" {
		return r, fmt.Errorf("%w: reflection is empty", ErrInvalidInput)
	}
	if !grandtour.ValidStage(r.StageNumber) {
		return r, fmt.Errorf("%w: %d", engine.ErrInvalidStage, r.StageNumber)
	}

	sess, err := s.repo.Session(ctx, r.SessionID)
	if err != nil {
		return r, err
	}
	if !sess.ReflectionActive && sess.Status != grandtour.StatusReflection {
		return r, ErrReflectionClosed
	}
	if r.StageNumber > sess.CurrentStage {
		return r, ErrNotCurrentStage
	}

	if _, err := s.repo.HomeCyclist(ctx, r.SessionID, r.CyclistID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r, ErrUnknownCyclist
		}
		return r, fmt.Errorf("loading cyclist: %w", err)
	}

	stored, created, err := s.repo.InsertReflection(ctx, r)
	if err != nil {
		return r, fmt.Errorf("recording reflection: %w", err)
	}
	if !created {
		return stored, ErrReflectionExists
	}

	s.publish(ctx, realtime.EventReflectionSubmitted, r.SessionID, r.StageNumber, map[string]string{
		"cyclistId": r.CyclistID,
	})
	return stored, nil
}

func (s *Service) StageReflections(ctx context.Context, sessionID string, stage int) ([]store.ReflectionEntry, error) {
	if !grandtour.ValidStage(stage) {
		return nil, fmt.Errorf("%w: %d", engine.ErrInvalidStage, stage)
	}
	if _, err := s.repo.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.StageReflections(ctx, sessionID, stage)
}
