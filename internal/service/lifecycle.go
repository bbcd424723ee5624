package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/metrics"
	"github.com/playperu/grandtour/internal/realtime"
)

const defaultTitle = "Grand Tour"

// CreateSession sets up a new race with the home team, the AI teams and the
// given number of home riders. Zero means a full team.
func (s *Service) CreateSession(ctx context.Context, title string, cyclists int) (grandtour.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	if cyclists == 0 {
		cyclists = grandtour.TeamSize
	}
	if cyclists < 1 || cyclists > grandtour.TeamSize {
		return grandtour.Session{}, fmt.Errorf("%w: cyclists must be between 1 and %d", ErrInvalidInput, grandtour.TeamSize)
	}

	sess, err := s.repo.CreateSession(ctx, title, cyclists)
	if err != nil {
		return grandtour.Session{}, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Info("session created", "session_id", sess.ID, "cyclists", cyclists)
	s.publish(ctx, realtime.EventSessionCreated, sess.ID, sess.CurrentStage, nil)
	return sess, nil
}

// OpenStage unlocks the current stage for decisions. The first open starts
// the race; opening from reflection resumes it.
func (s *Service) OpenStage(ctx context.Context, sessionID string) (grandtour.Session, error) {
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.Status.Ended() {
		return sess, engine.ErrSessionEnded
	}
	if sess.Status != grandtour.StatusActive && !sess.Status.CanTransition(grandtour.StatusActive) {
		return sess, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sess.Status, grandtour.StatusActive)
	}

	resolved, err := s.repo.StageResolved(ctx, sessionID, sess.CurrentStage)
	if err != nil {
		return sess, fmt.Errorf("checking stage: %w", err)
	}
	if resolved {
		return sess, engine.ErrStageResolved
	}

	prev := sess
	sess.Status = grandtour.StatusActive
	sess.ReflectionActive = false
	sess.StageLocked = false
	cacheMultiplier(&sess)
	if err := s.repo.SaveSession(ctx, prev, sess); err != nil {
		return sess, fmt.Errorf("saving session: %w", err)
	}

	s.logger.Info("stage opened", "session_id", sessionID, "stage", sess.CurrentStage,
		"multiplier", sess.CurrentMultiplier)
	s.publish(ctx, realtime.EventStageOpened, sessionID, sess.CurrentStage, map[string]any{
		"multiplierActive":  sess.MultiplierActive,
		"currentMultiplier": sess.CurrentMultiplier,
	})
	return sess, nil
}

// EndStage locks the current stage and resolves it.
func (s *Service) EndStage(ctx context.Context, sessionID string) (*engine.Result, error) {
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Ended() {
		return nil, engine.ErrSessionEnded
	}

	// A targeted lock; writing the whole row back could undo a concurrent
	// resolution that ended the session.
	if err := s.repo.LockStage(ctx, sessionID, sess.CurrentStage); err != nil {
		return nil, fmt.Errorf("locking stage: %w", err)
	}

	start := time.Now()
	res, err := s.resolver.ResolveStage(ctx, sessionID, sess.CurrentStage)
	s.metrics.ObserveResolution(outcome(res, err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failures {
		s.metrics.RecordPersistenceFailure(f.Entity)
	}

	s.publish(ctx, realtime.EventStageResolved, sessionID, res.Stage, res)
	return res, nil
}

func outcome(res *engine.Result, err error) string {
	switch {
	case errors.Is(err, engine.ErrStageResolved):
		return metrics.OutcomeRejected
	case err != nil:
		return metrics.OutcomeError
	case !res.Processed:
		return metrics.OutcomeEmpty
	case !res.Success:
		return metrics.OutcomePartial
	}
	return metrics.OutcomeResolved
}

// AdvanceStage moves the session to the next stage once the current one has
// been resolved. The stage number never exceeds the schedule.
func (s *Service) AdvanceStage(ctx context.Context, sessionID string) (grandtour.Session, error) {
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.Status.Ended() {
		return sess, engine.ErrSessionEnded
	}

	resolved, err := s.repo.StageResolved(ctx, sessionID, sess.CurrentStage)
	if err != nil {
		return sess, fmt.Errorf("checking stage: %w", err)
	}
	if !resolved {
		return sess, ErrStageUnresolved
	}

	prev := sess
	sess.CurrentStage = min(grandtour.TotalStages, sess.CurrentStage+1)
	sess.StageLocked = false
	cacheMultiplier(&sess)
	if err := s.repo.SaveSession(ctx, prev, sess); err != nil {
		return sess, fmt.Errorf("saving session: %w", err)
	}

	s.logger.Info("stage advanced", "session_id", sessionID, "stage", sess.CurrentStage)
	s.publish(ctx, realtime.EventStageAdvanced, sessionID, sess.CurrentStage, nil)
	return sess, nil
}

// ReopenStage drops the resolution marker of the current stage so it can be
// resolved again. Points already applied stay applied.
func (s *Service) ReopenStage(ctx context.Context, sessionID string, stage int) (grandtour.Session, error) {
	if !grandtour.ValidStage(stage) {
		return grandtour.Session{}, fmt.Errorf("%w: %d", engine.ErrInvalidStage, stage)
	}
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.Status.Ended() {
		return sess, engine.ErrSessionEnded
	}
	if stage != sess.CurrentStage {
		return sess, ErrNotCurrentStage
	}

	if err := s.repo.ReleaseStage(ctx, sessionID, stage); err != nil {
		return sess, fmt.Errorf("releasing stage: %w", err)
	}
	prev := sess
	sess.StageLocked = false
	if err := s.repo.SaveSession(ctx, prev, sess); err != nil {
		return sess, fmt.Errorf("saving session: %w", err)
	}

	s.logger.Warn("stage reopened", "session_id", sessionID, "stage", stage)
	s.publish(ctx, realtime.EventStageReopened, sessionID, stage, nil)
	return sess, nil
}

// StartReflection moves an active session into the debrief.
func (s *Service) StartReflection(ctx context.Context, sessionID string) (grandtour.Session, error) {
	return s.transition(ctx, sessionID, grandtour.StatusActive, grandtour.StatusReflection, realtime.EventReflectionStarted)
}

// EndReflection closes the debrief and ends the session.
func (s *Service) EndReflection(ctx context.Context, sessionID string) (grandtour.Session, error) {
	return s.transition(ctx, sessionID, grandtour.StatusReflection, grandtour.StatusEnded, realtime.EventReflectionEnded)
}

func (s *Service) transition(ctx context.Context, sessionID string, from, to grandtour.SessionStatus, event string) (grandtour.Session, error) {
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.Status != from || !from.CanTransition(to) {
		return sess, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sess.Status, to)
	}

	prev := sess
	sess.Status = to
	sess.ReflectionActive = to == grandtour.StatusReflection
	if sess.ReflectionActive {
		sess.StageLocked = true
	}
	if err := s.repo.SaveSession(ctx, prev, sess); err != nil {
		return sess, fmt.Errorf("saving session: %w", err)
	}

	s.logger.Info("session status changed", "session_id", sessionID, "from", from, "to", to)
	s.publish(ctx, event, sessionID, sess.CurrentStage, nil)
	return sess, nil
}

func cacheMultiplier(sess *grandtour.Session) {
	sess.MultiplierActive = grandtour.IsNegotiationStage(sess.CurrentStage)
	sess.CurrentMultiplier = grandtour.StageMultiplier(sess.CurrentStage)
}
