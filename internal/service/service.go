// Package service implements the trainer and player flows of a race session
// on top of the store and the stage resolver.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/metrics"
	"github.com/playperu/grandtour/internal/realtime"
	"github.com/playperu/grandtour/internal/store"
)

var (
	ErrStageLocked       = errors.New("stage is locked")
	ErrStageUnresolved   = errors.New("current stage has not been resolved")
	ErrNotCurrentStage   = errors.New("stage is not the current stage")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrDecisionExists    = errors.New("decision already submitted for this stage")
	ErrReflectionExists  = errors.New("reflection already submitted for this stage")
	ErrReflectionClosed  = errors.New("reflection is not open")
	ErrExhausted         = errors.New("cyclist has no stamina left to sprint")
	ErrUnknownCyclist    = errors.New("cyclist is not on the home team")
	ErrInvalidChoice     = errors.New("choice must be sprint or cruise")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidInput      = errors.New("invalid input")
)

// Repo is the persistence the flows need on top of what the resolver uses.
type Repo interface {
	engine.Store

	CreateSession(ctx context.Context, title string, cyclists int) (grandtour.Session, error)
	SaveSession(ctx context.Context, prev, next grandtour.Session) error
	LockStage(ctx context.Context, sessionID string, stage int) error
	Teams(ctx context.Context, sessionID string) ([]grandtour.Team, error)
	HomeCyclist(ctx context.Context, sessionID, cyclistID string) (grandtour.Cyclist, error)
	InsertDecision(ctx context.Context, d grandtour.Decision) (grandtour.Decision, bool, error)
	StageResolved(ctx context.Context, sessionID string, stage int) (bool, error)
	ResolvedStages(ctx context.Context, sessionID string) ([]int, error)
	InsertReflection(ctx context.Context, r grandtour.Reflection) (grandtour.Reflection, bool, error)
	StageReflections(ctx context.Context, sessionID string, stage int) ([]store.ReflectionEntry, error)
}

type Service struct {
	repo     Repo
	resolver *engine.Resolver
	events   realtime.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(repo Repo, resolver *engine.Resolver, events realtime.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		events:   events,
		metrics:  m,
		logger:   logger,
	}
}

func (s *Service) Session(ctx context.Context, sessionID string) (grandtour.Session, error) {
	return s.repo.Session(ctx, sessionID)
}

// Snapshot is the full visible state of a session.
type Snapshot struct {
	Session  grandtour.Session
	Teams    []grandtour.Team
	Cyclists []grandtour.Cyclist
}

func (s *Service) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	teams, err := s.repo.Teams(ctx, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading teams: %w", err)
	}
	_, cyclists, err := s.repo.HomeTeam(ctx, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading cyclists: %w", err)
	}
	return Snapshot{Session: sess, Teams: teams, Cyclists: cyclists}, nil
}

func (s *Service) Rankings(ctx context.Context, sessionID string) ([]engine.Ranking, error) {
	if _, err := s.repo.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	teams, err := s.repo.Teams(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading teams: %w", err)
	}
	return engine.Rank(teams), nil
}

// StageInfo is one schedule entry annotated with the session's progress.
type StageInfo struct {
	grandtour.Stage
	Current  bool
	Resolved bool
}

func (s *Service) Stages(ctx context.Context, sessionID string) ([]StageInfo, error) {
	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.repo.ResolvedStages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading resolved stages: %w", err)
	}
	done := make(map[int]bool, len(resolved))
	for _, n := range resolved {
		done[n] = true
	}

	stages := grandtour.Stages()
	out := make([]StageInfo, len(stages))
	for i, st := range stages {
		out[i] = StageInfo{
			Stage:    st,
			Current:  st.Number == sess.CurrentStage,
			Resolved: done[st.Number],
		}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, typ, sessionID string, stage int, data any) {
	s.events.Publish(ctx, realtime.NewEvent(typ, sessionID, stage, data))
}
