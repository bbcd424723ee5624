package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/playperu/grandtour/internal/grandtour"
)

type decisionKey struct {
	cyclistID string
	stage     int
}

type fakeStore struct {
	mu sync.Mutex

	session   grandtour.Session
	home      grandtour.Team
	cyclists  []grandtour.Cyclist
	ai        []grandtour.Team
	decisions map[int][]grandtour.Decision
	claimed   map[int]bool
	points    map[decisionKey]int

	decisionsErr error
	teamErrs     map[string]error
	cyclistErrs  map[string]error
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		session:     grandtour.Session{ID: "s1", Status: grandtour.StatusActive, CurrentStage: 1, StageLocked: true},
		home:        grandtour.Team{ID: "home", SessionID: "s1", Type: grandtour.TeamRubicon, Synergy: 100},
		decisions:   make(map[int][]grandtour.Decision),
		claimed:     make(map[int]bool),
		points:      make(map[decisionKey]int),
		teamErrs:    make(map[string]error),
		cyclistErrs: make(map[string]error),
	}
	for i, r := range grandtour.CyclistRoster {
		s.cyclists = append(s.cyclists, grandtour.Cyclist{
			ID:      []string{"c1", "c2", "c3", "c4"}[i],
			TeamID:  "home",
			Name:    r.Name,
			Role:    r.Role,
			Stamina: grandtour.InitialStamina,
		})
	}
	for _, tt := range grandtour.AITeams {
		s.ai = append(s.ai, grandtour.Team{ID: string(tt), SessionID: "s1", Type: tt, Synergy: 100})
	}
	return s
}

func (s *fakeStore) decide(stage int, choices ...grandtour.Choice) {
	for i, c := range choices {
		s.decisions[stage] = append(s.decisions[stage], grandtour.Decision{
			CyclistID:   s.cyclists[i].ID,
			SessionID:   "s1",
			StageNumber: stage,
			Choice:      c,
		})
	}
}

func (s *fakeStore) cyclist(id string) grandtour.Cyclist {
	for _, c := range s.cyclists {
		if c.ID == id {
			return c
		}
	}
	return grandtour.Cyclist{}
}

func (s *fakeStore) Session(_ context.Context, id string) (grandtour.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.session.ID {
		return grandtour.Session{}, errors.New("not found")
	}
	return s.session, nil
}

func (s *fakeStore) ClaimStage(_ context.Context, _ string, stage int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[stage] {
		return false, nil
	}
	s.claimed[stage] = true
	return true, nil
}

func (s *fakeStore) ReleaseStage(_ context.Context, _ string, stage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, stage)
	return nil
}

func (s *fakeStore) StageDecisions(_ context.Context, _ string, stage int) ([]grandtour.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decisionsErr != nil {
		return nil, s.decisionsErr
	}
	return append([]grandtour.Decision(nil), s.decisions[stage]...), nil
}

func (s *fakeStore) HomeTeam(_ context.Context, _ string) (grandtour.Team, []grandtour.Cyclist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.home, append([]grandtour.Cyclist(nil), s.cyclists...), nil
}

func (s *fakeStore) AITeams(_ context.Context, _ string) ([]grandtour.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]grandtour.Team(nil), s.ai...), nil
}

func (s *fakeStore) UpdateCyclist(_ context.Context, id string, points, stamina int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cyclistErrs[id]; err != nil {
		return err
	}
	for i := range s.cyclists {
		if s.cyclists[i].ID == id {
			s.cyclists[i].Points = points
			s.cyclists[i].Stamina = stamina
		}
	}
	return nil
}

func (s *fakeStore) SetDecisionPoints(_ context.Context, cyclistID, _ string, stage, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[decisionKey{cyclistID, stage}] = points
	return nil
}

func (s *fakeStore) UpdateTeam(_ context.Context, id string, points, synergy int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.teamErrs[id]; err != nil {
		return err
	}
	if s.home.ID == id {
		s.home.TotalPoints = points
		s.home.Synergy = synergy
		return nil
	}
	for i := range s.ai {
		if s.ai[i].ID == id {
			s.ai[i].TotalPoints = points
			s.ai[i].Synergy = synergy
		}
	}
	return nil
}

func (s *fakeStore) SetSessionStatus(_ context.Context, _ string, status grandtour.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Status = status
	return nil
}

func newTestResolver(store Store) *Resolver {
	// Every draw is below every cruise rate, so AI riders always cruise.
	sim := NewSimulatorWithSource(&seqSource{vals: []float64{0}})
	return NewResolver(store, sim, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveStage_NegotiationScenario(t *testing.T) {
	store := newFakeStore()
	store.home.Synergy = 60
	for i := range store.cyclists {
		store.cyclists[i].Stamina = 3
	}
	store.decide(4, grandtour.Sprint, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)

	res, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 4)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Success || !res.Processed {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Multiplier.Alignment != 1.5 || res.TotalMultiplier != 4.5 {
		t.Errorf("multiplier = %+v total %v, want 1.5 alignment and 4.5 total", res.Multiplier, res.TotalMultiplier)
	}

	if got := store.cyclist("c1"); got.Points != 13 || got.Stamina != 2 {
		t.Errorf("sprinter: points=%d stamina=%d, want 13 and 2", got.Points, got.Stamina)
	}
	for _, id := range []string{"c2", "c3", "c4"} {
		// trunc(-1 * 4.5) is -4, not -5.
		if got := store.cyclist(id); got.Points != -4 || got.Stamina != 4 {
			t.Errorf("cruiser %s: points=%d stamina=%d, want -4 and 4", id, got.Points, got.Stamina)
		}
		if p := store.points[decisionKey{id, 4}]; p != -4 {
			t.Errorf("cruiser %s decision points = %d, want -4", id, p)
		}
	}
	if p := store.points[decisionKey{"c1", 4}]; p != 13 {
		t.Errorf("sprinter decision points = %d, want 13", p)
	}

	if store.home.Synergy != 70 || res.SynergyBefore != 60 || res.SynergyAfter != 70 {
		t.Errorf("synergy = %d (%d -> %d), want 60 -> 70", store.home.Synergy, res.SynergyBefore, res.SynergyAfter)
	}
	if res.TeamPoints != 1 || store.home.TotalPoints != 1 {
		t.Errorf("team points = %d (stored %d), want 1", res.TeamPoints, store.home.TotalPoints)
	}
	if res.GameEnded {
		t.Error("stage 4 must not end the game")
	}
}

func TestResolveStage_PerfectSprintOnStageSeven(t *testing.T) {
	store := newFakeStore()
	store.decide(7, grandtour.Sprint, grandtour.Sprint, grandtour.Sprint, grandtour.Sprint)

	res, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 7)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TotalMultiplier != 10 {
		t.Errorf("total multiplier = %v, want 10", res.TotalMultiplier)
	}
	for _, c := range res.Cyclists {
		if c.Points != -10 {
			t.Errorf("cyclist %s points = %d, want -10", c.CyclistID, c.Points)
		}
	}
	if store.home.Synergy != 80 {
		t.Errorf("synergy = %d, want 80", store.home.Synergy)
	}
}

func TestResolveStage_SynergyGatesRecoveryBeforeUpdate(t *testing.T) {
	store := newFakeStore()
	store.home.Synergy = 45
	for i := range store.cyclists {
		store.cyclists[i].Stamina = 3
	}
	// All cruise lifts synergy to 65, but recovery reads the value before.
	store.decide(2, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)

	if _, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, c := range store.cyclists {
		if c.Stamina != 3 {
			t.Errorf("cyclist %s stamina = %d, want 3", c.ID, c.Stamina)
		}
		if c.Points != 1 {
			t.Errorf("cyclist %s points = %d, want 1", c.ID, c.Points)
		}
	}
	if store.home.Synergy != 65 {
		t.Errorf("synergy = %d, want 65", store.home.Synergy)
	}
}

func TestResolveStage_ExhaustedSprinterStaysAtZero(t *testing.T) {
	store := newFakeStore()
	store.cyclists[0].Stamina = 0
	store.decide(1, grandtour.Sprint, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)

	if _, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := store.cyclist("c1")
	if got.Stamina != 0 {
		t.Errorf("stamina = %d, want 0", got.Stamina)
	}
	if got.Points != 3 {
		t.Errorf("points = %d, want 3", got.Points)
	}
}

func TestResolveStage_RejectsSecondResolution(t *testing.T) {
	store := newFakeStore()
	store.decide(3, grandtour.Cruise, grandtour.Cruise, grandtour.Sprint, grandtour.Sprint)
	r := newTestResolver(store)

	if _, err := r.ResolveStage(context.Background(), "s1", 3); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	before := append([]grandtour.Cyclist(nil), store.cyclists...)
	home := store.home
	ai := append([]grandtour.Team(nil), store.ai...)

	_, err := r.ResolveStage(context.Background(), "s1", 3)
	if !errors.Is(err, ErrStageResolved) {
		t.Fatalf("second resolve: err = %v, want ErrStageResolved", err)
	}

	for i, c := range store.cyclists {
		if c != before[i] {
			t.Errorf("cyclist %s changed on second resolve: %+v -> %+v", c.ID, before[i], c)
		}
	}
	if store.home != home {
		t.Errorf("home team changed on second resolve: %+v -> %+v", home, store.home)
	}
	for i, team := range store.ai {
		if team != ai[i] {
			t.Errorf("ai team %s changed on second resolve", team.ID)
		}
	}
}

func TestResolveStage_ConcurrentCallsApplyOnce(t *testing.T) {
	store := newFakeStore()
	store.decide(5, grandtour.Sprint, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)
	r := newTestResolver(store)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ResolveStage(context.Background(), "s1", 5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrStageResolved):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != callers-1 {
		t.Errorf("ok=%d rejected=%d, want 1 and %d", ok, rejected, callers-1)
	}
	if got := store.cyclist("c1").Points; got != 3 {
		t.Errorf("sprinter points = %d, want 3 (applied once)", got)
	}
	if store.home.Synergy != 100 {
		t.Errorf("synergy = %d, want 100", store.home.Synergy)
	}
}

func TestResolveStage_NoDecisionsIsNoop(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	res, err := r.ResolveStage(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Processed || !res.Success {
		t.Errorf("expected unprocessed success, got %+v", res)
	}
	if store.claimed[2] {
		t.Error("empty stage must not stay marked as resolved")
	}
	for _, team := range store.ai {
		if team.TotalPoints != 0 || team.Synergy != 100 {
			t.Errorf("ai team %s mutated: %+v", team.ID, team)
		}
	}

	// Decisions arriving later can still be resolved.
	store.decide(2, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)
	res, err = r.ResolveStage(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !res.Processed {
		t.Error("expected the stage to be processed once decisions exist")
	}
}

func TestResolveStage_FinalStageEndsGame(t *testing.T) {
	tests := []struct {
		stage int
		want  grandtour.SessionStatus
	}{
		{9, grandtour.StatusActive},
		{10, grandtour.StatusEnded},
	}
	for _, tt := range tests {
		store := newFakeStore()
		store.decide(tt.stage, grandtour.Sprint, grandtour.Sprint, grandtour.Cruise, grandtour.Cruise)

		res, err := newTestResolver(store).ResolveStage(context.Background(), "s1", tt.stage)
		if err != nil {
			t.Fatalf("stage %d: %v", tt.stage, err)
		}
		if store.session.Status != tt.want {
			t.Errorf("stage %d: status = %s, want %s", tt.stage, store.session.Status, tt.want)
		}
		if res.GameEnded != (tt.want == grandtour.StatusEnded) {
			t.Errorf("stage %d: GameEnded = %v", tt.stage, res.GameEnded)
		}
	}
}

func TestResolveStage_EndedSessionRejected(t *testing.T) {
	store := newFakeStore()
	store.session.Status = grandtour.StatusEnded
	store.decide(10, grandtour.Cruise)

	_, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 10)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
}

func TestResolveStage_OpenStageRejected(t *testing.T) {
	store := newFakeStore()
	store.session.StageLocked = false
	store.decide(1, grandtour.Sprint, grandtour.Sprint, grandtour.Sprint, grandtour.Sprint)

	_, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 1)
	if !errors.Is(err, ErrStageOpen) {
		t.Fatalf("err = %v, want ErrStageOpen", err)
	}
	if store.claimed[1] {
		t.Error("an open stage must not be claimed")
	}
	if store.cyclist("c1").Points != 0 {
		t.Error("no points should be applied to an open stage")
	}
}

func TestResolveStage_InvalidStage(t *testing.T) {
	for _, stage := range []int{0, 11, -1} {
		_, err := newTestResolver(newFakeStore()).ResolveStage(context.Background(), "s1", stage)
		if !errors.Is(err, ErrInvalidStage) {
			t.Errorf("stage %d: err = %v, want ErrInvalidStage", stage, err)
		}
	}
}

func TestResolveStage_PartialFailureContinues(t *testing.T) {
	store := newFakeStore()
	store.teamErrs["home"] = errors.New("disk full")
	store.cyclistErrs["c2"] = errors.New("row locked")
	store.decide(1, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)

	res, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("partial failure must not return an error: %v", err)
	}
	if res.Success {
		t.Error("expected Success=false")
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %+v, want 2", res.Failures)
	}
	if store.cyclist("c1").Points != 1 || store.cyclist("c4").Points != 1 {
		t.Error("other cyclists should still be updated")
	}
	for _, team := range store.ai {
		if team.TotalPoints != 4 {
			t.Errorf("ai team %s points = %d, want 4", team.ID, team.TotalPoints)
		}
	}
}

func TestResolveStage_ReadFailureReleasesClaim(t *testing.T) {
	store := newFakeStore()
	store.decisionsErr = errors.New("connection refused")

	_, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 1)
	if err == nil {
		t.Fatal("expected an error when decisions cannot be read")
	}
	if store.claimed[1] {
		t.Error("claim should be released after a read failure")
	}
}

func TestResolveStage_SmallTeam(t *testing.T) {
	store := newFakeStore()
	store.cyclists = store.cyclists[:2]
	store.decide(1, grandtour.Sprint, grandtour.Cruise)

	res, err := newTestResolver(store).ResolveStage(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := store.cyclist("c1").Points; got != 1 {
		t.Errorf("sprinter points = %d, want 1", got)
	}
	if got := store.cyclist("c2").Points; got != -1 {
		t.Errorf("cruiser points = %d, want -1", got)
	}
	if res.SynergyDelta != 0 {
		t.Errorf("synergy delta = %d, want 0", res.SynergyDelta)
	}
}
