package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/playperu/grandtour/internal/database"
	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/grandtour"
	"github.com/playperu/grandtour/internal/metrics"
	"github.com/playperu/grandtour/internal/migrations"
	"github.com/playperu/grandtour/internal/realtime"
	"github.com/playperu/grandtour/internal/service"
	"github.com/playperu/grandtour/internal/store"
)

type fixture struct {
	svc    *service.Service
	store  *store.SQLiteStore
	broker *realtime.Broker
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(context.Background(), db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db)
	broker := realtime.NewBroker()
	resolver := engine.NewResolver(st, engine.NewSimulator(1), logger)
	return fixture{
		svc:    service.New(st, resolver, broker, metrics.New(), logger),
		store:  st,
		broker: broker,
	}
}

// startedSession creates a session and opens stage 1.
func (f fixture) startedSession(t *testing.T) (grandtour.Session, []grandtour.Cyclist) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "Leadership cohort", 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err = f.svc.OpenStage(ctx, sess.ID)
	if err != nil {
		t.Fatalf("OpenStage: %v", err)
	}
	_, cyclists, err := f.store.HomeTeam(ctx, sess.ID)
	if err != nil {
		t.Fatalf("HomeTeam: %v", err)
	}
	return sess, cyclists
}

func (f fixture) decideAll(t *testing.T, sessionID string, stage int, cyclists []grandtour.Cyclist, choices ...grandtour.Choice) {
	t.Helper()
	for i, c := range cyclists {
		if _, err := f.svc.SubmitDecision(context.Background(), sessionID, c.ID, stage, choices[i]); err != nil {
			t.Fatalf("SubmitDecision(%s): %v", c.Name, err)
		}
	}
}

// jumpTo moves the session straight to stage n, unlocked.
func (f fixture) jumpTo(t *testing.T, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	prev, _ := f.store.Session(ctx, sessionID)
	sess := prev
	sess.CurrentStage = n
	sess.StageLocked = false
	if err := f.store.SaveSession(ctx, prev, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	f := setup(t)
	sess, err := f.svc.CreateSession(context.Background(), "  ", 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Title != "Grand Tour" {
		t.Errorf("title = %q", sess.Title)
	}

	snap, err := f.svc.Snapshot(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Teams) != 4 || len(snap.Cyclists) != 4 {
		t.Errorf("teams=%d cyclists=%d", len(snap.Teams), len(snap.Cyclists))
	}

	if _, err := f.svc.CreateSession(context.Background(), "x", 9); !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestOpenStageStartsRace(t *testing.T) {
	f := setup(t)
	sess, _ := f.startedSession(t)

	if sess.Status != grandtour.StatusActive || sess.StageLocked {
		t.Errorf("session = %+v", sess)
	}
	if sess.MultiplierActive || sess.CurrentMultiplier != 1 {
		t.Errorf("stage 1 multiplier = %v/%v", sess.MultiplierActive, sess.CurrentMultiplier)
	}

	f.jumpTo(t, sess.ID, 4)
	sess, err := f.svc.OpenStage(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("OpenStage: %v", err)
	}
	if !sess.MultiplierActive || sess.CurrentMultiplier != 3 {
		t.Errorf("stage 4 multiplier = %v/%v, want active 3", sess.MultiplierActive, sess.CurrentMultiplier)
	}
}

func TestSubmitDecisionValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)
	luca := cyclists[0]

	other, _ := f.svc.CreateSession(ctx, "other", 0)
	_, strangers, _ := f.store.HomeTeam(ctx, other.ID)

	tests := []struct {
		name      string
		cyclistID string
		stage     int
		choice    grandtour.Choice
		want      error
	}{
		{"bad choice", luca.ID, 1, "coast", service.ErrInvalidChoice},
		{"wrong stage", luca.ID, 2, grandtour.Sprint, service.ErrNotCurrentStage},
		{"foreign cyclist", strangers[0].ID, 1, grandtour.Sprint, service.ErrUnknownCyclist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitDecision(ctx, sess.ID, tt.cyclistID, tt.stage, tt.choice)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, luca.ID, 1, grandtour.Sprint); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	d, err := f.svc.SubmitDecision(ctx, sess.ID, luca.ID, 1, grandtour.Cruise)
	if !errors.Is(err, service.ErrDecisionExists) {
		t.Fatalf("second decision: err = %v, want ErrDecisionExists", err)
	}
	if d.Choice != grandtour.Sprint {
		t.Errorf("stored choice = %s, want sprint", d.Choice)
	}

	// Not yet started.
	if _, err := f.svc.SubmitDecision(ctx, other.ID, strangers[0].ID, 1, grandtour.Sprint); !errors.Is(err, service.ErrSessionNotActive) {
		t.Errorf("not started: err = %v, want ErrSessionNotActive", err)
	}
}

func TestSubmitDecisionRejectsExhaustedSprint(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	if err := f.store.UpdateCyclist(ctx, cyclists[0].ID, 0, 0); err != nil {
		t.Fatalf("UpdateCyclist: %v", err)
	}
	if _, err := f.svc.SubmitDecision(ctx, sess.ID, cyclists[0].ID, 1, grandtour.Sprint); !errors.Is(err, service.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if _, err := f.svc.SubmitDecision(ctx, sess.ID, cyclists[0].ID, 1, grandtour.Cruise); err != nil {
		t.Fatalf("cruise with no stamina should be allowed: %v", err)
	}
}

func TestEndStageLocksAndResolves(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	events := f.broker.Subscribe(sess.ID)
	defer f.broker.Unsubscribe(sess.ID, events)

	f.decideAll(t, sess.ID, 1, cyclists, grandtour.Sprint, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)

	status, err := f.svc.StageDecisions(ctx, sess.ID, 1)
	if err != nil || !status.Complete || status.Expected != 4 {
		t.Fatalf("StageDecisions = %+v, %v", status, err)
	}

	res, err := f.svc.EndStage(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EndStage: %v", err)
	}
	if !res.Success || res.TeamPoints != 0 || res.SynergyAfter != 100 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Opponents) != 3 {
		t.Errorf("opponents = %d, want 3", len(res.Opponents))
	}

	got, _ := f.store.Session(ctx, sess.ID)
	if !got.StageLocked {
		t.Error("stage should be locked after EndStage")
	}
	if _, err := f.svc.SubmitDecision(ctx, sess.ID, cyclists[0].ID, 1, grandtour.Sprint); !errors.Is(err, service.ErrStageLocked) {
		t.Errorf("late decision: err = %v, want ErrStageLocked", err)
	}

	if _, err := f.svc.EndStage(ctx, sess.ID); !errors.Is(err, engine.ErrStageResolved) {
		t.Errorf("second EndStage: err = %v, want ErrStageResolved", err)
	}

	var sawResolved bool
	for len(events) > 0 {
		var ev realtime.Event
		json.Unmarshal(<-events, &ev)
		if ev.Type == realtime.EventStageResolved {
			sawResolved = true
		}
	}
	if !sawResolved {
		t.Error("no stage_resolved event published")
	}
}

func TestAdvanceStageRequiresResolution(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	if _, err := f.svc.AdvanceStage(ctx, sess.ID); !errors.Is(err, service.ErrStageUnresolved) {
		t.Fatalf("err = %v, want ErrStageUnresolved", err)
	}

	f.decideAll(t, sess.ID, 1, cyclists, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)
	if _, err := f.svc.EndStage(ctx, sess.ID); err != nil {
		t.Fatalf("EndStage: %v", err)
	}

	next, err := f.svc.AdvanceStage(ctx, sess.ID)
	if err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if next.CurrentStage != 2 || next.StageLocked {
		t.Errorf("session = %+v, want stage 2 unlocked", next)
	}
}

func TestEmptyStageCanBeResolvedLater(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	res, err := f.svc.EndStage(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EndStage: %v", err)
	}
	if res.Processed {
		t.Error("empty stage should not be processed")
	}

	if _, err := f.svc.OpenStage(ctx, sess.ID); err != nil {
		t.Fatalf("reopening an unresolved stage: %v", err)
	}
	f.decideAll(t, sess.ID, 1, cyclists, grandtour.Sprint, grandtour.Sprint, grandtour.Sprint, grandtour.Sprint)
	res, err = f.svc.EndStage(ctx, sess.ID)
	if err != nil || !res.Processed {
		t.Fatalf("EndStage after decisions = %+v, %v", res, err)
	}
	if res.SynergyAfter != 80 {
		t.Errorf("synergy = %d, want 80", res.SynergyAfter)
	}
}

func TestReopenStageAllowsResolvingAgain(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	f.decideAll(t, sess.ID, 1, cyclists, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)
	f.svc.EndStage(ctx, sess.ID)

	if _, err := f.svc.ReopenStage(ctx, sess.ID, 2); !errors.Is(err, service.ErrNotCurrentStage) {
		t.Errorf("reopen other stage: err = %v", err)
	}
	if _, err := f.svc.ReopenStage(ctx, sess.ID, 11); !errors.Is(err, engine.ErrInvalidStage) {
		t.Errorf("reopen stage 11: err = %v", err)
	}

	reopened, err := f.svc.ReopenStage(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("ReopenStage: %v", err)
	}
	if reopened.StageLocked {
		t.Error("reopened stage should be unlocked")
	}
	if _, err := f.svc.EndStage(ctx, sess.ID); err != nil {
		t.Fatalf("EndStage after reopen: %v", err)
	}
}

func TestFinalStageEndsSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)
	f.jumpTo(t, sess.ID, 10)

	f.decideAll(t, sess.ID, 10, cyclists, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)
	res, err := f.svc.EndStage(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EndStage: %v", err)
	}
	if !res.GameEnded || res.TotalMultiplier != 20 {
		t.Errorf("result = %+v", res)
	}
	for _, c := range res.Cyclists {
		if c.Points != 20 {
			t.Errorf("cyclist %s points = %d, want 20", c.CyclistID, c.Points)
		}
	}

	got, _ := f.store.Session(ctx, sess.ID)
	if got.Status != grandtour.StatusEnded {
		t.Errorf("status = %s, want ended", got.Status)
	}

	if _, err := f.svc.AdvanceStage(ctx, sess.ID); !errors.Is(err, engine.ErrSessionEnded) {
		t.Errorf("advance after end: err = %v", err)
	}
	if _, err := f.svc.OpenStage(ctx, sess.ID); !errors.Is(err, engine.ErrSessionEnded) {
		t.Errorf("open after end: err = %v", err)
	}
}

func TestReflectionFlow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	refl := grandtour.Reflection{
		CyclistID:         cyclists[0].ID,
		SessionID:         sess.ID,
		StageNumber:       1,
		DecisionReasoning: "I wanted the points",
		EmotionalResponse: "guilty",
	}
	if _, err := f.svc.SubmitReflection(ctx, refl); !errors.Is(err, service.ErrReflectionClosed) {
		t.Fatalf("before reflection: err = %v, want ErrReflectionClosed", err)
	}

	started, err := f.svc.StartReflection(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StartReflection: %v", err)
	}
	if started.Status != grandtour.StatusReflection || !started.ReflectionActive {
		t.Errorf("session = %+v", started)
	}

	if _, err := f.svc.SubmitReflection(ctx, refl); err != nil {
		t.Fatalf("SubmitReflection: %v", err)
	}
	if _, err := f.svc.SubmitReflection(ctx, refl); !errors.Is(err, service.ErrReflectionExists) {
		t.Errorf("duplicate: err = %v, want ErrReflectionExists", err)
	}
	empty := refl
	empty.CyclistID = cyclists[1].ID
	empty.DecisionReasoning, empty.EmotionalResponse = " ", ""
	if _, err := f.svc.SubmitReflection(ctx, empty); !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("empty: err = %v, want ErrInvalidInput", err)
	}

	entries, err := f.svc.StageReflections(ctx, sess.ID, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("StageReflections = %v, %v", entries, err)
	}

	// Resume racing, then close out.
	if _, err := f.svc.OpenStage(ctx, sess.ID); err != nil {
		t.Fatalf("OpenStage from reflection: %v", err)
	}
	if _, err := f.svc.EndReflection(ctx, sess.ID); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("end reflection while active: err = %v", err)
	}
	f.svc.StartReflection(ctx, sess.ID)
	ended, err := f.svc.EndReflection(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EndReflection: %v", err)
	}
	if ended.Status != grandtour.StatusEnded || ended.ReflectionActive {
		t.Errorf("session = %+v", ended)
	}
}

func TestRankingsAndStages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	sess, cyclists := f.startedSession(t)

	f.decideAll(t, sess.ID, 1, cyclists, grandtour.Sprint, grandtour.Cruise, grandtour.Cruise, grandtour.Cruise)
	f.svc.EndStage(ctx, sess.ID)

	rankings, err := f.svc.Rankings(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Rankings: %v", err)
	}
	if len(rankings) != 4 {
		t.Fatalf("rankings = %d, want 4", len(rankings))
	}
	for i := 1; i < len(rankings); i++ {
		prev, cur := rankings[i-1].Team, rankings[i].Team
		if prev.TotalPoints < cur.TotalPoints ||
			(prev.TotalPoints == cur.TotalPoints && prev.Synergy < cur.Synergy) {
			t.Errorf("rankings out of order at %d: %+v before %+v", i, prev, cur)
		}
	}

	stages, err := f.svc.Stages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if len(stages) != grandtour.TotalStages {
		t.Fatalf("stages = %d", len(stages))
	}
	if !stages[0].Current || !stages[0].Resolved || stages[1].Resolved {
		t.Errorf("stage flags = %+v / %+v", stages[0], stages[1])
	}
	if !stages[3].Negotiation || stages[3].Multiplier != 3 {
		t.Errorf("stage 4 = %+v", stages[3])
	}
}

func TestUnknownSession(t *testing.T) {
	f := setup(t)
	if _, err := f.svc.Snapshot(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
