package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/oracle"
	"github.com/emotionsim/engine/internal/oracle/testoracle"
)

type fakePersister struct {
	steps []model.StepRecord
}

func (f *fakePersister) PersistStep(ctx context.Context, rec model.StepRecord, msgs []model.MessageRecord) error {
	f.steps = append(f.steps, rec)
	return nil
}

func testScenario() *model.Scenario {
	seed := int64(1)
	_ = seed
	return &model.Scenario{
		ID:   "sc-1",
		Name: "test scenario",
		World: model.WorldConfig{
			MaxSteps: 2,
			Locations: map[string]*model.Location{
				"kitchen": {ID: "kitchen", Nearby: []string{"yard"}},
				"yard":    {ID: "yard", Nearby: []string{"kitchen"}},
			},
		},
		Agents: []model.AgentTemplate{
			{Name: "env-1", Role: model.RoleEnvironment, InitialLocation: "kitchen", InitialHealth: 10, InitialStress: 0},
			{Name: "human-1", Role: model.RoleHuman, InitialLocation: "kitchen", InitialHealth: 10, InitialStress: 0,
				Persona: &model.Persona{Extraversion: 0.9, Neuroticism: 0.1}},
		},
	}
}

func newTestEngine(orc oracle.Oracle, persister Persister) (*Engine, *model.Run) {
	seed := int64(42)
	run := &model.Run{ID: "run-1", ScenarioID: "sc-1", Status: model.RunPending, MaxSteps: 2, Seed: &seed, WorldState: map[string]any{}}
	emit := events.New(run.ID)
	eng := New(run, testScenario(), orc, persister, emit)
	return eng, run
}

func TestControl_StartTransitionsPendingToRunning(t *testing.T) {
	eng, run := newTestEngine(testoracle.New(), nil)
	require.NoError(t, eng.Control(CmdStart))
	assert.Equal(t, model.RunRunning, run.Status)
}

func TestControl_RejectsInvalidTransition(t *testing.T) {
	eng, _ := newTestEngine(testoracle.New(), nil)
	err := eng.Control(CmdPause) // illegal: still pending
	assert.Error(t, err)
}

func TestControl_PauseThenResume(t *testing.T) {
	eng, run := newTestEngine(testoracle.New(), nil)
	require.NoError(t, eng.Control(CmdStart))
	require.NoError(t, eng.Control(CmdPause))
	assert.Equal(t, model.RunPaused, run.Status)
	require.NoError(t, eng.Control(CmdResume))
	assert.Equal(t, model.RunRunning, run.Status)
}

func TestControl_StopFromPaused(t *testing.T) {
	eng, run := newTestEngine(testoracle.New(), nil)
	require.NoError(t, eng.Control(CmdStart))
	require.NoError(t, eng.Control(CmdPause))
	require.NoError(t, eng.Control(CmdStop))
	assert.Equal(t, model.RunStopped, run.Status)
}

func TestControl_StopEmitsRunStoppedEvent(t *testing.T) {
	eng, run := newTestEngine(testoracle.New(), nil)
	var types []events.Type
	eng.emit.Subscribe(events.SinkFunc(func(e events.Event) { types = append(types, e.Type) }))

	require.NoError(t, eng.Control(CmdStart))
	require.NoError(t, eng.Control(CmdStop))

	assert.Equal(t, model.RunStopped, run.Status)
	assert.Contains(t, types, events.TypeRunStopped)
}

func emptyTurnOracle() oracle.Oracle {
	o := testoracle.New()
	for i := 0; i < 10; i++ {
		o.Script(nil, oracle.Response{})
	}
	return o
}

func TestTick_IncrementsStepAndPersists(t *testing.T) {
	persister := &fakePersister{}
	eng, run := newTestEngine(emptyTurnOracle(), persister)
	require.NoError(t, eng.Control(CmdStart))

	eng.tick(context.Background())

	assert.Equal(t, 1, run.CurrentStep)
	require.Len(t, persister.steps, 1)
	assert.Equal(t, 1, persister.steps[0].StepIndex)
}

func TestLoop_CompletesAtMaxSteps(t *testing.T) {
	eng, run := newTestEngine(emptyTurnOracle(), &fakePersister{})
	require.NoError(t, eng.Control(CmdStart))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	eng.Loop(ctx)

	select {
	case <-eng.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("engine loop did not stop")
	}
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 2, run.CurrentStep)
}

func TestStep_ExecutesExactlyOneTickThenReturnsToPaused(t *testing.T) {
	eng, run := newTestEngine(emptyTurnOracle(), &fakePersister{})
	require.NoError(t, eng.Control(CmdStart))
	require.NoError(t, eng.Control(CmdPause))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		eng.Loop(ctx)
		close(done)
	}()

	require.NoError(t, eng.Control(CmdStep))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, run.CurrentStep)
	assert.Equal(t, model.RunPaused, run.Status)

	cancel()
	<-done
}

func TestLoop_MaxStepsZeroCompletesWithNoTicks(t *testing.T) {
	persister := &fakePersister{}
	eng, run := newTestEngine(emptyTurnOracle(), persister)
	run.MaxSteps = 0
	require.NoError(t, eng.Control(CmdStart))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	eng.Loop(ctx)

	select {
	case <-eng.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("engine loop did not stop")
	}
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 0, run.CurrentStep)
	assert.Empty(t, persister.steps)
}

func TestHumanOrder_IsDeterministicForFixedSeed(t *testing.T) {
	eng1, _ := newTestEngine(testoracle.New(), nil)
	eng2, _ := newTestEngine(testoracle.New(), nil)

	order1 := eng1.humanOrder()
	order2 := eng2.humanOrder()
	assert.Equal(t, order1, order2)
}
