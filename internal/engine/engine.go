// Package engine implements the Simulation Engine described in
// SPEC_FULL.md §4.7: the run state machine, the twelve-step tick
// procedure, and the cooperative scheduler that lets pause/resume/stop/step
// commands interrupt at defined suspension points (§5).
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/emotionsim/engine/internal/agentrt"
	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/loopdetect"
	"github.com/emotionsim/engine/internal/location"
	"github.com/emotionsim/engine/internal/memory"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/oracle"
	"github.com/emotionsim/engine/internal/simerr"
	"github.com/emotionsim/engine/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Command is a control-plane instruction accepted at a suspension point.
type Command string

const (
	CmdStart  Command = "start"
	CmdPause  Command = "pause"
	CmdResume Command = "resume"
	CmdStop   Command = "stop"
	CmdStep   Command = "step"
	CmdCancel Command = "cancel"
)

var allRunStatuses = []string{
	string(model.RunPending), string(model.RunRunning), string(model.RunPaused),
	string(model.RunCompleted), string(model.RunStopped), string(model.RunCancelled), string(model.RunError),
}

// Persister is the subset of the store package the engine needs at step
// boundaries (§6.4): one Step Record plus its messages, written atomically.
type Persister interface {
	PersistStep(ctx context.Context, rec model.StepRecord, msgs []model.MessageRecord) error
}

// Engine drives one Run's tick loop. One Engine exists per Run; distinct
// Engines share no mutable state (§5).
type Engine struct {
	mu sync.Mutex

	run      *model.Run
	scenario *model.Scenario
	agents   map[string]*model.AgentInstance
	order    []string // template order, for deterministic environment-agent scheduling

	graph        *location.Graph
	failedCache  location.FailedCache
	bus          *bus.Bus
	conversation *conversation.Manager
	cooperation  *cooperation.Coordinator
	loopDetector *loopdetect.Detector
	memory       *memory.Store
	emit         *events.Emitter
	oracle       oracle.Oracle
	rng          *rand.Rand
	persister    Persister
	metrics      *telemetry.Metrics
	tracer       trace.Tracer

	stepEvents []string
	pendingCmd chan Command
	stopped    chan struct{}
}

// Option configures optional Engine collaborators at construction time.
type Option func(*Engine)

// WithMetrics attaches a Prometheus metrics recorder. A nil Metrics is safe
// and every recording call becomes a no-op.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches the tracer used for per-tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New constructs an Engine for scenario, seeded either from run.Seed or the
// current time if unset.
func New(run *model.Run, scenario *model.Scenario, orc oracle.Oracle, persister Persister, emit *events.Emitter, opts ...Option) *Engine {
	seed := time.Now().UnixNano()
	if run.Seed != nil {
		seed = *run.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	agents := make(map[string]*model.AgentInstance, len(scenario.Agents))
	order := make([]string, 0, len(scenario.Agents))
	for _, tmpl := range scenario.Agents {
		agents[tmpl.Name] = &model.AgentInstance{
			Template: tmpl,
			State:    model.DynamicState{Location: tmpl.InitialLocation, Health: tmpl.InitialHealth, Stress: tmpl.InitialStress},
			Inventory: append([]model.Item{}, tmpl.Inventory...),
			IsActive:  true,
		}
		order = append(order, tmpl.Name)
	}

	var goals []string
	for _, tmpl := range scenario.Agents {
		goals = append(goals, tmpl.Goals...)
	}

	graph := location.NewGraph(scenario.World.Locations)

	locationOf := func(agentID string) (string, bool) {
		a, ok := agents[agentID]
		if !ok {
			return "", false
		}
		return a.State.Location, a.IsActive
	}
	activeAgents := func() []string {
		var out []string
		for id, a := range agents {
			if a.IsActive {
				out = append(out, id)
			}
		}
		return out
	}

	eng := &Engine{
		run:          run,
		scenario:     scenario,
		agents:       agents,
		order:        order,
		graph:        graph,
		failedCache:  location.NewFailedCache(),
		bus:          bus.New(emit, locationOf, activeAgents),
		conversation: conversation.New(),
		cooperation:  cooperation.New(goals),
		loopDetector: loopdetect.New(),
		memory:       memory.NewStore(),
		emit:         emit,
		oracle:       orc,
		rng:          rng,
		persister:    persister,
		tracer:       noop.NewTracerProvider().Tracer("emotionsim/engine"),
		pendingCmd:   make(chan Command, 4),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Run returns the run being driven, for read-only inspection by callers
// (e.g. the control API's get_run).
func (e *Engine) Run() *model.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// Agents returns a snapshot of every agent instance, keyed by id.
func (e *Engine) Agents() map[string]*model.AgentInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*model.AgentInstance, len(e.agents))
	for k, v := range e.agents {
		cp := *v
		out[k] = &cp
	}
	return out
}

// Control validates and applies a state transition per the diagram in
// §4.7, returning a Validation error for an illegal transition.
func (e *Engine) Control(cmd Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stopped := false
	switch cmd {
	case CmdStart:
		if e.run.Status != model.RunPending {
			return simerr.Validation("engine", "control", "start is only legal from pending", nil)
		}
		e.run.Status = model.RunRunning
	case CmdPause:
		if e.run.Status != model.RunRunning {
			return simerr.Validation("engine", "control", "pause is only legal from running", nil)
		}
		e.run.Status = model.RunPaused
	case CmdResume:
		if e.run.Status != model.RunPaused {
			return simerr.Validation("engine", "control", "resume is only legal from paused", nil)
		}
		e.run.Status = model.RunRunning
	case CmdStop:
		if e.run.Status != model.RunRunning && e.run.Status != model.RunPaused {
			return simerr.Validation("engine", "control", "stop is only legal from running or paused", nil)
		}
		e.run.Status = model.RunStopped
		stopped = true
	case CmdStep:
		if e.run.Status != model.RunPaused {
			return simerr.Validation("engine", "control", "step is only legal from paused", nil)
		}
		// status stays paused; Loop's paused branch runs exactly one tick
		// when it sees this command and then resumes waiting.
	case CmdCancel:
		if e.run.Status != model.RunPending {
			return simerr.Validation("engine", "control", "cancel is only legal from pending", nil)
		}
		e.run.Status = model.RunCancelled
	default:
		return simerr.Validation("engine", "control", "unknown command", nil)
	}

	e.run.UpdatedAt = time.Now()
	e.emit.Emit(events.TypeRunStatus, e.run.Status)
	if stopped {
		e.emit.Emit(events.TypeRunStopped, e.run)
	}
	e.metrics.SetRunStatus(e.run.ID, string(e.run.Status), allRunStatuses)

	select {
	case e.pendingCmd <- cmd:
	default:
	}
	return nil
}

// Loop drives the tick procedure until the run reaches a terminal status or
// ctx is cancelled. It is meant to run in its own goroutine; Control is
// safe to call concurrently from any other goroutine.
func (e *Engine) Loop(ctx context.Context) {
	defer close(e.stopped)
	for {
		e.checkCompletion()

		e.mu.Lock()
		status := e.run.Status
		e.mu.Unlock()

		if status.IsTerminal() {
			return
		}

		if status == model.RunPaused {
			select {
			case <-ctx.Done():
				return
			case cmd := <-e.pendingCmd:
				if cmd == CmdStep {
					e.tick(ctx)
					e.checkCompletion()
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-e.pendingCmd:
			// A command arrived between ticks; control already applied the
			// state transition, so just loop back and re-check status.
			_ = cmd
			continue
		default:
		}

		e.tick(ctx)
		e.checkCompletion()

		e.mu.Lock()
		delay := e.scenario.World.TickDelay
		e.mu.Unlock()
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			case cmd := <-e.pendingCmd:
				_ = cmd
			}
		}
	}
}

// Stopped is closed once Loop returns.
func (e *Engine) Stopped() <-chan struct{} { return e.stopped }

func (e *Engine) checkCompletion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status.IsTerminal() {
		return
	}
	if e.run.CurrentStep >= e.run.MaxSteps {
		e.run.Status = model.RunCompleted
		e.runEvaluator()
		e.emit.Emit(events.TypeRunCompleted, e.run)
	}
}

// deps bundles the collaborators agentrt.Execute needs for one agent's turn.
func (e *Engine) deps() agentrt.Deps {
	return agentrt.Deps{
		Graph:        e.graph,
		FailedCache:  e.failedCache,
		Bus:          e.bus,
		Conversation: e.conversation,
		Cooperation:  e.cooperation,
		Emit:         e.emit,
		Agents:       e.agents,
		WorldState:   e.run.WorldState,
		Rng:          e.rng,
		Metrics:      e.metrics,
	}
}

// runEvaluator runs the evaluator agent once, on the terminal step, per
// §4.6's designer/evaluator schedule.
func (e *Engine) runEvaluator() {
	for _, id := range e.order {
		agent := e.agents[id]
		if agent.Template.Role == model.RoleEvaluator {
			e.runAgentTurn(context.Background(), id)
		}
	}
}
