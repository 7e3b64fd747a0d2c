package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/emotionsim/engine/internal/agentrt"
	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/location"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/obslog"
	"github.com/emotionsim/engine/internal/oracle"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tick executes the twelve-step procedure from SPEC_FULL.md §4.7. Step 1
// (pause/terminal guard) is handled by Loop; this method increments
// current_step itself and covers steps 2-11 plus step persistence.
func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.tick", trace.WithAttributes(attribute.String("run_id", e.run.ID)))
	defer span.End()

	e.mu.Lock()
	e.run.CurrentStep++
	step := e.run.CurrentStep
	e.mu.Unlock()
	span.SetAttributes(attribute.Int("step", step))
	obslog.ForStep(e.run.ID, step).Debug("tick started")

	// Step 3: clear per-step caches.
	e.failedCache = location.NewFailedCache()
	e.stepEvents = nil
	var actions []model.ActionRecord
	spokeIn := make(map[string]bool)

	e.emit.Emit(events.TypeStepStarted, map[string]any{"step": step})

	// Step 4: scan co-locations, create/end conversations.
	locs := conversation.LocationsOf{}
	for id, a := range e.agents {
		if a.IsActive {
			locs[id] = a.State.Location
		}
	}
	e.conversation.Sync(locs)

	// Step 5: environment agents, deterministic template order.
	for _, id := range e.order {
		a := e.agents[id]
		if a.Template.Role == model.RoleEnvironment && a.IsActive {
			actions = append(actions, e.runAgentTurn(ctx, id)...)
		}
	}

	// Step 6: human agents, seeded random permutation, strictly sequential.
	humans := e.humanOrder()
	for _, id := range humans {
		a := e.agents[id]
		if !a.IsActive {
			continue
		}
		if !e.shouldHumanAct(id) {
			continue
		}
		sentBefore := e.bus.Len()
		recs := e.runAgentTurn(ctx, id)
		actions = append(actions, recs...)
		if conv, ok := e.conversation.AtLocation(a.State.Location); ok {
			if e.conversation.CurrentSpeaker(conv) == id {
				e.conversation.AdvanceTurn(conv, id)
			}
			if e.bus.Len() > sentBefore {
				spokeIn[conv.ID] = true
			}
		}
	}

	// Step 7: designer agent (every tick).
	for _, id := range e.order {
		a := e.agents[id]
		if a.Template.Role == model.RoleDesigner && a.IsActive {
			actions = append(actions, e.runAgentTurn(ctx, id)...)
		}
	}

	// Step 8: advance conversation idle counters (pausing silent ones).
	e.conversation.Tick(spokeIn)

	// Votes opened the previous tick close now; each close increments the
	// votes_held_total metric and the majority option is carried by the
	// state_change event (§4.4).
	for _, v := range e.cooperation.CloseVotesOpenedBefore(step) {
		e.metrics.RecordVoteHeld()
		e.emit.Emit(events.TypeStateChange, map[string]any{"vote_id": v.ID, "winner": v.Winner})
	}

	// Step 9: compute step metrics.
	metrics := e.computeMetrics()
	e.run.Metrics = metrics

	// Step 10-11: persist and emit step_completed.
	rec := model.StepRecord{
		RunID:      e.run.ID,
		StepIndex:  step,
		WorldState: cloneWorldState(e.run.WorldState),
		Actions:    actions,
		Metrics:    metrics,
	}
	msgs := e.bus.History(bus.Filter{StepFrom: step, StepTo: step})
	if e.persister != nil {
		err := e.persister.PersistStep(ctx, rec, msgs)
		if err != nil {
			// A failed write is retried once before the run is halted.
			err = e.persister.PersistStep(ctx, rec, msgs)
		}
		if err != nil {
			e.handlePersistenceFailure(err)
			return
		}
	}
	e.emit.Emit(events.TypeStepCompleted, map[string]any{"step": step, "actions": actions, "metrics": metrics, "messages": msgs})
	e.metrics.RecordTick(time.Since(start), metrics.ActiveAgentCount)
}

// runAgentTurn performs one scheduled agent's full turn: context assembly,
// oracle invocation, response validation, and action execution. Oracle and
// validation failures are agent-local per §7 — the agent simply skips the
// tick and the run continues.
func (e *Engine) runAgentTurn(ctx context.Context, agentID string) []model.ActionRecord {
	agent := e.agents[agentID]
	mem := e.memory.For(agentID)
	e.metrics.RecordAgentTurn(string(agent.Template.Role))

	loc, _ := e.graph.Get(agent.State.Location)
	inbox := e.bus.Inbox(agentID, 20)
	suggestion := e.loopDetector.Suggestion(agentID)

	var conv *model.Conversation
	var transcript []string
	if c, ok := e.conversation.AtLocation(agent.State.Location); ok {
		conv = c
		transcript = c.Transcript
	}

	ctxStr := agentrt.Build(agentrt.ContextInputs{
		Agent:        agent,
		AgentID:      agentID,
		WorldState:   e.run.WorldState,
		Location:     loc,
		Inbox:        inbox,
		StepEvents:   e.stepEvents,
		Goals:        e.cooperation.Goals(),
		Tasks:        e.cooperation.Tasks(),
		Suggestion:   suggestion,
		Conversation: conv,
		Transcript:   transcript,
		Memory:       mem,
	})

	system := fmt.Sprintf("You play %s, a %s agent in a social simulation. Respond with JSON matching this schema: %s",
		agentID, agent.Template.Role, oracle.ResponseSchema())

	resp, err := e.oracle.Generate(ctx, oracle.Request{
		ModelID:     agent.Template.ModelID,
		System:      system,
		Context:     ctxStr,
		Temperature: 0.7,
	}, func(chunk oracle.StreamChunk) {
		chunk.AgentID = agentID
		e.emit.Emit(events.TypeStreamToken, chunk)
	})
	if err != nil {
		obslog.ForRun(e.run.ID).Warn("oracle call failed", "agent_id", agentID, "error", err)
		e.emit.Emit(events.TypeAgentError, map[string]any{"agent_id": agentID, "error": err.Error()})
		e.metrics.RecordAgentTurnError(string(agent.Template.Role), "oracle")
		return nil
	}
	if err := oracle.Validate(resp); err != nil {
		obslog.ForRun(e.run.ID).Warn("oracle response failed validation", "agent_id", agentID, "error", err)
		e.emit.Emit(events.TypeAgentError, map[string]any{"agent_id": agentID, "error": err.Error()})
		e.metrics.RecordAgentTurnError(string(agent.Template.Role), "validation")
		return nil
	}

	for _, act := range resp.Actions {
		e.loopDetector.RecordAction(agentID, act.ActionType, act.Target)
	}
	mem.Record(model.EpisodicEvent{Step: e.run.CurrentStep, Kind: "turn", Summary: resp.Reasoning})

	records := agentrt.Execute(e.run.CurrentStep, agentID, resp, e.deps())
	for _, rec := range records {
		e.emit.Emit(events.TypeAgentAction, rec)
		e.metrics.RecordAction(rec.ActionType, rec.Success)
	}
	if resp.Message != nil {
		e.metrics.RecordMessage(resp.Message.MessageType)
	}
	return records
}

func (e *Engine) shouldHumanAct(agentID string) bool {
	agent := e.agents[agentID]
	if agent.Template.Role != model.RoleHuman || agent.Template.Persona == nil {
		return true
	}
	p := agent.Template.Persona
	return agentrt.ShouldAct(e.rng, p.Extraversion, p.Neuroticism, agent.State.Stress)
}

// humanOrder returns every human agent id in a seeded random permutation,
// per §4.7 step 6.
func (e *Engine) humanOrder() []string {
	var humans []string
	for _, id := range e.order {
		if e.agents[id].Template.Role == model.RoleHuman {
			humans = append(humans, id)
		}
	}
	e.rng.Shuffle(len(humans), func(i, j int) { humans[i], humans[j] = humans[j], humans[i] })
	return humans
}

func (e *Engine) computeMetrics() model.StepMetrics {
	var totalHealth, totalStress, active, sent int
	for _, a := range e.agents {
		if !a.IsActive {
			continue
		}
		active++
		totalHealth += a.State.Health
		totalStress += a.State.Stress
	}
	sent = e.bus.Len()
	m := model.StepMetrics{ActiveAgentCount: active, MessagesSent: sent}
	if active > 0 {
		m.AvgHealth = float64(totalHealth) / float64(active)
		m.AvgStress = float64(totalStress) / float64(active)
	}
	return m
}

func cloneWorldState(ws map[string]any) map[string]any {
	out := make(map[string]any, len(ws))
	for k, v := range ws {
		out[k] = v
	}
	return out
}

func (e *Engine) handlePersistenceFailure(err error) {
	obslog.ForRun(e.run.ID).Error("persistence failure, run halted", "error", err)
	e.mu.Lock()
	e.run.Status = model.RunError
	e.mu.Unlock()
	e.emit.Emit(events.TypeError, map[string]any{"error": err.Error()})
}
