package agentrt

import (
	"math/rand"

	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/location"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/oracle"
	"github.com/emotionsim/engine/internal/telemetry"
)

// Deps bundles every shared collaborator action execution touches. All
// fields are owned by the engine and mutated only from within the active
// agent's turn, per SPEC_FULL.md §5.
type Deps struct {
	Graph        *location.Graph
	FailedCache  location.FailedCache
	Bus          *bus.Bus
	Conversation *conversation.Manager
	Cooperation  *cooperation.Coordinator
	Emit         *events.Emitter
	Agents       map[string]*model.AgentInstance
	WorldState   map[string]any
	Rng          *rand.Rand
	Metrics      *telemetry.Metrics
}

// Execute applies a fully-validated oracle.Response for one agent's turn,
// in the order required by §4.6: actions first (in emission order, each
// failure isolated), then state_changes, then the message (if any).
// Returns the ActionRecords to include in this tick's Step Record.
func Execute(step int, agentID string, resp oracle.Response, d Deps) []model.ActionRecord {
	agent, ok := d.Agents[agentID]
	if !ok {
		return nil
	}

	records := make([]model.ActionRecord, 0, len(resp.Actions))
	for _, act := range resp.Actions {
		records = append(records, executeOne(step, agentID, agent, act, d))
	}

	applyStateChanges(agent, resp.StateChanges)

	if resp.Message != nil {
		d.Bus.Publish(step, agentID, resp.Message.ToTarget, model.MessageType(resp.Message.MessageType), resp.Message.Content, resp.Message.Metadata)
		if conv, ok := d.Conversation.AtLocation(agent.State.Location); ok {
			d.Conversation.RecordMessage(conv)
		}
	}

	return records
}

func executeOne(step int, agentID string, agent *model.AgentInstance, act oracle.Action, d Deps) model.ActionRecord {
	rec := model.ActionRecord{AgentID: agentID, ActionType: act.ActionType, Target: act.Target, Parameters: act.Parameters, Success: true}

	switch act.ActionType {
	case "move":
		outcome := location.ResolveMove(d.Graph, d.Rng, d.FailedCache, d.Emit, agentID, agent.State.Location, act.Target)
		switch outcome.Kind {
		case location.OutcomeMoved, location.OutcomeCreated:
			agent.State.Location = outcome.NewLoc
			agent.State.Path = nil
		case location.OutcomeTravelling:
			agent.State.Location = outcome.NextHop
			agent.State.Path = outcome.Remaining
		case location.OutcomeFailed:
			rec.Success = false
			rec.Reason = outcome.Reason
		}

	case "take":
		item, found := d.Graph.TakeItem(agent.State.Location, act.Target)
		if !found {
			rec.Success = false
			rec.Reason = "item absent"
			break
		}
		agent.Inventory = append(agent.Inventory, item)

	case "drop":
		idx := -1
		for i, it := range agent.Inventory {
			if it.Name == act.Target {
				idx = i
				break
			}
		}
		if idx < 0 {
			rec.Success = false
			rec.Reason = "item absent"
			break
		}
		item := agent.Inventory[idx]
		agent.Inventory = append(agent.Inventory[:idx], agent.Inventory[idx+1:]...)
		d.Graph.AddItem(agent.State.Location, item)

	case "use":
		idx := -1
		for i, it := range agent.Inventory {
			if it.Name == act.Target {
				idx = i
				break
			}
		}
		if idx < 0 {
			rec.Success = false
			rec.Reason = "item absent"
			break
		}
		if heal, ok := asInt(agent.Inventory[idx].Properties["heal"]); ok {
			agent.State.Health = clamp(agent.State.Health+heal, 0, 10)
		}

	case "interact":
		if act.Target == "" {
			rec.Success = false
			rec.Reason = "target absent"
			break
		}
		d.Emit.Emit(events.TypeAgentInteracted, map[string]any{"agent_id": agentID, "target": act.Target})

	case "search":
		revealed := d.Graph.RevealHidden(agent.State.Location)
		if len(revealed) > 0 {
			d.Emit.Emit(events.TypeItemsRevealed, map[string]any{"agent_id": agentID, "location": agent.State.Location, "items": revealed})
		}

	case "speak":
		// Shorthand handled via resp.Message; recorded here for audit only.

	case "wait", "reflect":
		// No-op, recorded.

	case "help":
		target, ok := d.Agents[act.Target]
		if !ok || target.State.Location != agent.State.Location {
			rec.Success = false
			rec.Reason = "target absent or out of location"
			break
		}
		target.State.Stress = clamp(target.State.Stress-1, 0, 10)
		target.State.Health = clamp(target.State.Health+1, 0, 10)

	case "join_conversation":
		if !d.Conversation.Join(agent.State.Location, agentID) {
			rec.Success = false
			rec.Reason = "not co-located"
		}

	case "leave_conversation":
		d.Conversation.Leave(agentID)

	case "propose_task":
		desc, _ := act.Parameters["description"].(string)
		priority, _ := asInt(act.Parameters["priority"])
		var skills []string
		if raw, ok := act.Parameters["required_skills"].([]string); ok {
			skills = raw
		}
		d.Cooperation.ProposeTask(agentID, desc, priority, skills, step)

	case "accept_task":
		if !d.Cooperation.AcceptTask(agentID, act.Target) {
			rec.Success = false
			rec.Reason = "task absent"
		}

	case "report_progress":
		progress, _ := asInt(act.Parameters["progress"])
		status, _ := act.Parameters["status"].(string)
		wasCompleted := false
		if t, ok := d.Cooperation.Task(act.Target); ok {
			wasCompleted = t.Status == model.TaskCompleted
		}
		if !d.Cooperation.ReportProgress(act.Target, progress, status) {
			rec.Success = false
			rec.Reason = "task absent"
		} else if t, ok := d.Cooperation.Task(act.Target); ok && t.Status == model.TaskCompleted && !wasCompleted {
			d.Metrics.RecordTaskCompleted()
		}

	case "call_for_vote":
		proposal, _ := act.Parameters["proposal"].(string)
		var options []string
		if raw, ok := act.Parameters["options"].([]string); ok {
			options = raw
		}
		d.Cooperation.CallForVote(proposal, options, step)

	case "cast_vote":
		option, _ := act.Parameters["option"].(string)
		if !d.Cooperation.Ballot(act.Target, agentID, option) {
			rec.Success = false
			rec.Reason = "vote absent, closed, or option invalid"
		}

	case "environment_update":
		if agent.Template.Role != model.RoleEnvironment {
			rec.Success = false
			rec.Reason = "permission violation"
			break
		}
		if err := validateReservedWorldState(act.Parameters); err != nil {
			rec.Success = false
			rec.Reason = err.Error()
			break
		}
		for k, v := range act.Parameters {
			d.WorldState[k] = v
		}

	case "affect_agent":
		if agent.Template.Role != model.RoleEnvironment {
			rec.Success = false
			rec.Reason = "permission violation"
			break
		}
		target, ok := d.Agents[act.Target]
		if !ok {
			rec.Success = false
			rec.Reason = "target absent"
			break
		}
		if dh, ok := asInt(act.Parameters["health"]); ok {
			target.State.Health = clamp(target.State.Health+dh, 0, 10)
		}
		if ds, ok := asInt(act.Parameters["stress"]); ok {
			target.State.Stress = clamp(target.State.Stress+ds, 0, 10)
		}

	default:
		rec.Success = false
		rec.Reason = "unknown action type"
	}

	if agent.State.Health == 0 {
		agent.IsActive = false
	}

	return rec
}

func applyStateChanges(agent *model.AgentInstance, sc oracle.StateChanges) {
	if sc.Health != nil {
		agent.State.Health = clamp(agent.State.Health+*sc.Health, 0, 10)
	}
	if sc.Stress != nil {
		agent.State.Stress = clamp(agent.State.Stress+*sc.Stress, 0, 10)
	}
	if agent.State.Health == 0 {
		agent.IsActive = false
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
