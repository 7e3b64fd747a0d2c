// Package agentrt implements the Agent Runtime from SPEC_FULL.md §4.6:
// context assembly, the response-probability gate for human agents, and
// action execution against world state. It is the component the engine
// calls once per scheduled agent per tick.
package agentrt

import (
	"fmt"
	"strings"

	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/loopdetect"
	"github.com/emotionsim/engine/internal/memory"
	"github.com/emotionsim/engine/internal/model"
)

// maxMemoryTokens bounds how much of an agent's episodic history is
// replayed into its own context each turn, per the token-aware memory
// windowing in SPEC_FULL.md §11.
const maxMemoryTokens = 512

// ContextInputs bundles everything context assembly draws from, per the
// fixed ordering in §4.6: role/persona preamble, goals, world-state
// summary, own dynamic state, inbox, step events, cooperation context,
// loop-detector suggestion, conversation transcript.
type ContextInputs struct {
	Agent        *model.AgentInstance
	AgentID      string
	WorldState   map[string]any
	Location     *model.Location
	Inbox        []model.MessageRecord
	StepEvents   []string
	Goals        []string
	Tasks        []*model.Task
	Votes        []*model.Vote
	Suggestion   string
	Conversation *model.Conversation
	Transcript   []string
	Memory       *memory.AgentMemory
}

// Build assembles the context string handed to the oracle as Request.Context.
func Build(in ContextInputs) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s agent.\n", in.AgentID, in.Agent.Template.Role)
	if p := in.Agent.Template.Persona; p != nil {
		fmt.Fprintf(&b, "Persona: age=%d occupation=%q backstory=%q\n", p.Age, p.Occupation, p.Backstory)
		fmt.Fprintf(&b, "Traits: openness=%.2f conscientiousness=%.2f extraversion=%.2f agreeableness=%.2f neuroticism=%.2f\n",
			p.Openness, p.Conscientiousness, p.Extraversion, p.Agreeableness, p.Neuroticism)
	}

	if len(in.Agent.Template.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(in.Agent.Template.Goals, "; "))
	}
	if len(in.Goals) > 0 {
		fmt.Fprintf(&b, "Shared goals: %s\n", strings.Join(in.Goals, "; "))
	}

	b.WriteString("World state:\n")
	if hazard, ok := in.WorldState["hazard_level"]; ok {
		fmt.Fprintf(&b, "  hazard_level: %v\n", hazard)
	}
	if weather, ok := in.WorldState["weather"]; ok {
		fmt.Fprintf(&b, "  weather: %v\n", weather)
	}
	if tod, ok := in.WorldState["time_of_day"]; ok {
		fmt.Fprintf(&b, "  time_of_day: %v\n", tod)
	}
	if in.Location != nil {
		fmt.Fprintf(&b, "  current_location: %s (%s)\n", in.Location.ID, in.Location.Description)
		var items []string
		for _, it := range in.Location.Items {
			items = append(items, it.Name)
		}
		fmt.Fprintf(&b, "  visible_items: %s\n", strings.Join(items, ", "))
		fmt.Fprintf(&b, "  nearby: %s\n", strings.Join(in.Location.Nearby, ", "))
	}

	fmt.Fprintf(&b, "Your state: location=%s health=%d stress=%d\n",
		in.Agent.State.Location, in.Agent.State.Health, in.Agent.State.Stress)

	if len(in.Inbox) > 0 {
		b.WriteString("Inbox:\n")
		for _, msg := range in.Inbox {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", msg.Type, msg.FromAgent, msg.Content)
		}
	}

	if len(in.StepEvents) > 0 {
		b.WriteString("Events this step:\n")
		for _, e := range in.StepEvents {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}

	if len(in.Tasks) > 0 || len(in.Votes) > 0 {
		b.WriteString("Cooperation:\n")
		for _, t := range in.Tasks {
			fmt.Fprintf(&b, "  task %s: %s (%s, %d%%)\n", t.ID, t.Description, t.Status, t.Progress)
		}
		for _, v := range in.Votes {
			fmt.Fprintf(&b, "  vote %s: %s options=%v\n", v.ID, v.Proposal, v.Options)
		}
	}

	if in.Suggestion != "" {
		fmt.Fprintf(&b, "Note: %s\n", in.Suggestion)
	}

	if in.Conversation != nil {
		fmt.Fprintf(&b, "Active conversation at %s with %v:\n", in.Conversation.Location, in.Conversation.Participants)
		for _, line := range in.Transcript {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	if in.Memory != nil {
		if summary := in.Memory.BoundedSummary(maxMemoryTokens); summary != "" {
			b.WriteString("Recent history:\n")
			b.WriteString(summary)
		}
	}

	return b.String()
}

// Collaborators bundles the shared-state components a turn reads and
// writes during action execution.
type Collaborators struct {
	Bus          *bus.Bus
	Conversation *conversation.Manager
	Cooperation  *cooperation.Coordinator
	LoopDetector *loopdetect.Detector
	Memory       *memory.Store
}
