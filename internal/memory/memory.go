// Package memory implements each agent's private working memory described
// in SPEC_FULL.md's component table: a bounded sliding-window episodic log,
// a relationship map keyed by other agent id, and a one-shot arrival note.
// Context assembly (§4.6) reads the episodic window via BoundedSummary. The
// sliding-window-plus-map shape follows pkg/memory's working/long-term
// split, simplified to this engine's single in-process Run lifetime.
package memory

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/emotionsim/engine/internal/model"
)

// episodicWindow is the maximum number of EpisodicEvent entries retained per
// agent, per SPEC_FULL.md's memory component row ("last 50 events").
const episodicWindow = 50

// tokenEncoding matches the teacher's own LLM-token-accounting model;
// cl100k_base covers every provider this oracle boundary might eventually
// sit in front of closely enough for budgeting purposes.
const tokenEncoding = "cl100k_base"

// AgentMemory is one agent's private view of the run so far.
type AgentMemory struct {
	episodic      []model.EpisodicEvent
	relationships map[string]*model.Relationship
	arrivalNote   string
}

// New creates an empty AgentMemory.
func New() *AgentMemory {
	return &AgentMemory{relationships: make(map[string]*model.Relationship)}
}

// Record appends an episodic event, evicting the oldest entry once the
// window is full (FIFO, per the fixed 50-event cap).
func (m *AgentMemory) Record(evt model.EpisodicEvent) {
	m.episodic = append(m.episodic, evt)
	if len(m.episodic) > episodicWindow {
		m.episodic = m.episodic[len(m.episodic)-episodicWindow:]
	}
}

// Recent returns the last n episodic events, oldest first. n<=0 returns the
// full window.
func (m *AgentMemory) Recent(n int) []model.EpisodicEvent {
	if n <= 0 || n >= len(m.episodic) {
		out := make([]model.EpisodicEvent, len(m.episodic))
		copy(out, m.episodic)
		return out
	}
	return append([]model.EpisodicEvent{}, m.episodic[len(m.episodic)-n:]...)
}

// Relationship returns the agent's view of otherID, creating a neutral
// zero-interaction entry on first reference.
func (m *AgentMemory) Relationship(otherID string) *model.Relationship {
	rel, ok := m.relationships[otherID]
	if !ok {
		rel = &model.Relationship{TrustLevel: 5, Sentiment: "neutral"}
		m.relationships[otherID] = rel
	}
	return rel
}

// Relationships returns every tracked relationship, keyed by other agent id.
// The caller must not mutate the returned map.
func (m *AgentMemory) Relationships() map[string]*model.Relationship {
	return m.relationships
}

// TouchRelationship updates interaction bookkeeping and appends a note. It
// leaves TrustLevel and Sentiment unchanged.
func (m *AgentMemory) TouchRelationship(otherID string, note string, at model.EpisodicEvent) {
	rel := m.Relationship(otherID)
	rel.InteractionCount++
	rel.LastInteraction = at.Timestamp
	if note != "" {
		rel.Notes = append(rel.Notes, note)
	}
}

// SetArrivalNote records the description shown to an agent the tick it
// arrives somewhere new; ConsumeArrivalNote returns it once and clears it.
func (m *AgentMemory) SetArrivalNote(note string) { m.arrivalNote = note }

// ConsumeArrivalNote returns and clears the pending arrival note.
func (m *AgentMemory) ConsumeArrivalNote() string {
	note := m.arrivalNote
	m.arrivalNote = ""
	return note
}

// Summary renders the episodic window as a compact, newline-joined string
// suitable for direct inclusion in an oracle prompt context.
func (m *AgentMemory) Summary() string {
	out := ""
	for _, evt := range m.episodic {
		out += fmt.Sprintf("[step %d] %s: %s\n", evt.Step, evt.Kind, evt.Summary)
	}
	return out
}

// BoundedSummary renders the episodic window like Summary, but drops the
// oldest lines first until the result fits within maxTokens, so a long-
// running agent's context contribution stays within the oracle's budget
// instead of growing without bound across a run.
func (m *AgentMemory) BoundedSummary(maxTokens int) string {
	if maxTokens <= 0 {
		return m.Summary()
	}
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return m.Summary()
	}

	lines := make([]string, len(m.episodic))
	for i, evt := range m.episodic {
		lines[i] = fmt.Sprintf("[step %d] %s: %s\n", evt.Step, evt.Kind, evt.Summary)
	}

	out := ""
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := lines[i] + out
		if len(enc.Encode(candidate, nil, nil)) > maxTokens {
			break
		}
		out = candidate
	}
	return out
}

// Store holds one AgentMemory per agent for a run.
type Store struct {
	byAgent map[string]*AgentMemory
}

// NewStore creates an empty memory Store.
func NewStore() *Store {
	return &Store{byAgent: make(map[string]*AgentMemory)}
}

// For returns the AgentMemory for agentID, creating it on first access.
func (s *Store) For(agentID string) *AgentMemory {
	m, ok := s.byAgent[agentID]
	if !ok {
		m = New()
		s.byAgent[agentID] = m
	}
	return m
}
