// Package conversation implements the co-location conversation manager
// described in SPEC_FULL.md §4.3: conversations form and dissolve around
// shared location, turns rotate round-robin, and the manager is context for
// an agent's LLM call rather than a gate on whether it may speak.
package conversation

import (
	"strconv"

	"github.com/emotionsim/engine/internal/model"
)

const (
	// idleTicksBeforePause is how many consecutive ticks a conversation may
	// go without a participant message before it pauses, per §4.3.
	idleTicksBeforePause = 2
	defaultMaxTurns      = 20
)

// Manager owns every live conversation for a run, keyed by id.
type Manager struct {
	byID     map[string]*model.Conversation
	byLoc    map[string]string // location -> conversation id, only for active/paused
	next     int
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{byID: make(map[string]*model.Conversation), byLoc: make(map[string]string)}
}

// LocationsOf reports, for every active agent, its current location. The
// engine supplies this at the start of each tick.
type LocationsOf map[string]string

// Sync reconciles conversations against this tick's agent locations: it
// starts new conversations where ≥2 active agents share an un-conversed
// location, drops participants who moved away, and ends conversations that
// fall below 2 participants. Call once per tick, before turn assignment.
func (m *Manager) Sync(locations LocationsOf) {
	// Group currently active agents by location.
	byLoc := make(map[string][]string)
	for agentID, loc := range locations {
		byLoc[loc] = append(byLoc[loc], agentID)
	}

	// Drop participants who are no longer at the conversation's location;
	// end conversations that fall below 2 participants as a result.
	for _, conv := range m.byID {
		if conv.Status == model.ConversationEnded {
			continue
		}
		present := byLoc[conv.Location]
		conv.Participants = intersect(conv.Participants, present)
		if len(conv.Participants) < 2 {
			m.end(conv)
		}
	}

	// Start a conversation wherever ≥2 active agents share a location with
	// no live (active/paused) conversation.
	for loc, agents := range byLoc {
		if len(agents) < 2 {
			continue
		}
		if _, exists := m.byLoc[loc]; exists {
			continue
		}
		m.start(loc, agents)
	}
}

func (m *Manager) start(location string, participants []string) *model.Conversation {
	m.next++
	id := idFor(m.next)
	conv := &model.Conversation{
		ID:               id,
		Location:         location,
		Participants:     append([]string{}, participants...),
		TurnCounts:       make(map[string]int),
		MaxTurnsPerAgent: defaultMaxTurns,
		Status:           model.ConversationActive,
	}
	m.byID[id] = conv
	m.byLoc[location] = id
	return conv
}

func (m *Manager) end(conv *model.Conversation) {
	conv.Status = model.ConversationEnded
	if m.byLoc[conv.Location] == conv.ID {
		delete(m.byLoc, conv.Location)
	}
}

// AtLocation returns the live (active or paused) conversation at loc, if any.
func (m *Manager) AtLocation(loc string) (*model.Conversation, bool) {
	id, ok := m.byLoc[loc]
	if !ok {
		return nil, false
	}
	return m.byID[id], true
}

// Get returns a conversation by id.
func (m *Manager) Get(id string) (*model.Conversation, bool) {
	conv, ok := m.byID[id]
	return conv, ok
}

// CurrentSpeaker returns the participant whose turn it is.
func (m *Manager) CurrentSpeaker(conv *model.Conversation) string {
	if len(conv.Participants) == 0 {
		return ""
	}
	idx := conv.CurrentSpeakerIndex % len(conv.Participants)
	return conv.Participants[idx]
}

// AdvanceTurn moves to the next participant regardless of whether the
// current speaker chose to speak (§4.3: "no starvation"), records a turn for
// the agent that just had the floor, and ends the conversation if that
// agent has now exceeded max_turns_per_agent.
func (m *Manager) AdvanceTurn(conv *model.Conversation, speaker string) {
	conv.TurnCounts[speaker]++
	if len(conv.Participants) > 0 {
		conv.CurrentSpeakerIndex = (conv.CurrentSpeakerIndex + 1) % len(conv.Participants)
	}
	if conv.TurnCounts[speaker] > conv.MaxTurnsPerAgent {
		m.end(conv)
	}
}

// RecordMessage marks a participant message, resuming a paused conversation
// and resetting its idle counter.
func (m *Manager) RecordMessage(conv *model.Conversation) {
	if conv.Status == model.ConversationPaused {
		conv.Status = model.ConversationActive
	}
	conv.IdleTicks = 0
}

// Tick advances idle bookkeeping for every active conversation that received
// no participant message this tick; call once per tick after processing all
// agents, passing the set of conversation ids that saw a message.
func (m *Manager) Tick(spokeIn map[string]bool) {
	for _, conv := range m.byID {
		if conv.Status != model.ConversationActive {
			continue
		}
		if spokeIn[conv.ID] {
			conv.IdleTicks = 0
			continue
		}
		conv.IdleTicks++
		if conv.IdleTicks >= idleTicksBeforePause {
			conv.Status = model.ConversationPaused
		}
	}
}

// Join adds agentID to the conversation at loc, if one is live and the
// agent isn't already a participant. Returns false if no conversation
// exists there.
func (m *Manager) Join(loc, agentID string) bool {
	conv, ok := m.AtLocation(loc)
	if !ok {
		return false
	}
	if contains(conv.Participants, agentID) {
		return true
	}
	conv.Participants = append(conv.Participants, agentID)
	return true
}

// Leave removes agentID from its conversation, ending it if fewer than 2
// participants remain.
func (m *Manager) Leave(agentID string) {
	for _, conv := range m.byID {
		if conv.Status == model.ConversationEnded {
			continue
		}
		if !contains(conv.Participants, agentID) {
			continue
		}
		conv.Participants = remove(conv.Participants, agentID)
		if len(conv.Participants) < 2 {
			m.end(conv)
		}
	}
}

func idFor(n int) string {
	return "conv-" + strconv.Itoa(n)
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func remove(ss []string, s string) []string {
	out := make([]string, 0, len(ss))
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
