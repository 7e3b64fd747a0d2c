// Package bus implements the message bus described in SPEC_FULL.md §4.2:
// direct/room/broadcast routing, insertion-ordered history, and per-agent
// inbox views. The bus is owned by the simulation engine and mutated only
// from within the active agent's turn (§5), so it carries no locking.
package bus

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/model"
)

// LocationLookup resolves an agent's current location, used to route room
// messages without the bus importing the engine's agent-state types.
type LocationLookup func(agentID string) (location string, active bool)

// ActiveAgentsFunc lists every currently active agent id, used for broadcast.
type ActiveAgentsFunc func() []string

// Bus is the run-scoped message log and per-agent inbox index.
type Bus struct {
	log      []model.MessageRecord
	inbox    map[string][]int // agent id -> indices into log
	sequence int

	locationOf  LocationLookup
	activeAgents ActiveAgentsFunc
	emit        *events.Emitter
}

// New creates a Bus. locationOf and activeAgents let the bus resolve room
// and broadcast recipients against live engine state without taking a
// dependency on the engine package.
func New(emit *events.Emitter, locationOf LocationLookup, activeAgents ActiveAgentsFunc) *Bus {
	return &Bus{
		inbox:        make(map[string][]int),
		locationOf:   locationOf,
		activeAgents: activeAgents,
		emit:         emit,
	}
}

// Publish routes a message per its Type and appends it to the durable log.
// Delivery is synchronous: by the time Publish returns, every current
// recipient's inbox includes the message.
func (b *Bus) Publish(step int, from, toTarget string, typ model.MessageType, content string, metadata map[string]any) model.MessageRecord {
	rec := model.MessageRecord{
		ID:        uuid.NewString(),
		FromAgent: from,
		ToTarget:  toTarget,
		Type:      typ,
		Content:   content,
		Metadata:  metadata,
		StepIndex: step,
		Sequence:  b.sequence,
		Timestamp: time.Now(),
	}
	b.sequence++

	idx := len(b.log)
	b.log = append(b.log, rec)

	for _, recipient := range b.recipients(rec) {
		b.inbox[recipient] = append(b.inbox[recipient], idx)
	}

	if b.emit != nil {
		b.emit.Emit(events.TypeMessage, rec)
	}
	return rec
}

func (b *Bus) recipients(rec model.MessageRecord) []string {
	switch rec.Type {
	case model.MessageDirect:
		return []string{rec.ToTarget}
	case model.MessageRoom:
		var out []string
		for _, agentID := range b.knownAgents() {
			loc, active := b.locationOf(agentID)
			if active && loc == rec.ToTarget {
				out = append(out, agentID)
			}
		}
		return out
	case model.MessageBroadcast:
		return b.activeAgentsOrEmpty()
	default:
		return nil
	}
}

func (b *Bus) knownAgents() []string {
	return b.activeAgentsOrEmpty()
}

func (b *Bus) activeAgentsOrEmpty() []string {
	if b.activeAgents == nil {
		return nil
	}
	return b.activeAgents()
}

// Inbox returns the last n messages addressed to agentID, oldest first, in
// insertion order (fairness guarantee of §4.2). n<=0 returns the full inbox.
func (b *Bus) Inbox(agentID string, n int) []model.MessageRecord {
	indices := b.inbox[agentID]
	if n > 0 && len(indices) > n {
		indices = indices[len(indices)-n:]
	}
	out := make([]model.MessageRecord, 0, len(indices))
	for _, idx := range indices {
		out = append(out, b.log[idx])
	}
	return out
}

// Filter narrows History by agent, room, or step range. Zero values mean
// "no constraint" for that field.
type Filter struct {
	AgentID      string // message sent OR received by this agent
	Room         string // message routed to this room (ToTarget for room type)
	StepFrom     int
	StepTo       int // 0 means unbounded
}

// History returns messages matching filter, ordered by (step_index, publish
// sequence) per §4.2. Publish already assigns sequence monotonically, so
// this is a stable sort rather than a strict requirement in the common case
// of in-order publication — but callers must not rely on call order alone.
func (b *Bus) History(filter Filter) []model.MessageRecord {
	var out []model.MessageRecord
	for _, rec := range b.log {
		if filter.StepFrom != 0 && rec.StepIndex < filter.StepFrom {
			continue
		}
		if filter.StepTo != 0 && rec.StepIndex > filter.StepTo {
			continue
		}
		if filter.Room != "" && !(rec.Type == model.MessageRoom && rec.ToTarget == filter.Room) {
			continue
		}
		if filter.AgentID != "" && rec.FromAgent != filter.AgentID && rec.ToTarget != filter.AgentID {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StepIndex != out[j].StepIndex {
			return out[i].StepIndex < out[j].StepIndex
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// Len returns the total number of messages ever published on this bus.
func (b *Bus) Len() int { return len(b.log) }
