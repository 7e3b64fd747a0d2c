package location

import (
	"math/rand"

	"github.com/emotionsim/engine/internal/events"
)

// maxBFSDepth bounds pathfinding frontier expansion, per SPEC_FULL.md §4.1.
const maxBFSDepth = 5

// OutcomeKind discriminates the four possible results of ResolveMove.
type OutcomeKind string

const (
	OutcomeMoved      OutcomeKind = "moved"
	OutcomeTravelling OutcomeKind = "travelling"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeCreated    OutcomeKind = "created"
)

// Outcome is the result of resolving one agent's move toward a target.
type Outcome struct {
	Kind       OutcomeKind
	NewLoc     string   // for Moved/Created
	NextHop    string   // for Travelling
	Remaining  []string // for Travelling: hops still to come, NextHop excluded
	Reason     string   // for Failed
}

// FailedCache is the per-step (agent, target) suppression set described in
// SPEC_FULL.md §4.1. The engine clears it at the start of every tick.
type FailedCache map[[2]string]bool

// NewFailedCache returns an empty cache.
func NewFailedCache() FailedCache { return make(FailedCache) }

// ResolveMove implements SPEC_FULL.md §4.1's full algorithm: trivial
// no-op, dynamic creation, BFS with tie-break by adjacency order, teleport
// for adjacent targets, and multi-hop travel state otherwise.
func ResolveMove(g *Graph, rng *rand.Rand, cache FailedCache, emit *events.Emitter, agentID, current, target string) Outcome {
	if target == current {
		return Outcome{Kind: OutcomeMoved, NewLoc: current}
	}

	if !g.Has(target) {
		loc := g.CreateLocation(rng, target, current)
		emit.Emit(events.TypeLocationCreated, map[string]any{
			"agent_id": agentID,
			"location": loc.ID,
			"distance": loc.Distance,
			"from":     current,
		})
		// Treat as adjacent now that it has been created.
		emit.Emit(events.TypeAgentMoved, map[string]any{
			"agent_id":      agentID,
			"from":          current,
			"to":            target,
		})
		return Outcome{Kind: OutcomeCreated, NewLoc: target}
	}

	path := BFS(g, current, target, maxBFSDepth)
	if path == nil {
		key := [2]string{agentID, target}
		if cache[key] {
			return Outcome{Kind: OutcomeFailed, Reason: "unreachable"}
		}
		cache[key] = true
		emit.Emit(events.TypeMovementFailed, map[string]any{
			"agent_id": agentID,
			"target":   target,
			"reason":   "unreachable",
		})
		return Outcome{Kind: OutcomeFailed, Reason: "unreachable"}
	}

	if len(path) == 2 {
		emit.Emit(events.TypeAgentMoved, map[string]any{
			"agent_id": agentID,
			"from":     current,
			"to":       target,
		})
		return Outcome{Kind: OutcomeMoved, NewLoc: target}
	}

	// Multi-hop travel: path[0] is current, path[1] is the first hop.
	nextHop := path[1]
	remaining := append([]string{}, path[2:]...)
	emit.Emit(events.TypeTravelStarted, map[string]any{
		"agent_id": agentID,
		"path":     path,
	})
	emit.Emit(events.TypeAgentMoved, map[string]any{
		"agent_id": agentID,
		"from":     current,
		"to":       nextHop,
	})
	return Outcome{Kind: OutcomeTravelling, NextHop: nextHop, Remaining: remaining}
}

// ContinueTravel advances an agent already mid-journey by one hop along
// remaining (the path kept in dynamic state). Emits agent_rerouted for an
// interrupted path and agent_travelling for ordinary continuation, per
// §4.1. The engine's tick does not call it: an agent's stored Path is not
// advanced on later ticks, so a multi-hop move stops after its first hop.
func ContinueTravel(emit *events.Emitter, agentID, from string, remaining []string, rerouted bool) (nextLoc string, newRemaining []string, arrived bool) {
	if len(remaining) == 0 {
		return from, nil, true
	}
	next := remaining[0]
	rest := remaining[1:]

	eventType := events.TypeAgentTravelling
	if rerouted {
		eventType = events.TypeAgentRerouted
	}
	emit.Emit(eventType, map[string]any{
		"agent_id": agentID,
		"from":     from,
		"to":       next,
		"remaining": rest,
	})
	arrived = len(rest) == 0
	return next, rest, arrived
}

