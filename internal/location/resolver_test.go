package location

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/model"
)

func newTestGraph(locs map[string]*model.Location) *Graph {
	return NewGraph(locs)
}

func collectEvents(e *events.Emitter) *[]events.Event {
	var got []events.Event
	e.Subscribe(events.SinkFunc(func(evt events.Event) {
		got = append(got, evt)
	}))
	return &got
}

func TestResolveMove_NoOpAtCurrentLocation(t *testing.T) {
	g := newTestGraph(map[string]*model.Location{
		"a": {ID: "a", Nearby: []string{"b"}},
		"b": {ID: "b", Nearby: []string{"a"}},
	})
	emit := events.New("run-1")
	got := collectEvents(emit)
	rng := rand.New(rand.NewSource(1))

	outcome := ResolveMove(g, rng, NewFailedCache(), emit, "agent-1", "a", "a")

	require.Equal(t, OutcomeMoved, outcome.Kind)
	assert.Equal(t, "a", outcome.NewLoc)
	assert.Empty(t, *got, "moving to the current location emits no event")
}

func TestResolveMove_AdjacentTeleports(t *testing.T) {
	g := newTestGraph(map[string]*model.Location{
		"a": {ID: "a", Nearby: []string{"b"}},
		"b": {ID: "b", Nearby: []string{"a"}},
	})
	emit := events.New("run-1")
	got := collectEvents(emit)
	rng := rand.New(rand.NewSource(1))

	outcome := ResolveMove(g, rng, NewFailedCache(), emit, "agent-1", "a", "b")

	require.Equal(t, OutcomeMoved, outcome.Kind)
	assert.Equal(t, "b", outcome.NewLoc)
	require.Len(t, *got, 1)
	assert.Equal(t, events.TypeAgentMoved, (*got)[0].Type)
}

func TestResolveMove_DynamicCreation(t *testing.T) {
	g := newTestGraph(map[string]*model.Location{
		"a": {ID: "a", Nearby: []string{"b"}},
		"b": {ID: "b", Nearby: []string{"a"}},
	})
	emit := events.New("run-1")
	got := collectEvents(emit)
	rng := rand.New(rand.NewSource(42))

	outcome := ResolveMove(g, rng, NewFailedCache(), emit, "agent-1", "a", "z")

	require.Equal(t, OutcomeCreated, outcome.Kind)
	assert.Equal(t, "z", outcome.NewLoc)
	require.True(t, g.Has("z"))
	loc, _ := g.Get("z")
	assert.GreaterOrEqual(t, loc.Distance, 1)
	assert.LessOrEqual(t, loc.Distance, 3)
	assert.Contains(t, loc.Nearby, "a")

	aLoc, _ := g.Get("a")
	assert.Contains(t, aLoc.Nearby, "z", "adjacency must be bidirectional")

	require.Len(t, *got, 2)
	assert.Equal(t, events.TypeLocationCreated, (*got)[0].Type)
	assert.Equal(t, events.TypeAgentMoved, (*got)[1].Type)
}

func TestResolveMove_UnreachableSuppressesRepeatedEvent(t *testing.T) {
	// a <-> b, q is declared but unreachable within maxBFSDepth (isolated node).
	g := newTestGraph(map[string]*model.Location{
		"a": {ID: "a", Nearby: []string{"b"}},
		"b": {ID: "b", Nearby: []string{"a"}},
		"q": {ID: "q"},
	})
	emit := events.New("run-1")
	got := collectEvents(emit)
	rng := rand.New(rand.NewSource(1))
	cache := NewFailedCache()

	first := ResolveMove(g, rng, cache, emit, "agent-1", "a", "q")
	require.Equal(t, OutcomeFailed, first.Kind)
	require.Len(t, *got, 1)
	assert.Equal(t, events.TypeMovementFailed, (*got)[0].Type)

	second := ResolveMove(g, rng, cache, emit, "agent-1", "a", "q")
	require.Equal(t, OutcomeFailed, second.Kind)
	assert.Len(t, *got, 1, "second attempt in the same tick emits nothing")
}

func TestResolveMove_MultiHopTravel(t *testing.T) {
	g := newTestGraph(map[string]*model.Location{
		"a": {ID: "a", Nearby: []string{"b"}},
		"b": {ID: "b", Nearby: []string{"a", "c"}},
		"c": {ID: "c", Nearby: []string{"b", "d"}},
		"d": {ID: "d", Nearby: []string{"c"}},
	})
	emit := events.New("run-1")
	got := collectEvents(emit)
	rng := rand.New(rand.NewSource(1))

	outcome := ResolveMove(g, rng, NewFailedCache(), emit, "agent-1", "a", "d")

	require.Equal(t, OutcomeTravelling, outcome.Kind)
	assert.Equal(t, "b", outcome.NextHop)
	assert.Equal(t, []string{"c", "d"}, outcome.Remaining)

	require.Len(t, *got, 2)
	assert.Equal(t, events.TypeTravelStarted, (*got)[0].Type)
	assert.Equal(t, events.TypeAgentMoved, (*got)[1].Type)

	next, rest, arrived := ContinueTravel(emit, "agent-1", "b", outcome.Remaining, false)
	assert.Equal(t, "c", next)
	assert.Equal(t, []string{"d"}, rest)
	assert.False(t, arrived)

	next, rest, arrived = ContinueTravel(emit, "agent-1", "c", rest, false)
	assert.Equal(t, "d", next)
	assert.Empty(t, rest)
	assert.True(t, arrived)
}

func TestBFS_TieBreakByAdjacencyOrder(t *testing.T) {
	g := newTestGraph(map[string]*model.Location{
		"a": {ID: "a", Nearby: []string{"b", "c"}},
		"b": {ID: "b", Nearby: []string{"a", "d"}},
		"c": {ID: "c", Nearby: []string{"a", "d"}},
		"d": {ID: "d", Nearby: []string{"b", "c"}},
	})
	path := BFS(g, "a", "d", maxBFSDepth)
	require.NotNil(t, path)
	assert.Equal(t, []string{"a", "b", "d"}, path)
}
