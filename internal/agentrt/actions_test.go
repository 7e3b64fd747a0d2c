package agentrt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/location"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/oracle"
)

func newDeps(agents map[string]*model.AgentInstance) Deps {
	emit := events.New("run-1")
	graph := location.NewGraph(map[string]*model.Location{
		"kitchen": {ID: "kitchen", Nearby: []string{"yard"}, Items: []model.Item{{Name: "knife"}}},
		"yard":    {ID: "yard", Nearby: []string{"kitchen"}},
	})
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
	return Deps{
		Graph:        graph,
		FailedCache:  location.NewFailedCache(),
		Bus:          bus.New(emit, locationOf, activeAgents),
		Conversation: conversation.New(),
		Cooperation:  cooperation.New(nil),
		Emit:         emit,
		Agents:       agents,
		WorldState:   map[string]any{},
		Rng:          rand.New(rand.NewSource(1)),
	}
}

func newActiveAgent(loc string) *model.AgentInstance {
	return &model.AgentInstance{
		Template: model.AgentTemplate{Role: model.RoleHuman},
		State:    model.DynamicState{Location: loc, Health: 10, Stress: 0},
		IsActive: true,
	}
}

func TestExecute_MoveUpdatesLocation(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "move", Target: "yard"}}}, d)

	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "yard", agent.State.Location)
}

func TestExecute_TakeMovesItemToInventory(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "take", Target: "knife"}}}, d)

	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	require.Len(t, agent.Inventory, 1)
	assert.Equal(t, "knife", agent.Inventory[0].Name)
}

func TestExecute_TakeMissingItemFails(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "take", Target: "sword"}}}, d)

	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "item absent", recs[0].Reason)
}

func TestExecute_FailingActionDoesNotAbortSubsequent(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{
		{ActionType: "take", Target: "sword"}, // fails
		{ActionType: "take", Target: "knife"}, // succeeds
	}}, d)

	require.Len(t, recs, 2)
	assert.False(t, recs[0].Success)
	assert.True(t, recs[1].Success)
}

func TestExecute_UseHealsClampedToTen(t *testing.T) {
	agent := newActiveAgent("kitchen")
	agent.State.Health = 9
	agent.Inventory = []model.Item{{Name: "potion", Properties: map[string]any{"heal": 5}}}
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "use", Target: "potion"}}}, d)
	assert.Equal(t, 10, agent.State.Health)
}

func TestExecute_HealthZeroDeactivatesAgent(t *testing.T) {
	agent := newActiveAgent("kitchen")
	agent.State.Health = 1
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	delta := -5
	Execute(1, "a", oracle.Response{StateChanges: oracle.StateChanges{Health: &delta}}, d)
	assert.Equal(t, 0, agent.State.Health)
	assert.False(t, agent.IsActive)
}

func TestExecute_HelpAdjustsTargetStressAndHealth(t *testing.T) {
	helper := newActiveAgent("kitchen")
	target := newActiveAgent("kitchen")
	target.State.Stress = 5
	target.State.Health = 5
	d := newDeps(map[string]*model.AgentInstance{"a": helper, "b": target})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "help", Target: "b"}}}, d)
	require.True(t, recs[0].Success)
	assert.Equal(t, 4, target.State.Stress)
	assert.Equal(t, 6, target.State.Health)
}

func TestExecute_HelpFailsWhenTargetElsewhere(t *testing.T) {
	helper := newActiveAgent("kitchen")
	target := newActiveAgent("yard")
	d := newDeps(map[string]*model.AgentInstance{"a": helper, "b": target})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "help", Target: "b"}}}, d)
	assert.False(t, recs[0].Success)
}

func TestExecute_EnvironmentUpdateRequiresEnvironmentRole(t *testing.T) {
	human := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": human})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{
		{ActionType: "environment_update", Parameters: map[string]any{"hazard_level": 3}},
	}}, d)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "permission violation", recs[0].Reason)
	assert.NotContains(t, d.WorldState, "hazard_level")
}

func TestExecute_EnvironmentUpdateAppliedForEnvironmentRole(t *testing.T) {
	env := newActiveAgent("kitchen")
	env.Template.Role = model.RoleEnvironment
	d := newDeps(map[string]*model.AgentInstance{"a": env})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{
		{ActionType: "environment_update", Parameters: map[string]any{"hazard_level": 3}},
	}}, d)
	assert.True(t, recs[0].Success)
	assert.Equal(t, 3, d.WorldState["hazard_level"])
}

func TestExecute_DirectMessageReachesRecipientInbox(t *testing.T) {
	a := newActiveAgent("kitchen")
	b := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": a, "b": b})

	resp := oracle.Response{
		Message: &oracle.Message{Content: "hi", ToTarget: "b", MessageType: "direct"},
	}
	Execute(1, "a", resp, d)

	inbox := d.Bus.Inbox("b", 0)
	require.Len(t, inbox, 1)
	assert.Equal(t, "hi", inbox[0].Content)
}

func TestExecute_SearchRevealsHiddenItems(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})
	loc, _ := d.Graph.Get("kitchen")
	loc.HiddenItems = []model.Item{{Name: "key"}}

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{{ActionType: "search"}}}, d)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	updated, _ := d.Graph.Get("kitchen")
	assert.Contains(t, itemNames(updated.Items), "key")
	assert.Empty(t, updated.HiddenItems)
}

func TestExecute_CastVoteRecordsBallot(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})
	v := d.Cooperation.CallForVote("where to eat", []string{"kitchen", "yard"}, 1)

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{
		{ActionType: "cast_vote", Target: v.ID, Parameters: map[string]any{"option": "yard"}},
	}}, d)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)

	closed := d.Cooperation.CloseVotesOpenedBefore(2)
	require.Len(t, closed, 1)
	assert.Equal(t, "yard", closed[0].Winner)
}

func TestExecute_CastVoteFailsForUnknownVote(t *testing.T) {
	agent := newActiveAgent("kitchen")
	d := newDeps(map[string]*model.AgentInstance{"a": agent})

	recs := Execute(1, "a", oracle.Response{Actions: []oracle.Action{
		{ActionType: "cast_vote", Target: "vote-404", Parameters: map[string]any{"option": "yard"}},
	}}, d)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
}

func itemNames(items []model.Item) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}
