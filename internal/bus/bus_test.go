package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/model"
)

func newTestBus(locations map[string]string, active []string) *Bus {
	emit := events.New("run-1")
	locationOf := func(agentID string) (string, bool) {
		loc, ok := locations[agentID]
		return loc, ok
	}
	activeAgents := func() []string { return active }
	return New(emit, locationOf, activeAgents)
}

func TestPublish_DirectDeliversOnlyToRecipient(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen", "c": "yard"}, []string{"a", "b", "c"})

	b.Publish(1, "a", "b", model.MessageDirect, "hello", nil)

	assert.Len(t, b.Inbox("b", 0), 1)
	assert.Empty(t, b.Inbox("a", 0))
	assert.Empty(t, b.Inbox("c", 0))
}

func TestPublish_RoomDeliversToCoLocatedAgentsOnly(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen", "c": "yard"}, []string{"a", "b", "c"})

	b.Publish(1, "a", "kitchen", model.MessageRoom, "hi all", nil)

	assert.Len(t, b.Inbox("a", 0), 1)
	assert.Len(t, b.Inbox("b", 0), 1)
	assert.Empty(t, b.Inbox("c", 0))
}

func TestPublish_RoomExcludesInactiveAgents(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen"}, []string{"a"})

	b.Publish(1, "a", "kitchen", model.MessageRoom, "hi", nil)

	assert.Len(t, b.Inbox("a", 0), 1)
	assert.Empty(t, b.Inbox("b", 0), "inactive agents are excluded from room delivery")
}

func TestPublish_BroadcastDeliversToEveryActiveAgent(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "yard", "c": "yard"}, []string{"a", "b", "c"})

	b.Publish(1, "a", model.BroadcastTarget, model.MessageBroadcast, "everyone listen", nil)

	assert.Len(t, b.Inbox("a", 0), 1)
	assert.Len(t, b.Inbox("b", 0), 1)
	assert.Len(t, b.Inbox("c", 0), 1)
}

func TestInbox_PreservesInsertionOrder(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen"}, []string{"a", "b"})

	first := b.Publish(1, "a", "b", model.MessageDirect, "one", nil)
	second := b.Publish(1, "a", "b", model.MessageDirect, "two", nil)
	third := b.Publish(2, "a", "b", model.MessageDirect, "three", nil)

	inbox := b.Inbox("b", 0)
	require.Len(t, inbox, 3)
	assert.Equal(t, first.ID, inbox[0].ID)
	assert.Equal(t, second.ID, inbox[1].ID)
	assert.Equal(t, third.ID, inbox[2].ID)
}

func TestInbox_LimitReturnsMostRecentN(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen"}, []string{"a", "b"})

	b.Publish(1, "a", "b", model.MessageDirect, "one", nil)
	b.Publish(1, "a", "b", model.MessageDirect, "two", nil)
	third := b.Publish(1, "a", "b", model.MessageDirect, "three", nil)

	inbox := b.Inbox("b", 1)
	require.Len(t, inbox, 1)
	assert.Equal(t, third.ID, inbox[0].ID)
}

func TestHistory_OrdersByStepThenSequence(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen"}, []string{"a", "b"})

	b.Publish(2, "a", "b", model.MessageDirect, "later step", nil)
	b.Publish(1, "a", "b", model.MessageDirect, "earlier step, first", nil)
	b.Publish(1, "a", "b", model.MessageDirect, "earlier step, second", nil)

	hist := b.History(Filter{})
	require.Len(t, hist, 3)
	// History orders by (step_index, sequence) regardless of publish order.
	assert.Equal(t, "earlier step, first", hist[0].Content)
	assert.Equal(t, "earlier step, second", hist[1].Content)
	assert.Equal(t, "later step", hist[2].Content)
}

func TestHistory_FiltersByStepRange(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen"}, []string{"a", "b"})

	b.Publish(1, "a", "b", model.MessageDirect, "step1", nil)
	b.Publish(2, "a", "b", model.MessageDirect, "step2", nil)
	b.Publish(3, "a", "b", model.MessageDirect, "step3", nil)

	hist := b.History(Filter{StepFrom: 2, StepTo: 2})
	require.Len(t, hist, 1)
	assert.Equal(t, "step2", hist[0].Content)
}

func TestHistory_FiltersByAgentAsSenderOrRecipient(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen", "c": "kitchen"}, []string{"a", "b", "c"})

	b.Publish(1, "a", "b", model.MessageDirect, "a to b", nil)
	b.Publish(1, "c", "a", model.MessageDirect, "c to a", nil)
	b.Publish(1, "b", "c", model.MessageDirect, "b to c", nil)

	hist := b.History(Filter{AgentID: "a"})
	require.Len(t, hist, 2)
	assert.Equal(t, "a to b", hist[0].Content)
	assert.Equal(t, "c to a", hist[1].Content)
}

func TestHistory_FiltersByRoom(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "yard"}, []string{"a", "b"})

	b.Publish(1, "a", "kitchen", model.MessageRoom, "room msg", nil)
	b.Publish(1, "a", "b", model.MessageDirect, "direct msg", nil)

	hist := b.History(Filter{Room: "kitchen"})
	require.Len(t, hist, 1)
	assert.Equal(t, "room msg", hist[0].Content)
}

func TestPublish_EmitsMessageEvent(t *testing.T) {
	var got []events.Event
	emit := events.New("run-1")
	emit.Subscribe(events.SinkFunc(func(e events.Event) { got = append(got, e) }))
	locationOf := func(string) (string, bool) { return "kitchen", true }
	b := New(emit, locationOf, func() []string { return []string{"a", "b"} })

	b.Publish(1, "a", "b", model.MessageDirect, "hi", nil)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeMessage, got[0].Type)
}

func TestLen_CountsAllPublishedMessages(t *testing.T) {
	b := newTestBus(map[string]string{"a": "kitchen", "b": "kitchen"}, []string{"a", "b"})
	assert.Equal(t, 0, b.Len())
	b.Publish(1, "a", "b", model.MessageDirect, "x", nil)
	b.Publish(1, "a", "b", model.MessageDirect, "y", nil)
	assert.Equal(t, 2, b.Len())
}
