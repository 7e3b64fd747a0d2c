package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsEmptyResponse(t *testing.T) {
	assert.NoError(t, Validate(Response{}))
}

func TestValidate_RejectsUnknownActionType(t *testing.T) {
	err := Validate(Response{Actions: []Action{{ActionType: "teleport_instantly"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action_type")
}

func TestValidate_AcceptsKnownActionTypes(t *testing.T) {
	err := Validate(Response{Actions: []Action{{ActionType: "move", Target: "yard"}, {ActionType: "wait"}}})
	assert.NoError(t, err)
}

func TestValidate_RejectsMessageMissingToTarget(t *testing.T) {
	err := Validate(Response{Message: &Message{Content: "hi", MessageType: "direct"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to_target")
}

func TestValidate_RejectsUnknownMessageType(t *testing.T) {
	err := Validate(Response{Message: &Message{Content: "hi", ToTarget: "agent-2", MessageType: "telepathy"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message_type")
}

func TestValidate_AcceptsWellFormedMessage(t *testing.T) {
	err := Validate(Response{Message: &Message{Content: "hi", ToTarget: "agent-2", MessageType: "direct"}})
	assert.NoError(t, err)
}
