// Package oracle defines the abstract LLM boundary described in
// SPEC_FULL.md §6.3. The engine never talks to a concrete model provider
// directly — it calls an Oracle, treats every field of the result as
// untrusted input, and validates it before any action is executed. Concrete
// provider transports (HTTP calls to OpenAI, Anthropic, etc.) are out of
// scope per spec.md §1; this package only defines the contract, and the
// deterministic scripted oracle for tests lives in subpackage testoracle.
package oracle

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/emotionsim/engine/internal/simerr"
)

// Action is one entry in a Response's actions list.
type Action struct {
	ActionType string         `json:"action_type"`
	Target     string         `json:"target,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Message is the optional outgoing message attached to a Response.
type Message struct {
	Content     string         `json:"content"`
	ToTarget    string         `json:"to_target"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StateChanges carries bounded deltas the agent runtime applies after
// actions, per §4.6. Unset fields are nil and left untouched.
type StateChanges struct {
	Health *int           `json:"health,omitempty"`
	Stress *int           `json:"stress,omitempty"`
	Extra  map[string]any `json:"-"`
}

// Response is the parsed result of one oracle invocation, matching the
// schema in SPEC_FULL.md §4.6.
type Response struct {
	Actions      []Action     `json:"actions"`
	Message      *Message     `json:"message"`
	StateChanges StateChanges `json:"state_changes"`
	Reasoning    string       `json:"reasoning"`
}

// StreamChunk is one token forwarded to the event emitter as
// `stream_token{agent_id, token}` while the oracle is generating.
type StreamChunk struct {
	AgentID string
	Token   string
}

// Request bundles the generate() parameters from §6.3.
type Request struct {
	ModelID     string
	System      string
	Context     string
	Temperature float64
	Tools       []string
}

// Oracle is the abstract LLM boundary. Implementations must surface either
// a Response matching §4.6 or an error — never a partially-valid Response.
type Oracle interface {
	// Generate invokes the model. onToken is called once per emitted token,
	// in order, before Generate returns the final Response.
	Generate(ctx context.Context, req Request, onToken func(StreamChunk)) (Response, error)
}

// validActionTypes enumerates every action_type the engine's action
// executor recognizes, per the table in §4.6.
var validActionTypes = map[string]bool{
	"move": true, "take": true, "drop": true, "use": true, "interact": true,
	"search": true, "speak": true, "wait": true, "reflect": true, "help": true,
	"join_conversation": true, "leave_conversation": true,
	"propose_task": true, "accept_task": true, "report_progress": true, "call_for_vote": true,
	"cast_vote": true, "environment_update": true, "affect_agent": true,
}

// validMessageTypes mirrors model.MessageType's closed set.
var validMessageTypes = map[string]bool{"direct": true, "room": true, "broadcast": true}

// Validate checks a Response against the oracle contract in §6.3 ("the
// engine treats the oracle as untrusted and validates every field"). It
// returns a simerr.KindOracle error describing the first violation found.
func Validate(resp Response) error {
	for i, a := range resp.Actions {
		if !validActionTypes[a.ActionType] {
			return simerr.Oracle("oracle", "validate", "unknown action_type at index "+strconv.Itoa(i)+": "+a.ActionType, nil)
		}
	}
	if resp.Message != nil {
		if resp.Message.ToTarget == "" {
			return simerr.Oracle("oracle", "validate", "message missing to_target", nil)
		}
		if !validMessageTypes[resp.Message.MessageType] {
			return simerr.Oracle("oracle", "validate", "message has unknown message_type: "+resp.Message.MessageType, nil)
		}
	}
	return nil
}

var (
	schemaOnce sync.Once
	schemaJSON string
)

// ResponseSchema renders the §4.6 Response shape as a JSON Schema document,
// included in the oracle's system prompt so the underlying model is
// steered toward the exact fields Validate checks, rather than relying on
// prose alone.
func ResponseSchema() string {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		schema := reflector.Reflect(&Response{})
		raw, err := json.Marshal(schema)
		if err != nil {
			return
		}
		schemaJSON = string(raw)
	})
	return schemaJSON
}
