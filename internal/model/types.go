// Package model holds the shared data types for scenarios, runs, agents,
// locations, and the records the simulation engine persists every tick.
package model

import (
	"encoding/json"
	"time"
)

// AgentRole is the closed set of agent role variants the engine dispatches.
type AgentRole string

const (
	RoleHuman       AgentRole = "human"
	RoleEnvironment AgentRole = "environment"
	RoleDesigner    AgentRole = "designer"
	RoleEvaluator   AgentRole = "evaluator"
)

// RunStatus follows the state machine in SPEC_FULL.md §4.7.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunCancelled RunStatus = "cancelled"
	RunError     RunStatus = "error"
)

// IsTerminal reports whether no further ticks may run from this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunStopped, RunCancelled, RunError:
		return true
	default:
		return false
	}
}

// Persona carries the Big-Five traits and behavioral modifiers for a human agent.
type Persona struct {
	Age        int    `yaml:"age,omitempty" json:"age,omitempty"`
	Sex        string `yaml:"sex,omitempty" json:"sex,omitempty"`
	Occupation string `yaml:"occupation,omitempty" json:"occupation,omitempty"`
	Backstory  string `yaml:"backstory,omitempty" json:"backstory,omitempty"`

	// Big-Five traits, each in [0.0, 1.0].
	Openness          float64 `yaml:"openness" json:"openness"`
	Conscientiousness float64 `yaml:"conscientiousness" json:"conscientiousness"`
	Extraversion      float64 `yaml:"extraversion" json:"extraversion"`
	Agreeableness     float64 `yaml:"agreeableness" json:"agreeableness"`
	Neuroticism       float64 `yaml:"neuroticism" json:"neuroticism"`

	// Behavioral modifiers, each in [0.0, 1.0].
	RiskTolerance    float64 `yaml:"risk_tolerance" json:"risk_tolerance"`
	Empathy          float64 `yaml:"empathy" json:"empathy"`
	Leadership       float64 `yaml:"leadership" json:"leadership"`
	Adaptability     float64 `yaml:"adaptability" json:"adaptability"`
	StressResilience float64 `yaml:"stress_resilience" json:"stress_resilience"`
}

// DynamicState is the mutable per-agent state carried across ticks.
type DynamicState struct {
	Location string   `json:"location"`
	Health   int      `json:"health"` // [0,10]
	Stress   int      `json:"stress"` // [0,10]
	Path     []string `json:"path,omitempty"` // remaining hops of an in-progress multi-step travel
}

// Item lives in exactly one container: a Location's Items/HiddenItems list,
// or an AgentInstance's Inventory.
type Item struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Properties  map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Location is a node in the world graph.
type Location struct {
	ID             string   `yaml:"id" json:"id"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Nearby         []string `yaml:"nearby,omitempty" json:"nearby,omitempty"`
	Distance       int      `yaml:"distance,omitempty" json:"distance,omitempty"` // semantic cost, 1-3
	Items          []Item   `yaml:"items,omitempty" json:"items,omitempty"`
	HiddenItems    []Item   `yaml:"hidden_items,omitempty" json:"hidden_items,omitempty"`
	HazardAffected bool     `yaml:"hazard_affected,omitempty" json:"hazard_affected,omitempty"`
}

// AgentTemplate is the immutable per-agent slice of a Scenario.
type AgentTemplate struct {
	Name     string    `yaml:"name" json:"name"`
	Role     AgentRole `yaml:"role" json:"role"`
	ModelID  string    `yaml:"model_id,omitempty" json:"model_id,omitempty"`
	Provider string    `yaml:"provider,omitempty" json:"provider,omitempty"`

	Persona *Persona `yaml:"persona,omitempty" json:"persona,omitempty"` // required for human
	Goals   []string `yaml:"goals,omitempty" json:"goals,omitempty"`

	InitialLocation string `yaml:"initial_location" json:"initial_location"`
	InitialHealth   int    `yaml:"initial_health" json:"initial_health"`
	InitialStress   int    `yaml:"initial_stress" json:"initial_stress"`
	Inventory       []Item `yaml:"inventory,omitempty" json:"inventory,omitempty"`
}

// WorldConfig is the scenario's initial-state and dynamics template.
type WorldConfig struct {
	InitialState map[string]any   `yaml:"initial_state,omitempty" json:"initial_state,omitempty"`
	Dynamics     map[string]any   `yaml:"dynamics,omitempty" json:"dynamics,omitempty"`
	Locations    map[string]*Location `yaml:"-" json:"-"` // decoded from InitialState["locations"]; see config package
	MaxSteps     int              `yaml:"max_steps" json:"max_steps"`
	TickDelay    time.Duration    `yaml:"tick_delay,omitempty" json:"tick_delay,omitempty"`
}

// Scenario is the immutable template a Run is instantiated from.
type Scenario struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	World       WorldConfig     `yaml:"world" json:"world"`
	Agents      []AgentTemplate `yaml:"agents" json:"agents"`
}

// Relationship is one agent's view of another agent.
type Relationship struct {
	TrustLevel       int       `json:"trust_level"` // 0-10
	Sentiment        string    `json:"sentiment"`   // positive|neutral|negative
	InteractionCount int       `json:"interaction_count"`
	Notes            []string  `json:"notes,omitempty"`
	LastInteraction  time.Time `json:"last_interaction,omitempty"`
}

// EpisodicEvent is one entry in an agent's bounded sliding-window memory.
type EpisodicEvent struct {
	Step      int       `json:"step"`
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStatus is the lifecycle state of a Conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationPaused ConversationStatus = "paused"
	ConversationEnded  ConversationStatus = "ended"
)

// Conversation is a round-robin turn-taking context bound to co-location.
type Conversation struct {
	ID                 string             `json:"id"`
	Location           string             `json:"location"`
	Participants       []string           `json:"participants"`
	CurrentSpeakerIndex int               `json:"current_speaker_index"`
	TurnCounts         map[string]int     `json:"turn_counts"`
	MaxTurnsPerAgent   int                `json:"max_turns_per_agent"`
	Status             ConversationStatus `json:"status"`
	IdleTicks          int                `json:"idle_ticks"`
	Transcript         []string           `json:"transcript,omitempty"` // message ids, in emission order
}

// TaskStatus is the lifecycle state of a cooperation Task.
type TaskStatus string

const (
	TaskProposed   TaskStatus = "proposed"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is a shared goal agents can accept and report progress on.
type Task struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"` // 1-10
	Status          TaskStatus `json:"status"`
	AssignedAgents  []string   `json:"assigned_agents,omitempty"`
	RequiredSkills  []string   `json:"required_skills,omitempty"`
	Progress        int        `json:"progress"` // 0-100
	ProposedByAgent string     `json:"proposed_by_agent"`
	ProposedAtStep  int        `json:"proposed_at_step"`
}

// Vote is a cooperation-coordinator proposal open for exactly one tick.
type Vote struct {
	ID          string         `json:"id"`
	Proposal    string         `json:"proposal"`
	Options     []string       `json:"options"`
	Ballots     map[string]string `json:"ballots"` // agent id -> chosen option
	OpenedAtStep int           `json:"opened_at_step"`
	Closed      bool           `json:"closed"`
	Winner      string         `json:"winner,omitempty"`
}

// MessageType is the routing discriminator for a MessageRecord.
type MessageType string

const (
	MessageDirect    MessageType = "direct"
	MessageRoom      MessageType = "room"
	MessageBroadcast MessageType = "broadcast"
)

// BroadcastTarget is the reserved to_target token for broadcast messages.
const BroadcastTarget = "broadcast"

// MessageRecord is one entry in the message bus's durable log.
type MessageRecord struct {
	ID         string         `json:"id"`
	FromAgent  string         `json:"from_agent_id"`
	ToTarget   string         `json:"to_target"`
	Type       MessageType    `json:"message_type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StepIndex  int            `json:"step_index"`
	Sequence   int            `json:"sequence"` // publish order within the step
	Timestamp  time.Time      `json:"timestamp"`
}

// ActionRecord is one agent action as executed within a Step Record.
type ActionRecord struct {
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Success    bool           `json:"success"`
	Reason     string         `json:"reason,omitempty"`
}

// StepMetrics summarizes one tick across active agents.
type StepMetrics struct {
	AvgHealth        float64 `json:"avg_health"`
	AvgStress        float64 `json:"avg_stress"`
	ActiveAgentCount int     `json:"active_agent_count"`
	MessagesSent     int     `json:"messages_sent"`
}

// StepRecord is the durable snapshot of one tick.
type StepRecord struct {
	RunID     string         `json:"run_id"`
	StepIndex int            `json:"step_index"`
	WorldState map[string]any `json:"world_state"`
	Actions   []ActionRecord `json:"actions"`
	Metrics   StepMetrics    `json:"metrics"`
	Timestamp time.Time      `json:"timestamp"`
}

// AgentInstance binds an AgentTemplate to a Run with mutable dynamic state.
type AgentInstance struct {
	Template  AgentTemplate
	State     DynamicState
	Inventory []Item
	IsActive  bool
}

// Run is a single execution instance of a Scenario.
type Run struct {
	ID          string          `json:"id"`
	ScenarioID  string          `json:"scenario_id"`
	Status      RunStatus       `json:"status"`
	CurrentStep int             `json:"current_step"`
	MaxSteps    int             `json:"max_steps"`
	Seed        *int64          `json:"seed,omitempty"`
	WorldState  map[string]any  `json:"world_state"`
	Metrics     StepMetrics     `json:"metrics"`
	Evaluation  json.RawMessage `json:"evaluation,omitempty"` // opaque JSON, see SPEC_FULL §12
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
