// Package cooperation implements the shared-goals, task, and vote tracking
// described in SPEC_FULL.md §4.4. The coordinator is owned by the engine and
// mutated only inside a tick, so — like the location graph — it carries no
// internal locking.
package cooperation

import (
	"strconv"

	"github.com/emotionsim/engine/internal/model"
)

// Coordinator tracks a run's shared goals, task table, and vote history.
type Coordinator struct {
	goals    []string
	tasks    map[string]*model.Task
	votes    map[string]*model.Vote
	nextTask int
	nextVote int
}

// New creates a Coordinator seeded with the run's initial shared goals
// (derived once, at run start, from participating personas/templates).
func New(initialGoals []string) *Coordinator {
	return &Coordinator{
		goals: append([]string{}, initialGoals...),
		tasks: make(map[string]*model.Task),
		votes: make(map[string]*model.Vote),
	}
}

// Goals returns the current shared-goals list.
func (c *Coordinator) Goals() []string { return c.goals }

// ProposeTask creates a task in the proposed state, visible to all agents
// starting next tick.
func (c *Coordinator) ProposeTask(agentID, description string, priority int, skills []string, step int) *model.Task {
	c.nextTask++
	t := &model.Task{
		ID:              idFor("task", c.nextTask),
		Description:     description,
		Priority:        priority,
		Status:          model.TaskProposed,
		RequiredSkills:  skills,
		ProposedByAgent: agentID,
		ProposedAtStep:  step,
	}
	c.tasks[t.ID] = t
	return t
}

// AcceptTask adds agentID to the task's assigned_agents; a proposed task
// with at least one assignee moves to in_progress. Returns false if taskID
// is unknown.
func (c *Coordinator) AcceptTask(agentID, taskID string) bool {
	t, ok := c.tasks[taskID]
	if !ok {
		return false
	}
	if !contains(t.AssignedAgents, agentID) {
		t.AssignedAgents = append(t.AssignedAgents, agentID)
	}
	if t.Status == model.TaskProposed && len(t.AssignedAgents) > 0 {
		t.Status = model.TaskInProgress
	}
	return true
}

// ReportProgress updates a task's progress, clamped to [0,100]. Reaching
// 100, or an explicit "completed" status, marks the task complete. Returns
// false if taskID is unknown.
func (c *Coordinator) ReportProgress(taskID string, progress int, status string) bool {
	t, ok := c.tasks[taskID]
	if !ok {
		return false
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	if progress >= 100 || status == string(model.TaskCompleted) {
		t.Status = model.TaskCompleted
		t.Progress = 100
	} else if t.Status != model.TaskCompleted {
		t.Status = model.TaskInProgress
	}
	return true
}

// Task returns a task by id.
func (c *Coordinator) Task(id string) (*model.Task, bool) {
	t, ok := c.tasks[id]
	return t, ok
}

// Tasks returns every task in the table.
func (c *Coordinator) Tasks() []*model.Task {
	out := make([]*model.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	return out
}

// CallForVote opens a vote visible to all agents for exactly the next tick.
func (c *Coordinator) CallForVote(proposal string, options []string, step int) *model.Vote {
	c.nextVote++
	v := &model.Vote{
		ID:           idFor("vote", c.nextVote),
		Proposal:     proposal,
		Options:      options,
		Ballots:      make(map[string]string),
		OpenedAtStep: step,
	}
	c.votes[v.ID] = v
	return v
}

// Ballot records agentID's choice on an open vote, via the cast_vote action
// (see agentrt.Execute). Returns false if the vote is unknown, already
// closed, or option is not among the vote's options.
func (c *Coordinator) Ballot(voteID, agentID, option string) bool {
	v, ok := c.votes[voteID]
	if !ok || v.Closed || !contains(v.Options, option) {
		return false
	}
	v.Ballots[agentID] = option
	return true
}

// CloseVotesOpenedBefore closes every still-open vote whose OpenedAtStep is
// strictly before currentStep (i.e. it was open for exactly one full tick),
// tallying the majority option with ties broken by option order. The engine
// calls this once per tick, after all agents have acted.
func (c *Coordinator) CloseVotesOpenedBefore(currentStep int) []*model.Vote {
	var closed []*model.Vote
	for _, v := range c.votes {
		if v.Closed || v.OpenedAtStep >= currentStep {
			continue
		}
		v.Winner = tally(v)
		v.Closed = true
		closed = append(closed, v)
	}
	return closed
}

func tally(v *model.Vote) string {
	counts := make(map[string]int, len(v.Options))
	for _, choice := range v.Ballots {
		counts[choice]++
	}
	best := ""
	bestCount := -1
	for _, opt := range v.Options {
		if counts[opt] > bestCount {
			best = opt
			bestCount = counts[opt]
		}
	}
	return best
}

// Vote returns a vote by id.
func (c *Coordinator) Vote(id string) (*model.Vote, bool) {
	v, ok := c.votes[id]
	return v, ok
}

func idFor(prefix string, n int) string {
	return prefix + "-" + strconv.Itoa(n)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
