// Package loopdetect implements the advisory repetition detector from
// SPEC_FULL.md §4.5: it watches each agent's last 5 (action_type, target)
// pairs and conversation-topic summaries, and surfaces a suggestion string
// once a pattern repeats often enough. It never alters an agent's output —
// the suggestion is appended to that agent's next context only.
package loopdetect

const (
	windowSize     = 5
	repeatThreshold = 3
)

// actionKey is the (action_type, target) pair tracked per agent.
type actionKey struct {
	actionType string
	target     string
}

// agentWindow is one agent's rolling history.
type agentWindow struct {
	actions []actionKey
	topics  []string
}

func (w *agentWindow) pushAction(k actionKey) {
	w.actions = append(w.actions, k)
	if len(w.actions) > windowSize {
		w.actions = w.actions[len(w.actions)-windowSize:]
	}
}

func (w *agentWindow) pushTopic(topic string) {
	if topic == "" {
		return
	}
	w.topics = append(w.topics, topic)
	if len(w.topics) > windowSize {
		w.topics = w.topics[len(w.topics)-windowSize:]
	}
}

// Detector tracks every agent's rolling window for a run.
type Detector struct {
	byAgent map[string]*agentWindow
}

// New creates an empty Detector.
func New() *Detector {
	return &Detector{byAgent: make(map[string]*agentWindow)}
}

func (d *Detector) windowFor(agentID string) *agentWindow {
	w, ok := d.byAgent[agentID]
	if !ok {
		w = &agentWindow{}
		d.byAgent[agentID] = w
	}
	return w
}

// RecordAction appends one (action_type, target) observation for agentID.
func (d *Detector) RecordAction(agentID, actionType, target string) {
	d.windowFor(agentID).pushAction(actionKey{actionType: actionType, target: target})
}

// RecordTopic appends a summarized conversation topic for agentID.
func (d *Detector) RecordTopic(agentID, topic string) {
	d.windowFor(agentID).pushTopic(topic)
}

// Suggestion returns an advisory string for agentID if its recent window
// shows the same (action_type, target) pair or topic recurring at least
// repeatThreshold times, and empty string otherwise.
func (d *Detector) Suggestion(agentID string) string {
	w, ok := d.byAgent[agentID]
	if !ok {
		return ""
	}

	if k, ok := mostCommonAction(w.actions); ok {
		return "you appear to be repeating " + k.actionType + " on " + k.target + "; consider a different approach."
	}
	if topic, ok := mostCommonTopic(w.topics); ok {
		return "you appear to be repeating the topic \"" + topic + "\"; consider moving the conversation forward."
	}
	return ""
}

func mostCommonAction(window []actionKey) (actionKey, bool) {
	counts := make(map[actionKey]int)
	for _, k := range window {
		counts[k]++
		if counts[k] >= repeatThreshold {
			return k, true
		}
	}
	return actionKey{}, false
}

func mostCommonTopic(window []string) (string, bool) {
	counts := make(map[string]int)
	for _, topic := range window {
		counts[topic]++
		if counts[topic] >= repeatThreshold {
			return topic, true
		}
	}
	return "", false
}
