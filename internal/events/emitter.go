// Package events implements the typed event fan-out described in
// SPEC_FULL.md §4.8: subscribers register a callback, the emitter invokes
// each synchronously relative to the engine, and a full subscriber buffer
// blocks the engine rather than drops an event (persistence-first
// discipline, per the DESIGN NOTES).
package events

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Type is one of the event names required by SPEC_FULL.md §6.2.
type Type string

const (
	TypeConnected       Type = "connected"
	TypeStepStarted     Type = "step_started"
	TypeStepCompleted   Type = "step_completed"
	TypeMessage         Type = "message"
	TypeAgentAction     Type = "agent_action"
	TypeAgentMoved      Type = "agent_moved"
	TypeMovementFailed  Type = "movement_failed"
	TypeAgentRerouted   Type = "agent_rerouted"
	TypeAgentTravelling Type = "agent_travelling"
	TypeTravelStarted   Type = "travel_started"
	TypeLocationCreated Type = "location_created"
	TypeItemsRevealed   Type = "items_revealed"
	TypeStateChange     Type = "state_change"
	TypeStreamToken     Type = "stream_token"
	TypeRunStatus       Type = "run_status"
	TypeRunCompleted    Type = "run_completed"
	TypeRunStopped      Type = "run_stopped"
	TypeAgentInteracted Type = "agent_interacted"
	TypeAgentError      Type = "agent_error"
	TypeError           Type = "error"
	TypePing            Type = "ping"
	TypePong            Type = "pong"
)

// Event is the envelope delivered to every subscriber (SPEC_FULL.md §6.2).
type Event struct {
	RunID     string    `json:"run_id"`
	Type      Type      `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events. Buffer is the sink's own responsibility; Deliver is
// called synchronously by the Emitter and must not block indefinitely
// without honoring ctx-style caller discipline — a full sink simply blocks
// the emitter's caller, per the engine's backpressure contract.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Deliver calls f.
func (f SinkFunc) Deliver(e Event) { f(e) }

// Emitter fans an ordered sequence of events out to every registered sink.
// One Emitter is created per Run; the engine is its sole caller.
type Emitter struct {
	mu    sync.RWMutex
	sinks map[int]Sink
	next  int
	runID string
}

// New creates an Emitter for a run.
func New(runID string) *Emitter {
	return &Emitter{sinks: make(map[int]Sink), runID: runID}
}

// Subscribe registers a sink and returns a token for Unsubscribe.
func (e *Emitter) Subscribe(sink Sink) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.sinks[id] = sink
	return id
}

// Unsubscribe removes a previously registered sink. Emit also calls it for
// a sink whose Deliver panics: the panic is recovered and logged, that sink
// is removed, and delivery to the remaining sinks continues.
func (e *Emitter) Unsubscribe(token int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sinks, token)
}

// Emit delivers one event to every current subscriber concurrently, and
// blocks until all have accepted it. A sink that panics is logged and
// dropped rather than propagating into the engine loop. Fanning the
// delivery out concurrently means one slow subscriber's backpressure no
// longer serializes behind every other subscriber's delivery.
func (e *Emitter) Emit(typ Type, data any) {
	evt := Event{RunID: e.runID, Type: typ, Data: data, Timestamp: time.Now()}

	e.mu.RLock()
	targets := make(map[int]Sink, len(e.sinks))
	for k, v := range e.sinks {
		targets[k] = v
	}
	e.mu.RUnlock()

	var g errgroup.Group
	for id, sink := range targets {
		id, sink := id, sink
		g.Go(func() error {
			e.deliverSafely(id, sink, evt)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Emitter) deliverSafely(id int, sink Sink, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event sink panicked; unsubscribing it", "run_id", e.runID, "sink", id, "panic", r)
			e.Unsubscribe(id)
		}
	}()
	sink.Deliver(evt)
}

// BufferedSink is a channel-backed Sink with a bounded buffer, following the
// registry-of-sinks design in SPEC_FULL.md's DESIGN NOTES: the engine
// delivers synchronously, the sink drains asynchronously, and a full
// buffer blocks Deliver (and therefore the engine) rather than drop.
type BufferedSink struct {
	ch chan Event
}

// NewBufferedSink creates a sink with the given buffer capacity.
func NewBufferedSink(capacity int) *BufferedSink {
	return &BufferedSink{ch: make(chan Event, capacity)}
}

// Deliver blocks until the event is queued.
func (b *BufferedSink) Deliver(e Event) { b.ch <- e }

// Events exposes the channel for a consumer to range over.
func (b *BufferedSink) Events() <-chan Event { return b.ch }

// Close closes the underlying channel. Must only be called after the
// emitter has been told to stop delivering to this sink (Unsubscribe).
func (b *BufferedSink) Close() { close(b.ch) }
