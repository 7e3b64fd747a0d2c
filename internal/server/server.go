// Package server implements the Control API and Event Stream described in
// SPEC_FULL.md §6.1/§6.2: a chi-routed REST surface over run lifecycle plus
// a gorilla/websocket event subscription endpoint. It is the one concrete
// consumer the spec names for the engine/store/oracle trio; scenario CRUD,
// auth, and the dashboard itself stay out of scope per spec.md's Non-goals.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/emotionsim/engine/internal/engine"
	"github.com/emotionsim/engine/internal/events"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/oracle"
	"github.com/emotionsim/engine/internal/store"
	"github.com/emotionsim/engine/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// liveRun bundles a running Engine with the goroutine driving its Loop.
type liveRun struct {
	eng    *engine.Engine
	emit   *events.Emitter
	cancel context.CancelFunc
}

// Server exposes the simulation engine's run lifecycle over HTTP. One
// Server can host many concurrent runs, each with its own Engine instance
// (§5: distinct Engines share no mutable state).
type Server struct {
	store   *store.Store
	oracle  oracle.Oracle
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	mu   sync.RWMutex
	runs map[string]*liveRun
}

// New builds a Server over a persistence boundary and the oracle every
// engine instance will use for agent turns. A nil tracer defaults to a
// no-op provider, matching engine.New's own default so every call site
// (including the HTTP observability middleware) can invoke it unconditionally.
func New(st *store.Store, orc oracle.Oracle, metrics *telemetry.Metrics, tracer trace.Tracer) *Server {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("emotionsim/server")
	}
	return &Server{store: st, oracle: orc, metrics: metrics, tracer: tracer, runs: make(map[string]*liveRun)}
}

// Routes builds the chi router for the Control API (§6.1) and Event
// Stream (§6.2).
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(s.observability)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Post("/control", s.handleControlRun)
			r.Get("/agents", s.handleGetAgents)
			r.Get("/steps", s.handleGetSteps)
			r.Get("/messages", s.handleGetMessages)
			r.Get("/subscribe", s.handleSubscribe)
		})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { s.metrics.Handler().ServeHTTP(w, r) })

	return r
}

type createRunRequest struct {
	ScenarioID string `json:"scenario_id"`
	Seed       *int64 `json:"seed,omitempty"`
	MaxSteps   int    `json:"max_steps,omitempty"`
}

// handleCreateRun implements create_run: allocates a Run in "pending"
// status and builds (but does not start) its Engine.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.ScenarioID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("scenario_id is required"))
		return
	}

	ctx := r.Context()
	scenario, err := s.store.GetScenario(ctx, req.ScenarioID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	maxSteps := scenario.World.MaxSteps
	if req.MaxSteps > 0 {
		maxSteps = req.MaxSteps
	}

	now := time.Now()
	run := &model.Run{
		ID:         "run-" + uuid.New().String(),
		ScenarioID: req.ScenarioID,
		Status:     model.RunPending,
		MaxSteps:   maxSteps,
		Seed:       req.Seed,
		WorldState: cloneInitialState(scenario.World.InitialState),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	emit := events.New(run.ID)
	eng := engine.New(run, scenario, s.oracle, s.store, emit, engine.WithMetrics(s.metrics), engine.WithTracer(s.tracer))

	s.mu.Lock()
	s.runs[run.ID] = &liveRun{eng: eng, emit: emit}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, run)
}

type controlRequest struct {
	Action string `json:"action"`
}

// handleControlRun implements control_run, starting the Engine's Loop
// goroutine the first time a run transitions out of pending.
func (s *Server) handleControlRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	live, ok := s.liveRun(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s is not live", runID))
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	cmd := engine.Command(req.Action)
	wasPending := live.eng.Run().Status == model.RunPending

	if err := live.eng.Control(cmd); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err := s.store.UpdateRun(r.Context(), live.eng.Run()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if wasPending && cmd == engine.CmdStart {
		s.startLoop(runID, live)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startLoop(runID string, live *liveRun) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	live.cancel = cancel
	s.mu.Unlock()

	go func() {
		live.eng.Loop(ctx)
		_ = s.store.UpdateRun(context.Background(), live.eng.Run())
	}()
}

// handleGetRun implements get_run: the live in-memory Run takes precedence
// over the persisted copy, since it may be ahead of the last PersistStep.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if live, ok := s.liveRun(runID); ok {
		writeJSON(w, http.StatusOK, live.eng.Run())
		return
	}
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.URL.Query().Get("scenario_id")
	runs, err := s.store.ListRuns(r.Context(), scenarioID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetAgents implements get_agents. Dynamic agent state is kept only
// in the live Engine (§6.4 persists Scenario/Run/Step/Message, not a
// per-tick agent snapshot), so this endpoint is only meaningful while the
// run's Engine is resident in this process.
func (s *Server) handleGetAgents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	live, ok := s.liveRun(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s has no live agent state (engine not resident)", runID))
		return
	}
	writeJSON(w, http.StatusOK, live.eng.Agents())
}

func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	steps, err := s.store.GetSteps(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	steps = paginate(steps, r)
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	stepFrom, _ := strconv.Atoi(r.URL.Query().Get("step_from"))
	stepTo, _ := strconv.Atoi(r.URL.Query().Get("step_to"))

	messages, err := s.store.GetMessages(r.Context(), runID, stepFrom, stepTo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		messages = filterByAgent(messages, agentID)
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) liveRun(runID string) (*liveRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.runs[runID]
	return live, ok
}

func filterByAgent(msgs []model.MessageRecord, agentID string) []model.MessageRecord {
	var out []model.MessageRecord
	for _, m := range msgs {
		if m.FromAgent == agentID || m.ToTarget == agentID {
			out = append(out, m)
		}
	}
	return out
}

func paginate[T any](items []T, r *http.Request) []T {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func cloneInitialState(initial map[string]any) map[string]any {
	out := make(map[string]any, len(initial))
	for k, v := range initial {
		if k == "locations" {
			continue // decoded separately into the location graph, not world_state
		}
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
