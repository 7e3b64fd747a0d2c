// Package store implements the Persistence boundary from SPEC_FULL.md §6.4:
// durable Scenario, Run, and per-tick Step/Message records across
// PostgreSQL, MySQL, and SQLite, following the same database/sql-plus-JSON-
// columns shape as pkg/agent/task_service_sql.go and
// pkg/memory/session_service_sql.go. One Store wraps one *sql.DB obtained
// from config.DBPool; it owns no connection lifecycle of its own.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emotionsim/engine/internal/config"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/simerr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scenarios (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    definition TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(255) PRIMARY KEY,
    scenario_id VARCHAR(255) NOT NULL,
    status VARCHAR(50) NOT NULL,
    current_step INTEGER NOT NULL,
    max_steps INTEGER NOT NULL,
    seed BIGINT,
    world_state TEXT,
    metrics TEXT,
    evaluation TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_scenario_id ON runs(scenario_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS steps (
    run_id VARCHAR(255) NOT NULL,
    step_index INTEGER NOT NULL,
    world_state TEXT,
    actions TEXT,
    metrics TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, step_index)
);

CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    run_id VARCHAR(255) NOT NULL,
    step_index INTEGER NOT NULL,
    sequence INTEGER NOT NULL,
    from_agent VARCHAR(255) NOT NULL,
    to_target VARCHAR(255) NOT NULL,
    message_type VARCHAR(50) NOT NULL,
    content TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_run_step ON messages(run_id, step_index);
`

// Store is the SQL-backed persistence boundary for one (run-id-keyed)
// simulation store, shared across runs.
type Store struct {
	db      *sql.DB
	dialect string // "postgres", "mysql", or "sqlite"
}

// New wraps db, running schema migration before returning.
func New(db *sql.DB, dialect string) (*Store, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		// valid
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return simerr.Persistence("store", "init_schema", "failed to create schema", err)
	}
	return nil
}

// placeholder returns the n-th positional bind parameter for the store's
// dialect: "?" everywhere except postgres, which wants "$n".
func (s *Store) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// SaveScenario upserts a scenario's definition as JSON. SQLite/MySQL use
// INSERT OR REPLACE-equivalent via delete-then-insert for portability across
// all three dialects without relying on driver-specific upsert syntax.
func (s *Store) SaveScenario(ctx context.Context, sc *model.Scenario) error {
	def, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return simerr.Persistence("store", "save_scenario", "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM scenarios WHERE id = ?`), sc.ID); err != nil {
		return simerr.Persistence("store", "save_scenario", "delete existing", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO scenarios (id, name, description, definition, created_at)
VALUES (?, ?, ?, ?, ?)
`), sc.ID, sc.Name, sc.Description, string(def), time.Now())
	if err != nil {
		return simerr.Persistence("store", "save_scenario", "insert", err)
	}
	if err := tx.Commit(); err != nil {
		return simerr.Persistence("store", "save_scenario", "commit", err)
	}
	return nil
}

// GetScenario loads a scenario by id.
func (s *Store) GetScenario(ctx context.Context, id string) (*model.Scenario, error) {
	var def string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT definition FROM scenarios WHERE id = ?`), id).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scenario not found: %s", id)
	}
	if err != nil {
		return nil, simerr.Persistence("store", "get_scenario", "query", err)
	}
	var sc model.Scenario
	if err := json.Unmarshal([]byte(def), &sc); err != nil {
		return nil, fmt.Errorf("unmarshal scenario: %w", err)
	}
	// World.Locations is excluded from JSON (it's derived, not stored), so
	// rebuild it from the initial_state that did round-trip.
	locs, err := config.DecodeLocations(sc.World.InitialState)
	if err != nil {
		return nil, fmt.Errorf("decode locations for scenario %s: %w", id, err)
	}
	sc.World.Locations = locs
	return &sc, nil
}

// SaveRun inserts a new run row.
func (s *Store) SaveRun(ctx context.Context, run *model.Run) error {
	ws, metrics, eval, err := marshalRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO runs (id, scenario_id, status, current_step, max_steps, seed, world_state, metrics, evaluation, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`), run.ID, run.ScenarioID, string(run.Status), run.CurrentStep, run.MaxSteps, run.Seed, ws, metrics, eval, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return simerr.Persistence("store", "save_run", "insert", err)
	}
	return nil
}

// UpdateRun persists the current mutable state of an existing run row. The
// server calls this after each control command and when a run's loop
// exits; per-step progress is written by PersistStep instead.
func (s *Store) UpdateRun(ctx context.Context, run *model.Run) error {
	ws, metrics, eval, err := marshalRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
UPDATE runs SET status = ?, current_step = ?, world_state = ?, metrics = ?, evaluation = ?, updated_at = ?
WHERE id = ?
`), string(run.Status), run.CurrentStep, ws, metrics, eval, run.UpdatedAt, run.ID)
	if err != nil {
		return simerr.Persistence("store", "update_run", "update", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, scenario_id, status, current_step, max_steps, seed, world_state, metrics, evaluation, created_at, updated_at
FROM runs WHERE id = ?
`), id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, simerr.Persistence("store", "get_run", "scan", err)
	}
	return run, nil
}

// ListRuns returns every run for a scenario, most recently created first.
func (s *Store) ListRuns(ctx context.Context, scenarioID string) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, scenario_id, status, current_step, max_steps, seed, world_state, metrics, evaluation, created_at, updated_at
FROM runs WHERE scenario_id = ? ORDER BY created_at DESC
`), scenarioID)
	if err != nil {
		return nil, simerr.Persistence("store", "list_runs", "query", err)
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, simerr.Persistence("store", "list_runs", "scan", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (*model.Run, error) {
	var run model.Run
	var status string
	var ws, metrics sql.NullString
	var eval sql.NullString
	var seed sql.NullInt64
	if err := r.Scan(&run.ID, &run.ScenarioID, &status, &run.CurrentStep, &run.MaxSteps, &seed, &ws, &metrics, &eval, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if seed.Valid {
		run.Seed = &seed.Int64
	}
	if ws.Valid && ws.String != "" {
		if err := json.Unmarshal([]byte(ws.String), &run.WorldState); err != nil {
			return nil, fmt.Errorf("unmarshal world_state: %w", err)
		}
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &run.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	if eval.Valid {
		run.Evaluation = []byte(eval.String)
	}
	return &run, nil
}

func marshalRun(run *model.Run) (worldState, metrics, evaluation string, err error) {
	wsb, err := json.Marshal(run.WorldState)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal world_state: %w", err)
	}
	mb, err := json.Marshal(run.Metrics)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal metrics: %w", err)
	}
	return string(wsb), string(mb), string(run.Evaluation), nil
}

// PersistStep writes one Step Record and its messages atomically, matching
// the engine.Persister interface. A partial write (step committed, messages
// lost, or vice versa) would desynchronize replay, so both go in one
// transaction.
func (s *Store) PersistStep(ctx context.Context, rec model.StepRecord, msgs []model.MessageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return simerr.Persistence("store", "persist_step", "begin tx", err)
	}
	defer tx.Rollback()

	ws, err := json.Marshal(rec.WorldState)
	if err != nil {
		return fmt.Errorf("marshal world_state: %w", err)
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO steps (run_id, step_index, world_state, actions, metrics, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`), rec.RunID, rec.StepIndex, string(ws), string(actions), string(metrics), time.Now())
	if err != nil {
		return simerr.Persistence("store", "persist_step", "insert step", err)
	}

	for _, m := range msgs {
		meta, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO messages (id, run_id, step_index, sequence, from_agent, to_target, message_type, content, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`), m.ID, rec.RunID, m.StepIndex, m.Sequence, m.FromAgent, m.ToTarget, string(m.Type), m.Content, string(meta), m.Timestamp)
		if err != nil {
			return simerr.Persistence("store", "persist_step", "insert message", err)
		}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE runs SET current_step = ?, metrics = ?, updated_at = ? WHERE id = ?`),
		rec.StepIndex, string(metrics), time.Now(), rec.RunID)
	if err != nil {
		return simerr.Persistence("store", "persist_step", "update run", err)
	}

	if err := tx.Commit(); err != nil {
		return simerr.Persistence("store", "persist_step", "commit", err)
	}
	return nil
}

// GetSteps returns every persisted step for a run, in step order.
func (s *Store) GetSteps(ctx context.Context, runID string) ([]model.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT run_id, step_index, world_state, actions, metrics, created_at
FROM steps WHERE run_id = ? ORDER BY step_index ASC
`), runID)
	if err != nil {
		return nil, simerr.Persistence("store", "get_steps", "query", err)
	}
	defer rows.Close()

	var out []model.StepRecord
	for rows.Next() {
		var rec model.StepRecord
		var ws, actions, metrics string
		if err := rows.Scan(&rec.RunID, &rec.StepIndex, &ws, &actions, &metrics, &rec.Timestamp); err != nil {
			return nil, simerr.Persistence("store", "get_steps", "scan", err)
		}
		if err := json.Unmarshal([]byte(ws), &rec.WorldState); err != nil {
			return nil, fmt.Errorf("unmarshal world_state: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &rec.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetMessages returns every persisted message for a run within [stepFrom,
// stepTo] inclusive, ordered by (step_index, sequence). A zero stepTo means
// unbounded.
func (s *Store) GetMessages(ctx context.Context, runID string, stepFrom, stepTo int) ([]model.MessageRecord, error) {
	query := `
SELECT id, run_id, step_index, sequence, from_agent, to_target, message_type, content, metadata, created_at
FROM messages WHERE run_id = ? AND step_index >= ?`
	args := []any{runID, stepFrom}
	if stepTo > 0 {
		query += ` AND step_index <= ?`
		args = append(args, stepTo)
	}
	query += ` ORDER BY step_index ASC, sequence ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, simerr.Persistence("store", "get_messages", "query", err)
	}
	defer rows.Close()

	var out []model.MessageRecord
	for rows.Next() {
		var m model.MessageRecord
		var runIDCol, typ, meta string
		if err := rows.Scan(&m.ID, &runIDCol, &m.StepIndex, &m.Sequence, &m.FromAgent, &m.ToTarget, &typ, &m.Content, &meta, &m.Timestamp); err != nil {
			return nil, simerr.Persistence("store", "get_messages", "scan", err)
		}
		m.Type = model.MessageType(typ)
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Recover resets every run left in "running" status to "paused", as if an
// operator had paused it just before an unclean shutdown, per SPEC_FULL.md's
// restart semantics: current_step is already durable from the last
// successful PersistStep, so a caller resuming from "paused" replays no
// ticks twice. It returns the ids of every run it touched.
func (s *Store) Recover(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id FROM runs WHERE status = ?`), string(model.RunRunning))
	if err != nil {
		return nil, simerr.Persistence("store", "recover", "query running runs", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, simerr.Persistence("store", "recover", "scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, simerr.Persistence("store", "recover", "iterate", err)
	}

	for _, id := range ids {
		_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`),
			string(model.RunPaused), time.Now(), id)
		if err != nil {
			return nil, simerr.Persistence("store", "recover", "update status", err)
		}
	}
	return ids, nil
}
