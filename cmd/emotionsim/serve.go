package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emotionsim/engine/internal/config"
	"github.com/emotionsim/engine/internal/model"
	"github.com/emotionsim/engine/internal/oracle/testoracle"
	"github.com/emotionsim/engine/internal/server"
	"github.com/emotionsim/engine/internal/store"
	"github.com/emotionsim/engine/internal/telemetry"
)

// ServeCmd starts the Control API server (SPEC_FULL.md §6.1) for the
// scenario at --scenario, persisting to the database described by
// --db-driver/--db-dsn.
type ServeCmd struct {
	Scenario string `required:"" help:"Path to the scenario YAML file." type:"path"`

	Port     int    `help:"Port to listen on." default:"8080"`
	DBDriver string `name:"db-driver" help:"Database driver (sqlite, postgres, mysql)." default:"sqlite"`
	DBDSN    string `name:"db-dsn" help:"Database name/DSN." default:"emotionsim.db"`

	Metrics bool `help:"Enable Prometheus metrics at /metrics."`
	Tracing bool `help:"Enable OpenTelemetry tracing (stdout exporter)."`
	Watch   bool `help:"Reload the scenario file on change and persist the new definition."`
}

// The oracle backing a served run always talks to a real model provider in
// production; wiring that transport is explicitly out of scope (spec.md
// §1's Non-goals name the LLM transport as abstract). An empty Scripted
// stands in so `emotionsim serve` is runnable end to end without one: its
// script is always exhausted, so every agent turn gets an oracle error, is
// reported as agent_error and executes no actions.
func defaultOracle() *testoracle.Scripted {
	return testoracle.New()
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	scenario, err := config.LoadScenario(c.Scenario)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	if scenario.ID == "" {
		return fmt.Errorf("scenario %s: id is required", c.Scenario)
	}
	slog.Info("loaded scenario", "id", scenario.ID, "name", scenario.Name, "agents", len(scenario.Agents))

	dbCfg := &config.DatabaseConfig{Driver: c.DBDriver, Database: c.DBDSN}
	dbCfg.SetDefaults()
	if err := dbCfg.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	pool := config.NewDBPool()
	defer pool.Close()
	db, err := pool.Get(dbCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	st, err := store.New(db, dbCfg.DriverName())
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	if err := st.SaveScenario(ctx, scenario); err != nil {
		return fmt.Errorf("save scenario: %w", err)
	}

	recovered, err := st.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	if len(recovered) > 0 {
		slog.Warn("runs left running at last shutdown were paused; resume them explicitly via the control API",
			"run_ids", recovered)
	}

	metrics := telemetry.NewMetrics(&telemetry.MetricsConfig{Enabled: c.Metrics})
	if _, err := telemetry.InitGlobalTracer(ctx, telemetry.TracerConfig{Enabled: c.Tracing, ServiceName: "emotionsim"}); err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	tracer := telemetry.Tracer("emotionsim/server")

	srv := server.New(st, defaultOracle(), metrics, tracer)

	if c.Watch {
		watcher, err := config.NewWatcher(c.Scenario, func(updated *model.Scenario, err error) {
			if err != nil {
				slog.Error("scenario reload failed", "error", err)
				return
			}
			if saveErr := st.SaveScenario(ctx, updated); saveErr != nil {
				slog.Error("scenario reload: save failed", "error", saveErr)
				return
			}
			slog.Info("scenario reloaded", "id", updated.ID, "name", updated.Name)
		})
		if err != nil {
			return fmt.Errorf("watch scenario: %w", err)
		}
		defer watcher.Close()
	}

	addr := fmt.Sprintf(":%d", c.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
	}()

	fmt.Printf("\nemotionsim server ready\n")
	fmt.Printf("   Control API: http://localhost%s/runs\n", addr)
	if c.Metrics {
		fmt.Printf("   Metrics:     http://localhost%s/metrics\n", addr)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
