package main

import (
	"fmt"

	"github.com/emotionsim/engine/internal/config"
)

// ValidateCmd parses a scenario file and reports the first structural
// problem it finds, without starting a server or any run.
type ValidateCmd struct {
	Scenario string `required:"" help:"Path to the scenario YAML file." type:"path"`
}

func (c *ValidateCmd) Run() error {
	scenario, err := config.LoadScenario(c.Scenario)
	if err != nil {
		return err
	}

	if scenario.World.MaxSteps <= 0 {
		return fmt.Errorf("world.max_steps must be positive, got %d", scenario.World.MaxSteps)
	}
	if len(scenario.Agents) == 0 {
		return fmt.Errorf("scenario declares no agents")
	}

	for _, a := range scenario.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent entry with empty name")
		}
		if a.InitialLocation == "" {
			return fmt.Errorf("agent %s: initial_location is required", a.Name)
		}
		if _, ok := scenario.World.Locations[a.InitialLocation]; !ok {
			return fmt.Errorf("agent %s: initial_location %q is not a declared location", a.Name, a.InitialLocation)
		}
	}

	for id, loc := range scenario.World.Locations {
		for _, nearby := range loc.Nearby {
			if _, ok := scenario.World.Locations[nearby]; !ok {
				return fmt.Errorf("location %s: nearby location %q does not exist", id, nearby)
			}
		}
	}

	fmt.Printf("OK: %s (%d agents, %d locations, max_steps=%d)\n",
		scenario.Name, len(scenario.Agents), len(scenario.World.Locations), scenario.World.MaxSteps)
	return nil
}
