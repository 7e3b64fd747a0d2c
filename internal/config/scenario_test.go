package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/model"
)

func TestExpandEnv_BracedVariable(t *testing.T) {
	t.Setenv("EMOTIONSIM_TEST_HOST", "db.internal")
	assert.Equal(t, "host=db.internal", ExpandEnv("host=${EMOTIONSIM_TEST_HOST}"))
}

func TestExpandEnv_SimpleVariable(t *testing.T) {
	t.Setenv("EMOTIONSIM_TEST_HOST", "db.internal")
	assert.Equal(t, "host=db.internal", ExpandEnv("host=$EMOTIONSIM_TEST_HOST"))
}

func TestExpandEnv_DefaultUsedWhenUnset(t *testing.T) {
	os.Unsetenv("EMOTIONSIM_TEST_MISSING")
	assert.Equal(t, "port=5432", ExpandEnv("port=${EMOTIONSIM_TEST_MISSING:-5432}"))
}

func TestExpandEnv_DefaultIgnoredWhenSet(t *testing.T) {
	t.Setenv("EMOTIONSIM_TEST_PORT", "6543")
	assert.Equal(t, "port=6543", ExpandEnv("port=${EMOTIONSIM_TEST_PORT:-5432}"))
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	err := LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
	assert.NoError(t, err)
}

const testScenarioYAML = `
id: coastal-survival
name: Coastal Survival
world:
  max_steps: 50
  tick_delay: 0s
  initial_state:
    hazard_level: 2
    locations:
      dock:
        id: dock
        description: A weathered wooden dock.
        nearby: [shore]
        distance: 1
      shore:
        id: shore
        description: Sand and driftwood.
        nearby: [dock]
        distance: 1
agents:
  - name: Avery
    role: human
    model_id: ${EMOTIONSIM_TEST_MODEL:-gpt-4o-mini}
    initial_location: dock
`

func TestLoadScenario_ParsesAndDecodesLocations(t *testing.T) {
	os.Unsetenv("EMOTIONSIM_TEST_MODEL")
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenarioYAML), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "coastal-survival", scenario.ID)
	assert.Equal(t, 50, scenario.World.MaxSteps)
	assert.Equal(t, "gpt-4o-mini", scenario.Agents[0].ModelID, "default applies when env var is unset")

	require.Len(t, scenario.World.Locations, 2)
	dock, ok := scenario.World.Locations["dock"]
	require.True(t, ok)
	assert.Equal(t, "dock", dock.ID, "map key back-fills Location.ID")
	assert.Equal(t, []string{"shore"}, dock.Nearby)
}

func TestLoadScenario_EnvOverridesDefault(t *testing.T) {
	t.Setenv("EMOTIONSIM_TEST_MODEL", "claude-haiku")
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenarioYAML), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku", scenario.Agents[0].ModelID)
}

func TestLoadScenario_MissingFileErrors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadScenario_NoLocationsYieldsEmptyMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: bare\nname: Bare\nworld:\n  max_steps: 1\nagents: []\n"), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Empty(t, scenario.World.Locations)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenarioYAML), 0o644))

	changed := make(chan string, 1)
	w, err := NewWatcher(path, func(s *model.Scenario, err error) {
		if err == nil {
			changed <- s.Name
		}
	})
	require.NoError(t, err)
	defer w.Close()

	updated := testScenarioYAML + "\n" // trivial rewrite to trigger a Write event
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case name := <-changed:
		assert.Equal(t, "Coastal Survival", name)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe the file rewrite in time")
	}
}
