// Scenario and server YAML loading, following pkg/config/env.go's
// ${VAR}/${VAR:-default}/$VAR interpolation and pkg/config/koanf_loader.go's
// file-watch idiom, adapted to fsnotify + gopkg.in/yaml.v3 directly (no
// remote backends are needed for a single-process simulation engine).
package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/emotionsim/engine/internal/model"
)

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	envSimple      = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// LoadDotEnv loads key=value pairs from path into the process environment,
// silently skipping a missing file.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ExpandEnv interpolates ${VAR}, ${VAR:-default}, and $VAR references.
func ExpandEnv(s string) string {
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envBraced.FindStringSubmatch(match)[1])
	})
	return envSimple.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envSimple.FindStringSubmatch(match)[1])
	})
}

// LoadScenario reads, env-interpolates, and parses a scenario YAML file,
// then decodes its world_state.locations entry into the typed Locations map
// the engine's location graph expects.
func LoadScenario(path string) (*model.Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	expanded := ExpandEnv(string(raw))

	var scenario model.Scenario
	if err := yaml.Unmarshal([]byte(expanded), &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	locs, err := DecodeLocations(scenario.World.InitialState)
	if err != nil {
		return nil, fmt.Errorf("decode locations in %s: %w", path, err)
	}
	scenario.World.Locations = locs

	return &scenario, nil
}

// DecodeLocations rebuilds the typed location graph from a scenario's
// world_state.locations entry. World.Locations is excluded from the
// Scenario's JSON encoding (it's a derived view, not a stored field), so
// any caller that loads a Scenario from JSON — the store package, in
// particular — must call this again after unmarshaling.
func DecodeLocations(initialState map[string]any) (map[string]*model.Location, error) {
	raw, ok := initialState["locations"]
	if !ok {
		return map[string]*model.Location{}, nil
	}

	asYAML, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var locs map[string]*model.Location
	if err := yaml.Unmarshal(asYAML, &locs); err != nil {
		return nil, err
	}
	for id, loc := range locs {
		loc.ID = id
	}
	return locs, nil
}

// Watcher reloads a scenario file on change, handing the new value to
// OnChange. It never mutates a run already in flight — callers are
// responsible for applying the reloaded scenario only to runs not yet
// started, per SPEC_FULL.md's config section.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	OnChange func(*model.Scenario, error)
	done     chan struct{}
}

// NewWatcher starts watching path for changes, invoking onChange whenever
// the file is rewritten.
func NewWatcher(path string, onChange func(*model.Scenario, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create scenario watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{watcher: fw, path: path, OnChange: onChange, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				scenario, err := LoadScenario(w.path)
				if w.OnChange != nil {
					w.OnChange(scenario, err)
				}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
