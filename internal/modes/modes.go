// Package modes holds game mode configurations: a named question sequence and
// a per-question time limit. The engine never hardcodes a mode; adding one is
// a matter of registering another configuration.
package modes

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Question is a single multiple-choice question.
type Question struct {
	Text    string   `json:"question"`
	Answers []string `json:"answers"`
	Correct int      `json:"correct"`
}

// Mode bundles a question sequence with its pacing.
type Mode struct {
	DisplayName     string     `json:"mode_display_name"`
	TimePerQuestion int        `json:"time_per_question"`
	Questions       []Question `json:"questions"`
}

// Registry maps mode keys to configurations. It is read-only after
// construction, so it needs no locking.
type Registry struct {
	modes map[string]Mode
}

// NewRegistry builds a registry from the given configurations.
func NewRegistry(m map[string]Mode) *Registry {
	copied := make(map[string]Mode, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return &Registry{modes: copied}
}

// Get returns the configuration for key, if registered.
func (r *Registry) Get(key string) (Mode, bool) {
	m, ok := r.modes[key]
	return m, ok
}

// Keys returns the registered mode keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.modes))
	for k := range r.modes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

//go:embed questions_ffa.json
var defaultFFA []byte

// Default returns the built-in registry with the free-for-all question set.
func Default() *Registry {
	var ffa Mode
	if err := json.Unmarshal(defaultFFA, &ffa); err != nil {
		// The embedded file is part of the build; failing to parse it is a bug.
		panic(fmt.Sprintf("modes: embedded question set invalid: %v", err))
	}
	return NewRegistry(map[string]Mode{"ffa": ffa})
}

// LoadFile reads a registry from a JSON file mapping mode keys to
// configurations, e.g. {"ffa": {"mode_display_name": ..., ...}}.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modes: read %s: %w", path, err)
	}
	var m map[string]Mode
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("modes: parse %s: %w", path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("modes: %s defines no modes", path)
	}
	return NewRegistry(m), nil
}
