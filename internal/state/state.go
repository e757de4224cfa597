// Package state persists what the dashboard was looking at between runs.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// State is the persisted UI state. Unknown instance names and out of range
// values are tolerated; the UI falls back to its defaults for them.
type State struct {
	SelectedInstance string `yaml:"selected_instance,omitempty"`
	ActiveTab        int    `yaml:"active_tab"`

	// Event log filters; empty means no filter
	EventCategory string `yaml:"event_category,omitempty"`
	MinSeverity   string `yaml:"min_severity,omitempty"`
	EventFollow   bool   `yaml:"event_follow"`

	BoardColumn int `yaml:"board_column"`

	WindowWidth  int `yaml:"window_width,omitempty"`
	WindowHeight int `yaml:"window_height,omitempty"`
}

// DefaultState returns a new state with default values
func DefaultState() *State {
	return &State{EventFollow: true}
}

// Path returns $XDG_STATE_HOME/lazyops/ui.yml
func Path() (string, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "lazyops", "ui.yml"), nil
}

func resolve(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return Path()
}

// Load reads the state at path (or Path when empty). The defaults are
// always returned usable, even alongside an error.
func Load(path string) (*State, error) {
	path, err := resolve(path)
	if err != nil {
		return DefaultState(), err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return DefaultState(), err
	}

	st := DefaultState()
	if err := yaml.Unmarshal(data, st); err != nil {
		return DefaultState(), fmt.Errorf("parse %s: %w", path, err)
	}
	return st, nil
}

// Save writes st to path (or Path when empty) via a temp file and rename
func Save(st *State, path string) error {
	path, err := resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
