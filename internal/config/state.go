package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DeviceState is the durable cross-launch device record: the identifier of
// the bonded dispenser, written on connect and cleared on disconnect.
type DeviceState struct {
	Identifier string `yaml:"identifier"`
}

// StateStore persists DeviceState to a YAML file. It implements the
// transport's IdentifierStore.
type StateStore struct {
	path string
}

// NewStateStore creates a store writing to path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load returns the saved peripheral identifier, or "" when none is saved or
// the file is unreadable.
func (s *StateStore) Load() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var state DeviceState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return ""
	}
	return state.Identifier
}

// Save durably records the peripheral identifier.
func (s *StateStore) Save(id string) error {
	data, err := yaml.Marshal(DeviceState{Identifier: id})
	if err != nil {
		return fmt.Errorf("config: marshal device state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: create state dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("config: write device state: %w", err)
	}
	return nil
}

// Clear removes the saved identifier.
func (s *StateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: clear device state: %w", err)
	}
	return nil
}
