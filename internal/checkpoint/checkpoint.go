// Package checkpoint persists small resumption state (an OAI-PMH
// resumption token and page counter) as a single-writer JSON file with
// atomic replace-on-write semantics, per spec §5 "Global state".
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// OAIState is the persisted resumption state for the P1 harvester.
type OAIState struct {
	RunID           string `json:"run_id"`
	ResumptionToken string `json:"resumption_token"`
	Page            int    `json:"page"`
}

// NewRunID mints a fresh identifier for one harvest run, carried in every
// checkpoint written during that run so log lines from a crash and the
// resumed run that picks it back up can be correlated even though they are
// separate process invocations with no shared in-memory state.
func NewRunID() string {
	return uuid.NewString()
}

// Load reads the checkpoint file at path. A missing file is not an error —
// it returns (nil, nil), meaning "start fresh".
func Load(path string) (*OAIState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var state OAIState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &state, nil
}

// Save atomically replaces the checkpoint file's contents (write to a temp
// file in the same directory, then rename).
func Save(path string, state OAIState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file. Called on successful completion of a
// harvest so a future run starts fresh; a missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint %s: %w", path, err)
	}
	return nil
}
