package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aibridge/bridge/internal/config"
)

// stateFileName is the name of the per-daemon persisted state file
// under its runtime directory (spec.md §4.4's "{ projectPath,
// bridgeSessionId, sessionId, paneId?, updatedAt }").
const stateFileName = "session.json"

// loadState reads a previously persisted config.SessionState from
// runDir, returning the zero value (not an error) if no state file
// exists yet — a fresh daemon has nothing to rebind to.
func loadState(runDir string) (config.SessionState, error) {
	path := filepath.Join(runDir, stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.SessionState{}, nil
		}
		return config.SessionState{}, fmt.Errorf("read state: %w", err)
	}

	var s config.SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return config.SessionState{}, fmt.Errorf("parse state: %w", err)
	}
	return s, nil
}

// saveState persists state to runDir via write-temp-then-rename so a
// crash mid-write can never leave a half-written, unparseable state
// file behind — this pattern is new relative to the teacher (whose
// internal/bootstrap/state.go writes with a plain os.WriteFile), and is
// called out as such in DESIGN.md: SPEC_FULL.md §6 requires crash-safe
// persistence here that the teacher's own equivalent doesn't attempt.
func saveState(runDir string, s config.SessionState) error {
	s.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	final := filepath.Join(runDir, stateFileName)
	tmp, err := os.CreateTemp(runDir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
