// Package config defines the YAML-tagged structures that describe how
// the bridge orchestrator and its daemons should be wired up. Loading
// these from disk, watching them for change, and merging overrides is
// out of scope (spec.md §1 lists "configuration loading" as an
// external collaborator); this package only defines the shapes and a
// small set of defaulting helpers the core relies on.
package config

import (
	"encoding/json"
	"time"
)

// TerminalBackendKind selects which C1 implementation a daemon's pane
// should be created on.
type TerminalBackendKind string

const (
	BackendMultiplexer    TerminalBackendKind = "multiplexer"
	BackendModernEmulator TerminalBackendKind = "modern-emulator"
	BackendNativeOS       TerminalBackendKind = "native-os-terminal"
	BackendAuto           TerminalBackendKind = "auto"
)

// PaneLayout selects how new panes are arranged relative to existing ones.
type PaneLayout string

const (
	LayoutHorizontal PaneLayout = "horizontal"
	LayoutVertical   PaneLayout = "vertical"
	LayoutGrid       PaneLayout = "grid"
)

// SessionLogFormat selects which C2 storage family a log-backed
// daemon's session directory is laid out as.
type SessionLogFormat string

const (
	SessionLogSingleFile SessionLogFormat = "single-file"
	SessionLogMultiFile  SessionLogFormat = "multi-file"
)

// AIConfig is the static per-AI configuration (spec.md §3).
type AIConfig struct {
	Name             string        `yaml:"name" json:"name"`
	CLICommand       string        `yaml:"cliCommand" json:"cliCommand"`
	CLIArgs          []string      `yaml:"cliArgs" json:"cliArgs"`
	IdleTimeoutMs    int           `yaml:"idleTimeoutMs" json:"idleTimeoutMs"`
	RequestTimeoutMs int           `yaml:"requestTimeoutMs" json:"requestTimeoutMs"`
	MaxRetries       int           `yaml:"maxRetries" json:"maxRetries"`
	WorkingDirectory string        `yaml:"workingDirectory" json:"workingDirectory"`
	SplitPreference  PaneLayout    `yaml:"splitPreference" json:"splitPreference"`
	IdleTimeout      time.Duration `yaml:"-" json:"-"`
	RequestTimeout   time.Duration `yaml:"-" json:"-"`

	// SessionLogRoot selects the log-backed daemon variant when
	// non-empty (spec.md §4.4's "Log-backed daemon", scanning this
	// directory per SessionLogFormat); left empty, the daemon falls
	// back to the pane-scrape variant against C1 output directly.
	SessionLogRoot   string           `yaml:"sessionLogRoot" json:"sessionLogRoot"`
	SessionLogFormat SessionLogFormat `yaml:"sessionLogFormat" json:"sessionLogFormat"`
}

// Durations derives time.Duration fields from the millisecond-valued
// YAML fields, applying the defaults called out in spec.md §4.4
// ("idleTimeoutMs default 60s if zero") and §8 ("idleTimeoutMs = 0 is
// treated as the default, not as never").
func (c *AIConfig) Durations() {
	if c.IdleTimeoutMs <= 0 {
		c.IdleTimeout = 60 * time.Second
	} else {
		c.IdleTimeout = time.Duration(c.IdleTimeoutMs) * time.Millisecond
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeout = 30 * time.Second
	} else {
		c.RequestTimeout = time.Duration(c.RequestTimeoutMs) * time.Millisecond
	}
}

// TerminalConfig controls backend selection for pane creation.
type TerminalConfig struct {
	Backend         TerminalBackendKind `yaml:"backend" json:"backend"`
	AutoCreatePanes bool                `yaml:"autoCreatePanes" json:"autoCreatePanes"`
	PaneLayout      PaneLayout          `yaml:"paneLayout" json:"paneLayout"`
}

// DaemonConfig holds the cross-daemon defaults applied when an
// AIConfig leaves a field at its zero value.
type DaemonConfig struct {
	IdleTimeoutMs    int `yaml:"idleTimeoutMs" json:"idleTimeoutMs"`
	MaxRetries       int `yaml:"maxRetries" json:"maxRetries"`
	RequestTimeoutMs int `yaml:"requestTimeoutMs" json:"requestTimeoutMs"`
}

// BridgeConfig is the top-level configuration recognized by the
// orchestrator (spec.md §6, "Configuration (recognized fields)").
type BridgeConfig struct {
	RunDir   string         `yaml:"runDir" json:"runDir"`
	LogLevel string         `yaml:"logLevel" json:"logLevel"`
	AIs      []AIConfig     `yaml:"ais" json:"ais"`
	Terminal TerminalConfig `yaml:"terminal" json:"terminal"`
	Daemon   DaemonConfig   `yaml:"daemon" json:"daemon"`
}

// ApplyDefaults fills AIConfig entries that omitted daemon-level
// fields from the cross-daemon DaemonConfig, then derives durations.
func (b *BridgeConfig) ApplyDefaults() {
	for i := range b.AIs {
		ai := &b.AIs[i]
		if ai.IdleTimeoutMs == 0 {
			ai.IdleTimeoutMs = b.Daemon.IdleTimeoutMs
		}
		if ai.MaxRetries == 0 {
			ai.MaxRetries = b.Daemon.MaxRetries
		}
		if ai.RequestTimeoutMs == 0 {
			ai.RequestTimeoutMs = b.Daemon.RequestTimeoutMs
		}
		ai.Durations()
	}
	if b.Terminal.Backend == "" {
		b.Terminal.Backend = BackendAuto
	}
	if b.Terminal.PaneLayout == "" {
		b.Terminal.PaneLayout = LayoutHorizontal
	}
}

// SessionState is the per-daemon persisted state file described in
// spec.md §6 ("Persisted state files"). Unknown fields are preserved
// across a load-then-rewrite cycle via Extra, so a newer writer's
// fields survive being round-tripped by this version (SPEC_FULL.md §6,
// "forward-compatible: unknown fields are preserved on rewrite").
type SessionState struct {
	BridgeSessionID string    `json:"bridgeSessionId"`
	SessionID       string    `json:"sessionId"`
	ProjectPath     string    `json:"projectPath"`
	PaneID          string    `json:"paneId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Extra holds whatever fields were present in the file on disk
	// that this version doesn't recognize.
	Extra map[string]json.RawMessage `json:"-"`
}

// sessionStateKnownFields lists the json tags UnmarshalJSON/MarshalJSON
// treat as struct fields rather than Extra overflow.
var sessionStateKnownFields = map[string]bool{
	"bridgeSessionId": true,
	"sessionId":       true,
	"projectPath":     true,
	"paneId":          true,
	"updatedAt":       true,
}

// UnmarshalJSON decodes the known fields into their struct slots and
// stashes everything else in Extra.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type knownFields SessionState
	var known knownFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*s = SessionState(known)

	s.Extra = make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if !sessionStateKnownFields[k] {
			s.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes the known fields alongside anything preserved in
// Extra, so a rewrite by this version doesn't drop fields a newer
// writer added.
func (s SessionState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+5)
	for k, v := range s.Extra {
		out[k] = v
	}

	type knownFields SessionState
	known, err := json.Marshal(knownFields(s))
	if err != nil {
		return nil, err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		out[k] = v
	}

	return json.Marshal(out)
}
