// Package terminal implements C1, the pane abstraction over different
// host terminals (spec.md §4.1). A Backend creates and destroys panes,
// injects text into them as though typed, and reads back scrollback.
// Three implementations satisfy the same contract: a multiplexer
// backend (tmux), a modern terminal emulator backend (WezTerm CLI),
// and a native OS terminal backend (Windows Terminal via clipboard).
package terminal

import (
	"context"
	"time"
)

// SplitDirection selects how a new pane is positioned relative to an
// existing one.
type SplitDirection string

const (
	SplitHorizontal SplitDirection = "horizontal"
	SplitVertical   SplitDirection = "vertical"
	SplitNewWindow  SplitDirection = "new-window"
)

// PaneOpts configures pane creation.
type PaneOpts struct {
	WorkingDirectory string
	Split            SplitDirection
	FromPaneID       string // pane to split from; empty means "current" or "new window"
	SplitPercent     int    // 0 means backend default
}

// PaneInfo describes one pane known to a backend (spec.md §3).
type PaneInfo struct {
	ID        string
	Name      string
	Command   string
	CreatedAt time.Time
}

// Backend is the C1 contract every terminal implementation satisfies.
// Every method that talks to a subprocess takes a context so the
// daemon (C4) can bound how long it waits on a wedged host program.
type Backend interface {
	// Name identifies the backend for diagnostics and config selection.
	Name() string

	// Probe performs a cheap no-op capability check (e.g. list panes)
	// used by the factory to decide whether this backend is usable on
	// the current host. Returns bridgeerr.ErrBackendNotAvailable-
	// wrapped errors on failure.
	Probe(ctx context.Context) error

	// CreatePane spawns a new pane running startupCommand and returns
	// its backend-specific identifier.
	CreatePane(ctx context.Context, name, startupCommand string, opts PaneOpts) (string, error)

	// ClosePane is idempotent; closing an already-dead pane is not an error.
	ClosePane(ctx context.Context, paneID string) error

	// ListPanes may include panes this process did not create.
	ListPanes(ctx context.Context) ([]PaneInfo, error)

	// InjectText delivers text as though typed, as one paste block
	// followed by a single submit keystroke (spec.md §4.1).
	InjectText(ctx context.Context, paneID, text string) error

	// SendKeys sends a whitespace-separated sequence of symbolic keys.
	SendKeys(ctx context.Context, paneID, keys string) error

	// IsPaneAlive reports whether the pane's process is still running.
	IsPaneAlive(ctx context.Context, paneID string) (bool, error)

	// GetPaneOutput returns the last `lines` lines of visible scrollback.
	GetPaneOutput(ctx context.Context, paneID string, lines int) (string, error)
}
