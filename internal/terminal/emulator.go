package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/aibridge/bridge/internal/bridgeerr"
)

// minOpInterval throttles pane operations so a burst of daemon
// activity cannot lock up the wezterm GUI process.
const minOpInterval = 200 * time.Millisecond

// commandTimeout bounds every wezterm CLI invocation.
const commandTimeout = 10 * time.Second

// wezPaneInfo mirrors the JSON shape of `wezterm cli list --format json`.
type wezPaneInfo struct {
	PaneID   int    `json:"pane_id"`
	Title    string `json:"title"`
	CWD      string `json:"cwd"`
	IsActive bool   `json:"is_active"`
}

// Emulator is the modern-terminal-emulator Backend implementation
// (spec.md §4.1, "Modern terminal emulator backend"), adapted from the
// teacher's internal/wezterm.Ops: rate-limited, timeout-bounded
// invocations of the wezterm CLI, with the mandatory two-step text
// injection (literal paste, then a separate carriage-return send).
type Emulator struct {
	mu         sync.Mutex
	binary     string
	lastPaneOp time.Time
}

// NewEmulator returns a WezTerm-backed Backend. binary is normally
// "wezterm" (resolved via PATH); callers on hosts that ship it under a
// different name can override it.
func NewEmulator(binary string) *Emulator {
	if binary == "" {
		binary = "wezterm"
	}
	return &Emulator{binary: binary}
}

func (e *Emulator) Name() string { return "modern-emulator" }

func (e *Emulator) waitForInterval() {
	elapsed := time.Since(e.lastPaneOp)
	if elapsed < minOpInterval {
		time.Sleep(minOpInterval - elapsed)
	}
	e.lastPaneOp = time.Now()
}

func (e *Emulator) runCommand(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: wezterm command timed out after %v", bridgeerr.ErrTimeout, commandTimeout)
	}
	return output, err
}

func (e *Emulator) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", bridgeerr.ErrBackendNotAvailable, e.binary)
	}
	if _, err := e.ListPanes(ctx); err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrBackendNotAvailable, err)
	}
	return nil
}

func (e *Emulator) CreatePane(ctx context.Context, name, startupCommand string, opts PaneOpts) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitForInterval()

	var args []string
	if opts.Split == SplitNewWindow {
		args = []string{"cli", "spawn", "--new-window"}
	} else {
		args = []string{"cli", "split-pane"}
		switch opts.Split {
		case SplitVertical:
			args = append(args, "--bottom")
		default:
			args = append(args, "--right")
		}
		if opts.FromPaneID != "" {
			args = append(args, "--pane-id", opts.FromPaneID)
		}
		if opts.SplitPercent > 0 {
			args = append(args, "--percent", fmt.Sprintf("%d", opts.SplitPercent))
		}
	}
	if opts.WorkingDirectory != "" {
		args = append(args, "--cwd", opts.WorkingDirectory)
	}
	if startupCommand != "" {
		args = append(args, "--")
		args = append(args, strings.Fields(startupCommand)...)
	}

	log.Printf("[TERMINAL] emulator: creating pane name=%q cmd=%q", name, startupCommand)
	output, err := e.runCommand(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %v (output: %s)", bridgeerr.ErrSpawnFailed, err, string(output))
	}

	paneID := strings.TrimSpace(string(output))
	if paneID == "" {
		return "", fmt.Errorf("%w: empty pane id from wezterm cli", bridgeerr.ErrSpawnFailed)
	}
	return paneID, nil
}

func (e *Emulator) ClosePane(ctx context.Context, paneID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitForInterval()

	output, err := e.runCommand(ctx, "cli", "kill-pane", "--pane-id", paneID)
	if err != nil {
		if strings.Contains(string(output), "not found") || strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("failed to close pane %s: %w (output: %s)", paneID, err, string(output))
	}
	return nil
}

func (e *Emulator) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	output, err := e.runCommand(ctx, "cli", "list", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list panes: %w", err)
	}

	var raw []wezPaneInfo
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pane list: %w", err)
	}

	panes := make([]PaneInfo, len(raw))
	for i, p := range raw {
		panes[i] = PaneInfo{ID: fmt.Sprintf("%d", p.PaneID), Name: p.Title, Command: p.CWD}
	}
	return panes, nil
}

// InjectText implements the mandatory two-invocation pattern: the
// literal text is sent first with --no-paste, and only once that
// command has returned is a second invocation sent carrying nothing
// but a carriage return. Folding the \r into the same paste causes
// the target TUI to treat it as embedded input rather than submission.
func (e *Emulator) InjectText(ctx context.Context, paneID, text string) error {
	text = normalizeNewlines(text)

	if err := e.sendText(ctx, paneID, text); err != nil {
		return err
	}
	if err := e.sendText(ctx, paneID, "\r"); err != nil {
		return fmt.Errorf("%w: submit keystroke failed: %v", bridgeerr.ErrStuck, err)
	}
	return nil
}

func (e *Emulator) sendText(ctx context.Context, paneID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, "cli", "send-text", "--pane-id", paneID, "--no-paste")
	cmd.Stdin = strings.NewReader(text)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to send text: %w (output: %s)", err, string(output))
	}
	return nil
}

// SendKeys maps the whitespace-separated symbolic key sequence onto
// successive send-text invocations; wezterm's CLI has no dedicated
// symbolic-key command, so each token is translated to its literal
// byte sequence before being sent the same way InjectText sends text.
func (e *Emulator) SendKeys(ctx context.Context, paneID, keys string) error {
	for _, key := range strings.Fields(keys) {
		if err := e.sendText(ctx, paneID, translateKey(key)); err != nil {
			return err
		}
	}
	return nil
}

func translateKey(key string) string {
	switch key {
	case "Enter":
		return "\r"
	case "Tab":
		return "\t"
	case "Esc":
		return "\x1b"
	default:
		return key
	}
}

func (e *Emulator) IsPaneAlive(ctx context.Context, paneID string) (bool, error) {
	panes, err := e.ListPanes(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range panes {
		if p.ID == paneID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Emulator) GetPaneOutput(ctx context.Context, paneID string, lines int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := -lines
	args := []string{"cli", "get-text", "--pane-id", paneID, "--start-line", fmt.Sprintf("%d", start)}
	output, err := e.runCommand(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to get pane text: %w", err)
	}
	return string(output), nil
}
