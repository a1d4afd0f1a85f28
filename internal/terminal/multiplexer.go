package terminal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aibridge/bridge/internal/bridgeerr"
)

// pasteDebounce is how long to wait after a literal send-keys paste
// before sending the submit Enter, so the target TUI has processed
// the paste before it sees the newline.
const pasteDebounce = 300 * time.Millisecond

// sessionEnvVar is inspected to decide whether this process is already
// running inside a multiplexer session; if so, new panes are created
// as new windows in that session instead of a dedicated one.
const sessionEnvVar = "TMUX"

// bridgeSessionName is the dedicated session created when this process
// is not already attached to one.
const bridgeSessionName = "aibridge"

// Multiplexer is the tmux-backed Backend implementation (spec.md §4.1,
// "Multiplexer backend").
type Multiplexer struct {
	binary string
}

// NewMultiplexer returns a tmux-backed Backend.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{binary: "tmux"}
}

func (m *Multiplexer) Name() string { return "multiplexer" }

func (m *Multiplexer) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: tmux %s: %s", bridgeerr.ErrSpawnFailed, args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (m *Multiplexer) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(m.binary); err != nil {
		return fmt.Errorf("%w: tmux not found in PATH", bridgeerr.ErrBackendNotAvailable)
	}
	if _, err := m.run(ctx, "list-sessions"); err != nil {
		// "no server running" is a benign empty state, not unavailability.
		if strings.Contains(err.Error(), "no server running") {
			return nil
		}
	}
	return nil
}

// currentSession returns the session this process is already attached
// to, or bridgeSessionName if it is not running inside tmux.
func (m *Multiplexer) currentSession(ctx context.Context) (string, error) {
	if name := os.Getenv(sessionEnvVar); name != "" {
		out, err := m.run(ctx, "display-message", "-p", "#{session_name}")
		if err == nil && out != "" {
			return out, nil
		}
	}
	if _, err := m.run(ctx, "has-session", "-t", bridgeSessionName); err != nil {
		if _, err := m.run(ctx, "new-session", "-d", "-s", bridgeSessionName); err != nil {
			return "", err
		}
	}
	return bridgeSessionName, nil
}

func (m *Multiplexer) CreatePane(ctx context.Context, name, startupCommand string, opts PaneOpts) (string, error) {
	session, err := m.currentSession(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", bridgeerr.ErrSpawnFailed, err)
	}

	var args []string
	switch opts.Split {
	case SplitNewWindow, "":
		args = []string{"new-window", "-t", session, "-P", "-F", "#{pane_id}"}
		if name != "" {
			args = append(args, "-n", name)
		}
	case SplitVertical:
		args = []string{"split-window", "-v", "-t", session, "-P", "-F", "#{pane_id}"}
	case SplitHorizontal:
		args = []string{"split-window", "-h", "-t", session, "-P", "-F", "#{pane_id}"}
		if opts.FromPaneID != "" {
			args = append(args, "-t", opts.FromPaneID)
		}
	}
	if opts.WorkingDirectory != "" {
		args = append(args, "-c", opts.WorkingDirectory)
	}
	if opts.SplitPercent > 0 {
		args = append(args, "-p", strconv.Itoa(opts.SplitPercent))
	}
	if startupCommand != "" {
		args = append(args, startupCommand)
	}

	paneID, err := m.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return paneID, nil
}

func (m *Multiplexer) ClosePane(ctx context.Context, paneID string) error {
	_, err := m.run(ctx, "kill-pane", "-t", paneID)
	if err != nil && strings.Contains(err.Error(), "can't find pane") {
		return nil
	}
	return err
}

func (m *Multiplexer) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	out, err := m.run(ctx, "list-panes", "-a", "-F",
		"#{pane_id}\t#{pane_title}\t#{pane_current_command}\t#{pane_start_time}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var panes []PaneInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 3 {
			continue
		}
		p := PaneInfo{ID: fields[0], Name: fields[1], Command: fields[2]}
		if len(fields) == 4 {
			if sec, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
				p.CreatedAt = time.Unix(sec, 0)
			}
		}
		panes = append(panes, p)
	}
	return panes, nil
}

// InjectText delivers single-line text as literal keystrokes
// (`send-keys -l`) and multi-line text as one bracketed paste from a
// tmux buffer (`set-buffer` + `paste-buffer -p -r`, newlines kept as
// LF), followed by a debounce and a single submit Enter sent as a
// separate invocation so it cannot race the paste.
func (m *Multiplexer) InjectText(ctx context.Context, paneID, text string) error {
	text = normalizeNewlines(text)
	if strings.Contains(text, "\n") {
		if _, err := m.run(ctx, "set-buffer", "-b", bridgeSessionName, "--", text); err != nil {
			return err
		}
		if _, err := m.run(ctx, "paste-buffer", "-d", "-p", "-r", "-b", bridgeSessionName, "-t", paneID); err != nil {
			return err
		}
	} else if _, err := m.run(ctx, "send-keys", "-t", paneID, "-l", text); err != nil {
		return err
	}

	select {
	case <-time.After(pasteDebounce):
	case <-ctx.Done():
		return ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err := m.run(ctx, "send-keys", "-t", paneID, "Enter"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: submit Enter failed after retries: %v", bridgeerr.ErrStuck, lastErr)
}

func (m *Multiplexer) SendKeys(ctx context.Context, paneID, keys string) error {
	_, err := m.run(ctx, "send-keys", "-t", paneID, keys)
	return err
}

func (m *Multiplexer) IsPaneAlive(ctx context.Context, paneID string) (bool, error) {
	out, err := m.run(ctx, "display-message", "-p", "-t", paneID, "#{pane_dead}")
	if err != nil {
		return false, nil // pane not found: treat as dead, not an error
	}
	return out != "1", nil
}

func (m *Multiplexer) GetPaneOutput(ctx context.Context, paneID string, lines int) (string, error) {
	out, err := m.run(ctx, "capture-pane", "-t", paneID, "-e", "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", err
	}
	return out, nil
}

// normalizeNewlines strips a trailing newline and canonicalizes CRLF
// to LF, per the spec.md §4.1 InjectText contract.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	return s
}
