package terminal

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/aibridge/bridge/internal/bridgeerr"
)

// NativeOS is the Windows Terminal backed Backend implementation
// (spec.md §4.1, "OS-native terminal backend"). Each pane is a new tab
// of the host window; since there is no API to inject text directly
// into a tab, text delivery goes through the system clipboard plus a
// paste accelerator, the same indirection the teacher uses for
// process control via powershell.exe (internal/agents/spawner.go's
// KillByWindowTitle/KillByTempScript).
type NativeOS struct {
	mu    sync.Mutex
	tabs  map[string]string // paneID -> window title
	nextN int
}

// NewNativeOS returns a Windows Terminal backed Backend.
func NewNativeOS() *NativeOS {
	return &NativeOS{tabs: make(map[string]string)}
}

func (n *NativeOS) Name() string { return "native-os-terminal" }

func (n *NativeOS) Probe(ctx context.Context) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("%w: native-os-terminal backend requires Windows", bridgeerr.ErrBackendNotAvailable)
	}
	if _, err := exec.LookPath("wt.exe"); err != nil {
		return fmt.Errorf("%w: wt.exe (Windows Terminal) not found in PATH", bridgeerr.ErrBackendNotAvailable)
	}
	if _, err := exec.LookPath("powershell.exe"); err != nil {
		return fmt.Errorf("%w: powershell.exe not found in PATH", bridgeerr.ErrBackendNotAvailable)
	}
	return nil
}

func (n *NativeOS) CreatePane(ctx context.Context, name, startupCommand string, opts PaneOpts) (string, error) {
	n.mu.Lock()
	n.nextN++
	paneID := fmt.Sprintf("wt-tab-%d", n.nextN)
	title := name
	if title == "" {
		title = fmt.Sprintf("aibridge-%d", n.nextN)
	}
	n.tabs[paneID] = title
	n.mu.Unlock()

	args := []string{"-w", "0", "new-tab"}
	if opts.WorkingDirectory != "" {
		args = append(args, "-d", opts.WorkingDirectory)
	}
	args = append(args, "--title", title)
	if startupCommand != "" {
		args = append(args, "--", "cmd.exe", "/k", startupCommand)
	}

	cmd := exec.CommandContext(ctx, "wt.exe", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %v (output: %s)", bridgeerr.ErrSpawnFailed, err, string(output))
	}
	return paneID, nil
}

func (n *NativeOS) ClosePane(ctx context.Context, paneID string) error {
	n.mu.Lock()
	title, ok := n.tabs[paneID]
	delete(n.tabs, paneID)
	n.mu.Unlock()
	if !ok {
		return nil
	}

	script := fmt.Sprintf(`Get-Process | Where-Object {$_.MainWindowTitle -eq '%s'} | Stop-Process -Force -ErrorAction SilentlyContinue`, escapePowerShellSingleQuotes(title))
	cmd := exec.CommandContext(ctx, "powershell.exe", "-Command", script)
	return cmd.Run()
}

func (n *NativeOS) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	panes := make([]PaneInfo, 0, len(n.tabs))
	for id, title := range n.tabs {
		panes = append(panes, PaneInfo{ID: id, Name: title})
	}
	return panes, nil
}

// InjectText places text on the system clipboard, activates the tab
// by window title, sends the paste accelerator, then a symbolic
// Enter. This is the only viable path: Windows Terminal exposes no
// API to write directly into a tab's input stream.
func (n *NativeOS) InjectText(ctx context.Context, paneID, text string) error {
	n.mu.Lock()
	title, ok := n.tabs[paneID]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown pane %s", bridgeerr.ErrUnsupported, paneID)
	}

	text = normalizeNewlines(text)
	if err := n.setClipboard(ctx, text); err != nil {
		return err
	}

	script := fmt.Sprintf(`
$wshell = New-Object -ComObject wscript.shell
$wshell.AppActivate('%s') | Out-Null
Start-Sleep -Milliseconds 150
$wshell.SendKeys('^v')
Start-Sleep -Milliseconds 150
$wshell.SendKeys('~')
`, escapePowerShellSingleQuotes(title))

	cmd := exec.CommandContext(ctx, "powershell.exe", "-Command", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: paste-and-submit failed: %v (output: %s)", bridgeerr.ErrStuck, err, string(output))
	}
	return nil
}

func (n *NativeOS) setClipboard(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, "powershell.exe", "-Command", "Set-Clipboard -Value $input")
	pipe, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := pipe.Write([]byte(text)); err != nil {
		return err
	}
	if err := pipe.Close(); err != nil {
		return err
	}
	return cmd.Wait()
}

func (n *NativeOS) SendKeys(ctx context.Context, paneID, keys string) error {
	n.mu.Lock()
	title, ok := n.tabs[paneID]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown pane %s", bridgeerr.ErrUnsupported, paneID)
	}

	script := fmt.Sprintf(`
$wshell = New-Object -ComObject wscript.shell
$wshell.AppActivate('%s') | Out-Null
$wshell.SendKeys('%s')
`, escapePowerShellSingleQuotes(title), escapePowerShellSingleQuotes(translateSendKeysTokens(keys)))

	cmd := exec.CommandContext(ctx, "powershell.exe", "-Command", script)
	return cmd.Run()
}

func (n *NativeOS) IsPaneAlive(ctx context.Context, paneID string) (bool, error) {
	n.mu.Lock()
	title, ok := n.tabs[paneID]
	n.mu.Unlock()
	if !ok {
		return false, nil
	}

	script := fmt.Sprintf(`(Get-Process | Where-Object {$_.MainWindowTitle -eq '%s'}).Count`, escapePowerShellSingleQuotes(title))
	cmd := exec.CommandContext(ctx, "powershell.exe", "-Command", script)
	output, err := cmd.Output()
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(string(output)) != "0", nil
}

// GetPaneOutput is not supported by this backend: there is no API to
// read a Windows Terminal tab's scrollback from outside the process.
func (n *NativeOS) GetPaneOutput(ctx context.Context, paneID string, lines int) (string, error) {
	return "", fmt.Errorf("%w: native-os-terminal backend cannot read pane output", bridgeerr.ErrUnsupported)
}

func escapePowerShellSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// translateSendKeysTokens maps the symbolic key vocabulary this
// package shares across backends onto SendKeys' own escaping syntax.
func translateSendKeysTokens(keys string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(keys) {
		switch tok {
		case "Enter":
			b.WriteString("~")
		case "Tab":
			b.WriteString("{TAB}")
		case "Esc":
			b.WriteString("{ESC}")
		default:
			b.WriteString(tok)
		}
	}
	return b.String()
}
